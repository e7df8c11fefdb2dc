package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* DB fetching */

// fetch model from db
// (may return NotFoundError)
func FetchModel[T any](ctx context.Context, db *gorm.DB, entity string, id int, associations ...string) (*T, error) {

	dbCtx := db.WithContext(ctx)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound(entity, id)
		}
		return nil, err
	}
	return &result, nil
}

// FetchModelForUpdate locks the row for the rest of tx (no-op locking on SQLite).
func FetchModelForUpdate[T any](ctx context.Context, tx *gorm.DB, entity string, id int) (*T, error) {
	var result T
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound(entity, id)
		}
		return nil, err
	}
	return &result, nil
}
