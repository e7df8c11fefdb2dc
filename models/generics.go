package models

import (
	"context"

	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/utils"
	"gorm.io/gorm"
)

// first find in cache, then in db, cache result
// (may return NotFoundError, which is never cached)
func GetResource[T any](ctx context.Context, entity cache.EntityType, id int) (*T, error) {
	layer := GetCache()
	return cache.GetOrCompute(ctx, layer, cache.EntityKey(entity, id), layer.TTLs().Entity,
		func(ctx context.Context) (*T, error) {
			return utils.FetchModel[T](ctx, config.GetDB(), string(entity), id)
		})
}

// list all rows matching scope under a structural key, cache result
func ListAllResource[T any](ctx context.Context, key cache.Key, scope func(*gorm.DB) *gorm.DB, orders ...string) ([]*T, error) {
	layer := GetCache()
	return cache.GetOrCompute(ctx, layer, key, layer.TTLs().Structural,
		func(ctx context.Context) ([]*T, error) {
			var model T
			dbCtx := config.GetDB().WithContext(ctx).Model(&model)
			if scope != nil {
				dbCtx = scope(dbCtx)
			}
			for _, order := range orders {
				dbCtx = dbCtx.Order(order)
			}
			results := make([]*T, 0)
			if err := dbCtx.Find(&results).Error; err != nil {
				return nil, err
			}
			return results, nil
		})
}

// ToggleActiveModel flips is_active on a locked row inside tx and returns the updated row.
func ToggleActiveModel[T any](ctx context.Context, tx *gorm.DB, entity cache.EntityType, id int, isActive bool) (*T, error) {
	result, err := utils.FetchModelForUpdate[T](ctx, tx, string(entity), id)
	if err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Model(result).UpdateColumn("is_active", isActive).Error; err != nil {
		return nil, err
	}
	return utils.FetchModel[T](ctx, tx, string(entity), id)
}
