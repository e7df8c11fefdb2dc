package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/utils"
	"gorm.io/gorm"
)

type Direction struct {
	ID           int       `gorm:"primary_key" json:"id"`
	Name         string    `gorm:"size:150;not null;uniqueIndex" json:"name"`
	Code         string    `gorm:"size:30;not null;uniqueIndex" json:"code"`
	Description  string    `gorm:"type:text" json:"description"`
	DisplayOrder int       `gorm:"not null;default:0" json:"display_order"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	Color        string    `gorm:"size:20" json:"color"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDirection struct {
	Name         string `json:"name" binding:"required,max=150"`
	Code         string `json:"code" binding:"required,max=30"`
	Description  string `json:"description"`
	DisplayOrder int    `json:"display_order" binding:"gte=0"`
	IsActive     *bool  `json:"is_active"`
	Color        string `json:"color" binding:"omitempty,hexcolor"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewDirection) validate(ctx context.Context, db *gorm.DB, id int) error {
	input.Name = strings.TrimSpace(input.Name)
	input.Code = strings.ToUpper(strings.TrimSpace(input.Code))
	if input.Name == "" {
		return utils.NewValidationError("name", "is required")
	}
	if input.Code == "" {
		return utils.NewValidationError("code", "is required")
	}
	if input.DisplayOrder < 0 {
		return utils.NewValidationError("display_order", "must be greater than or equal to 0")
	}
	if id > 0 {
		if err := utils.ValidateResourceId[Direction](ctx, db, "direction", id); err != nil {
			return err
		}
	}
	// name
	if err := utils.ValidateUnique[Direction](ctx, db, "name", input.Name, id); err != nil {
		return err
	}
	// code
	if err := utils.ValidateUnique[Direction](ctx, db, "code", input.Code, id); err != nil {
		return err
	}
	return nil
}

func CreateDirection(ctx context.Context, input *NewDirection) (*Direction, error) {

	db := config.GetDB()
	if err := input.validate(ctx, db, 0); err != nil {
		return nil, err
	}

	direction := Direction{
		Name:         input.Name,
		Code:         input.Code,
		Description:  input.Description,
		DisplayOrder: input.DisplayOrder,
		IsActive:     input.IsActive,
		Color:        input.Color,
	}
	if direction.IsActive == nil {
		direction.IsActive = utils.NewTrue()
	}

	// db action
	if err := db.WithContext(ctx).Create(&direction).Error; err != nil {
		if utils.IsDuplicateKeyError(err) {
			return nil, utils.NewValidationError("code", "has already been taken")
		}
		return nil, err
	}

	changes := changeSet{}
	changes.mutate(cache.Mutation{Entity: cache.EntityDirection, ID: direction.ID})
	changes.apply(ctx)

	return &direction, nil
}

func UpdateDirection(ctx context.Context, id int, input *NewDirection) (*Direction, error) {

	db := config.GetDB()
	if err := input.validate(ctx, db, id); err != nil {
		return nil, err
	}

	var direction *Direction
	var childProcessIds []int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		direction, err = utils.FetchModelForUpdate[Direction](ctx, tx, "direction", id)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"Name":         input.Name,
			"Code":         input.Code,
			"Description":  input.Description,
			"DisplayOrder": input.DisplayOrder,
			"Color":        input.Color,
		}
		if input.IsActive != nil {
			updates["IsActive"] = *input.IsActive
		}
		if err := tx.WithContext(ctx).Model(direction).Updates(updates).Error; err != nil {
			return err
		}
		// names of the direction are embedded in its processes' document listings
		childProcessIds, err = processIdsOfDirection(ctx, tx, id)
		return err
	})
	if err != nil {
		if utils.IsDuplicateKeyError(err) {
			return nil, utils.NewValidationError("name", "has already been taken")
		}
		return nil, err
	}

	changes := changeSet{}
	changes.mutate(cache.Mutation{Entity: cache.EntityDirection, ID: id, ChildProcessIDs: childProcessIds})
	changes.indexUpserts, err = documentIdsOfDirection(ctx, db, id)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "UpdateDirection", "list documents for reindex", id, err)
	}
	changes.apply(ctx)

	return direction, nil
}

// DeleteDirection refuses while any document is filed under the direction, directly
// or through one of its processes. Its processes are detached, not deleted.
func DeleteDirection(ctx context.Context, id int) (*Direction, error) {

	db := config.GetDB()
	var direction *Direction
	var childProcessIds []int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		direction, err = utils.FetchModelForUpdate[Direction](ctx, tx, "direction", id)
		if err != nil {
			return err
		}

		// check dependents on live rows
		count, err := countDocumentsOfDirection(ctx, tx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return &utils.ConflictError{Reason: "direction has dependent documents", DependentCount: count}
		}

		childProcessIds, err = processIdsOfDirection(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(childProcessIds) > 0 {
			if err := tx.WithContext(ctx).Model(&SupportProcess{}).
				Where("id IN ?", childProcessIds).
				UpdateColumn("direction_id", nil).Error; err != nil {
				return err
			}
		}
		return tx.WithContext(ctx).Delete(direction).Error
	})
	if err != nil {
		return nil, err
	}

	changes := changeSet{}
	changes.mutate(cache.Mutation{Entity: cache.EntityDirection, ID: id, ChildProcessIDs: childProcessIds})
	for _, processId := range childProcessIds {
		changes.mutate(cache.Mutation{
			Entity: cache.EntityProcess,
			ID:     processId,
			Old:    cache.Parents{DirectionID: utils.Ptr(id)},
		})
	}
	changes.apply(ctx)

	return direction, nil
}

func GetDirection(ctx context.Context, id int) (*Direction, error) {

	return GetResource[Direction](ctx, cache.EntityDirection, id)
}

// ListDirections orders by display order then name. isActive nil lists all.
func ListDirections(ctx context.Context, isActive *bool) ([]*Direction, error) {

	if isActive != nil && *isActive {
		return ListAllResource[Direction](ctx, cache.ActiveDirectionsKey, func(db *gorm.DB) *gorm.DB {
			return db.Where("is_active = ?", true)
		}, "display_order", "name")
	}

	all, err := ListAllResource[Direction](ctx, cache.AllDirectionsKey, nil, "display_order", "name")
	if err != nil || isActive == nil {
		return all, err
	}
	results := make([]*Direction, 0, len(all))
	for _, d := range all {
		if !utils.DereferencePtr(d.IsActive) {
			results = append(results, d)
		}
	}
	return results, nil
}

func ToggleActiveDirection(ctx context.Context, id int, isActive bool) (*Direction, error) {

	db := config.GetDB()
	var direction *Direction
	var childProcessIds []int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		direction, err = ToggleActiveModel[Direction](ctx, tx, cache.EntityDirection, id, isActive)
		if err != nil {
			return err
		}
		childProcessIds, err = processIdsOfDirection(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	changes := changeSet{}
	changes.mutate(cache.Mutation{Entity: cache.EntityDirection, ID: id, ChildProcessIDs: childProcessIds})
	changes.apply(ctx)

	return direction, nil
}

func processIdsOfDirection(ctx context.Context, db *gorm.DB, directionId int) ([]int, error) {
	var ids []int
	err := db.WithContext(ctx).Model(&SupportProcess{}).
		Where("direction_id = ?", directionId).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

func documentIdsOfDirection(ctx context.Context, db *gorm.DB, directionId int) ([]int, error) {
	var ids []int
	err := db.WithContext(ctx).Model(&Document{}).
		Where("direction_id = ?", directionId).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// documents filed under the direction or under any of its processes
func countDocumentsOfDirection(ctx context.Context, db *gorm.DB, directionId int) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Document{}).
		Where("direction_id = ? OR support_process_id IN (?)", directionId,
			db.Model(&SupportProcess{}).Select("id").Where("direction_id = ?", directionId)).
		Count(&count).Error
	return count, err
}
