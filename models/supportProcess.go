package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SupportProcess struct {
	ID           int        `gorm:"primary_key" json:"id"`
	Name         string     `gorm:"size:150;not null;index" json:"name"`
	Code         string     `gorm:"size:30;not null;uniqueIndex" json:"code"`
	Description  string     `gorm:"type:text" json:"description"`
	DisplayOrder int        `gorm:"not null;default:0" json:"display_order"`
	IsActive     *bool      `gorm:"not null;default:true" json:"is_active"`
	DirectionId  *int       `gorm:"index" json:"direction_id"`
	Direction    *Direction `gorm:"foreignKey:DirectionId;constraint:OnDelete:RESTRICT" json:"-"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSupportProcess struct {
	Name         string `json:"name" binding:"required,max=150"`
	Code         string `json:"code" binding:"required,max=30"`
	Description  string `json:"description"`
	DisplayOrder int    `json:"display_order" binding:"gte=0"`
	IsActive     *bool  `json:"is_active"`
	DirectionId  *int   `json:"direction_id"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewSupportProcess) validate(ctx context.Context, db *gorm.DB, id int) error {
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
		if err := utils.ValidateResourceId[SupportProcess](ctx, db, "support process", id); err != nil {
			return err
		}
	}
	// code
	if err := utils.ValidateUnique[SupportProcess](ctx, db, "code", input.Code, id); err != nil {
		return err
	}
	return nil
}

// lockDirection takes a shared lock on the direction so it cannot be deleted under us.
func lockDirection(ctx context.Context, tx *gorm.DB, id int) error {
	var direction Direction
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "SHARE"}).Select("id").First(&direction, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NewValidationError("direction_id", "does not exist")
	}
	return err
}

func CreateSupportProcess(ctx context.Context, input *NewSupportProcess) (*SupportProcess, error) {

	db := config.GetDB()
	if err := input.validate(ctx, db, 0); err != nil {
		return nil, err
	}

	process := SupportProcess{
		Name:         input.Name,
		Code:         input.Code,
		Description:  input.Description,
		DisplayOrder: input.DisplayOrder,
		IsActive:     input.IsActive,
		DirectionId:  input.DirectionId,
	}
	if process.IsActive == nil {
		process.IsActive = utils.NewTrue()
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if process.DirectionId != nil {
			if err := lockDirection(ctx, tx, *process.DirectionId); err != nil {
				return err
			}
		}
		return tx.WithContext(ctx).Create(&process).Error
	})
	if err != nil {
		if utils.IsDuplicateKeyError(err) {
			return nil, utils.NewValidationError("code", "has already been taken")
		}
		return nil, err
	}

	changes := changeSet{}
	changes.mutate(cache.Mutation{
		Entity: cache.EntityProcess,
		ID:     process.ID,
		New:    cache.Parents{DirectionID: process.DirectionId},
	})
	changes.apply(ctx)

	return &process, nil
}

// UpdateSupportProcess may move the process to another direction. Its documents
// follow in the same transaction. Detaching is refused while it owns documents.
func UpdateSupportProcess(ctx context.Context, id int, input *NewSupportProcess) (*SupportProcess, error) {

	db := config.GetDB()
	if err := input.validate(ctx, db, id); err != nil {
		return nil, err
	}

	var process *SupportProcess
	var oldDirectionId *int
	var movedDocumentIds []int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		process, err = utils.FetchModelForUpdate[SupportProcess](ctx, tx, "support process", id)
		if err != nil {
			return err
		}
		oldDirectionId = process.DirectionId

		if !utils.EqualIntPtr(oldDirectionId, input.DirectionId) {
			if input.DirectionId == nil {
				count, err := utils.ResourceCountWhere[Document](ctx, tx, "support_process_id = ?", id)
				if err != nil {
					return err
				}
				if count > 0 {
					return &utils.ConflictError{Reason: "support process has documents and cannot be detached from its direction", DependentCount: count}
				}
			} else if err := lockDirection(ctx, tx, *input.DirectionId); err != nil {
				return err
			}
		}

		if err := tx.WithContext(ctx).Model(process).Updates(map[string]interface{}{
			"Name":         input.Name,
			"Code":         input.Code,
			"Description":  input.Description,
			"DisplayOrder": input.DisplayOrder,
			"DirectionId":  input.DirectionId,
		}).Error; err != nil {
			return err
		}
		if input.IsActive != nil {
			if err := tx.WithContext(ctx).Model(process).UpdateColumn("is_active", *input.IsActive).Error; err != nil {
				return err
			}
		}

		if err := tx.WithContext(ctx).Model(&Document{}).
			Where("support_process_id = ?", id).
			Order("id").
			Pluck("id", &movedDocumentIds).Error; err != nil {
			return err
		}
		// keep the denormalised direction of every document in step
		if input.DirectionId != nil && !utils.EqualIntPtr(oldDirectionId, input.DirectionId) && len(movedDocumentIds) > 0 {
			if err := tx.WithContext(ctx).Model(&Document{}).
				Where("support_process_id = ?", id).
				UpdateColumn("direction_id", *input.DirectionId).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if utils.IsDuplicateKeyError(err) {
			return nil, utils.NewValidationError("code", "has already been taken")
		}
		return nil, err
	}
	process.DirectionId = input.DirectionId

	changes := changeSet{}
	changes.mutate(cache.Mutation{
		Entity: cache.EntityProcess,
		ID:     id,
		Old:    cache.Parents{DirectionID: oldDirectionId},
		New:    cache.Parents{DirectionID: input.DirectionId},
	})
	for _, documentId := range movedDocumentIds {
		changes.mutate(cache.Mutation{
			Entity: cache.EntityDocument,
			ID:     documentId,
			Old:    cache.Parents{DirectionID: oldDirectionId, ProcessID: utils.Ptr(id)},
			New:    cache.Parents{DirectionID: input.DirectionId, ProcessID: utils.Ptr(id)},
		})
	}
	// names are part of the indexed text
	changes.indexUpserts = movedDocumentIds
	changes.apply(ctx)

	return process, nil
}

func DeleteSupportProcess(ctx context.Context, id int) (*SupportProcess, error) {

	db := config.GetDB()
	var process *SupportProcess
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		process, err = utils.FetchModelForUpdate[SupportProcess](ctx, tx, "support process", id)
		if err != nil {
			return err
		}

		// check dependents on live rows
		count, err := utils.ResourceCountWhere[Document](ctx, tx, "support_process_id = ?", id)
		if err != nil {
			return err
		}
		if count > 0 {
			return &utils.ConflictError{Reason: "support process has dependent documents", DependentCount: count}
		}
		return tx.WithContext(ctx).Delete(process).Error
	})
	if err != nil {
		return nil, err
	}

	changes := changeSet{}
	changes.mutate(cache.Mutation{
		Entity: cache.EntityProcess,
		ID:     id,
		Old:    cache.Parents{DirectionID: process.DirectionId},
	})
	changes.apply(ctx)

	return process, nil
}

func GetSupportProcess(ctx context.Context, id int) (*SupportProcess, error) {

	return GetResource[SupportProcess](ctx, cache.EntityProcess, id)
}

// ListSupportProcesses orders by display order then name. directionId nil lists all.
func ListSupportProcesses(ctx context.Context, directionId *int) ([]*SupportProcess, error) {

	if directionId == nil {
		return ListAllResource[SupportProcess](ctx, cache.AllProcessesKey, nil, "display_order", "name", "id")
	}
	if _, err := GetDirection(ctx, *directionId); err != nil {
		return nil, err
	}
	return ListAllResource[SupportProcess](ctx, cache.ProcessesByDirectionKey(*directionId), func(db *gorm.DB) *gorm.DB {
		return db.Where("direction_id = ?", *directionId)
	}, "display_order", "name", "id")
}

func ToggleActiveSupportProcess(ctx context.Context, id int, isActive bool) (*SupportProcess, error) {

	db := config.GetDB()
	var process *SupportProcess
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		process, err = ToggleActiveModel[SupportProcess](ctx, tx, cache.EntityProcess, id, isActive)
		return err
	})
	if err != nil {
		return nil, err
	}

	changes := changeSet{}
	changes.mutate(cache.Mutation{
		Entity: cache.EntityProcess,
		ID:     id,
		Old:    cache.Parents{DirectionID: process.DirectionId},
		New:    cache.Parents{DirectionID: process.DirectionId},
	})
	changes.apply(ctx)

	return process, nil
}
