package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/storage"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Classification string

const (
	ClassificationPublic     Classification = "public"
	ClassificationInternal   Classification = "internal"
	ClassificationRestricted Classification = "restricted"
)

var Classifications = []Classification{ClassificationPublic, ClassificationInternal, ClassificationRestricted}

func (c Classification) IsValid() bool {
	for _, v := range Classifications {
		if c == v {
			return true
		}
	}
	return false
}

const maxTagLength = 100

type Document struct {
	ID               int                         `gorm:"primary_key" json:"id"`
	Title            string                      `gorm:"size:255;not null;index" json:"title"`
	Description      string                      `gorm:"type:text" json:"description"`
	FileName         string                      `gorm:"size:255;not null" json:"file_name"`
	FilePath         string                      `gorm:"size:500;not null" json:"file_path"`
	MimeType         string                      `gorm:"size:150" json:"mime_type"`
	Extension        string                      `gorm:"size:20;index" json:"extension"`
	Size             int64                       `gorm:"not null;default:0" json:"size"`
	ThumbnailPath    string                      `gorm:"size:500" json:"thumbnail_path"`
	UploadedBy       int                         `gorm:"index;not null" json:"uploaded_by"`
	DirectionId      int                         `gorm:"index;not null" json:"direction_id"`
	SupportProcessId int                         `gorm:"index;not null" json:"support_process_id"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	Classification   Classification              `gorm:"size:20;not null;default:internal;index" json:"classification"`
	Kind             string                      `gorm:"size:100;index" json:"kind"`
	DownloadCount    int64                       `gorm:"not null;default:0" json:"download_count"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
	Direction        *Direction                  `gorm:"foreignKey:DirectionId;constraint:OnDelete:RESTRICT" json:"-"`
	SupportProcess   *SupportProcess             `gorm:"foreignKey:SupportProcessId;constraint:OnDelete:RESTRICT" json:"-"`
	Uploader         *User                       `gorm:"foreignKey:UploadedBy;constraint:OnDelete:RESTRICT" json:"-"`
}

// DocumentTag mirrors Document.Tags one row per tag, for exact tag filtering.
type DocumentTag struct {
	DocumentId int    `gorm:"primaryKey;autoIncrement:false"`
	Tag        string `gorm:"primaryKey;size:100;index"`
}

type NewDocument struct {
	Title            string         `form:"title" json:"title" binding:"required,max=255"`
	Description      string         `form:"description" json:"description"`
	DirectionId      int            `form:"direction_id" json:"direction_id" binding:"required,gt=0"`
	SupportProcessId int            `form:"support_process_id" json:"support_process_id" binding:"required,gt=0"`
	Tags             []string       `form:"tags[]" json:"tags"`
	Classification   Classification `form:"classification" json:"classification"`
	Kind             string         `form:"kind" json:"kind" binding:"max=100"`
}

// DocumentUpdate is a partial update; nil fields are left alone.
type DocumentUpdate struct {
	Title            *string         `json:"title" binding:"omitempty,max=255"`
	Description      *string         `json:"description"`
	DirectionId      *int            `json:"direction_id" binding:"omitempty,gt=0"`
	SupportProcessId *int            `json:"support_process_id" binding:"omitempty,gt=0"`
	Tags             *[]string       `json:"tags"`
	Classification   *Classification `json:"classification"`
	Kind             *string         `json:"kind" binding:"omitempty,max=100"`
}

// normalizeTags trims, drops empties and duplicates, keeping first-seen order.
func normalizeTags(tags []string) ([]string, error) {
	results := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		if len(tag) > maxTagLength {
			return nil, utils.NewValidationError("tags", "each tag must be at most 100 characters")
		}
		seen[tag] = true
		results = append(results, tag)
	}
	return results, nil
}

func normalizeClassification(c Classification) (Classification, error) {
	c = Classification(strings.ToLower(strings.TrimSpace(string(c))))
	if c == "" {
		return ClassificationInternal, nil
	}
	if !c.IsValid() {
		return "", utils.NewValidationError("classification", "must be one of public, internal, restricted")
	}
	return c, nil
}

func (input *NewDocument) validate() error {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return utils.NewValidationError("title", "is required")
	}
	if input.DirectionId <= 0 {
		return utils.NewValidationError("direction_id", "is required")
	}
	if input.SupportProcessId <= 0 {
		return utils.NewValidationError("support_process_id", "is required")
	}
	var err error
	if input.Tags, err = normalizeTags(input.Tags); err != nil {
		return err
	}
	if input.Classification, err = normalizeClassification(input.Classification); err != nil {
		return err
	}
	input.Kind = strings.TrimSpace(input.Kind)
	return nil
}

// checkPlacement enforces that directionId owns supportProcessId. The process row
// stays share-locked until tx ends so it cannot move or vanish meanwhile.
func checkPlacement(ctx context.Context, tx *gorm.DB, documentId int, directionId int, supportProcessId int) error {
	var process SupportProcess
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "SHARE"}).First(&process, supportProcessId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NewValidationError("support_process_id", "does not exist")
	}
	if err != nil {
		return err
	}
	if err := lockDirection(ctx, tx, directionId); err != nil {
		return err
	}
	if process.DirectionId == nil || *process.DirectionId != directionId {
		violation := &utils.ConsistencyViolation{
			DocumentID:         documentId,
			DirectionID:        directionId,
			SupportProcessID:   supportProcessId,
			ProcessDirectionID: process.DirectionId,
		}
		config.LogAlert(config.GetLogger(), "models", "checkPlacement", violation, violation)
		return violation
	}
	return nil
}

func replaceDocumentTags(ctx context.Context, tx *gorm.DB, documentId int, tags []string) error {
	if err := tx.WithContext(ctx).Where("document_id = ?", documentId).Delete(&DocumentTag{}).Error; err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	rows := make([]DocumentTag, len(tags))
	for i, tag := range tags {
		rows[i] = DocumentTag{DocumentId: documentId, Tag: tag}
	}
	return tx.WithContext(ctx).Create(&rows).Error
}

// authorizeDocumentWrite lets admins and the uploader change a document.
func authorizeDocumentWrite(ctx context.Context, document *Document) error {
	user, ok := utils.GetCurrentUserFromContext(ctx)
	if !ok {
		return utils.ErrUnauthorized
	}
	if !user.IsAdmin && document.UploadedBy != user.ID {
		return utils.ErrForbidden
	}
	return nil
}

// CreateDocument stores the file first, then the row. A failed insert removes the file again.
func CreateDocument(ctx context.Context, input *NewDocument, upload storage.Upload) (*Document, error) {

	user, ok := utils.GetCurrentUserFromContext(ctx)
	if !ok {
		return nil, utils.ErrUnauthorized
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	store := GetBlobStore()
	if store == nil {
		return nil, errors.New("blob store is not configured")
	}

	logger := config.GetLogger()
	stored, err := storage.Save(ctx, store, upload, config.MaxUploadBytes(), logger)
	if err != nil {
		return nil, err
	}

	document := Document{
		Title:            input.Title,
		Description:      input.Description,
		FileName:         stored.FileName,
		FilePath:         stored.Path,
		MimeType:         stored.MimeType,
		Extension:        stored.Extension,
		Size:             stored.Size,
		ThumbnailPath:    stored.ThumbnailPath,
		UploadedBy:       user.ID,
		DirectionId:      input.DirectionId,
		SupportProcessId: input.SupportProcessId,
		Tags:             datatypes.JSONSlice[string](input.Tags),
		Classification:   input.Classification,
		Kind:             input.Kind,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkPlacement(ctx, tx, 0, input.DirectionId, input.SupportProcessId); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Omit(clause.Associations).Create(&document).Error; err != nil {
			return err
		}
		return replaceDocumentTags(ctx, tx, document.ID, input.Tags)
	})
	if err != nil {
		if rmErr := storage.Remove(context.WithoutCancel(ctx), store, stored.Path, stored.ThumbnailPath); rmErr != nil {
			config.LogWarn(logger, "models", "CreateDocument", logrus.Fields{"path": stored.Path}, rmErr)
		}
		return nil, err
	}

	changes := changeSet{indexUpserts: []int{document.ID}}
	changes.mutate(cache.Mutation{
		Entity: cache.EntityDocument,
		ID:     document.ID,
		New:    documentParents(document.DirectionId, document.SupportProcessId),
	})
	changes.apply(ctx)

	return &document, nil
}

func documentParents(directionId int, supportProcessId int) cache.Parents {
	return cache.Parents{DirectionID: utils.Ptr(directionId), ProcessID: utils.Ptr(supportProcessId)}
}

// UpdateDocument applies a partial update. Moving the document re-checks placement
// in the same transaction and invalidates both the old and the new buckets.
func UpdateDocument(ctx context.Context, id int, input *DocumentUpdate) (*Document, error) {

	updates := map[string]interface{}{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, utils.NewValidationError("title", "is required")
		}
		updates["Title"] = title
	}
	if input.Description != nil {
		updates["Description"] = *input.Description
	}
	if input.Kind != nil {
		updates["Kind"] = strings.TrimSpace(*input.Kind)
	}
	if input.Classification != nil {
		c, err := normalizeClassification(*input.Classification)
		if err != nil {
			return nil, err
		}
		updates["Classification"] = c
	}
	var tags []string
	if input.Tags != nil {
		var err error
		if tags, err = normalizeTags(*input.Tags); err != nil {
			return nil, err
		}
		updates["Tags"] = datatypes.JSONSlice[string](tags)
	}

	db := config.GetDB()
	var document *Document
	var old cache.Parents
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		document, err = utils.FetchModelForUpdate[Document](ctx, tx, "document", id)
		if err != nil {
			return err
		}
		if err := authorizeDocumentWrite(ctx, document); err != nil {
			return err
		}
		old = documentParents(document.DirectionId, document.SupportProcessId)

		directionId := utils.DereferencePtr(input.DirectionId, document.DirectionId)
		supportProcessId := utils.DereferencePtr(input.SupportProcessId, document.SupportProcessId)
		if input.DirectionId != nil || input.SupportProcessId != nil {
			if err := checkPlacement(ctx, tx, id, directionId, supportProcessId); err != nil {
				return err
			}
			updates["DirectionId"] = directionId
			updates["SupportProcessId"] = supportProcessId
		}

		if len(updates) > 0 {
			if err := tx.WithContext(ctx).Model(document).Omit(clause.Associations).Updates(updates).Error; err != nil {
				return err
			}
		}
		if input.Tags != nil {
			if err := replaceDocumentTags(ctx, tx, id, tags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	changes := changeSet{indexUpserts: []int{id}}
	changes.mutate(cache.Mutation{
		Entity: cache.EntityDocument,
		ID:     id,
		Old:    old,
		New:    documentParents(document.DirectionId, document.SupportProcessId),
	})
	changes.apply(ctx)

	return document, nil
}

// DeleteDocument removes the row; the stored file goes after commit.
func DeleteDocument(ctx context.Context, id int) (*Document, error) {

	db := config.GetDB()
	var document *Document
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		document, err = utils.FetchModelForUpdate[Document](ctx, tx, "document", id)
		if err != nil {
			return err
		}
		if err := authorizeDocumentWrite(ctx, document); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Where("document_id = ?", id).Delete(&DocumentTag{}).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Delete(document).Error
	})
	if err != nil {
		return nil, err
	}

	changes := changeSet{
		indexDeletes: []int{id},
		blobDeletes:  []string{document.FilePath, document.ThumbnailPath},
	}
	changes.mutate(cache.Mutation{
		Entity: cache.EntityDocument,
		ID:     id,
		Old:    documentParents(document.DirectionId, document.SupportProcessId),
	})
	changes.apply(ctx)

	return document, nil
}

func GetDocument(ctx context.Context, id int) (*Document, error) {

	return GetResource[Document](ctx, cache.EntityDocument, id)
}

// RecordDownload counts the download and hands out a time-limited URL.
// Only the document's own key is evicted; aggregates do not depend on the counter.
func RecordDownload(ctx context.Context, id int, disposition storage.Disposition) (*storage.SignedURL, error) {

	store := GetBlobStore()
	if store == nil {
		return nil, errors.New("blob store is not configured")
	}

	db := config.GetDB()
	result := db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", id).
		UpdateColumn("download_count", gorm.Expr("download_count + ?", 1))
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, utils.NewNotFound("document", id)
	}
	if err := GetCache().Evict(ctx, cache.EntityKey(cache.EntityDocument, id)); err != nil {
		config.LogWarn(config.GetLogger(), "models", "RecordDownload", logrus.Fields{"document_id": id}, err)
	}

	document, err := GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.URLFor(ctx, document.FilePath, document.FileName, disposition, config.DownloadURLTTL())
}
