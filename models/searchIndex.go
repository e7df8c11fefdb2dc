package models

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SearchIndex resolves free-text terms to document ids. It follows the entity
// store through the same after-commit hooks that drive cache invalidation.
type SearchIndex interface {
	IndexUpsert(ctx context.Context, summary DocumentSummary) error
	IndexDelete(ctx context.Context, documentId int) error
	Search(ctx context.Context, term string) ([]int, error)
}

// TermQuerier is implemented by indexes that live next to the documents table. Their
// match is joined into the listing query as a subquery, so every filter applies in
// the same statement as the term.
type TermQuerier interface {
	TermQuery(db *gorm.DB, term string) *gorm.DB
}

// termQuerierOf unwraps decorators until it finds a TermQuerier.
func termQuerierOf(index SearchIndex) (TermQuerier, bool) {
	for index != nil {
		if q, ok := index.(TermQuerier); ok {
			return q, true
		}
		wrapper, ok := index.(interface{ Unwrap() SearchIndex })
		if !ok {
			return nil, false
		}
		index = wrapper.Unwrap()
	}
	return nil, false
}

type DocumentSearchEntry struct {
	DocumentId int       `gorm:"primaryKey;autoIncrement:false"`
	Content    string    `gorm:"type:text;not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func searchContent(s DocumentSummary) string {
	parts := []string{s.Title, s.Description, s.FileName, s.Kind, s.DirectionName, s.DirectionCode, s.SupportProcessName}
	parts = append(parts, s.Tags...)
	return strings.ToLower(strings.Join(parts, " \n"))
}

// DBSearchIndex keeps lower-cased text in document_search_entries and matches with LIKE.
type DBSearchIndex struct{}

func (DBSearchIndex) IndexUpsert(ctx context.Context, summary DocumentSummary) error {
	entry := DocumentSearchEntry{DocumentId: summary.ID, Content: searchContent(summary)}
	return config.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(&entry).Error
}

func (DBSearchIndex) IndexDelete(ctx context.Context, documentId int) error {
	return config.GetDB().WithContext(ctx).Delete(&DocumentSearchEntry{}, "document_id = ?", documentId).Error
}

func (idx DBSearchIndex) Search(ctx context.Context, term string) ([]int, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	var ids []int
	err := idx.TermQuery(config.GetDB().WithContext(ctx), term).
		Order("document_id").
		Pluck("document_id", &ids).Error
	return ids, err
}

// TermQuery selects the document_id of every entry containing term.
func (DBSearchIndex) TermQuery(db *gorm.DB, term string) *gorm.DB {
	term = strings.ToLower(strings.TrimSpace(term))
	return db.Model(&DocumentSearchEntry{}).
		Select("document_id").
		Where("content LIKE ? ESCAPE '!'", "%"+escapeLike(term)+"%")
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// PubSubSearchIndex forwards every change to an inner index and publishes it on
// SEARCH_INDEX_TOPIC for external indexers. Searches are served by the inner index.
type PubSubSearchIndex struct {
	next    SearchIndex
	publish func(ctx context.Context, msg config.SearchIndexMessage) (string, error)
	logger  *logrus.Logger
}

func NewPubSubSearchIndex(next SearchIndex) *PubSubSearchIndex {
	return &PubSubSearchIndex{next: next, publish: config.PublishSearchIndexEvent, logger: config.GetLogger()}
}

func (p *PubSubSearchIndex) IndexUpsert(ctx context.Context, summary DocumentSummary) error {
	var result *multierror.Error
	if err := p.next.IndexUpsert(ctx, summary); err != nil {
		result = multierror.Append(result, err)
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return multierror.Append(result, err)
	}
	if err := p.send(ctx, "upsert", summary.ID, raw); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (p *PubSubSearchIndex) IndexDelete(ctx context.Context, documentId int) error {
	var result *multierror.Error
	if err := p.next.IndexDelete(ctx, documentId); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.send(ctx, "delete", documentId, nil); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (p *PubSubSearchIndex) Search(ctx context.Context, term string) ([]int, error) {
	return p.next.Search(ctx, term)
}

func (p *PubSubSearchIndex) Unwrap() SearchIndex {
	return p.next
}

func (p *PubSubSearchIndex) send(ctx context.Context, action string, documentId int, summary json.RawMessage) error {
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	msgId, err := p.publish(ctx, config.SearchIndexMessage{
		Action:        action,
		DocumentID:    documentId,
		Summary:       summary,
		OccurredAt:    time.Now().UTC(),
		CorrelationId: correlationId,
	})
	if err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"module":      "models",
		"funcName":    "PubSubSearchIndex.send",
		"document_id": documentId,
		"message_id":  msgId,
	}).Debug("search index event published")
	return nil
}

// Reindex rebuilds the index from the entity store in batches and returns the number of documents indexed.
func Reindex(ctx context.Context, db *gorm.DB, index SearchIndex, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	indexed := 0
	lastId := 0
	for {
		var ids []int
		if err := db.WithContext(ctx).Model(&Document{}).
			Where("id > ?", lastId).
			Order("id").
			Limit(batchSize).
			Pluck("id", &ids).Error; err != nil {
			return indexed, err
		}
		if len(ids) == 0 {
			return indexed, nil
		}
		summaries, err := GetDocumentSummaries(ctx, db, ids...)
		if err != nil {
			return indexed, err
		}
		for _, summary := range summaries {
			if err := index.IndexUpsert(ctx, summary); err != nil {
				return indexed, err
			}
			indexed++
		}
		lastId = ids[len(ids)-1]
	}
}
