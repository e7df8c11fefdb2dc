package models

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/storage"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxExportRows bounds ExportDocuments.
const MaxExportRows = 5000

// DocumentSummary is one row of a listing, with parent names joined in.
type DocumentSummary struct {
	ID                 int                         `json:"id"`
	Title              string                      `json:"title"`
	Description        string                      `json:"description"`
	FileName           string                      `json:"file_name"`
	MimeType           string                      `json:"mime_type"`
	Extension          string                      `json:"extension"`
	Size               int64                       `json:"size"`
	SizeMB             decimal.Decimal             `gorm:"-" json:"size_mb"`
	ThumbnailPath      string                      `json:"thumbnail_path"`
	UploadedBy         int                         `json:"uploaded_by"`
	UploaderName       string                      `json:"uploader_name"`
	DirectionId        int                         `json:"direction_id"`
	DirectionName      string                      `json:"direction_name"`
	DirectionCode      string                      `json:"direction_code"`
	SupportProcessId   int                         `json:"support_process_id"`
	SupportProcessName string                      `json:"support_process_name"`
	Tags               datatypes.JSONSlice[string] `json:"tags"`
	Classification     Classification              `json:"classification"`
	Kind               string                      `json:"kind"`
	DownloadCount      int64                       `json:"download_count"`
	CreatedAt          time.Time                   `json:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
}

type Page[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	LastPage   int   `json:"last_page"`
}

func newPage[T any](items []T, total int64, page int, pageSize int) *Page[T] {
	if items == nil {
		items = []T{}
	}
	lastPage := 1
	if total > 0 && pageSize > 0 {
		lastPage = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return &Page[T]{Items: items, TotalCount: total, Page: page, PageSize: pageSize, LastPage: lastPage}
}

// DocumentFilter holds the AND-composed listing criteria. Zero values mean "any".
type DocumentFilter struct {
	DirectionId      *int           `form:"direction_id" json:"direction_id,omitempty"`
	SupportProcessId *int           `form:"support_process_id" json:"support_process_id,omitempty"`
	Term             string         `form:"term" json:"term,omitempty"`
	Kind             string         `form:"kind" json:"kind,omitempty"`
	Classification   Classification `form:"classification" json:"classification,omitempty"`
	Tag              string         `form:"tag" json:"tag,omitempty"`
	Extensions       []string       `form:"extension" json:"extensions,omitempty"`
	CreatedFrom      *time.Time     `form:"created_from" time_format:"2006-01-02" json:"created_from,omitempty"`
	CreatedTo        *time.Time     `form:"created_to" time_format:"2006-01-02" json:"created_to,omitempty"`
	Sort             string         `form:"sort" json:"sort,omitempty"`
	Order            string         `form:"order" json:"order,omitempty"`
	Page             int            `form:"page" json:"page"`
	PageSize         int            `form:"page_size" json:"page_size"`
}

var sortColumns = map[string]string{
	"created_at":     "documents.created_at",
	"updated_at":     "documents.updated_at",
	"title":          "documents.title",
	"size":           "documents.size",
	"download_count": "documents.download_count",
}

// Normalize returns the canonical form of f: short terms dropped, extensions
// lower-cased and sorted, page clamped to settings. Two filters that select the
// same rows in the same order normalize to equal values.
func (f DocumentFilter) Normalize(settings config.SearchSettings) (DocumentFilter, error) {
	n := f
	n.Term = strings.TrimSpace(n.Term)
	if len([]rune(n.Term)) < settings.MinTermLength {
		n.Term = ""
	}
	n.Kind = strings.TrimSpace(n.Kind)
	n.Tag = strings.TrimSpace(n.Tag)

	if n.Classification != "" {
		c := Classification(strings.ToLower(strings.TrimSpace(string(n.Classification))))
		if !c.IsValid() {
			return n, utils.NewValidationError("classification", "must be one of public, internal, restricted")
		}
		n.Classification = c
	}

	var extensions []string
	for _, raw := range f.Extensions {
		for _, ext := range strings.Split(raw, ",") {
			if ext = storage.NormalizeExtension(ext); ext != "" {
				extensions = append(extensions, ext)
			}
		}
	}
	extensions = utils.UniqueSlice(extensions)
	sort.Strings(extensions)
	n.Extensions = extensions

	if n.CreatedFrom != nil && n.CreatedTo != nil && n.CreatedTo.Before(*n.CreatedFrom) {
		return n, utils.NewValidationError("created_to", "must not be before created_from")
	}

	n.Sort = strings.ToLower(strings.TrimSpace(n.Sort))
	if n.Sort == "" {
		n.Sort = "created_at"
	}
	if _, ok := sortColumns[n.Sort]; !ok {
		return n, utils.NewValidationError("sort", "is not a sortable field")
	}
	n.Order = strings.ToLower(strings.TrimSpace(n.Order))
	if n.Order == "" {
		n.Order = "desc"
	}
	if n.Order != "asc" && n.Order != "desc" {
		return n, utils.NewValidationError("order", "must be asc or desc")
	}

	n.Page, n.PageSize = clampPage(n.Page, n.PageSize, settings)
	return n, nil
}

func clampPage(page int, pageSize int, settings config.SearchSettings) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = settings.DefaultPageSize
	}
	if pageSize > settings.MaxPageSize {
		pageSize = settings.MaxPageSize
	}
	return page, pageSize
}

// PageOf cuts one page out of an ordered list. Structural lists are cached whole
// and paged after the cache read.
func PageOf[T any](items []T, page int, pageSize int, settings config.SearchSettings) *Page[T] {
	page, pageSize = clampPage(page, pageSize, settings)
	total := len(items)
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)
	return newPage(items[start:end], int64(total), page, pageSize)
}

// Fingerprint identifies a normalized filter, page included, inside a listing key.
func (f DocumentFilter) Fingerprint() string {
	raw, _ := json.Marshal(f)
	return strconv.FormatUint(xxhash.Sum64(raw), 16)
}

// Scope is the most specific parent the filter is bound to. Unbound filters are not cached.
func (f DocumentFilter) Scope() (cache.Scope, bool) {
	if f.SupportProcessId != nil {
		return cache.ProcessScope(*f.SupportProcessId), true
	}
	if f.DirectionId != nil {
		return cache.DirectionScope(*f.DirectionId), true
	}
	return cache.Scope{}, false
}

// SearchDocuments is the listing read path: bound filters go through the cache under
// the epoch of their scope, unbound ones always hit the database.
func SearchDocuments(ctx context.Context, filter DocumentFilter) (*Page[DocumentSummary], error) {

	f, err := filter.Normalize(config.GetSearchSettings())
	if err != nil {
		return nil, err
	}
	db := config.GetDB()

	scope, ok := f.Scope()
	layer := GetCache()
	if !ok || layer == nil {
		return searchDocuments(ctx, db, f)
	}

	epoch, err := layer.Epoch(ctx, scope)
	if err != nil {
		config.LogWarn(config.GetLogger(), "models", "SearchDocuments", logrus.Fields{"scope": scope.String()}, err)
		return searchDocuments(ctx, db, f)
	}
	key := cache.ListingKey(scope, epoch, f.Fingerprint())
	return cache.GetOrCompute(ctx, layer, key, layer.TTLs().Listing,
		func(ctx context.Context) (*Page[DocumentSummary], error) {
			return searchDocuments(ctx, db, f)
		})
}

// ExportDocuments returns every row the filter selects, in listing order, up to MaxExportRows.
func ExportDocuments(ctx context.Context, filter DocumentFilter) ([]DocumentSummary, error) {

	settings := config.GetSearchSettings()
	f, err := filter.Normalize(settings)
	if err != nil {
		return nil, err
	}
	f.Page = 1
	f.PageSize = MaxExportRows

	db := config.GetDB()
	term, matched, err := termMatches(ctx, db, f)
	if err != nil {
		return nil, err
	}
	if !matched {
		return []DocumentSummary{}, nil
	}
	var items []DocumentSummary
	q := applyDocumentFilter(summaryQuery(db.WithContext(ctx)), f, term)
	if err := q.Order(orderFor(f)).Limit(MaxExportRows).Scan(&items).Error; err != nil {
		return nil, err
	}
	return withSizes(items), nil
}

// termFilter restricts a documents query to the rows matching the search term.
type termFilter func(q *gorm.DB) *gorm.DB

// termMatches resolves the search term. A relational index becomes a subquery so
// the term is AND-composed with the other filters in one statement. Any other
// index is asked for its ids. matched is false when a term was given and the
// index returned nothing.
func termMatches(ctx context.Context, db *gorm.DB, f DocumentFilter) (termFilter, bool, error) {
	if f.Term == "" {
		return nil, true, nil
	}
	index := GetSearchIndex()
	if querier, ok := termQuerierOf(index); ok {
		return func(q *gorm.DB) *gorm.DB {
			return q.Where("documents.id IN (?)", querier.TermQuery(db.WithContext(ctx), f.Term))
		}, true, nil
	}
	ids, err := index.Search(ctx, f.Term)
	if err != nil {
		return nil, false, err
	}
	if len(ids) == 0 {
		return nil, false, nil
	}
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("documents.id IN ?", ids)
	}, true, nil
}

func searchDocuments(ctx context.Context, db *gorm.DB, f DocumentFilter) (*Page[DocumentSummary], error) {
	term, matched, err := termMatches(ctx, db, f)
	if err != nil {
		return nil, err
	}
	if !matched {
		return newPage[DocumentSummary](nil, 0, f.Page, f.PageSize), nil
	}

	var total int64
	if err := applyDocumentFilter(db.WithContext(ctx).Model(&Document{}), f, term).Count(&total).Error; err != nil {
		return nil, err
	}

	var items []DocumentSummary
	if total > 0 {
		q := applyDocumentFilter(summaryQuery(db.WithContext(ctx)), f, term)
		if err := q.Order(orderFor(f)).
			Limit(f.PageSize).
			Offset((f.Page - 1) * f.PageSize).
			Scan(&items).Error; err != nil {
			return nil, err
		}
	}
	return newPage(withSizes(items), total, f.Page, f.PageSize), nil
}

func orderFor(f DocumentFilter) string {
	// id breaks ties so equal sort values page deterministically
	return sortColumns[f.Sort] + " " + f.Order + ", documents.id " + f.Order
}

func summaryQuery(db *gorm.DB) *gorm.DB {
	return db.Table("documents").
		Select(`documents.id, documents.title, documents.description, documents.file_name,
			documents.mime_type, documents.extension, documents.size, documents.thumbnail_path,
			documents.uploaded_by, users.name AS uploader_name,
			documents.direction_id, directions.name AS direction_name, directions.code AS direction_code,
			documents.support_process_id, support_processes.name AS support_process_name,
			documents.tags, documents.classification, documents.kind, documents.download_count,
			documents.created_at, documents.updated_at`).
		Joins("JOIN directions ON directions.id = documents.direction_id").
		Joins("JOIN support_processes ON support_processes.id = documents.support_process_id").
		Joins("LEFT JOIN users ON users.id = documents.uploaded_by")
}

func applyDocumentFilter(q *gorm.DB, f DocumentFilter, term termFilter) *gorm.DB {
	if f.DirectionId != nil {
		q = q.Where("documents.direction_id = ?", *f.DirectionId)
	}
	if f.SupportProcessId != nil {
		q = q.Where("documents.support_process_id = ?", *f.SupportProcessId)
	}
	if term != nil {
		q = term(q)
	}
	if f.Kind != "" {
		q = q.Where("documents.kind = ?", f.Kind)
	}
	if f.Classification != "" {
		q = q.Where("documents.classification = ?", f.Classification)
	}
	if f.Tag != "" {
		q = q.Where("EXISTS (SELECT 1 FROM document_tags WHERE document_tags.document_id = documents.id AND document_tags.tag = ?)", f.Tag)
	}
	if len(f.Extensions) > 0 {
		q = q.Where("documents.extension IN ?", f.Extensions)
	}
	if f.CreatedFrom != nil {
		q = q.Where("documents.created_at >= ?", startOfDay(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		// the end date is inclusive
		q = q.Where("documents.created_at < ?", startOfDay(*f.CreatedTo).AddDate(0, 0, 1))
	}
	return q
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func withSizes(items []DocumentSummary) []DocumentSummary {
	for i := range items {
		items[i].SizeMB = megabytes(items[i].Size)
	}
	return items
}

// GetDocumentSummaries loads summaries by id, in id order.
func GetDocumentSummaries(ctx context.Context, db *gorm.DB, ids ...int) ([]DocumentSummary, error) {
	if len(ids) == 0 {
		return []DocumentSummary{}, nil
	}
	var items []DocumentSummary
	if err := summaryQuery(db.WithContext(ctx)).
		Where("documents.id IN ?", ids).
		Order("documents.id").
		Scan(&items).Error; err != nil {
		return nil, err
	}
	return withSizes(items), nil
}
