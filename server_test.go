package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/uuid"
	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type apiResponse struct {
	Success        bool              `json:"success"`
	Data           json.RawMessage   `json:"data"`
	Message        string            `json:"message"`
	Errors         map[string]string `json:"errors"`
	DependentCount int64             `json:"dependent_count"`
	Code           string            `json:"code"`
}

type testServer struct {
	t        *testing.T
	router   *gin.Engine
	db       *gorm.DB
	admin    string
	uploader string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig())
	require.NoError(t, err)
	config.SetDB(db)
	config.SetRedisDB(nil)
	models.MigrateTable()

	store := cache.NewMemoryStore()
	t.Cleanup(store.Close)
	models.UseCache(cache.NewLayer(store, cache.TTLs{Entity: time.Minute, Listing: time.Minute, Structural: time.Minute, Degraded: time.Second}, config.GetLogger()))
	models.UseSearchIndex(nil)
	models.UseBlobStore(storage.NewLocalStore(memfs.New(), "http://docs.test"))

	ctx := context.Background()
	_, err = models.CreateUser(ctx, &models.NewUser{Username: "admin", Name: "Admin", Password: "secret-pass", Role: models.UserRoleAdmin})
	require.NoError(t, err)
	_, err = models.CreateUser(ctx, &models.NewUser{Username: "uploader", Name: "Uploader", Password: "secret-pass"})
	require.NoError(t, err)

	ready.Store(true)
	t.Cleanup(func() { ready.Store(false) })

	s := &testServer{t: t, router: newRouter(config.GetLogger()), db: db}
	s.admin = s.login("admin")
	s.uploader = s.login("uploader")
	return s
}

func (s *testServer) do(req *http.Request, token string) (*httptest.ResponseRecorder, apiResponse) {
	s.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var body apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

func (s *testServer) json(method, path, token string, payload any) (*httptest.ResponseRecorder, apiResponse) {
	s.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, token)
}

func (s *testServer) login(username string) string {
	s.t.Helper()
	w, body := s.json(http.MethodPost, "/auth/login", "", gin.H{"username": username, "password": "secret-pass"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var info struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(body.Data, &info))
	return info.Token
}

func (s *testServer) upload(token string, fields map[string]string, fileName, content string) (*httptest.ResponseRecorder, apiResponse) {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(s.t, err)
		_, err = part.Write([]byte(content))
		require.NoError(s.t, err)
	}
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req, token)
}

type documentDetail struct {
	Title          string                `json:"title"`
	Direction      models.Direction      `json:"direction"`
	SupportProcess models.SupportProcess `json:"support_process"`
	Uploader       models.User           `json:"uploader"`
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestReadinessGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ready.Store(false)
	r := newRouter(config.GetLogger())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/directions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDirectionEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.json(http.MethodGet, "/directions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := s.json(http.MethodPost, "/directions", s.uploader, gin.H{"name": "Finance", "code": "FIN"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, body.Success)

	w, body = s.json(http.MethodPost, "/directions", s.admin, gin.H{"code": "FIN"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, body.Errors, "name")

	w, body = s.json(http.MethodPost, "/directions", s.admin, gin.H{"name": "Finance", "code": "fin"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	direction := decode[models.Direction](t, body.Data)
	assert.Equal(t, "FIN", direction.Code)

	w, body = s.json(http.MethodPost, "/directions", s.admin, gin.H{"name": "Finance", "code": "FIN2"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, body.Errors, "name")

	w, body = s.json(http.MethodGet, "/directions", s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Direction](t, body.Data), 1)

	w, _ = s.json(http.MethodGet, fmt.Sprintf("/directions/%d", direction.ID+50), s.uploader, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.json(http.MethodGet, "/directions?active=maybe", s.uploader, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body = s.json(http.MethodPatch, fmt.Sprintf("/directions/%d/active", direction.ID), s.admin, gin.H{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, body = s.json(http.MethodGet, "/directions?active=true", s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Direction](t, body.Data))
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestServer(t)

	_, body := s.json(http.MethodPost, "/directions", s.admin, gin.H{"name": "Finance", "code": "FIN"})
	fin := decode[models.Direction](t, body.Data)
	_, body = s.json(http.MethodPost, "/directions", s.admin, gin.H{"name": "Human Resources", "code": "HR"})
	hr := decode[models.Direction](t, body.Data)
	w, body := s.json(http.MethodPost, "/processes", s.admin, gin.H{"name": "Payroll", "code": "PAY", "direction_id": fin.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	payroll := decode[models.SupportProcess](t, body.Data)

	fields := map[string]string{
		"title":              "Q1 report",
		"direction_id":       fmt.Sprint(fin.ID),
		"support_process_id": fmt.Sprint(payroll.ID),
		"classification":     "public",
	}

	t.Run("missing file", func(t *testing.T) {
		w, body := s.upload(s.uploader, fields, "", "")
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, body.Errors, "file")
	})

	t.Run("mismatched placement", func(t *testing.T) {
		bad := map[string]string{}
		for k, v := range fields {
			bad[k] = v
		}
		bad["direction_id"] = fmt.Sprint(hr.ID)
		w, body := s.upload(s.uploader, bad, "q1.txt", "quarterly numbers")
		require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
		assert.Equal(t, "consistency_violation", body.Code)
	})

	w, body = s.upload(s.uploader, fields, "q1.txt", "quarterly numbers")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	document := decode[models.Document](t, body.Data)
	assert.Equal(t, "txt", document.Extension)

	w, body = s.json(http.MethodGet, fmt.Sprintf("/directions/%d/stats", fin.ID), s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.DirectionStats](t, body.Data)
	assert.Equal(t, int64(1), stats.DocumentCount)
	assert.Equal(t, int64(1), stats.ProcessCount)

	w, body = s.json(http.MethodGet, fmt.Sprintf("/documents/%d", document.ID), s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[documentDetail](t, body.Data)
	assert.Equal(t, "FIN", detail.Direction.Code)
	assert.Equal(t, "PAY", detail.SupportProcess.Code)
	assert.Equal(t, "uploader", detail.Uploader.Username)
	assert.Empty(t, detail.Uploader.Password)

	w, body = s.json(http.MethodGet, fmt.Sprintf("/documents/search?direction_id=%d&page=1&page_size=10", fin.ID), s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[models.Page[models.DocumentSummary]](t, body.Data)
	require.Equal(t, int64(1), page.TotalCount)
	assert.Equal(t, "Payroll", page.Items[0].SupportProcessName)

	w, _ = s.json(http.MethodGet, "/documents/search?sort=owner", s.uploader, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	t.Run("signed download", func(t *testing.T) {
		w, body := s.json(http.MethodPost, fmt.Sprintf("/documents/%d/download?disposition=inline", document.ID), s.uploader, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		signed := decode[storage.SignedURL](t, body.Data)

		u, err := url.Parse(signed.URL)
		require.NoError(t, err)
		w, _ = s.do(httptest.NewRequest(http.MethodGet, u.RequestURI(), nil), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "quarterly numbers", w.Body.String())
		assert.True(t, strings.HasPrefix(w.Header().Get("Content-Disposition"), "inline"))

		w, _ = s.do(httptest.NewRequest(http.MethodGet, u.Path+"?token=forged", nil), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("export", func(t *testing.T) {
		w, _ := s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/documents/export?direction_id=%d", fin.ID), nil), s.uploader)
		require.Equal(t, http.StatusOK, w.Code)
		f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows(exportSheet)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Title", rows[0][1])
		assert.Equal(t, "Q1 report", rows[1][1])
	})

	w, body = s.json(http.MethodDelete, fmt.Sprintf("/directions/%d", fin.ID), s.admin, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, int64(1), body.DependentCount)

	w, _ = s.json(http.MethodDelete, fmt.Sprintf("/documents/%d", document.ID), s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = s.json(http.MethodGet, fmt.Sprintf("/directions/%d/stats", fin.ID), s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), decode[models.DirectionStats](t, body.Data).DocumentCount)

	w, body = s.json(http.MethodGet, "/stats", s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), decode[models.GlobalStats](t, body.Data).TotalDocuments)
}

func TestDocumentOwnership(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := models.CreateUser(ctx, &models.NewUser{Username: "other", Name: "Other", Password: "secret-pass"})
	require.NoError(t, err)
	other := s.login("other")

	_, body := s.json(http.MethodPost, "/directions", s.admin, gin.H{"name": "Finance", "code": "FIN"})
	fin := decode[models.Direction](t, body.Data)
	_, body = s.json(http.MethodPost, "/processes", s.admin, gin.H{"name": "Payroll", "code": "PAY", "direction_id": fin.ID})
	payroll := decode[models.SupportProcess](t, body.Data)

	w, body := s.upload(s.uploader, map[string]string{
		"title":              "Contract",
		"direction_id":       fmt.Sprint(fin.ID),
		"support_process_id": fmt.Sprint(payroll.ID),
	}, "contract.txt", "terms")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	document := decode[models.Document](t, body.Data)

	w, _ = s.json(http.MethodPut, fmt.Sprintf("/documents/%d", document.ID), other, gin.H{"title": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.json(http.MethodPut, fmt.Sprintf("/documents/%d", document.ID), s.uploader, gin.H{"title": "Signed contract"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Signed contract", decode[models.Document](t, body.Data).Title)
}

func TestRateLimiterFromEnv(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config.SetRedisDB(nil)

	t.Setenv("RATE_LIMIT_ENABLED", "")
	assert.Nil(t, rateLimiterFromEnv())

	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "1")
	limiter := rateLimiterFromEnv()
	require.NotNil(t, limiter)
	assert.Nil(t, limiter.client)
	assert.Equal(t, int64(1), limiter.limit)

	// without redis every request passes, even past the limit
	r := gin.New()
	r.Use(limiter.RateLimitMiddleware)
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestStructuralListPaging(t *testing.T) {
	s := newTestServer(t)

	var directionId int
	for i, code := range []string{"AAA", "BBB", "CCC"} {
		w, body := s.json(http.MethodPost, "/directions", s.admin, gin.H{"name": "Direction " + code, "code": code, "display_order": i})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		directionId = decode[models.Direction](t, body.Data).ID
	}
	for _, code := range []string{"P1", "P2", "P3"} {
		w, _ := s.json(http.MethodPost, "/processes", s.admin, gin.H{"name": "Process " + code, "code": code, "direction_id": directionId})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w, body := s.json(http.MethodGet, "/directions?page=2&page_size=2", s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	directions := decode[models.Page[models.Direction]](t, body.Data)
	assert.Equal(t, int64(3), directions.TotalCount)
	assert.Equal(t, 2, directions.LastPage)
	require.Len(t, directions.Items, 1)
	assert.Equal(t, "CCC", directions.Items[0].Code)

	w, body = s.json(http.MethodGet, fmt.Sprintf("/processes?direction_id=%d&page_size=2", directionId), s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	processes := decode[models.Page[processResponse]](t, body.Data)
	assert.Equal(t, int64(3), processes.TotalCount)
	assert.Equal(t, 1, processes.Page)
	require.Len(t, processes.Items, 2)
	require.NotNil(t, processes.Items[0].Direction)
	assert.Equal(t, directionId, processes.Items[0].Direction.ID)

	w, _ = s.json(http.MethodGet, "/directions?page=0", s.uploader, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// without paging params the whole list comes back
	w, body = s.json(http.MethodGet, "/directions", s.uploader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Direction](t, body.Data), 3)
}
