package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/database"
	"ai-news/internal/metrics"
	"ai-news/internal/model"
	"ai-news/internal/service"
)

type fixedClassifier struct{}

func (fixedClassifier) Classify(context.Context, *model.Article) (model.Verdict, error) {
	return model.Verdict{Language: "en", RelevanceScore: 9, Category: "research"}, nil
}

type fixedSummarizer struct{}

func (fixedSummarizer) Summarize(_ context.Context, _ *model.Article, target int) (string, error) {
	return strings.TrimSpace(strings.Repeat("word ", target)), nil
}

type emptyFetcher struct{}

func (emptyFetcher) Fetch(context.Context, string) (*gofeed.Feed, error) {
	return &gofeed.Feed{}, nil
}

type fixedSchedule struct{ at time.Time }

func (f fixedSchedule) GetNextFetchTime() time.Time   { return f.at }
func (f fixedSchedule) GetNextProcessTime() time.Time { return f.at }
func (f fixedSchedule) GetNextPurgeTime() time.Time   { return f.at }
func (f fixedSchedule) GetNextMonitorTime() time.Time { return f.at }

type testServer struct {
	db     *gorm.DB
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	filter := service.NewFilterService(db, fixedClassifier{}, cfg.Filter, m, log)
	summarize := service.NewSummarizeService(db, fixedSummarizer{}, cfg.Summary, m, log)
	h := NewHandler(db, Services{
		Feed:      service.NewFeedService(db, emptyFetcher{}, cfg.Fetch, m, log),
		LLM:       service.NewLLMService(db, cfg.LLM, log),
		Processor: service.NewProcessorService(db, filter, summarize),
		Purge:     service.NewPurgeService(db, cfg.Retention, m, log),
		Storage:   service.NewStorageService(db, cfg.Storage, m, log),
		Articles:  service.NewArticleService(db),
		Status:    service.NewStatusService(db),
	}, reg, log)
	h.SetScheduler(fixedSchedule{at: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)})

	r := gin.New()
	r.Use(RequestLogger(log))
	h.RegisterRoutes(r)
	return &testServer{db: db, router: r}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) seed(t *testing.T, a model.Article) model.Article {
	t.Helper()
	if a.URL == "" {
		a.URL = "https://example.com/" + a.Title
	}
	a.URLHash = a.URL
	if a.FetchedAt.IsZero() {
		a.FetchedAt = time.Now().UTC()
	}
	require.NoError(t, s.db.Create(&a).Error)
	return a
}

func shown(title, category string) model.Article {
	score := 8
	return model.Article{
		Title: title, Category: category, RelevanceScore: &score,
		IsFiltered: true, IsApproved: true, IsSummarized: true, Summary: "A summary.",
	}
}

type listResponse struct {
	Data  []model.DisplayArticle `json:"data"`
	Total int64                  `json:"total"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestArticleReadSurface(t *testing.T) {
	s := newTestServer(t)
	a := s.seed(t, shown("alpha", "research"))
	s.seed(t, shown("beta", "robotics"))
	s.seed(t, model.Article{Title: "raw"})

	w := s.do(t, http.MethodGet, "/api/articles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[listResponse](t, w)
	assert.Equal(t, int64(2), list.Total)

	w = s.do(t, http.MethodGet, "/api/articles?category=research", nil)
	list = decode[listResponse](t, w)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "alpha", list.Data[0].Title)
	assert.Equal(t, "A summary.", list.Data[0].Summary)

	w = s.do(t, http.MethodGet, "/api/articles/"+a.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, "/api/articles/"+a.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/articles/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodDelete, "/api/articles/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/articles/categories", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "robotics")
}

func TestListArticlesByStage(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, model.Article{Title: "raw"})

	w := s.do(t, http.MethodGet, "/api/admin/articles?stage=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/admin/articles?stage=raw", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[listResponse](t, w).Total)
}

func TestProcessSingleArticle(t *testing.T) {
	s := newTestServer(t)
	a := s.seed(t, model.Article{Title: "model", Content: strings.Repeat("content ", 30)})

	w := s.do(t, http.MethodPost, "/api/articles/"+a.ID+"/process", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[service.ArticleResult](t, w)
	assert.Equal(t, "approved", result.Filter)
	assert.Equal(t, "summarized", result.Summary)
	assert.Equal(t, "displayable", result.Stage)

	w = s.do(t, http.MethodPost, "/api/articles/missing/process", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSourceEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/sources", map[string]any{"name": "bad", "url": "mailto:x@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/sources", map[string]any{"name": "Lab", "url": "https://lab.example/rss"})
	require.Equal(t, http.StatusCreated, w.Code)
	source := decode[model.Source](t, w)
	assert.True(t, source.IsActive)

	w = s.do(t, http.MethodPost, "/api/sources/"+source.ID+"/fetch", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPatch, "/api/sources/"+source.ID, map[string]any{"is_active": false})
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPatch, "/api/sources/"+source.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/sources", nil)
	sources := decode[[]model.Source](t, w)
	require.Len(t, sources, 1)
	assert.False(t, sources[0].IsActive)

	w = s.do(t, http.MethodDelete, "/api/sources/"+source.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/api/sources/"+source.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfigEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/config", nil)
	cfg := decode[map[string]string](t, w)
	assert.Equal(t, database.DefaultFilterPrompt, cfg[model.ConfigPromptFilter])

	w = s.do(t, http.MethodPost, "/api/config", map[string]string{"llm_api_key": "sk"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/config", map[string]string{model.ConfigPromptSummary: "Summarize in {words} words."})
	assert.Equal(t, http.StatusOK, w.Code)
	cfg = decode[map[string]string](t, s.do(t, http.MethodGet, "/api/config", nil))
	assert.Equal(t, "Summarize in {words} words.", cfg[model.ConfigPromptSummary])
}

func TestPurgeStorageStatusAndMetrics(t *testing.T) {
	s := newTestServer(t)
	old := shown("old", "research")
	old.FetchedAt = time.Now().UTC().Add(-60 * 24 * time.Hour)
	s.seed(t, old)

	w := s.do(t, http.MethodPost, "/api/purge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[service.PurgeReport](t, w)
	assert.Equal(t, int64(1), report.Age.Deleted)

	w = s.do(t, http.MethodGet, "/api/storage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", decode[map[string]any](t, w)["level"])

	w = s.do(t, http.MethodGet, "/api/storage/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[service.SystemStatus](t, w)
	assert.Equal(t, int64(0), status.TotalArticles)
	assert.Equal(t, 2026, status.NextPurgeTime.Year())

	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ainews_purged_rows_total{bound="age"} 1`)
	assert.Contains(t, w.Body.String(), "ainews_storage_usage_percent")
}
