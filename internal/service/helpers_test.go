package service

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/database"
	"ai-news/internal/model"
	"ai-news/internal/urlhash"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ago(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

// seedArticle 补齐必填字段后写入
func seedArticle(t *testing.T, db *gorm.DB, a model.Article) model.Article {
	t.Helper()
	if a.URL == "" {
		a.URL = "https://example.com/" + uuid.NewString()
	}
	if a.URLHash == "" {
		hash, err := urlhash.Fingerprint(a.URL)
		require.NoError(t, err)
		a.URLHash = hash
	}
	if a.Title == "" {
		a.Title = "untitled"
	}
	if a.FetchedAt.IsZero() {
		a.FetchedAt = testNow
	}
	require.NoError(t, db.Create(&a).Error)
	return a
}

func displayableArticle(title string, published *time.Time) model.Article {
	score := 8
	return model.Article{
		Title:          title,
		PublishedAt:    published,
		IsFiltered:     true,
		IsApproved:     true,
		IsSummarized:   true,
		Summary:        words(60),
		RelevanceScore: &score,
		Category:       "research",
	}
}

func articleExists(t *testing.T, db *gorm.DB, id string) bool {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.Article{}).Where("id = ?", id).Count(&n).Error)
	return n == 1
}
