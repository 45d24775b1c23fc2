package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-news/config"
	"ai-news/internal/model"
)

func TestOpenMigratesAndCreatesView(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "data", "news.db")})
	require.NoError(t, err)

	for _, table := range []string{"sources", "articles", "fetch_logs", "storage_snapshots", "configs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	now := time.Now().UTC()
	rows := []model.Article{
		{URL: "https://e.com/1", URLHash: "h1", Title: "shown", FetchedAt: now, IsFiltered: true, IsApproved: true, IsSummarized: true, Summary: "ok"},
		{URL: "https://e.com/2", URLHash: "h2", Title: "pending", FetchedAt: now, IsFiltered: true, IsApproved: true},
		{URL: "https://e.com/3", URLHash: "h3", Title: "deleted", FetchedAt: now, IsFiltered: true, IsApproved: true, IsSummarized: true, Summary: "ok", IsDeleted: true},
	}
	require.NoError(t, db.Create(&rows).Error)

	var shown []model.DisplayArticle
	require.NoError(t, db.Find(&shown).Error)
	require.Len(t, shown, 1)
	assert.Equal(t, "shown", shown[0].Title)

	// 重复迁移是安全的
	require.NoError(t, Migrate(db))
}

func TestInitDefaultConfigKeepsExistingValues(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "news.db")})
	require.NoError(t, err)

	require.NoError(t, db.Create(&model.Config{Key: model.ConfigPromptFilter, Value: "custom"}).Error)
	require.NoError(t, InitDefaultConfig(db))

	var cfg model.Config
	require.NoError(t, db.Where("key = ?", model.ConfigPromptFilter).First(&cfg).Error)
	assert.Equal(t, "custom", cfg.Value)

	var summary model.Config
	require.NoError(t, db.Where("key = ?", model.ConfigPromptSummary).First(&summary).Error)
	assert.Equal(t, DefaultSummaryPrompt, summary.Value)
}
