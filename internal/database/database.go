package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ai-news/config"
	"ai-news/internal/model"
)

// displayableViewSQL 只读视图,谓词与 model.Displayable 一致
const displayableViewSQL = `CREATE VIEW IF NOT EXISTS ` + model.DisplayableView + ` AS
SELECT id, title, summary, url, image_url, author, category, source_id,
       published_at, fetched_at, relevance_score
FROM articles
WHERE is_approved = 1
  AND is_summarized = 1
  AND is_deleted = 0
  AND TRIM(COALESCE(summary, '')) <> ''`

// Open 打开数据库并执行迁移
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if dir := filepath.Dir(cfg.Path); cfg.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	level := logger.Warn
	if cfg.Debug {
		level = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(dsn(cfg.Path)), &gorm.Config{
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
		Logger:                                   logger.Default.LogMode(level),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Path, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 自动迁移四张表、配置表和可展示视图
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Source{},
		&model.Article{},
		&model.FetchLog{},
		&model.StorageSnapshot{},
		&model.Config{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := db.Exec(displayableViewSQL).Error; err != nil {
		return fmt.Errorf("create %s view: %w", model.DisplayableView, err)
	}
	return nil
}

// InitDefaultConfig 初始化默认提示词,已有的值不覆盖
func InitDefaultConfig(db *gorm.DB) error {
	defaults := map[string]string{
		model.ConfigPromptFilter:  DefaultFilterPrompt,
		model.ConfigPromptSummary: DefaultSummaryPrompt,
	}

	for key, value := range defaults {
		err := db.Where("key = ?", key).FirstOrCreate(&model.Config{Key: key, Value: value}).Error
		if err != nil {
			return fmt.Errorf("init config %s: %w", key, err)
		}
	}
	return nil
}

func dsn(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL"
}
