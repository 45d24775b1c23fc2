package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/metrics"
	"ai-news/internal/model"
)

// StorageLevel 用量等级
type StorageLevel string

const (
	LevelOK       StorageLevel = "OK"
	LevelWarning  StorageLevel = "WARNING"
	LevelCritical StorageLevel = "CRITICAL"
)

// 无法读取页统计时使用的单行估算值
const (
	estArticleBytes  = 5 * 1024
	estSourceBytes   = 500
	estFetchLogBytes = 200
	estSnapshotBytes = 100
	indexOverhead    = 1.3
)

// StorageReport 一次存储测量
type StorageReport struct {
	MeasuredAt        time.Time    `json:"measured_at"`
	ArticlesCount     int64        `json:"articles_count"`
	SourcesCount      int64        `json:"sources_count"`
	FetchLogsCount    int64        `json:"fetch_logs_count"`
	SnapshotsCount    int64        `json:"snapshots_count"`
	ArticlesSizeBytes int64        `json:"articles_size_bytes"`
	TotalSizeBytes    int64        `json:"total_size_bytes"`
	FreeBytes         int64        `json:"free_bytes"` // 文件中空闲页占用,不计入用量
	Estimated         bool         `json:"estimated"`
	LimitBytes        int64        `json:"limit_bytes"`
	UsagePercent      float64      `json:"usage_percent"`
	Level             StorageLevel `json:"level"`
	OldestArticle     *time.Time   `json:"oldest_article,omitempty"`
	NewestArticle     *time.Time   `json:"newest_article,omitempty"`
}

type StorageService struct {
	db      *gorm.DB
	cfg     config.StorageConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewStorageService(db *gorm.DB, cfg config.StorageConfig, m *metrics.Metrics, logger *slog.Logger) *StorageService {
	return &StorageService{db: db, cfg: cfg, metrics: m, logger: logger.With("component", "storage")}
}

// Measure 统计行数和占用空间,不修改任何数据
func (s *StorageService) Measure(ctx context.Context, now time.Time) (StorageReport, error) {
	report := StorageReport{MeasuredAt: now.UTC(), LimitBytes: s.cfg.LimitBytes}
	db := s.db.WithContext(ctx)

	counts := []struct {
		table any
		dest  *int64
	}{
		{&model.Article{}, &report.ArticlesCount},
		{&model.Source{}, &report.SourcesCount},
		{&model.FetchLog{}, &report.FetchLogsCount},
		{&model.StorageSnapshot{}, &report.SnapshotsCount},
	}
	for _, c := range counts {
		if err := db.Model(c.table).Count(c.dest).Error; err != nil {
			return report, fmt.Errorf("count rows: %w", err)
		}
	}

	err := db.Model(&model.Article{}).
		Select("COALESCE(SUM(LENGTH(COALESCE(title, '')) + LENGTH(COALESCE(description, '')) + " +
			"LENGTH(COALESCE(content, '')) + LENGTH(COALESCE(summary, '')) + LENGTH(COALESCE(url, ''))), 0)").
		Scan(&report.ArticlesSizeBytes).Error
	if err != nil {
		return report, fmt.Errorf("sum article size: %w", err)
	}

	if used, free, ok := s.databaseSize(ctx); ok {
		report.TotalSizeBytes = used
		report.FreeBytes = free
	} else {
		report.Estimated = true
		report.TotalSizeBytes = estimateSize(report)
	}

	report.UsagePercent = math.Round(float64(report.TotalSizeBytes)/float64(s.cfg.LimitBytes)*10000) / 100
	report.Level = s.classify(report.UsagePercent)

	if report.ArticlesCount > 0 {
		var oldest, newest model.Article
		if err := db.Model(&model.Article{}).Select("published_at, fetched_at").
			Order(effectiveTimeExpr + " ASC").Limit(1).Find(&oldest).Error; err != nil {
			return report, fmt.Errorf("oldest article: %w", err)
		}
		if err := db.Model(&model.Article{}).Select("published_at, fetched_at").
			Order(effectiveTimeExpr + " DESC").Limit(1).Find(&newest).Error; err != nil {
			return report, fmt.Errorf("newest article: %w", err)
		}
		o, n := oldest.EffectiveTime(), newest.EffectiveTime()
		report.OldestArticle, report.NewestArticle = &o, &n
	}
	return report, nil
}

// Record 测量并追加一条快照
func (s *StorageService) Record(ctx context.Context, now time.Time) (StorageReport, error) {
	report, err := s.Measure(ctx, now)
	if err != nil {
		return report, err
	}

	snapshot := model.StorageSnapshot{
		TotalSizeBytes:    report.TotalSizeBytes,
		ArticlesCount:     report.ArticlesCount,
		ArticlesSizeBytes: report.ArticlesSizeBytes,
		UsagePercent:      report.UsagePercent,
		Level:             string(report.Level),
		MeasuredAt:        report.MeasuredAt,
	}
	if err := s.db.WithContext(ctx).Create(&snapshot).Error; err != nil {
		return report, fmt.Errorf("save snapshot: %w", err)
	}
	s.metrics.Storage(report.UsagePercent, report.ArticlesCount)

	attrs := []any{
		"level", report.Level, "usage_percent", report.UsagePercent,
		"total_bytes", report.TotalSizeBytes, "articles", report.ArticlesCount, "estimated", report.Estimated,
	}
	switch report.Level {
	case LevelCritical:
		s.logger.Error("storage usage critical", attrs...)
	case LevelWarning:
		s.logger.Warn("storage usage high", attrs...)
	default:
		s.logger.Info("storage measured", attrs...)
	}
	return report, nil
}

// History 最近的快照,新的在前
func (s *StorageService) History(ctx context.Context, limit int) ([]model.StorageSnapshot, error) {
	var snapshots []model.StorageSnapshot
	err := s.db.WithContext(ctx).Order("measured_at DESC").Limit(limit).Find(&snapshots).Error
	return snapshots, err
}

func (s *StorageService) classify(percent float64) StorageLevel {
	switch {
	case percent >= float64(s.cfg.CriticalPercent):
		return LevelCritical
	case percent >= float64(s.cfg.WarningPercent):
		return LevelWarning
	default:
		return LevelOK
	}
}

// databaseSize 已用页和空闲页的字节数。清理后的空闲页留在文件里直到 VACUUM,不计入已用
func (s *StorageService) databaseSize(ctx context.Context) (used, free int64, ok bool) {
	var pageCount, freeCount, pageSize int64
	db := s.db.WithContext(ctx)
	if err := db.Raw("PRAGMA page_count").Scan(&pageCount).Error; err != nil {
		return 0, 0, false
	}
	if err := db.Raw("PRAGMA freelist_count").Scan(&freeCount).Error; err != nil {
		return 0, 0, false
	}
	if err := db.Raw("PRAGMA page_size").Scan(&pageSize).Error; err != nil {
		return 0, 0, false
	}
	if pageCount <= 0 || pageSize <= 0 || freeCount < 0 || freeCount > pageCount {
		return 0, 0, false
	}
	return (pageCount - freeCount) * pageSize, freeCount * pageSize, true
}

func estimateSize(r StorageReport) int64 {
	raw := r.ArticlesCount*estArticleBytes +
		r.SourcesCount*estSourceBytes +
		r.FetchLogsCount*estFetchLogBytes +
		r.SnapshotsCount*estSnapshotBytes
	return int64(float64(raw) * indexOverhead)
}
