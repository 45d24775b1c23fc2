package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/metrics"
	"ai-news/internal/model"
)

const day = 24 * time.Hour

// effectiveTimeExpr 发布时间缺失时按抓取时间计算
const effectiveTimeExpr = "COALESCE(published_at, fetched_at)"

func liveArticles(db *gorm.DB) *gorm.DB {
	return db.Where("is_deleted = ?", false)
}

// BoundResult 单个保留规则的删除数和删除后剩余行数。
// 文章规则的 Remaining 只统计未软删除的文章(与数量上限的口径一致),日志和快照统计全部行
type BoundResult struct {
	Deleted   int64 `json:"deleted"`
	Remaining int64 `json:"remaining"`
}

// PurgeReport 按执行顺序排列的各规则结果
type PurgeReport struct {
	Age       BoundResult `json:"age"`
	Rejected  BoundResult `json:"rejected"`
	Count     BoundResult `json:"count"`
	FetchLogs BoundResult `json:"fetch_logs"`
	Snapshots BoundResult `json:"snapshots"`
}

// ArticlesDeleted 三条文章规则删除的总数
func (r PurgeReport) ArticlesDeleted() int64 {
	return r.Age.Deleted + r.Rejected.Deleted + r.Count.Deleted
}

type PurgeService struct {
	db      *gorm.DB
	cfg     config.RetentionConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPurgeService(db *gorm.DB, cfg config.RetentionConfig, m *metrics.Metrics, logger *slog.Logger) *PurgeService {
	return &PurgeService{db: db, cfg: cfg, metrics: m, logger: logger.With("component", "purge")}
}

// Run 依次执行: 年龄上限、拒绝文章保留期、数量上限、抓取日志、存储快照。
// 均为物理删除,是否可展示不影响选择。没有新数据时重复执行不会再删除任何行
func (s *PurgeService) Run(ctx context.Context, now time.Time) (PurgeReport, error) {
	var report PurgeReport
	now = now.UTC()

	steps := []struct {
		name   string
		result *BoundResult
		run    func(context.Context, time.Time) (BoundResult, error)
	}{
		{"age", &report.Age, s.purgeByAge},
		{"rejected", &report.Rejected, s.purgeRejected},
		{"count", &report.Count, s.purgeByCount},
		{"fetch_logs", &report.FetchLogs, s.purgeFetchLogs},
		{"snapshots", &report.Snapshots, s.purgeSnapshots},
	}
	for _, step := range steps {
		res, err := step.run(ctx, now)
		*step.result = res
		if err != nil {
			return report, fmt.Errorf("purge %s: %w", step.name, err)
		}
		s.metrics.Purged(step.name, res.Deleted)
		if res.Deleted > 0 {
			s.logger.Info("purged rows", "bound", step.name, "deleted", res.Deleted, "remaining", res.Remaining)
		}
	}

	s.logger.Info("purge completed",
		"age", report.Age.Deleted, "rejected", report.Rejected.Deleted, "count", report.Count.Deleted,
		"fetch_logs", report.FetchLogs.Deleted, "snapshots", report.Snapshots.Deleted,
		"articles_remaining", report.Count.Remaining)
	return report, nil
}

func (s *PurgeService) purgeByAge(ctx context.Context, now time.Time) (BoundResult, error) {
	cutoff := now.Add(-time.Duration(s.cfg.MaxArticleAgeDays) * day)
	return s.deleteInBatches(ctx, &model.Article{}, func(db *gorm.DB) *gorm.DB {
		return db.Where(effectiveTimeExpr+" < ?", cutoff)
	}, liveArticles)
}

func (s *PurgeService) purgeRejected(ctx context.Context, now time.Time) (BoundResult, error) {
	cutoff := now.Add(-s.cfg.RejectedRetention)
	return s.deleteInBatches(ctx, &model.Article{}, func(db *gorm.DB) *gorm.DB {
		return db.Where("is_filtered = ? AND is_approved = ? AND fetched_at < ?", true, false, cutoff)
	}, liveArticles)
}

// purgeByCount 未软删除的文章超过上限时,从最旧的开始删除,相同时间按id升序
func (s *PurgeService) purgeByCount(ctx context.Context, _ time.Time) (BoundResult, error) {
	var result BoundResult
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Article{}).Scopes(liveArticles).Count(&total).Error; err != nil {
		return result, err
	}

	excess := total - int64(s.cfg.MaxArticlesCount)
	for excess > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n := min(excess, int64(s.cfg.BatchSize))
		oldest := s.db.Model(&model.Article{}).Select("id").Scopes(liveArticles).
			Order(effectiveTimeExpr + " ASC").Order("id ASC").Limit(int(n))
		res := s.db.WithContext(ctx).Where("id IN (?)", oldest).Delete(&model.Article{})
		if res.Error != nil {
			return result, res.Error
		}
		if res.RowsAffected == 0 {
			break
		}
		result.Deleted += res.RowsAffected
		excess -= res.RowsAffected
	}

	err := s.db.WithContext(ctx).Model(&model.Article{}).Scopes(liveArticles).Count(&result.Remaining).Error
	return result, err
}

func (s *PurgeService) purgeFetchLogs(ctx context.Context, now time.Time) (BoundResult, error) {
	cutoff := now.Add(-time.Duration(s.cfg.LogRetentionDays) * day)
	return s.deleteInBatches(ctx, &model.FetchLog{}, func(db *gorm.DB) *gorm.DB {
		return db.Where("started_at < ?", cutoff)
	}, nil)
}

func (s *PurgeService) purgeSnapshots(ctx context.Context, now time.Time) (BoundResult, error) {
	cutoff := now.Add(-time.Duration(s.cfg.SnapshotRetentionDays) * day)
	return s.deleteInBatches(ctx, &model.StorageSnapshot{}, func(db *gorm.DB) *gorm.DB {
		return db.Where("measured_at < ?", cutoff)
	}, nil)
}

// deleteInBatches 每次删除 BatchSize 行,直到没有匹配的行。remaining 为 nil 时统计全部剩余行
func (s *PurgeService) deleteInBatches(ctx context.Context, table any, scope, remaining func(*gorm.DB) *gorm.DB) (BoundResult, error) {
	var result BoundResult
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch := s.db.Model(table).Select("id").Scopes(scope).Order("id").Limit(s.cfg.BatchSize)
		res := s.db.WithContext(ctx).Where("id IN (?)", batch).Delete(table)
		if res.Error != nil {
			return result, res.Error
		}
		result.Deleted += res.RowsAffected
		if res.RowsAffected < int64(s.cfg.BatchSize) {
			break
		}
	}

	count := s.db.WithContext(ctx).Model(table)
	if remaining != nil {
		count = count.Scopes(remaining)
	}
	err := count.Count(&result.Remaining).Error
	return result, err
}
