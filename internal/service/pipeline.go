package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ai-news/config"
)

// RunReport 一次完整流水线的汇总
type RunReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Fetch      FetchReport    `json:"fetch"`
	Process    ProcessReport  `json:"process"`
	Purge      PurgeReport    `json:"purge"`
	Storage    *StorageReport `json:"storage,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// Pipeline 抓取 → 筛选 → 摘要 → 清理 → 监控
type Pipeline struct {
	feed      *FeedService
	processor *ProcessorService
	purge     *PurgeService
	storage   *StorageService
	logger    *slog.Logger
}

func NewPipeline(feed *FeedService, processor *ProcessorService, purge *PurgeService, storage *StorageService, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		feed:      feed,
		processor: processor,
		purge:     purge,
		storage:   storage,
		logger:    logger.With("component", "pipeline"),
	}
}

// RunOnce 依次执行所有步骤。某一步失败时记录错误并继续,配置错误立即返回
func (p *Pipeline) RunOnce(ctx context.Context, force bool) (RunReport, error) {
	report := RunReport{StartedAt: time.Now().UTC()}

	fail := func(step string, err error) error {
		if errors.Is(err, config.ErrInvalidConfig) || ctx.Err() != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		p.logger.Error("pipeline step failed", "step", step, "error", err)
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", step, err))
		return nil
	}

	var err error
	if report.Fetch, err = p.feed.FetchAllFeeds(ctx, force); err != nil {
		if ferr := fail("fetch", err); ferr != nil {
			return report, ferr
		}
	}
	if report.Process, err = p.processor.ProcessPendingArticles(ctx); err != nil {
		if ferr := fail("process", err); ferr != nil {
			return report, ferr
		}
	}
	if report.Purge, err = p.purge.Run(ctx, time.Now()); err != nil {
		if ferr := fail("purge", err); ferr != nil {
			return report, ferr
		}
	}
	storage, err := p.storage.Record(ctx, time.Now())
	if err != nil {
		if ferr := fail("monitor", err); ferr != nil {
			return report, ferr
		}
	} else {
		report.Storage = &storage
	}

	report.FinishedAt = time.Now().UTC()
	p.logger.Info("pipeline completed",
		"duration", report.FinishedAt.Sub(report.StartedAt),
		"added", report.Fetch.Added,
		"approved", report.Process.Filter.Approved,
		"summarized", report.Process.Summarize.Summarized,
		"purged", report.Purge.ArticlesDeleted(),
		"errors", len(report.Errors))
	return report, nil
}
