package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/database"
	"ai-news/internal/logging"
	"ai-news/internal/metrics"
	"ai-news/internal/service"
)

// app 一次命令执行所需的全部依赖
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	logger   *slog.Logger
	registry *prometheus.Registry

	llm       *service.LLMService
	feed      *service.FeedService
	filter    *service.FilterService
	summarize *service.SummarizeService
	processor *service.ProcessorService
	purge     *service.PurgeService
	storage   *service.StorageService
	articles  *service.ArticleService
	status    *service.StatusService
	pipeline  *service.Pipeline
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	// 初始化数据库
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	// 初始化默认配置
	if err := database.InitDefaultConfig(db); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 初始化服务
	llm := service.NewLLMService(db, cfg.LLM, logger)
	feed := service.NewFeedService(db, service.NewGofeedFetcher(cfg.Fetch), cfg.Fetch, m, logger)
	if cfg.Fetch.NewsAPI.Enabled() {
		feed.SetSearcher(service.NewNewsAPISearcher(cfg.Fetch))
	}
	filter := service.NewFilterService(db, service.NewLLMClassifier(llm, cfg.Filter), cfg.Filter, m, logger)
	summarize := service.NewSummarizeService(db, service.NewLLMSummarizer(llm, cfg.Summary), cfg.Summary, m, logger)
	processor := service.NewProcessorService(db, filter, summarize)
	purge := service.NewPurgeService(db, cfg.Retention, m, logger)
	storage := service.NewStorageService(db, cfg.Storage, m, logger)

	if err := feed.SeedSources(ctx, cfg.Fetch.SeedSources); err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		db:        db,
		logger:    logger,
		registry:  registry,
		llm:       llm,
		feed:      feed,
		filter:    filter,
		summarize: summarize,
		processor: processor,
		purge:     purge,
		storage:   storage,
		articles:  service.NewArticleService(db),
		status:    service.NewStatusService(db),
		pipeline:  service.NewPipeline(feed, processor, purge, storage, logger),
	}, nil
}

func (a *app) Close() {
	sqlDB, err := a.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		a.logger.Warn("close database failed", "error", err)
	}
}

// requireLLM 调用AI的命令在开始前检查凭据
func (a *app) requireLLM() error {
	if err := a.cfg.RequireLLM(); err != nil {
		return fmt.Errorf("cannot run without AI credentials: %w", err)
	}
	return nil
}
