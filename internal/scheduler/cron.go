package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ai-news/config"
	"ai-news/internal/service"
)

type Scheduler struct {
	cron      *cron.Cron
	feed      *service.FeedService
	processor *service.ProcessorService
	purge     *service.PurgeService
	storage   *service.StorageService
	config    config.CronConfig
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	fetchEntryID   cron.EntryID
	processEntryID cron.EntryID
	purgeEntryID   cron.EntryID
	monitorEntryID cron.EntryID
}

func NewScheduler(feed *service.FeedService, processor *service.ProcessorService, purge *service.PurgeService,
	storage *service.StorageService, cfg config.CronConfig, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "cron")
	cronLogger := slogAdapter{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		// 同一任务上一次还没结束时跳过本次
		cron:      cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		feed:      feed,
		processor: processor,
		purge:     purge,
		storage:   storage,
		config:    cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 注册四个定时任务并启动,cron 表达式无效时返回错误
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		id   *cron.EntryID
		run  func(ctx context.Context) error
	}{
		{"fetch", s.config.FetchInterval, &s.fetchEntryID, func(ctx context.Context) error {
			_, err := s.feed.FetchAllFeeds(ctx, false)
			return err
		}},
		{"process", s.config.ProcessInterval, &s.processEntryID, func(ctx context.Context) error {
			_, err := s.processor.ProcessPendingArticles(ctx)
			return err
		}},
		{"purge", s.config.PurgeInterval, &s.purgeEntryID, func(ctx context.Context) error {
			_, err := s.purge.Run(ctx, time.Now())
			return err
		}},
		{"monitor", s.config.MonitorInterval, &s.monitorEntryID, func(ctx context.Context) error {
			_, err := s.storage.Record(ctx, time.Now())
			return err
		}},
	}

	for _, job := range jobs {
		id, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run))
		if err != nil {
			return fmt.Errorf("%w: cron.%s %q: %v", config.ErrInvalidConfig, job.name, job.spec, err)
		}
		*job.id = id
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"fetch", s.config.FetchInterval, "process", s.config.ProcessInterval,
		"purge", s.config.PurgeInterval, "monitor", s.config.MonitorInterval)
	return nil
}

func (s *Scheduler) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		start := time.Now()
		s.logger.Info("job started", "job", name)
		if err := run(s.ctx); err != nil {
			s.logger.Error("job failed", "job", name, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Info("job finished", "job", name, "duration", time.Since(start))
	}
}

// GetNextFetchTime 获取下次抓取时间
func (s *Scheduler) GetNextFetchTime() time.Time {
	return s.cron.Entry(s.fetchEntryID).Next
}

// GetNextProcessTime 获取下次处理时间
func (s *Scheduler) GetNextProcessTime() time.Time {
	return s.cron.Entry(s.processEntryID).Next
}

// GetNextPurgeTime 获取下次清理时间
func (s *Scheduler) GetNextPurgeTime() time.Time {
	return s.cron.Entry(s.purgeEntryID).Next
}

// GetNextMonitorTime 获取下次存储监控时间
func (s *Scheduler) GetNextMonitorTime() time.Time {
	return s.cron.Entry(s.monitorEntryID).Next
}

// Stop 取消正在运行的任务并等待其退出
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// slogAdapter 把 cron.Logger 接到 slog
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, append(keysAndValues, "error", err)...)
}
