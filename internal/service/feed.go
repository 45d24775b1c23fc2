package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ai-news/config"
	"ai-news/internal/metrics"
	"ai-news/internal/model"
	"ai-news/internal/urlhash"
)

// ErrSourceNotFound 订阅源不存在
var ErrSourceNotFound = errors.New("source not found")

// FeedFetcher 抓取并解析一个订阅源
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// GofeedFetcher 基于 gofeed 的实现
type GofeedFetcher struct {
	parser *gofeed.Parser
}

func NewGofeedFetcher(cfg config.FetchConfig) *GofeedFetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = cfg.UserAgent
	parser.Client = &http.Client{Timeout: cfg.Timeout}
	return &GofeedFetcher{parser: parser}
}

func (f *GofeedFetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	return f.parser.ParseURLWithContext(url, ctx)
}

type FeedService struct {
	db       *gorm.DB
	fetcher  FeedFetcher
	searcher ArticleSearcher
	cfg      config.FetchConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewFeedService(db *gorm.DB, fetcher FeedFetcher, cfg config.FetchConfig, m *metrics.Metrics, logger *slog.Logger) *FeedService {
	return &FeedService{
		db:      db,
		fetcher: fetcher,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "feed"),
	}
}

// SetSearcher 启用关键词检索来源,每次 FetchAllFeeds 在订阅源之后执行
func (s *FeedService) SetSearcher(searcher ArticleSearcher) {
	s.searcher = searcher
}

// SourceResult 单个订阅源一次抓取的结果
type SourceResult struct {
	SourceID string `json:"source_id"`
	Found    int    `json:"found"`
	Added    int    `json:"added"`
	Skipped  int    `json:"skipped"`
}

// FetchReport 一次抓取任务的汇总
type FetchReport struct {
	Sources   int `json:"sources"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Found     int `json:"found"`
	Added     int `json:"added"`
	Skipped   int `json:"skipped"`
}

// FetchFeed 抓取单个订阅源。失败时 fetch_log 记为 failed 并返回错误
func (s *FeedService) FetchFeed(ctx context.Context, source *model.Source, now time.Time) (SourceResult, error) {
	result := SourceResult{SourceID: source.ID}
	now = now.UTC()

	entry := model.FetchLog{SourceID: source.ID, Status: model.FetchRunning, StartedAt: now}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return result, fmt.Errorf("create fetch log: %w", err)
	}

	feed, err := s.fetcher.Fetch(ctx, source.URL)
	if err == nil {
		result, err = s.storeItems(ctx, source.ID, feed.Items, now)
	}
	s.finishLog(entry.ID, result, err)

	s.metrics.IngestResult("added", result.Added)
	s.metrics.IngestResult("skipped", result.Skipped)
	if err != nil {
		s.metrics.IngestResult("failed", 1)
		return result, fmt.Errorf("fetch %s: %w", source.URL, err)
	}

	if err := s.db.Model(source).Update("last_fetched_at", now).Error; err != nil {
		s.logger.Error("update last_fetched_at failed", "source", source.Name, "error", err)
	}
	return result, nil
}

// FetchSearch 执行关键词检索来源,抓取日志的 source_id 为空
func (s *FeedService) FetchSearch(ctx context.Context, now time.Time) (SourceResult, error) {
	var result SourceResult
	if s.searcher == nil {
		return result, nil
	}
	now = now.UTC()

	entry := model.FetchLog{Status: model.FetchRunning, StartedAt: now}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return result, fmt.Errorf("create fetch log: %w", err)
	}

	items, err := s.searcher.Search(ctx)
	if err == nil {
		result, err = s.storeItems(ctx, "", items, now)
	}
	s.finishLog(entry.ID, result, err)

	s.metrics.IngestResult("added", result.Added)
	s.metrics.IngestResult("skipped", result.Skipped)
	if err != nil {
		s.metrics.IngestResult("failed", 1)
		return result, fmt.Errorf("search %s: %w", s.searcher.Name(), err)
	}
	return result, nil
}

func (s *FeedService) finishLog(id uint, result SourceResult, err error) {
	completed := time.Now().UTC()
	updates := map[string]any{
		"status":           model.FetchSuccess,
		"articles_found":   result.Found,
		"articles_added":   result.Added,
		"articles_skipped": result.Skipped,
		"completed_at":     completed,
	}
	if err != nil {
		updates["status"] = model.FetchFailed
		updates["error_message"] = err.Error()
	}
	if uerr := s.db.Model(&model.FetchLog{}).Where("id = ?", id).Updates(updates).Error; uerr != nil {
		s.logger.Error("update fetch log failed", "fetch_log", id, "error", uerr)
	}
}

func (s *FeedService) storeItems(ctx context.Context, sourceID string, items []*gofeed.Item, now time.Time) (SourceResult, error) {
	result := SourceResult{SourceID: sourceID}
	if len(items) > s.cfg.MaxArticlesPerSource {
		items = items[:s.cfg.MaxArticlesPerSource]
	}
	result.Found = len(items)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		article, ok := s.buildArticle(sourceID, item, now)
		if !ok {
			result.Skipped++
			continue
		}

		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url_hash"}}, DoNothing: true}).
			Create(article)
		if res.Error != nil {
			return result, fmt.Errorf("insert article: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			result.Skipped++
			continue
		}
		result.Added++
	}
	return result, nil
}

// buildArticle 条目缺少标题或链接、链接无效时返回 false
func (s *FeedService) buildArticle(sourceID string, item *gofeed.Item, now time.Time) (*model.Article, bool) {
	if item == nil {
		return nil, false
	}
	title := collapseSpace(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return nil, false
	}

	hash, err := urlhash.Fingerprint(link)
	if err != nil {
		s.logger.Debug("skipping entry with invalid link", "link", link, "error", err)
		return nil, false
	}

	description := truncateWords(cleanHTML(item.Description), s.cfg.MaxDescriptionLength)
	content := cleanHTML(item.Content)
	if content == "" {
		content = cleanHTML(item.Description)
	}
	content = truncateWords(content, s.cfg.MaxContentLength)

	article := &model.Article{
		SourceID:    sourceID,
		Title:       truncateRunes(title, 500),
		Description: description,
		Content:     content,
		URL:         link,
		URLHash:     hash,
		Author:      truncateRunes(itemAuthor(item), 255),
		ImageURL:    extractImage(item),
		Category:    categorize(title+" "+description, s.cfg.Categories, s.cfg.DefaultCategory),
		FetchedAt:   now,
	}
	if t := publishedAt(item); t != nil {
		article.PublishedAt = t
	}
	return article, true
}

func publishedAt(item *gofeed.Item) *time.Time {
	for _, t := range []*time.Time{item.PublishedParsed, item.UpdatedParsed} {
		if t != nil && !t.IsZero() {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// FetchAllFeeds 抓取所有到期的启用订阅源,force 时忽略抓取间隔。单个源失败不影响其他源
func (s *FeedService) FetchAllFeeds(ctx context.Context, force bool) (FetchReport, error) {
	var report FetchReport
	now := time.Now().UTC()

	var sources []model.Source
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&sources).Error; err != nil {
		return report, fmt.Errorf("list sources: %w", err)
	}

	first := true
	for i := range sources {
		source := &sources[i]
		if !force && !source.Due(now) {
			continue
		}

		if !first && s.cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.cfg.Delay):
			}
		}
		first = false

		report.Sources++
		result, err := s.FetchFeed(ctx, source, time.Now())
		report.Found += result.Found
		report.Added += result.Added
		report.Skipped += result.Skipped
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			s.logger.Warn("source fetch failed", "source", source.Name, "error", err)
			continue
		}
		report.Succeeded++
		s.logger.Info("source fetched", "source", source.Name, "found", result.Found, "added", result.Added, "skipped", result.Skipped)
	}

	if s.searcher != nil {
		report.Sources++
		result, err := s.FetchSearch(ctx, time.Now())
		report.Found += result.Found
		report.Added += result.Added
		report.Skipped += result.Skipped
		switch {
		case errors.Is(err, config.ErrInvalidConfig):
			report.Failed++
			return report, err
		case err != nil:
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			s.logger.Warn("search fetch failed", "searcher", s.searcher.Name(), "error", err)
		default:
			report.Succeeded++
			s.logger.Info("search fetched", "searcher", s.searcher.Name(), "found", result.Found, "added", result.Added, "skipped", result.Skipped)
		}
	}

	s.logger.Info("fetch completed",
		"sources", report.Sources, "succeeded", report.Succeeded, "failed", report.Failed,
		"added", report.Added, "skipped", report.Skipped)
	return report, nil
}

// SeedSources 按URL写入默认订阅源,已存在的不修改
func (s *FeedService) SeedSources(ctx context.Context, seeds []config.SourceSeed) error {
	for _, seed := range seeds {
		source := model.Source{Name: seed.Name, URL: seed.URL, IsActive: true, FetchIntervalMinutes: seed.IntervalMinutes}
		if err := s.db.WithContext(ctx).Where("url = ?", seed.URL).FirstOrCreate(&source).Error; err != nil {
			return fmt.Errorf("seed source %s: %w", seed.URL, err)
		}
	}
	return nil
}

// ListSources 所有订阅源
func (s *FeedService) ListSources(ctx context.Context) ([]model.Source, error) {
	var sources []model.Source
	err := s.db.WithContext(ctx).Order("name").Find(&sources).Error
	return sources, err
}

// GetSource 按ID获取订阅源
func (s *FeedService) GetSource(ctx context.Context, id string) (*model.Source, error) {
	var source model.Source
	if err := s.db.WithContext(ctx).First(&source, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	return &source, nil
}

// CreateSource 新增订阅源,URL必须是合法的 http(s) 地址
func (s *FeedService) CreateSource(ctx context.Context, name, url string, intervalMinutes int) (*model.Source, error) {
	if _, err := urlhash.Normalize(url); err != nil {
		return nil, err
	}
	source := &model.Source{
		Name:                 strings.TrimSpace(name),
		URL:                  strings.TrimSpace(url),
		IsActive:             true,
		FetchIntervalMinutes: intervalMinutes,
	}
	if err := s.db.WithContext(ctx).Create(source).Error; err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	return source, nil
}

// SetSourceActive 启用或停用订阅源
func (s *FeedService) SetSourceActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&model.Source{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSourceNotFound
	}
	return nil
}

// DeleteSource 删除订阅源及其抓取日志,文章按保留策略自然过期
func (s *FeedService) DeleteSource(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&model.Source{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSourceNotFound
		}
		return tx.Where("source_id = ?", id).Delete(&model.FetchLog{}).Error
	})
}
