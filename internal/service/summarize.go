package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/metrics"
	"ai-news/internal/model"
)

// Summarizer 生成文章摘要,返回未经校验的原始文本
type Summarizer interface {
	Summarize(ctx context.Context, article *model.Article, targetWords int) (string, error)
}

// LLMSummarizer 用提示词 prompt_summary 调用LLM
type LLMSummarizer struct {
	llm           *LLMService
	maxInputChars int
	temperature   float32
}

func NewLLMSummarizer(llm *LLMService, cfg config.SummaryConfig) *LLMSummarizer {
	return &LLMSummarizer{llm: llm, maxInputChars: cfg.MaxInputChars, temperature: cfg.Temperature}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, article *model.Article, targetWords int) (string, error) {
	prompt := strings.ReplaceAll(s.llm.GetPrompt(model.ConfigPromptSummary), "{words}", strconv.Itoa(targetWords))
	content := fmt.Sprintf("Article Title: %s\n\nArticle Content:\n%s", article.Title, truncateRunes(article.Body(), s.maxInputChars))
	return s.llm.Chat(ctx, prompt, content, s.temperature)
}

// 摘要结果
const (
	outcomeSummarized = "summarized"
	outcomeOutOfBand  = "out_of_band"
	outcomeTooShort   = "too_short"
	outcomeConflict   = "conflict"
)

// SummarizeReport 一次摘要任务的汇总
type SummarizeReport struct {
	Selected   int `json:"selected"`
	Summarized int `json:"summarized"`
	OutOfBand  int `json:"out_of_band"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Conflicts  int `json:"conflicts"`
}

func (r *SummarizeReport) add(outcome string) {
	switch outcome {
	case outcomeSummarized:
		r.Summarized++
	case outcomeOutOfBand:
		r.OutOfBand++
	case outcomeTooShort:
		r.Skipped++
	case outcomeConflict:
		r.Conflicts++
	default:
		r.Failed++
	}
}

type SummarizeService struct {
	db         *gorm.DB
	summarizer Summarizer
	policy     model.SummaryPolicy
	cfg        config.SummaryConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewSummarizeService(db *gorm.DB, summarizer Summarizer, cfg config.SummaryConfig, m *metrics.Metrics, logger *slog.Logger) *SummarizeService {
	return &SummarizeService{
		db:         db,
		summarizer: summarizer,
		policy:     model.SummaryPolicy{MinWords: cfg.MinWords, TargetWords: cfg.TargetWords, MaxWords: cfg.MaxWords},
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With("component", "summarize"),
	}
}

// Run 为一批待摘要文章生成摘要
func (s *SummarizeService) Run(ctx context.Context) (SummarizeReport, error) {
	var report SummarizeReport

	var articles []model.Article
	err := s.db.WithContext(ctx).Scopes(model.PendingSummary).
		Order("fetched_at DESC").
		Limit(s.cfg.BatchSize).
		Find(&articles).Error
	if err != nil {
		return report, fmt.Errorf("select pending summary: %w", err)
	}
	report.Selected = len(articles)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range articles {
		article := &articles[i]
		g.Go(func() error {
			outcome, err := s.SummarizeOne(gctx, article)
			if err != nil && errors.Is(err, config.ErrInvalidConfig) {
				return err
			}
			mu.Lock()
			report.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	s.metrics.SummaryResult(outcomeSummarized, report.Summarized)
	s.metrics.SummaryResult(outcomeOutOfBand, report.OutOfBand)
	s.metrics.SummaryResult("skipped", report.Skipped)
	s.metrics.SummaryResult(outcomeFailed, report.Failed)

	s.logger.Info("summarize completed",
		"selected", report.Selected, "summarized", report.Summarized, "out_of_band", report.OutOfBand,
		"skipped", report.Skipped, "failed", report.Failed, "conflicts", report.Conflicts)
	return report, nil
}

// SummarizeOne 最多尝试 MaxAttempts 次,字数不在区间内的回复算一次失败
func (s *SummarizeService) SummarizeOne(ctx context.Context, article *model.Article) (string, error) {
	if utf8.RuneCountInString(strings.TrimSpace(article.Body())) < s.cfg.MinContentLength {
		s.logger.Debug("content too short for summary", "article", article.ID)
		return outcomeTooShort, nil
	}

	var (
		summary string
		lastErr error
	)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		raw, err := s.summarizer.Summarize(ctx, article, s.policy.TargetWords)
		if err != nil {
			if errors.Is(err, config.ErrInvalidConfig) || ctx.Err() != nil {
				return outcomeFailed, err
			}
			lastErr = err
			continue
		}

		text, words, err := s.policy.Accept(raw)
		if err != nil {
			s.logger.Debug("summary rejected", "article", article.ID, "attempt", attempt, "words", words, "error", err)
			lastErr = err
			continue
		}
		summary = text
		break
	}

	if summary == "" {
		s.logger.Warn("summary failed, article stays pending", "article", article.ID, "attempts", s.cfg.MaxAttempts, "error", lastErr)
		if errors.Is(lastErr, model.ErrSummaryOutOfBand) || errors.Is(lastErr, model.ErrSummaryEmpty) {
			return outcomeOutOfBand, lastErr
		}
		return outcomeFailed, lastErr
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.Article{}).
		Scopes(model.PendingSummary).
		Where("id = ?", article.ID).
		Updates(model.SummaryUpdates(summary, now))
	if res.Error != nil {
		s.logger.Error("store summary failed", "article", article.ID, "error", res.Error)
		return outcomeFailed, res.Error
	}
	if res.RowsAffected == 0 {
		return outcomeConflict, nil
	}
	if err := article.ApplySummary(summary, now); err != nil {
		s.logger.Debug("in-memory transition mismatch", "article", article.ID, "error", err)
	}
	return outcomeSummarized, nil
}
