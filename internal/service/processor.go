package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ai-news/internal/model"
)

// ErrArticleNotFound 文章不存在
var ErrArticleNotFound = errors.New("article not found")

type ProcessorService struct {
	db        *gorm.DB
	filter    *FilterService
	summarize *SummarizeService
}

func NewProcessorService(db *gorm.DB, filter *FilterService, summarize *SummarizeService) *ProcessorService {
	return &ProcessorService{db: db, filter: filter, summarize: summarize}
}

// ProcessReport 筛选和摘要两步的结果
type ProcessReport struct {
	Filter    FilterReport    `json:"filter"`
	Summarize SummarizeReport `json:"summarize"`
}

// ArticleResult 单篇处理结果
type ArticleResult struct {
	Filter  string `json:"filter,omitempty"`
	Summary string `json:"summary,omitempty"`
	Stage   string `json:"stage"`
}

// ProcessArticle 处理单篇文章: Raw 先筛选,通过后立即摘要
func (s *ProcessorService) ProcessArticle(ctx context.Context, id string) (ArticleResult, error) {
	var article model.Article
	if err := s.db.WithContext(ctx).First(&article, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ArticleResult{}, ErrArticleNotFound
		}
		return ArticleResult{}, err
	}

	var result ArticleResult
	if article.Stage() == model.StageRaw {
		outcome, err := s.filter.FilterOne(ctx, &article)
		result.Filter = outcome
		if err != nil {
			result.Stage = article.Stage().String()
			return result, fmt.Errorf("filter: %w", err)
		}
	}

	if article.Stage() == model.StagePendingSummary {
		outcome, err := s.summarize.SummarizeOne(ctx, &article)
		result.Summary = outcome
		if err != nil {
			result.Stage = article.Stage().String()
			return result, fmt.Errorf("summarize: %w", err)
		}
	}

	result.Stage = article.Stage().String()
	return result, nil
}

// ProcessPendingArticles 先筛选再摘要,本轮新通过的文章在同一轮得到摘要
func (s *ProcessorService) ProcessPendingArticles(ctx context.Context) (ProcessReport, error) {
	var report ProcessReport

	filterReport, err := s.filter.Run(ctx)
	report.Filter = filterReport
	if err != nil {
		return report, fmt.Errorf("filter: %w", err)
	}

	summarizeReport, err := s.summarize.Run(ctx)
	report.Summarize = summarizeReport
	if err != nil {
		return report, fmt.Errorf("summarize: %w", err)
	}
	return report, nil
}
