package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/metrics"
	"ai-news/internal/model"
)

// Classifier 判断文章语言和相关度
type Classifier interface {
	Classify(ctx context.Context, article *model.Article) (model.Verdict, error)
}

// LLMClassifier 用提示词 prompt_filter 调用LLM
type LLMClassifier struct {
	llm           *LLMService
	maxInputChars int
	temperature   float32
}

func NewLLMClassifier(llm *LLMService, cfg config.FilterConfig) *LLMClassifier {
	return &LLMClassifier{llm: llm, maxInputChars: cfg.MaxInputChars, temperature: cfg.Temperature}
}

func (c *LLMClassifier) Classify(ctx context.Context, article *model.Article) (model.Verdict, error) {
	prompt := c.llm.GetPrompt(model.ConfigPromptFilter)
	content := fmt.Sprintf("Article Title: %s\n\nArticle Content:\n%s", article.Title, truncateRunes(article.Body(), c.maxInputChars))

	reply, err := c.llm.Chat(ctx, prompt, content, c.temperature)
	if err != nil {
		return model.Verdict{}, err
	}
	return parseVerdict(reply)
}

// rawVerdict 容忍分数写成字符串或小数
type rawVerdict struct {
	Language       string      `json:"language"`
	IsEnglish      *bool       `json:"is_english"`
	RelevanceScore json.Number `json:"relevance_score"`
	Category       string      `json:"category"`
	Reason         string      `json:"reason"`
}

// parseVerdict 从回复中取出第一个JSON对象,允许外层有代码块或多余文字
func parseVerdict(reply string) (model.Verdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return model.Verdict{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, preview(reply))
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	score, err := strconv.ParseFloat(raw.RelevanceScore.String(), 64)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("%w: relevance_score %q", ErrMalformedResponse, raw.RelevanceScore)
	}

	v := model.Verdict{
		Language:       strings.ToLower(strings.TrimSpace(raw.Language)),
		RelevanceScore: int(math.Round(score)),
		Category:       raw.Category,
		Reason:         raw.Reason,
	}
	if raw.IsEnglish != nil {
		v.IsEnglish = *raw.IsEnglish
		if v.Language == "" && v.IsEnglish {
			v.Language = "en"
		}
	} else {
		v.IsEnglish = v.Language == "en"
	}

	if err := v.Validate(); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return v, nil
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 80 {
		return string([]rune(s)[:80]) + "..."
	}
	return s
}

// 筛选结果
const (
	outcomeApproved          = "approved"
	outcomeRejectedLanguage  = "rejected_language"
	outcomeRejectedRelevance = "rejected_relevance"
	outcomeRejectedShort     = "rejected_short"
	outcomeFailed            = "failed"
	outcomeSkipped           = "skipped"
)

// FilterReport 一次筛选任务的汇总
type FilterReport struct {
	Selected          int `json:"selected"`
	Approved          int `json:"approved"`
	RejectedLanguage  int `json:"rejected_language"`
	RejectedRelevance int `json:"rejected_relevance"`
	RejectedShort     int `json:"rejected_short"`
	Failed            int `json:"failed"`
	Skipped           int `json:"skipped"`
}

func (r *FilterReport) add(outcome string) {
	switch outcome {
	case outcomeApproved:
		r.Approved++
	case outcomeRejectedLanguage:
		r.RejectedLanguage++
	case outcomeRejectedRelevance:
		r.RejectedRelevance++
	case outcomeRejectedShort:
		r.RejectedShort++
	case outcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

type FilterService struct {
	db         *gorm.DB
	classifier Classifier
	policy     model.FilterPolicy
	cfg        config.FilterConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewFilterService(db *gorm.DB, classifier Classifier, cfg config.FilterConfig, m *metrics.Metrics, logger *slog.Logger) *FilterService {
	return &FilterService{
		db:         db,
		classifier: classifier,
		policy:     model.FilterPolicy{MinRelevanceScore: cfg.MinRelevanceScore},
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With("component", "filter"),
	}
}

// Run 筛选一批 Raw 文章。单条失败只计数,配置错误会终止整批
func (s *FilterService) Run(ctx context.Context) (FilterReport, error) {
	var report FilterReport

	var articles []model.Article
	err := s.db.WithContext(ctx).Scopes(model.PendingFilter).
		Order("fetched_at DESC").
		Limit(s.cfg.BatchSize).
		Find(&articles).Error
	if err != nil {
		return report, fmt.Errorf("select pending filter: %w", err)
	}
	report.Selected = len(articles)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range articles {
		article := &articles[i]
		g.Go(func() error {
			outcome, err := s.FilterOne(gctx, article)
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

	for _, o := range []struct {
		name string
		n    int
	}{
		{outcomeApproved, report.Approved},
		{outcomeRejectedLanguage, report.RejectedLanguage},
		{outcomeRejectedRelevance, report.RejectedRelevance},
		{outcomeRejectedShort, report.RejectedShort},
		{outcomeFailed, report.Failed},
	} {
		s.metrics.FilterVerdict(o.name, o.n)
	}

	s.logger.Info("filter completed",
		"selected", report.Selected, "approved", report.Approved,
		"rejected_language", report.RejectedLanguage, "rejected_relevance", report.RejectedRelevance,
		"rejected_short", report.RejectedShort, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// FilterOne 筛选单篇文章并做条件更新。文章已不在 Raw 时返回 skipped
func (s *FilterService) FilterOne(ctx context.Context, article *model.Article) (string, error) {
	var decision model.Decision
	if utf8.RuneCountInString(strings.TrimSpace(article.Body())) < s.cfg.MinContentLength {
		decision = model.RejectTooShort()
	} else {
		verdict, err := s.classifier.Classify(ctx, article)
		if err != nil {
			s.logger.Warn("classify failed, article stays raw", "article", article.ID, "error", err)
			return outcomeFailed, err
		}
		decision = s.policy.Decide(verdict)
	}

	res := s.db.WithContext(ctx).Model(&model.Article{}).
		Scopes(model.PendingFilter).
		Where("id = ?", article.ID).
		Updates(decision.Updates())
	if res.Error != nil {
		s.logger.Error("store filter decision failed", "article", article.ID, "error", res.Error)
		return outcomeFailed, res.Error
	}
	if res.RowsAffected == 0 {
		return outcomeSkipped, nil
	}
	if err := article.ApplyDecision(decision); err != nil {
		s.logger.Debug("in-memory transition mismatch", "article", article.ID, "error", err)
	}

	switch {
	case decision.Approved:
		return outcomeApproved, nil
	case decision.Reason == model.ReasonContentTooShort:
		return outcomeRejectedShort, nil
	case decision.Language != "en":
		return outcomeRejectedLanguage, nil
	default:
		return outcomeRejectedRelevance, nil
	}
}
