package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/database"
	"ai-news/internal/model"
)

var (
	// ErrMalformedResponse AI返回内容无法解析,按一次失败处理
	ErrMalformedResponse = errors.New("malformed AI response")
	// ErrEmptyResponse AI没有返回任何选项
	ErrEmptyResponse = errors.New("no response from LLM")
)

type LLMService struct {
	db      *gorm.DB
	client  *openai.Client
	cfg     config.LLMConfig
	limiter *rate.Limiter
	backoff time.Duration
	logger  *slog.Logger
}

func NewLLMService(db *gorm.DB, cfg config.LLMConfig, logger *slog.Logger) *LLMService {
	clientCfg := openai.DefaultConfig(cfg.ApiKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.ApiURL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &LLMService{
		db:      db,
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1),
		backoff: time.Second,
		logger:  logger.With("component", "llm"),
	}
}

// Chat 调用LLM,瞬时错误按指数退避重试;鉴权失败直接返回 ErrInvalidConfig
func (s *LLMService) Chat(ctx context.Context, prompt, content string, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		Temperature: temperature,
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := s.backoff << (attempt - 1)
			s.logger.Debug("retrying LLM call", "attempt", attempt+1, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		reply, err := s.complete(ctx, req)
		if err == nil {
			return reply, nil
		}
		if isAuthError(err) {
			return "", fmt.Errorf("%w: LLM rejected credentials: %v", config.ErrInvalidConfig, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("LLM call failed after %d attempts: %w", s.cfg.MaxRetries, lastErr)
}

func (s *LLMService) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// GetPrompt 获取提示词,数据库中没有时使用内置默认值
func (s *LLMService) GetPrompt(key string) string {
	var cfg model.Config
	if err := s.db.Where("key = ?", key).First(&cfg).Error; err == nil && strings.TrimSpace(cfg.Value) != "" {
		return cfg.Value
	}

	switch key {
	case model.ConfigPromptFilter:
		return database.DefaultFilterPrompt
	case model.ConfigPromptSummary:
		return database.DefaultSummaryPrompt
	}
	return ""
}

// GetModels 获取可用模型列表
func (s *LLMService) GetModels(ctx context.Context) ([]string, error) {
	list, err := s.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.ID)
	}
	return models, nil
}

// TestConnection 测试LLM连接,不重试
func (s *LLMService) TestConnection(ctx context.Context) (string, error) {
	if s.cfg.ApiKey == "" {
		return "", fmt.Errorf("%w: API key is not set", config.ErrInvalidConfig)
	}

	reply, err := s.complete(ctx, openai.ChatCompletionRequest{
		Model:    s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "Hi"}},
	})
	if err != nil {
		return "", fmt.Errorf("test connection: %w", err)
	}
	return reply, nil
}

func isAuthError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusUnauthorized || reqErr.HTTPStatusCode == http.StatusForbidden
	}
	return false
}
