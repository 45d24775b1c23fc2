package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 配置或凭据错误,整个任务应立即失败
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cron      CronConfig      `yaml:"cron"`
	Log       LogConfig       `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Filter    FilterConfig    `yaml:"filter"`
	Summary   SummaryConfig   `yaml:"summary"`
	Retention RetentionConfig `yaml:"retention"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	Port string `yaml:"port" validate:"required"`
	Mode string `yaml:"mode" validate:"oneof=debug release test"` // debug, release, test
}

type DatabaseConfig struct {
	Path  string `yaml:"path" validate:"required"`
	Debug bool   `yaml:"debug"` // 打印SQL
}

type CronConfig struct {
	FetchInterval   string `yaml:"fetch_interval" validate:"required"`   // RSS抓取间隔
	ProcessInterval string `yaml:"process_interval" validate:"required"` // 筛选+摘要间隔
	PurgeInterval   string `yaml:"purge_interval" validate:"required"`   // 数据清理间隔
	MonitorInterval string `yaml:"monitor_interval" validate:"required"` // 存储监控间隔
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// LLMConfig OpenAI兼容接口配置
type LLMConfig struct {
	ApiURL            string        `yaml:"api_url" validate:"required,url"`
	ApiKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model" validate:"required"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries        int           `yaml:"max_retries" validate:"min=1,max=10"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"min=1"`
}

// CategoryRule 关键词分类规则,按顺序匹配
type CategoryRule struct {
	Name     string   `yaml:"name" validate:"required"`
	Keywords []string `yaml:"keywords" validate:"min=1"`
}

// SourceSeed 启动时写入的默认订阅源
type SourceSeed struct {
	Name            string `yaml:"name" validate:"required"`
	URL             string `yaml:"url" validate:"required,url"`
	IntervalMinutes int    `yaml:"interval_minutes" validate:"min=0"`
}

type FetchConfig struct {
	UserAgent            string         `yaml:"user_agent"`
	Timeout              time.Duration  `yaml:"timeout" validate:"gt=0"`
	Delay                time.Duration  `yaml:"delay" validate:"min=0"` // 两个订阅源之间的间隔
	MaxArticlesPerSource int            `yaml:"max_articles_per_source" validate:"min=1"`
	MaxContentLength     int            `yaml:"max_content_length" validate:"min=1"`
	MaxDescriptionLength int            `yaml:"max_description_length" validate:"min=1"`
	DefaultCategory      string         `yaml:"default_category" validate:"required"`
	Categories           []CategoryRule `yaml:"categories" validate:"dive"`
	SeedSources          []SourceSeed   `yaml:"seed_sources" validate:"dive"`
	NewsAPI              NewsAPIConfig  `yaml:"newsapi"`
}

// NewsAPIConfig NewsAPI.org 关键词检索,APIKey 为空时不启用
type NewsAPIConfig struct {
	URL      string `yaml:"url" validate:"required,url"`
	APIKey   string `yaml:"api_key"`
	Query    string `yaml:"query" validate:"required"`
	Language string `yaml:"language" validate:"required"`
	PageSize int    `yaml:"page_size" validate:"min=1,max=100"`
}

// Enabled 是否配置了 NewsAPI 密钥
func (c NewsAPIConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type FilterConfig struct {
	BatchSize         int     `yaml:"batch_size" validate:"min=1"`
	Concurrency       int     `yaml:"concurrency" validate:"min=1"`
	MinRelevanceScore int     `yaml:"min_relevance_score" validate:"min=1,max=10"`
	MinContentLength  int     `yaml:"min_content_length" validate:"min=0"`
	MaxInputChars     int     `yaml:"max_input_chars" validate:"min=1"`
	Temperature       float32 `yaml:"temperature" validate:"min=0,max=2"`
}

// SummaryConfig 摘要字数区间: 目标60词, 接受50~75词
type SummaryConfig struct {
	BatchSize        int     `yaml:"batch_size" validate:"min=1"`
	Concurrency      int     `yaml:"concurrency" validate:"min=1"`
	MinWords         int     `yaml:"min_words" validate:"min=1"`
	TargetWords      int     `yaml:"target_words" validate:"gtefield=MinWords"`
	MaxWords         int     `yaml:"max_words" validate:"gtefield=TargetWords"`
	MinContentLength int     `yaml:"min_content_length" validate:"min=0"`
	MaxInputChars    int     `yaml:"max_input_chars" validate:"min=1"`
	MaxAttempts      int     `yaml:"max_attempts" validate:"min=1,max=10"`
	Temperature      float32 `yaml:"temperature" validate:"min=0,max=2"`
}

type RetentionConfig struct {
	MaxArticleAgeDays     int           `yaml:"max_article_age_days" validate:"min=1"`
	MaxArticlesCount      int           `yaml:"max_articles_count" validate:"min=1"`
	RejectedRetention     time.Duration `yaml:"rejected_retention" validate:"gt=0"`
	LogRetentionDays      int           `yaml:"log_retention_days" validate:"min=1"`
	SnapshotRetentionDays int           `yaml:"snapshot_retention_days" validate:"min=1"`
	BatchSize             int           `yaml:"batch_size" validate:"min=1"`
}

type StorageConfig struct {
	LimitBytes      int64 `yaml:"limit_bytes" validate:"min=1"`
	WarningPercent  int   `yaml:"warning_percent" validate:"min=1,max=100"`
	CriticalPercent int   `yaml:"critical_percent" validate:"gtefield=WarningPercent,max=100"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "3000",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Path: "data/news.db",
		},
		Cron: CronConfig{
			FetchInterval:   "0 */6 * * *",  // 每6小时
			ProcessInterval: "*/30 * * * *", // 每30分钟
			PurgeInterval:   "30 3 * * *",   // 每天03:30
			MonitorInterval: "0 * * * *",    // 每小时
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LLM: LLMConfig{
			ApiURL:            "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequestsPerMinute: 15,
		},
		Fetch: FetchConfig{
			UserAgent:            "AI-News-Aggregator/1.0",
			Timeout:              30 * time.Second,
			Delay:                2 * time.Second,
			MaxArticlesPerSource: 50,
			MaxContentLength:     10000,
			MaxDescriptionLength: 1000,
			DefaultCategory:      "general",
			Categories:           defaultCategories(),
			NewsAPI: NewsAPIConfig{
				URL:      "https://newsapi.org/v2/everything",
				Query:    "artificial intelligence OR machine learning OR ChatGPT OR AI",
				Language: "en",
				PageSize: 50,
			},
		},
		Filter: FilterConfig{
			BatchSize:         100,
			Concurrency:       2,
			MinRelevanceScore: 6,
			MinContentLength:  50,
			MaxInputChars:     2000,
			Temperature:       0.1,
		},
		Summary: SummaryConfig{
			BatchSize:        50,
			Concurrency:      2,
			MinWords:         50,
			TargetWords:      60,
			MaxWords:         75,
			MinContentLength: 100,
			MaxInputChars:    5000,
			MaxAttempts:      3,
			Temperature:      0.7,
		},
		Retention: RetentionConfig{
			MaxArticleAgeDays:     30,
			MaxArticlesCount:      1000,
			RejectedRetention:     24 * time.Hour,
			LogRetentionDays:      7,
			SnapshotRetentionDays: 30,
			BatchSize:             100,
		},
		Storage: StorageConfig{
			LimitBytes:      500 * 1024 * 1024,
			WarningPercent:  80,
			CriticalPercent: 90,
		},
	}
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// 如果配置文件存在,读取配置
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, configPath, err)
		}
	} else {
		slog.Warn("config file not found, using defaults", "path", configPath)
	}

	// 环境变量覆盖配置
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		c.Server.Mode = mode
	}

	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}

	if v := os.Getenv("LLM_API_URL"); v != "" {
		c.LLM.ApiURL = v
	}

	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.ApiKey = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv("NEWS_API_KEY"); v != "" {
		c.Fetch.NewsAPI.APIKey = v
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// RequireLLM 需要调用AI的命令必须配置API密钥
func (c *Config) RequireLLM() error {
	if strings.TrimSpace(c.LLM.ApiKey) == "" {
		return fmt.Errorf("%w: llm.api_key (LLM_API_KEY) is not set", ErrInvalidConfig)
	}
	return nil
}

// GetServerAddress 获取服务器监听地址
func (c *Config) GetServerAddress() string {
	// 如果端口是纯数字,加上冒号前缀
	if _, err := strconv.Atoi(c.Server.Port); err == nil {
		return ":" + c.Server.Port
	}
	return c.Server.Port
}

func defaultCategories() []CategoryRule {
	return []CategoryRule{
		{Name: "machine-learning", Keywords: []string{"machine learning", "ml ", "neural network", "deep learning", "transformer", "llm", "large language model", "training model"}},
		{Name: "generative-ai", Keywords: []string{"generative ai", "gen ai", "chatgpt", "gpt-4", "gpt-5", "claude", "midjourney", "dall-e", "stable diffusion", "text-to-image", "image generation", "content generation"}},
		{Name: "robotics", Keywords: []string{"robot", "robotics", "automation", "autonomous", "humanoid", "boston dynamics", "industrial robot"}},
		{Name: "computer-vision", Keywords: []string{"computer vision", "image recognition", "object detection", "facial recognition", "visual ai", "image processing"}},
		{Name: "nlp", Keywords: []string{"natural language", "nlp", "text analysis", "sentiment analysis", "speech recognition", "voice ai", "conversational ai"}},
		{Name: "ethics", Keywords: []string{"ai ethics", "bias", "fairness", "responsible ai", "ai safety", "alignment", "regulation", "governance", "privacy"}},
		{Name: "research", Keywords: []string{"research", "paper", "study", "breakthrough", "discovery", "arxiv", "peer-reviewed", "publication"}},
		{Name: "industry", Keywords: []string{"startup", "funding", "investment", "acquisition", "partnership", "enterprise", "business", "market", "valuation"}},
		{Name: "hardware", Keywords: []string{"gpu", "tpu", "chip", "nvidia", "semiconductor", "hardware", "processor", "computing power", "inference"}},
	}
}
