package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/model"
	"ai-news/internal/service"
	"ai-news/internal/urlhash"
)

// Services handler 依赖的服务
type Services struct {
	Feed      *service.FeedService
	LLM       *service.LLMService
	Processor *service.ProcessorService
	Purge     *service.PurgeService
	Storage   *service.StorageService
	Articles  *service.ArticleService
	Status    *service.StatusService
}

// NextRuns 调度器的下次执行时间
type NextRuns interface {
	GetNextFetchTime() time.Time
	GetNextProcessTime() time.Time
	GetNextPurgeTime() time.Time
	GetNextMonitorTime() time.Time
}

type Handler struct {
	db        *gorm.DB
	svc       Services
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	scheduler NextRuns
}

func NewHandler(db *gorm.DB, svc Services, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	return &Handler{
		db:       db,
		svc:      svc,
		gatherer: gatherer,
		logger:   logger.With("component", "http"),
	}
}

// SetScheduler 设置调度器引用
func (h *Handler) SetScheduler(scheduler NextRuns) {
	h.scheduler = scheduler
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)

		// Articles
		api.GET("/articles", h.ListArticles)
		api.GET("/articles/categories", h.ListCategories)
		api.GET("/articles/:id", h.GetArticle)
		api.DELETE("/articles/:id", h.DeleteArticle)
		api.POST("/articles/:id/process", h.ProcessArticle)
		api.POST("/articles/process", h.ProcessArticles)
		api.GET("/admin/articles", h.ListArticlesByStage)

		// Sources
		api.GET("/sources", h.ListSources)
		api.POST("/sources", h.CreateSource)
		api.PATCH("/sources/:id", h.UpdateSource)
		api.DELETE("/sources/:id", h.DeleteSource)
		api.POST("/sources/:id/fetch", h.FetchSource)

		// Retention & storage
		api.POST("/purge", h.Purge)
		api.GET("/storage", h.GetStorage)
		api.GET("/storage/history", h.GetStorageHistory)

		// Config
		api.GET("/config", h.GetConfig)
		api.POST("/config", h.SaveConfig)

		// LLM
		api.GET("/llm/models", h.GetLLMModels)
		api.POST("/llm/test", h.TestLLMConnection)

		// Status
		api.GET("/status", h.GetStatus)
	}
}

// fail 把服务层错误映射到HTTP状态码
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrArticleNotFound), errors.Is(err, service.ErrSourceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, urlhash.ErrInvalidURL):
		status = http.StatusBadRequest
	case errors.Is(err, config.ErrInvalidConfig):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ===== Article相关 =====

func (h *Handler) ListArticles(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	articles, total, err := h.svc.Articles.ListDisplayable(c.Request.Context(), service.ArticleQuery{
		Category: c.Query("category"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   articles,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) ListCategories(c *gin.Context) {
	counts, err := h.svc.Articles.Categories(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": counts})
}

func (h *Handler) GetArticle(c *gin.Context) {
	article, err := h.svc.Articles.GetDisplayable(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, article)
}

func (h *Handler) DeleteArticle(c *gin.Context) {
	if err := h.svc.Articles.SoftDelete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) ListArticlesByStage(c *gin.Context) {
	stage, ok := model.ParseStage(c.DefaultQuery("stage", "raw"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stage " + strconv.Quote(c.Query("stage"))})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize := 20

	articles, total, err := h.svc.Articles.ListByStage(c.Request.Context(), stage, pageSize, (page-1)*pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  articles,
		"total": total,
		"page":  page,
		"stage": stage.String(),
	})
}

func (h *Handler) ProcessArticle(c *gin.Context) {
	result, err := h.svc.Processor.ProcessArticle(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrArticleNotFound) || errors.Is(err, config.ErrInvalidConfig) {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ProcessArticles 后台处理待筛选和待摘要的文章,不随请求结束而取消
func (h *Handler) ProcessArticles(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		if _, err := h.svc.Processor.ProcessPendingArticles(ctx); err != nil {
			h.logger.Error("background processing failed", "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "processing started"})
}

// ===== Source相关 =====

type createSourceRequest struct {
	Name                 string `json:"name" binding:"required"`
	URL                  string `json:"url" binding:"required"`
	FetchIntervalMinutes int    `json:"fetch_interval_minutes" binding:"min=0"`
}

type updateSourceRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (h *Handler) ListSources(c *gin.Context) {
	sources, err := h.svc.Feed.ListSources(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sources)
}

func (h *Handler) CreateSource(c *gin.Context) {
	var req createSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source, err := h.svc.Feed.CreateSource(c.Request.Context(), req.Name, req.URL, req.FetchIntervalMinutes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, source)
}

func (h *Handler) UpdateSource(c *gin.Context) {
	var req updateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.Feed.SetSourceActive(c.Request.Context(), c.Param("id"), *req.IsActive); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

func (h *Handler) DeleteSource(c *gin.Context) {
	if err := h.svc.Feed.DeleteSource(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) FetchSource(c *gin.Context) {
	source, err := h.svc.Feed.GetSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.svc.Feed.FetchFeed(c.Request.Context(), source, time.Now())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ===== 清理和存储 =====

func (h *Handler) Purge(c *gin.Context) {
	report, err := h.svc.Purge.Run(c.Request.Context(), time.Now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) GetStorage(c *gin.Context) {
	report, err := h.svc.Storage.Measure(c.Request.Context(), time.Now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) GetStorageHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	if limit <= 0 || limit > 500 {
		limit = 30
	}
	snapshots, err := h.svc.Storage.History(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snapshots})
}

// ===== Config相关 =====

func (h *Handler) GetConfig(c *gin.Context) {
	result := make(map[string]string, len(model.PromptKeys))
	for _, key := range model.PromptKeys {
		result[key] = h.svc.LLM.GetPrompt(key)
	}
	c.JSON(http.StatusOK, result)
}

// SaveConfig 只接受可编辑的键,空值恢复默认提示词
func (h *Handler) SaveConfig(c *gin.Context) {
	var input map[string]string
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for key := range input {
		if !model.IsPromptKey(key) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown config key " + strconv.Quote(key)})
			return
		}
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for key, value := range input {
			err := tx.Where("key = ?", key).Assign(model.Config{Value: value}).FirstOrCreate(&model.Config{Key: key}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "saved"})
}

// ===== LLM相关 =====

func (h *Handler) GetLLMModels(c *gin.Context) {
	models, err := h.svc.LLM.GetModels(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (h *Handler) TestLLMConnection(c *gin.Context) {
	response, err := h.svc.LLM.TestConnection(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "connection ok",
		"response": response,
	})
}

// ===== Status相关 =====

func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.svc.Status.GetSystemStatus(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	// 添加定时任务信息
	if h.scheduler != nil {
		status.NextFetchTime = h.scheduler.GetNextFetchTime()
		status.NextProcessTime = h.scheduler.GetNextProcessTime()
		status.NextPurgeTime = h.scheduler.GetNextPurgeTime()
		status.NextMonitorTime = h.scheduler.GetNextMonitorTime()
	}

	c.JSON(http.StatusOK, status)
}
