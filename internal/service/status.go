package service

import (
	"context"
	"time"

	"gorm.io/gorm"

	"ai-news/internal/model"
)

type StatusService struct {
	db *gorm.DB
}

type SystemStatus struct {
	// 文章统计
	TotalArticles    int64 `json:"total_articles"`
	RawArticles      int64 `json:"raw_articles"`
	RejectedArticles int64 `json:"rejected_articles"`
	PendingSummary   int64 `json:"pending_summary"`
	Displayable      int64 `json:"displayable"`
	HiddenArticles   int64 `json:"hidden_articles"`

	// 订阅源统计
	TotalSources  int64 `json:"total_sources"`
	ActiveSources int64 `json:"active_sources"`

	LastFetch *model.FetchLog `json:"last_fetch,omitempty"`

	// 定时任务信息
	NextFetchTime   time.Time `json:"next_fetch_time"`
	NextProcessTime time.Time `json:"next_process_time"`
	NextPurgeTime   time.Time `json:"next_purge_time"`
	NextMonitorTime time.Time `json:"next_monitor_time"`
}

func NewStatusService(db *gorm.DB) *StatusService {
	return &StatusService{db: db}
}

// GetSystemStatus 获取系统状态
func (s *StatusService) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{}
	db := s.db.WithContext(ctx)

	// 统计文章
	if err := db.Model(&model.Article{}).Count(&status.TotalArticles).Error; err != nil {
		return nil, err
	}
	stages := []struct {
		stage model.Stage
		dest  *int64
	}{
		{model.StageRaw, &status.RawArticles},
		{model.StageRejected, &status.RejectedArticles},
		{model.StagePendingSummary, &status.PendingSummary},
		{model.StageDisplayable, &status.Displayable},
		{model.StageHidden, &status.HiddenArticles},
	}
	for _, st := range stages {
		if err := db.Model(&model.Article{}).Scopes(model.InStage(st.stage)).Count(st.dest).Error; err != nil {
			return nil, err
		}
	}

	// 统计订阅源
	if err := db.Model(&model.Source{}).Count(&status.TotalSources).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.Source{}).Where("is_active = ?", true).Count(&status.ActiveSources).Error; err != nil {
		return nil, err
	}

	var last []model.FetchLog
	if err := db.Order("started_at DESC").Limit(1).Find(&last).Error; err != nil {
		return nil, err
	}
	if len(last) > 0 {
		status.LastFetch = &last[0]
	}

	return status, nil
}
