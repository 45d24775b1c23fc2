package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultFetchIntervalMinutes 订阅源默认抓取间隔
const DefaultFetchIntervalMinutes = 360

type Source struct {
	ID                   string     `gorm:"primaryKey;size:36" json:"id"`
	Name                 string     `gorm:"size:255;not null" json:"name"`
	URL                  string     `gorm:"size:500;uniqueIndex;not null" json:"url"`
	IsActive             bool       `gorm:"not null;index" json:"is_active"`
	FetchIntervalMinutes int        `gorm:"not null" json:"fetch_interval_minutes"`
	LastFetchedAt        *time.Time `json:"last_fetched_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (s *Source) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.FetchIntervalMinutes <= 0 {
		s.FetchIntervalMinutes = DefaultFetchIntervalMinutes
	}
	return nil
}

// Due 是否到了下一次抓取时间
func (s *Source) Due(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.LastFetchedAt == nil {
		return true
	}
	interval := time.Duration(s.FetchIntervalMinutes) * time.Minute
	return !s.LastFetchedAt.Add(interval).After(now)
}
