package model

import "time"

// StorageSnapshot 存储用量快照,只追加
type StorageSnapshot struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TotalSizeBytes    int64     `json:"total_size_bytes"`
	ArticlesCount     int64     `json:"articles_count"`
	ArticlesSizeBytes int64     `json:"articles_size_bytes"`
	UsagePercent      float64   `json:"usage_percent"`
	Level             string    `gorm:"size:16" json:"level"`
	MeasuredAt        time.Time `gorm:"index;not null" json:"measured_at"`
}
