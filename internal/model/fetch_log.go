package model

import "time"

type FetchStatus string

const (
	FetchRunning FetchStatus = "running"
	FetchSuccess FetchStatus = "success"
	FetchFailed  FetchStatus = "failed"
)

// FetchLog 每个订阅源每次抓取一条记录,只追加,完成时更新一次
type FetchLog struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	SourceID        string      `gorm:"size:36;index" json:"source_id"`
	Status          FetchStatus `gorm:"size:16;not null" json:"status"`
	ArticlesFound   int         `json:"articles_found"`
	ArticlesAdded   int         `json:"articles_added"`
	ArticlesSkipped int         `json:"articles_skipped"`
	ErrorMessage    string      `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt       time.Time   `gorm:"index;not null" json:"started_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}
