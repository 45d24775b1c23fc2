package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Article 一条新闻。生命周期由 IsFiltered / IsApproved / IsSummarized / IsDeleted 推导,见 Stage()
type Article struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	SourceID    string     `gorm:"size:36;index" json:"source_id"`
	Source      *Source    `gorm:"foreignKey:SourceID" json:"source,omitempty"`
	Title       string     `gorm:"size:500;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Content     string     `gorm:"type:text" json:"content"`
	URL         string     `gorm:"size:2048;not null" json:"url"`
	URLHash     string     `gorm:"size:64;uniqueIndex;not null" json:"url_hash"`
	Author      string     `gorm:"size:255" json:"author"`
	ImageURL    string     `gorm:"size:2048" json:"image_url"`
	Category    string     `gorm:"size:64;index" json:"category"`
	PublishedAt *time.Time `gorm:"index" json:"published_at,omitempty"`
	FetchedAt   time.Time  `gorm:"index;not null" json:"fetched_at"`
	IsDeleted   bool       `gorm:"not null;index" json:"is_deleted"`

	// 筛选结果
	IsFiltered       bool   `gorm:"not null;index" json:"is_filtered"`
	IsApproved       bool   `gorm:"not null" json:"is_approved"`
	FilterReason     string `gorm:"size:500" json:"filter_reason,omitempty"`
	DetectedLanguage string `gorm:"size:16" json:"detected_language,omitempty"`
	RelevanceScore   *int   `json:"relevance_score,omitempty"`

	// 摘要结果
	IsSummarized       bool       `gorm:"not null" json:"is_summarized"`
	Summary            string     `gorm:"type:text" json:"summary,omitempty"`
	SummaryGeneratedAt *time.Time `json:"summary_generated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// EffectiveTime 发布时间,缺失时使用抓取时间
func (a *Article) EffectiveTime() time.Time {
	if a.PublishedAt != nil && !a.PublishedAt.IsZero() {
		return *a.PublishedAt
	}
	return a.FetchedAt
}

// Body 送给AI的正文: 优先 content, 其次 description
func (a *Article) Body() string {
	if a.Content != "" {
		return a.Content
	}
	return a.Description
}

// DisplayArticle 只读视图 displayable_articles 的一行
type DisplayArticle struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary"`
	URL            string     `json:"url"`
	ImageURL       string     `json:"image_url"`
	Author         string     `json:"author"`
	Category       string     `json:"category"`
	SourceID       string     `json:"source_id"`
	PublishedAt    *time.Time `json:"published_at"`
	FetchedAt      time.Time  `json:"fetched_at"`
	RelevanceScore *int       `json:"relevance_score"`
}

func (DisplayArticle) TableName() string { return DisplayableView }

// DisplayableView 只包含可展示文章的视图名
const DisplayableView = "displayable_articles"
