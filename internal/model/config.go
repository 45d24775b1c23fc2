package model

import (
	"slices"
	"time"
)

// Config 运行期可编辑的提示词,按 key 存储
type Config struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Key       string    `gorm:"size:100;uniqueIndex;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	ConfigPromptFilter  = "prompt_filter"
	ConfigPromptSummary = "prompt_summary"
)

// PromptKeys 可通过接口读取和修改的键
var PromptKeys = []string{ConfigPromptFilter, ConfigPromptSummary}

// IsPromptKey 是否为可编辑的提示词键
func IsPromptKey(key string) bool {
	return slices.Contains(PromptKeys, key)
}
