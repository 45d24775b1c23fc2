package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Stage 文章生命周期阶段,由标志位推导
type Stage int

const (
	StageInvalid        Stage = iota // 标志位组合违反不变量
	StageRaw                         // 未筛选
	StageRejected                    // 已筛选,未通过
	StagePendingSummary              // 已通过,待摘要
	StageDisplayable                 // 已摘要,可展示
	StageHidden                      // 软删除
)

var stageNames = map[Stage]string{
	StageInvalid:        "invalid",
	StageRaw:            "raw",
	StageRejected:       "rejected",
	StagePendingSummary: "pending_summary",
	StageDisplayable:    "displayable",
	StageHidden:         "hidden",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage 解析阶段名,不接受 invalid
func ParseStage(name string) (Stage, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for stage, n := range stageNames {
		if n == name && stage != StageInvalid {
			return stage, true
		}
	}
	return StageInvalid, false
}

var (
	ErrInvariant         = errors.New("article invariant violated")
	ErrIllegalTransition = errors.New("illegal lifecycle transition")
	ErrMalformedVerdict  = errors.New("malformed filter verdict")
	ErrSummaryEmpty      = errors.New("summary is empty")
	ErrSummaryOutOfBand  = errors.New("summary word count out of band")
)

const (
	MinRelevanceScore = 1
	MaxRelevanceScore = 10
)

// Validate 检查标志位不变量
func (a *Article) Validate() error {
	if a.IsApproved && !a.IsFiltered {
		return fmt.Errorf("%w: approved but not filtered", ErrInvariant)
	}
	if a.IsSummarized && !a.IsApproved {
		return fmt.Errorf("%w: summarized but not approved", ErrInvariant)
	}
	if a.IsSummarized && strings.TrimSpace(a.Summary) == "" {
		return fmt.Errorf("%w: summarized without summary", ErrInvariant)
	}
	if a.RelevanceScore != nil && (*a.RelevanceScore < MinRelevanceScore || *a.RelevanceScore > MaxRelevanceScore) {
		return fmt.Errorf("%w: relevance score %d outside [1,10]", ErrInvariant, *a.RelevanceScore)
	}
	return nil
}

// Stage 当前生命周期阶段
func (a *Article) Stage() Stage {
	if a.Validate() != nil {
		return StageInvalid
	}
	switch {
	case a.IsDeleted:
		return StageHidden
	case !a.IsFiltered:
		return StageRaw
	case !a.IsApproved:
		return StageRejected
	case !a.IsSummarized:
		return StagePendingSummary
	default:
		return StageDisplayable
	}
}

// IsDisplayable approved ∧ summarized ∧ ¬deleted ∧ summary非空
func (a *Article) IsDisplayable() bool {
	return a.Stage() == StageDisplayable
}

// Verdict 筛选服务返回的结果
type Verdict struct {
	Language       string `json:"language"`
	IsEnglish      bool   `json:"is_english"`
	RelevanceScore int    `json:"relevance_score"`
	Category       string `json:"category"`
	Reason         string `json:"reason"`
}

// Validate 分数越界或缺少语言视为格式错误
func (v Verdict) Validate() error {
	if strings.TrimSpace(v.Language) == "" {
		return fmt.Errorf("%w: missing language", ErrMalformedVerdict)
	}
	if v.RelevanceScore < MinRelevanceScore || v.RelevanceScore > MaxRelevanceScore {
		return fmt.Errorf("%w: relevance score %d", ErrMalformedVerdict, v.RelevanceScore)
	}
	return nil
}

// FilterPolicy 审核规则
type FilterPolicy struct {
	MinRelevanceScore int
}

// Decision 筛选决定
type Decision struct {
	Approved bool
	Reason   string
	Language string
	Score    *int
	Category string
}

const (
	ReasonContentTooShort = "content too short"
	languageUnknown       = "unknown"
)

// Decide 英文且相关度达标才通过
func (p FilterPolicy) Decide(v Verdict) Decision {
	lang := strings.ToLower(strings.TrimSpace(v.Language))
	score := v.RelevanceScore
	d := Decision{
		Language: lang,
		Score:    &score,
		Category: strings.ToLower(strings.TrimSpace(v.Category)),
	}

	switch {
	case lang != "en":
		d.Reason = fmt.Sprintf("non-English (%s)", lang)
	case score < p.MinRelevanceScore:
		d.Reason = fmt.Sprintf("off-topic (score %d/10)", score)
		if r := strings.TrimSpace(v.Reason); r != "" {
			d.Reason += ": " + r
		}
	default:
		d.Approved = true
		d.Reason = strings.TrimSpace(v.Reason)
	}
	return d
}

// RejectTooShort 内容过短,不调用AI直接拒绝
func RejectTooShort() Decision {
	return Decision{Reason: ReasonContentTooShort, Language: languageUnknown}
}

// Updates 筛选结果对应的列
func (d Decision) Updates() map[string]any {
	updates := map[string]any{
		"is_filtered":       true,
		"is_approved":       d.Approved,
		"filter_reason":     truncate(d.Reason, 500),
		"detected_language": truncate(d.Language, 16),
		"relevance_score":   d.Score,
	}
	if d.Category != "" {
		updates["category"] = truncate(d.Category, 64)
	}
	return updates
}

// ApplyDecision Raw → Rejected | PendingSummary
func (a *Article) ApplyDecision(d Decision) error {
	if stage := a.Stage(); stage != StageRaw {
		return fmt.Errorf("%w: filter on %s article", ErrIllegalTransition, stage)
	}
	a.IsFiltered = true
	a.IsApproved = d.Approved
	a.FilterReason = d.Reason
	a.DetectedLanguage = d.Language
	a.RelevanceScore = d.Score
	if d.Category != "" {
		a.Category = d.Category
	}
	return nil
}

// SummaryPolicy 摘要字数区间
type SummaryPolicy struct {
	MinWords    int
	TargetWords int
	MaxWords    int
}

// CountWords 按空白分词
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// Accept 清理摘要并检查字数,返回清理后的文本和词数
func (p SummaryPolicy) Accept(raw string) (string, int, error) {
	text := cleanSummary(raw)
	if text == "" {
		return "", 0, ErrSummaryEmpty
	}
	words := CountWords(text)
	if words < p.MinWords || words > p.MaxWords {
		return text, words, fmt.Errorf("%w: %d words, want %d-%d", ErrSummaryOutOfBand, words, p.MinWords, p.MaxWords)
	}
	return text, words, nil
}

// SummaryUpdates 摘要完成对应的列
func SummaryUpdates(summary string, at time.Time) map[string]any {
	return map[string]any{
		"is_summarized":        true,
		"summary":              summary,
		"summary_generated_at": at,
	}
}

// ApplySummary PendingSummary → Displayable
func (a *Article) ApplySummary(summary string, at time.Time) error {
	if stage := a.Stage(); stage != StagePendingSummary {
		return fmt.Errorf("%w: summarize on %s article", ErrIllegalTransition, stage)
	}
	if strings.TrimSpace(summary) == "" {
		return ErrSummaryEmpty
	}
	a.IsSummarized = true
	a.Summary = summary
	a.SummaryGeneratedAt = &at
	return nil
}

// PendingFilter 条件更新的守卫: 仍处于 Raw
func PendingFilter(db *gorm.DB) *gorm.DB {
	return db.Where("is_filtered = ? AND is_deleted = ?", false, false)
}

// PendingSummary 条件更新的守卫: 仍处于 PendingSummary
func PendingSummary(db *gorm.DB) *gorm.DB {
	return db.Where("is_filtered = ? AND is_approved = ? AND is_summarized = ? AND is_deleted = ?", true, true, false, false)
}

// Displayable 可展示文章
func Displayable(db *gorm.DB) *gorm.DB {
	return db.Where("is_approved = ? AND is_summarized = ? AND is_deleted = ? AND TRIM(COALESCE(summary, '')) <> ''", true, true, false)
}

// InStage 按阶段过滤
func InStage(stage Stage) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch stage {
		case StageRaw:
			return PendingFilter(db)
		case StageRejected:
			return db.Where("is_filtered = ? AND is_approved = ? AND is_deleted = ?", true, false, false)
		case StagePendingSummary:
			return PendingSummary(db)
		case StageDisplayable:
			return Displayable(db)
		case StageHidden:
			return db.Where("is_deleted = ?", true)
		default:
			return db.Where("1 = 0")
		}
	}
}

func cleanSummary(raw string) string {
	text := strings.TrimSpace(raw)
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}} {
		if len(text) >= 2 && strings.HasPrefix(text, q[0]) && strings.HasSuffix(text, q[1]) {
			text = strings.TrimSpace(text[len(q[0]) : len(text)-len(q[1])])
			break
		}
	}
	return text
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
