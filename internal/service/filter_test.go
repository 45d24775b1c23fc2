package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ai-news/config"
	"ai-news/internal/model"
)

// stubClassifier 按标题返回预设结果
type stubClassifier struct {
	verdicts map[string]model.Verdict
	errs     map[string]error
	before   func(article *model.Article)
	calls    atomic.Int32
}

func (c *stubClassifier) Classify(_ context.Context, article *model.Article) (model.Verdict, error) {
	c.calls.Add(1)
	if c.before != nil {
		c.before(article)
	}
	if err, ok := c.errs[article.Title]; ok {
		return model.Verdict{}, err
	}
	v, ok := c.verdicts[article.Title]
	if !ok {
		return model.Verdict{}, fmt.Errorf("no verdict for %q", article.Title)
	}
	return v, nil
}

func newTestFilter(db *gorm.DB, classifier Classifier) *FilterService {
	cfg := config.Default().Filter
	return NewFilterService(db, classifier, cfg, nil, discardLogger())
}

func loadArticle(t *testing.T, db *gorm.DB, id string) *model.Article {
	t.Helper()
	var a model.Article
	require.NoError(t, db.First(&a, "id = ?", id).Error)
	return &a
}

func TestFilterRunAppliesPolicy(t *testing.T) {
	db := newTestDB(t)
	body := words(40)
	ai := seedArticle(t, db, model.Article{Title: "ai", Content: body})
	es := seedArticle(t, db, model.Article{Title: "es", Content: body})
	off := seedArticle(t, db, model.Article{Title: "off", Description: body})
	short := seedArticle(t, db, model.Article{Title: "short", Content: "tiny"})
	boom := seedArticle(t, db, model.Article{Title: "boom", Content: body})

	classifier := &stubClassifier{
		verdicts: map[string]model.Verdict{
			"ai":  {Language: "en", RelevanceScore: 8, Category: "Research", Reason: "new model"},
			"es":  {Language: "es", RelevanceScore: 9},
			"off": {Language: "en", RelevanceScore: 3, Reason: "sports"},
		},
		errs: map[string]error{"boom": errors.New("upstream 503")},
	}

	report, err := newTestFilter(db, classifier).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, FilterReport{
		Selected:          5,
		Approved:          1,
		RejectedLanguage:  1,
		RejectedRelevance: 1,
		RejectedShort:     1,
		Failed:            1,
	}, report)
	assert.Equal(t, int32(4), classifier.calls.Load(), "short content never reaches the classifier")

	got := loadArticle(t, db, ai.ID)
	assert.Equal(t, model.StagePendingSummary, got.Stage())
	assert.Equal(t, "research", got.Category)
	require.NotNil(t, got.RelevanceScore)
	assert.Equal(t, 8, *got.RelevanceScore)

	got = loadArticle(t, db, es.ID)
	assert.Equal(t, model.StageRejected, got.Stage())
	assert.Equal(t, "non-English (es)", got.FilterReason)

	got = loadArticle(t, db, off.ID)
	assert.Equal(t, "off-topic (score 3/10): sports", got.FilterReason)

	got = loadArticle(t, db, short.ID)
	assert.Equal(t, model.StageRejected, got.Stage())
	assert.Equal(t, model.ReasonContentTooShort, got.FilterReason)
	assert.Nil(t, got.RelevanceScore)

	got = loadArticle(t, db, boom.ID)
	assert.Equal(t, model.StageRaw, got.Stage(), "failed classification leaves the article raw")

	// 下一轮只会重试失败的那一篇
	classifier.errs = nil
	classifier.verdicts["boom"] = model.Verdict{Language: "en", RelevanceScore: 7}
	report, err = newTestFilter(db, classifier).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Selected)
	assert.Equal(t, 1, report.Approved)
}

func TestFilterOneSkipsWhenArticleMovedOn(t *testing.T) {
	db := newTestDB(t)
	a := seedArticle(t, db, model.Article{Title: "ai", Content: words(40)})

	classifier := &stubClassifier{
		verdicts: map[string]model.Verdict{"ai": {Language: "en", RelevanceScore: 9}},
		before: func(article *model.Article) {
			// 另一个进程先完成了筛选
			db.Model(&model.Article{}).Where("id = ?", article.ID).
				Updates(map[string]any{"is_filtered": true, "is_approved": false, "filter_reason": "other"})
		},
	}

	outcome, err := newTestFilter(db, classifier).FilterOne(context.Background(), &a)
	require.NoError(t, err)
	assert.Equal(t, outcomeSkipped, outcome)
	assert.Equal(t, "other", loadArticle(t, db, a.ID).FilterReason)
}

func TestFilterRunStopsOnConfigError(t *testing.T) {
	db := newTestDB(t)
	seedArticle(t, db, model.Article{Title: "ai", Content: words(40)})

	classifier := &stubClassifier{errs: map[string]error{"ai": fmt.Errorf("%w: bad key", config.ErrInvalidConfig)}}
	_, err := newTestFilter(db, classifier).Run(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict("```json\n{\"language\": \"EN\", \"is_english\": true, \"relevance_score\": 8, \"category\": \"research\", \"reason\": \"ok\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "en", v.Language)
	assert.True(t, v.IsEnglish)
	assert.Equal(t, 8, v.RelevanceScore)

	v, err = parseVerdict(`Here you go: {"language": "en", "relevance_score": "7"}`)
	require.NoError(t, err)
	assert.Equal(t, 7, v.RelevanceScore)
	assert.True(t, v.IsEnglish)

	v, err = parseVerdict(`{"is_english": true, "relevance_score": 6.6}`)
	require.NoError(t, err)
	assert.Equal(t, "en", v.Language)
	assert.Equal(t, 7, v.RelevanceScore)

	for _, reply := range []string{
		"I think this is relevant",
		`{"language": "en"}`,
		`{"language": "en", "relevance_score": 11}`,
		`{"language": "en", "relevance_score": "high"}`,
		`{"language": "", "relevance_score": 5}`,
	} {
		_, err := parseVerdict(reply)
		assert.ErrorIs(t, err, ErrMalformedResponse, reply)
	}
}
