package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func displayable() *Article {
	score := 8
	return &Article{
		IsFiltered:     true,
		IsApproved:     true,
		IsSummarized:   true,
		Summary:        "A summary.",
		RelevanceScore: &score,
	}
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestStageDerivation(t *testing.T) {
	assert.Equal(t, StageRaw, (&Article{}).Stage())
	assert.Equal(t, StageRejected, (&Article{IsFiltered: true}).Stage())
	assert.Equal(t, StagePendingSummary, (&Article{IsFiltered: true, IsApproved: true}).Stage())
	assert.Equal(t, StageDisplayable, displayable().Stage())
	assert.Equal(t, StageHidden, (&Article{IsDeleted: true}).Stage())
}

func TestStageInvalidCombinations(t *testing.T) {
	cases := map[string]*Article{
		"approved without filtered":   {IsApproved: true},
		"summarized without approved": {IsFiltered: true, IsSummarized: true, Summary: "x"},
		"summarized without summary":  {IsFiltered: true, IsApproved: true, IsSummarized: true},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, a.Validate(), ErrInvariant)
			assert.Equal(t, StageInvalid, a.Stage())
		})
	}

	bad := 11
	a := &Article{IsFiltered: true, RelevanceScore: &bad}
	assert.ErrorIs(t, a.Validate(), ErrInvariant)
}

func TestDisplayableRequiresAllFourConditions(t *testing.T) {
	assert.True(t, displayable().IsDisplayable())

	toggles := map[string]func(a *Article){
		"not approved":   func(a *Article) { a.IsApproved = false },
		"not summarized": func(a *Article) { a.IsSummarized = false },
		"deleted":        func(a *Article) { a.IsDeleted = true },
		"empty summary":  func(a *Article) { a.Summary = "  " },
	}
	for name, toggle := range toggles {
		t.Run(name, func(t *testing.T) {
			a := displayable()
			toggle(a)
			assert.False(t, a.IsDisplayable())
		})
	}
}

func TestFilterPolicyDecide(t *testing.T) {
	policy := FilterPolicy{MinRelevanceScore: 6}

	d := policy.Decide(Verdict{Language: "EN", RelevanceScore: 6, Category: "Research", Reason: "new model"})
	assert.True(t, d.Approved)
	assert.Equal(t, "en", d.Language)
	assert.Equal(t, "research", d.Category)
	require.NotNil(t, d.Score)
	assert.Equal(t, 6, *d.Score)

	d = policy.Decide(Verdict{Language: "es", RelevanceScore: 9})
	assert.False(t, d.Approved)
	assert.Equal(t, "non-English (es)", d.Reason)

	d = policy.Decide(Verdict{Language: "en", RelevanceScore: 5, Reason: "sports"})
	assert.False(t, d.Approved)
	assert.Equal(t, "off-topic (score 5/10): sports", d.Reason)
}

func TestVerdictValidate(t *testing.T) {
	assert.NoError(t, Verdict{Language: "en", RelevanceScore: 1}.Validate())
	assert.ErrorIs(t, Verdict{Language: "en", RelevanceScore: 0}.Validate(), ErrMalformedVerdict)
	assert.ErrorIs(t, Verdict{Language: "en", RelevanceScore: 11}.Validate(), ErrMalformedVerdict)
	assert.ErrorIs(t, Verdict{RelevanceScore: 7}.Validate(), ErrMalformedVerdict)
}

func TestTransitionsAreMonotonic(t *testing.T) {
	a := &Article{}
	require.NoError(t, a.ApplyDecision(FilterPolicy{MinRelevanceScore: 6}.Decide(Verdict{Language: "en", RelevanceScore: 7})))
	assert.Equal(t, StagePendingSummary, a.Stage())

	// 同一步骤不能重复执行
	assert.ErrorIs(t, a.ApplyDecision(RejectTooShort()), ErrIllegalTransition)

	now := time.Now()
	assert.ErrorIs(t, a.ApplySummary("", now), ErrSummaryEmpty)
	require.NoError(t, a.ApplySummary("done", now))
	assert.Equal(t, StageDisplayable, a.Stage())
	assert.ErrorIs(t, a.ApplySummary("again", now), ErrIllegalTransition)

	rejected := &Article{}
	require.NoError(t, rejected.ApplyDecision(RejectTooShort()))
	assert.Equal(t, StageRejected, rejected.Stage())
	assert.Equal(t, ReasonContentTooShort, rejected.FilterReason)
	assert.ErrorIs(t, rejected.ApplySummary("x", now), ErrIllegalTransition)
}

func TestSummaryPolicyWordGate(t *testing.T) {
	policy := SummaryPolicy{MinWords: 50, TargetWords: 60, MaxWords: 75}

	_, n, err := policy.Accept(words(40))
	assert.ErrorIs(t, err, ErrSummaryOutOfBand)
	assert.Equal(t, 40, n)

	text, n, err := policy.Accept(`"` + words(62) + `"`)
	require.NoError(t, err)
	assert.Equal(t, 62, n)
	assert.False(t, strings.HasPrefix(text, `"`))

	_, _, err = policy.Accept(words(76))
	assert.ErrorIs(t, err, ErrSummaryOutOfBand)

	_, _, err = policy.Accept("   ")
	assert.ErrorIs(t, err, ErrSummaryEmpty)
}

func TestParseStage(t *testing.T) {
	s, ok := ParseStage("Pending_Summary")
	assert.True(t, ok)
	assert.Equal(t, StagePendingSummary, s)

	_, ok = ParseStage("invalid")
	assert.False(t, ok)
	_, ok = ParseStage("bogus")
	assert.False(t, ok)
}

func TestSourceDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Source{IsActive: true, FetchIntervalMinutes: 60}
	assert.True(t, s.Due(now))

	last := now.Add(-30 * time.Minute)
	s.LastFetchedAt = &last
	assert.False(t, s.Due(now))

	last = now.Add(-60 * time.Minute)
	assert.True(t, s.Due(now))

	s.IsActive = false
	assert.False(t, s.Due(now))
}

func TestEffectiveTime(t *testing.T) {
	fetched := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	a := &Article{FetchedAt: fetched}
	assert.Equal(t, fetched, a.EffectiveTime())

	pub := fetched.Add(-time.Hour)
	a.PublishedAt = &pub
	assert.Equal(t, pub, a.EffectiveTime())
}

func TestIsPromptKey(t *testing.T) {
	assert.True(t, IsPromptKey(ConfigPromptFilter))
	assert.True(t, IsPromptKey(ConfigPromptSummary))
	assert.False(t, IsPromptKey("llm_api_key"))
}
