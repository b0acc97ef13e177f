package stages

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolwithyou/review_go_server/internal/model"
)

func TestClampScore(t *testing.T) {
	assert.Equal(t, 5.0, clampScore(math.NaN()))
	assert.Equal(t, 5.0, clampScore(0))
	assert.Equal(t, 1.0, clampScore(-3))
	assert.Equal(t, 1.0, clampScore(0.4))
	assert.Equal(t, 10.0, clampScore(42))
	assert.Equal(t, 7.5, clampScore(7.5))
}

func TestCleanList(t *testing.T) {
	in := []string{"  a  ", "", "b", "   ", "c", "d"}
	assert.Equal(t, []string{"a", "b", "c"}, cleanList(in, 3))
	assert.Empty(t, cleanList([]string{"", "  "}, 5))
}

func TestNormalizePriority(t *testing.T) {
	assert.Equal(t, "high", normalizePriority(" HIGH "))
	assert.Equal(t, "low", normalizePriority("low"))
	assert.Equal(t, "medium", normalizePriority("urgent"))
	assert.Equal(t, "medium", normalizePriority(""))
}

func TestNormalizeWorkPattern(t *testing.T) {
	r := normalizeWorkPattern(&WorkPatternResult{
		WorkStyle:     "Deep_Focus ",
		Collaboration: "solo hacker",
		Insights:      []string{"a", "b", "c", "d", "e", "f"},
	})
	assert.Equal(t, "deep_focus", r.WorkStyle)
	assert.Equal(t, "independent", r.Collaboration)
	assert.Len(t, r.Insights, 5)
}

func TestNormalizeGrowth(t *testing.T) {
	r := normalizeGrowth(&GrowthResult{
		ImprovementAreas: []ImprovementArea{
			{Area: " testing ", Priority: "HIGH", Resources: []string{"book", "", "course", "talk", "blog"}},
			{Area: "", Priority: "low"},
			{Area: "docs", Priority: "whatever"},
		},
		LearningOpportunities: []string{"a", "b", "c", "d", "e", "f", "g"},
	})

	assert.Len(t, r.ImprovementAreas, 2)
	assert.Equal(t, "testing", r.ImprovementAreas[0].Area)
	assert.Equal(t, "high", r.ImprovementAreas[0].Priority)
	assert.Len(t, r.ImprovementAreas[0].Resources, 3)
	assert.Equal(t, "medium", r.ImprovementAreas[1].Priority)
	assert.Len(t, r.LearningOpportunities, 5)
}

func TestNormalizeFinal_RecomputesScoreAndGrade(t *testing.T) {
	// 模型给出的总分和评级一律不信，按固定权重重算
	r := normalizeFinal(&FinalResult{
		Dimensions: model.DimensionScores{
			Productivity:  8,
			CodeQuality:   8,
			Diversity:     8,
			Collaboration: 4,
			Growth:        8,
		},
		OverallScore: 2.0,
		Grade:        "F",
	})

	// 8*.25 + 8*.30 + 8*.15 + 4*.15 + 8*.15 = 7.4
	assert.Equal(t, 7.4, r.OverallScore)
	assert.Equal(t, "B", r.Grade)
}

func TestNormalizeFinal_ClampsAndTruncates(t *testing.T) {
	r := normalizeFinal(&FinalResult{
		Dimensions: model.DimensionScores{Productivity: 0, CodeQuality: 99, Diversity: -1},
		ActionItems: []model.ActionItem{
			{Title: " ship it ", Priority: "HIGH"},
			{Title: ""},
			{Title: "b", Priority: "nope"},
			{Title: "c", Priority: "low"},
			{Title: "d", Priority: "high"},
			{Title: "e", Priority: "low"},
		},
	})

	assert.Equal(t, 5.0, r.Dimensions.Productivity)
	assert.Equal(t, 10.0, r.Dimensions.CodeQuality)
	assert.Equal(t, 1.0, r.Dimensions.Diversity)

	// 截断到 5 条后再去掉空标题
	assert.Len(t, r.ActionItems, 4)
	assert.Equal(t, "ship it", r.ActionItems[0].Title)
	assert.Equal(t, "high", r.ActionItems[0].Priority)
	assert.Equal(t, "medium", r.ActionItems[1].Priority)
}

func TestNormalizeFinal_KeepsFiveActionItems(t *testing.T) {
	items := make([]model.ActionItem, 0, 5)
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, model.ActionItem{Title: title, Priority: "high", Deadline: "2026-06-30"})
	}
	r := normalizeFinal(&FinalResult{ActionItems: items})

	require.Len(t, r.ActionItems, 5)
	assert.Equal(t, "a", r.ActionItems[0].Title)
	assert.Equal(t, "e", r.ActionItems[4].Title)
	assert.Equal(t, "2026-06-30", r.ActionItems[4].Deadline)
}

func TestOverallScore(t *testing.T) {
	uniform := model.DimensionScores{
		Productivity: 6, CodeQuality: 6, Diversity: 6, Collaboration: 6, Growth: 6,
	}
	assert.Equal(t, 6.0, OverallScore(uniform))

	// 代码质量权重最高
	quality := uniform
	quality.CodeQuality = 10
	productivity := uniform
	productivity.Productivity = 10
	assert.Greater(t, OverallScore(quality), OverallScore(productivity))
}

func TestGradeFor(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{9.5, "S"}, {9.0, "S"},
		{8.9, "A"}, {8.0, "A"},
		{7.0, "B"},
		{6.0, "C"},
		{5.0, "D"},
		{4.9, "F"}, {0, "F"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeFor(tt.score), "score=%v", tt.score)
	}
}
