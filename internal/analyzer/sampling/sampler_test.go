package sampling

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/pkg/llm"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) CompleteWithRetry(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64, maxRetries int) (*llm.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.response}, nil
}

func testConfig() config.SamplingConfig {
	return config.SamplingConfig{
		HeuristicThreshold: 3,
		MaxSamplesPerRepo:  2,
		BatchSize:          5,
	}
}

func makeUnits(repo string, baseID int64, count int) []*model.WorkUnit {
	units := make([]*model.WorkUnit, 0, count)
	for i := 0; i < count; i++ {
		units = append(units, &model.WorkUnit{
			ID:           baseID + int64(i),
			RepoName:     repo,
			WorkType:     model.WorkTypeFeature,
			ImpactScore:  float64(10 + i),
			CommitCount:  3,
			Additions:    100,
			Deletions:    20,
			FirstMessage: fmt.Sprintf("feat: work %d", i),
			PrimaryPaths: model.StringArray{"internal/api"},
		})
	}
	return units
}

func selectionCategories(selections []model.Selection) map[string]int {
	counts := make(map[string]int)
	for _, s := range selections {
		counts[s.Category]++
	}
	return counts
}

func TestSelect_Empty(t *testing.T) {
	s := New(&fakeCompleter{}, testConfig())
	result, err := s.Select(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Selections)
}

func TestSelect_SmallRepoSkipsAI(t *testing.T) {
	fake := &fakeCompleter{}
	s := New(fake, testConfig())

	// 3 个单元不超过阈值，不应触发 LLM 调用
	result, err := s.Select(context.Background(), makeUnits("small", 501, 3))
	require.NoError(t, err)

	assert.Equal(t, 0, fake.calls)
	// max_samples_per_repo=2 截断
	require.Len(t, result.Selections, 2)
	for _, sel := range result.Selections {
		assert.Equal(t, "heuristic_all", sel.Category)
	}
	// 启发式截断取高分：全选后按分数排序，分高的 id 在前
	assert.Equal(t, int64(503), result.Selections[0].WorkUnitID)

	require.Len(t, result.Summaries, 1)
	assert.Equal(t, "small", result.Summaries[0].RepoName)
	assert.Equal(t, 3, result.Summaries[0].UnitCount)
	assert.Equal(t, 2, result.Summaries[0].SampledCount)
}

func TestSelect_AISelected(t *testing.T) {
	units := makeUnits("bigrepo", 701, 6)
	fake := &fakeCompleter{
		response: fmt.Sprintf(`{"bigrepo": [%d, %d]}`, units[0].ID, units[1].ID),
	}
	s := New(fake, testConfig())

	result, err := s.Select(context.Background(), units)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.calls)
	counts := selectionCategories(result.Selections)
	assert.Equal(t, 2, counts["ai_selected"])
	assert.Zero(t, counts["backfill_top_impact"])
}

func TestSelect_BackfillWhenAIReturnsTooFew(t *testing.T) {
	units := makeUnits("bigrepo", 701, 6)
	fake := &fakeCompleter{
		response: fmt.Sprintf(`{"bigrepo": [%d]}`, units[2].ID),
	}
	s := New(fake, testConfig())

	result, err := s.Select(context.Background(), units)
	require.NoError(t, err)

	counts := selectionCategories(result.Selections)
	assert.Equal(t, 1, counts["ai_selected"])
	assert.Equal(t, 1, counts["backfill_top_impact"])
	// 补齐走影响力最高且未被选中的单元
	assert.Equal(t, units[5].ID, result.Selections[1].WorkUnitID)
}

func TestSelect_RejectsUnknownAndDuplicateIDs(t *testing.T) {
	units := makeUnits("bigrepo", 701, 6)
	fake := &fakeCompleter{
		response: fmt.Sprintf(`{"bigrepo": [99999, %d, %d]}`, units[0].ID, units[0].ID),
	}
	s := New(fake, testConfig())

	result, err := s.Select(context.Background(), units)
	require.NoError(t, err)

	counts := selectionCategories(result.Selections)
	assert.Equal(t, 1, counts["ai_selected"])
	assert.Equal(t, 1, counts["backfill_top_impact"])
}

func TestSelect_FallbackOnAIFailure(t *testing.T) {
	units := makeUnits("bigrepo", 701, 6)
	fake := &fakeCompleter{err: errors.New("upstream 500")}
	s := New(fake, testConfig())

	result, err := s.Select(context.Background(), units)
	require.NoError(t, err)

	require.Len(t, result.Selections, 2)
	for _, sel := range result.Selections {
		assert.Equal(t, "fallback_top_impact", sel.Category)
	}
	// 按影响力降序兜底
	assert.Equal(t, units[5].ID, result.Selections[0].WorkUnitID)
	assert.Equal(t, units[4].ID, result.Selections[1].WorkUnitID)

	require.Len(t, result.Summaries, 1)
	assert.Equal(t, "AI 失败，按分数兜底", result.Summaries[0].SamplingNote)
}

func TestSelect_EveryRepoGetsSamples(t *testing.T) {
	var units []*model.WorkUnit
	units = append(units, makeUnits("alpha", 101, 1)...)
	units = append(units, makeUnits("beta", 201, 6)...)
	units = append(units, makeUnits("gamma", 301, 8)...)

	fake := &fakeCompleter{response: `not json at all`}
	s := New(fake, testConfig())

	result, err := s.Select(context.Background(), units)
	require.NoError(t, err)

	sampled := make(map[string]int)
	byID := make(map[int64]*model.WorkUnit)
	for _, u := range units {
		byID[u.ID] = u
	}
	for _, sel := range result.Selections {
		u, ok := byID[sel.WorkUnitID]
		require.True(t, ok)
		sampled[u.RepoName]++
	}
	assert.Equal(t, 1, sampled["alpha"])
	assert.Equal(t, 2, sampled["beta"])
	assert.Equal(t, 2, sampled["gamma"])
	assert.Len(t, result.Summaries, 3)
}

func TestParseBatchResponse(t *testing.T) {
	assert.Nil(t, parseBatchResponse("no json here"))
	assert.Nil(t, parseBatchResponse("{broken"))

	picked := parseBatchResponse("Here you go:\n```json\n{\"repo\": [1, 2]}\n```")
	require.NotNil(t, picked)
	assert.Equal(t, []int64{1, 2}, picked["repo"])
}

func TestSummarize(t *testing.T) {
	units := makeUnits("repo", 1, 4)
	units[0].WorkType = model.WorkTypeBugfix

	summary := summarize("repo", units, 2, "AI 挑选")
	assert.Equal(t, 4, summary.UnitCount)
	assert.Equal(t, 2, summary.SampledCount)
	assert.InDelta(t, 11.5, summary.AvgImpact, 1e-9)
	assert.Equal(t, 1, summary.WorkTypes[model.WorkTypeBugfix])
	assert.Equal(t, 3, summary.WorkTypes[model.WorkTypeFeature])
}
