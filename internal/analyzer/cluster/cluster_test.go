package cluster

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/model"
)

func testConfig() config.ClusteringConfig {
	return config.ClusteringConfig{
		MaxTimeGapHours:   8,
		MinPathOverlap:    0.3,
		MinCommitsPerUnit: 1,
		MaxCommitsPerUnit: 50,
	}
}

func makeCommit(sha, msg string, at time.Time, paths ...string) *model.Commit {
	files := make(model.FileChangeList, 0, len(paths))
	for _, p := range paths {
		files = append(files, model.FileChange{Path: p, Additions: 10, Deletions: 2, Status: "modified"})
	}
	return &model.Commit{
		SHA:         sha,
		Message:     msg,
		CommittedAt: at,
		Additions:   10 * len(paths),
		Deletions:   2 * len(paths),
		Files:       files,
	}
}

func TestBuild_Empty(t *testing.T) {
	assert.Nil(t, Build(nil, testConfig()))
}

func TestBuild_Partition(t *testing.T) {
	// 任意输入下每个提交恰好属于一个单元
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var commits []*model.Commit
	for i := 0; i < 30; i++ {
		commits = append(commits, makeCommit(
			fmt.Sprintf("sha%02d", i),
			"feat: work",
			base.Add(time.Duration(i*3)*time.Hour),
			fmt.Sprintf("pkg%d/file.go", i%4),
		))
	}

	units := Build(commits, testConfig())
	require.NotEmpty(t, units)

	seen := make(map[string]int)
	for _, u := range units {
		for _, c := range u.Commits {
			seen[c.SHA]++
		}
	}
	assert.Len(t, seen, len(commits))
	for sha, count := range seen {
		assert.Equal(t, 1, count, "commit %s appears %d times", sha, count)
	}
}

func TestBuild_TimeGapSplits(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	commits := []*model.Commit{
		makeCommit("a", "feat: x", base, "api/a.go"),
		makeCommit("b", "feat: x", base.Add(2*time.Hour), "api/a.go"),
		// 超过 8 小时间隔，必须切开
		makeCommit("c", "feat: y", base.Add(20*time.Hour), "api/a.go"),
	}

	units := Build(commits, testConfig())
	require.Len(t, units, 2)
	assert.Len(t, units[0].Commits, 2)
	assert.Len(t, units[1].Commits, 1)
}

func TestBuild_PathSimilaritySplits(t *testing.T) {
	// 时间上连续但目录完全不同的相邻提交要切开
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	commits := []*model.Commit{
		makeCommit("a", "feat: api", base, "api/handler.go", "api/router.go"),
		makeCommit("b", "feat: api", base.Add(time.Hour), "api/handler.go"),
		makeCommit("c", "docs: readme", base.Add(2*time.Hour), "docs/readme.md"),
	}

	units := Build(commits, testConfig())
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].Commits[0].SHA)
	assert.Equal(t, "c", units[1].Commits[0].SHA)
}

func TestBuild_AdjacentChainKeepsDriftingWork(t *testing.T) {
	// 相邻相似度链：a~b 相似、b~c 相似即可归为一个单元，
	// 即使 a 和 c 没有共同目录
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	commits := []*model.Commit{
		makeCommit("a", "refactor: start", base, "pkg/a/x.go", "pkg/b/y.go"),
		makeCommit("b", "refactor: mid", base.Add(time.Hour), "pkg/b/y.go", "pkg/c/z.go"),
		makeCommit("c", "refactor: end", base.Add(2*time.Hour), "pkg/c/z.go", "pkg/d/w.go"),
	}

	units := Build(commits, testConfig())
	require.Len(t, units, 1)
	assert.Len(t, units[0].Commits, 3)
}

func TestBuild_MaxSizeEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCommitsPerUnit = 10

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var commits []*model.Commit
	for i := 0; i < 25; i++ {
		commits = append(commits, makeCommit(
			fmt.Sprintf("sha%02d", i), "feat: x",
			base.Add(time.Duration(i)*time.Minute), "api/a.go",
		))
	}

	units := Build(commits, cfg)
	total := 0
	for _, u := range units {
		assert.LessOrEqual(t, len(u.Commits), 10)
		total += len(u.Commits)
	}
	assert.Equal(t, 25, total)
}

func TestBuild_Aggregation(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	commits := []*model.Commit{
		makeCommit("a", "fix: crash on empty input", base, "api/handler.go", "api/router.go"),
		makeCommit("b", "fix: more", base.Add(time.Hour), "api/handler.go"),
	}

	units := Build(commits, testConfig())
	require.Len(t, units, 1)

	u := units[0]
	assert.Equal(t, base, u.StartAt)
	assert.Equal(t, base.Add(time.Hour), u.EndAt)
	assert.Equal(t, 30, u.Additions)
	assert.Equal(t, 6, u.Deletions)
	assert.Contains(t, u.PrimaryPaths, "api")
	assert.Equal(t, model.WorkTypeBugfix, u.WorkType)
}

func TestInferWorkType_KeywordPriority(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		msg  string
		want string
	}{
		{"feat: add endpoint", model.WorkTypeFeature},
		{"新增用户接口", model.WorkTypeFeature},
		{"fix: null pointer", model.WorkTypeBugfix},
		{"修复崩溃问题", model.WorkTypeBugfix},
		{"refactor: extract helper", model.WorkTypeRefactor},
		{"docs: update readme", model.WorkTypeDocs},
		{"chore: bump deps", model.WorkTypeChore},
		// feature 关键词优先于 bugfix
		{"feat: new thing, also fix typo", model.WorkTypeFeature},
	}

	for _, tt := range tests {
		units := Build([]*model.Commit{makeCommit("a", tt.msg, base, "pkg/x.go")}, testConfig())
		require.Len(t, units, 1)
		assert.Equal(t, tt.want, units[0].WorkType, "message: %s", tt.msg)
	}
}

func TestInferWorkType_TestPathFallback(t *testing.T) {
	// 没有关键词但超过 70% 改动在测试文件里
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	commits := []*model.Commit{
		makeCommit("a", "more coverage", base,
			"pkg/a_test.go", "pkg/b_test.go", "pkg/c_test.go", "pkg/d.go"),
	}

	units := Build(commits, testConfig())
	require.Len(t, units, 1)
	assert.Equal(t, model.WorkTypeTest, units[0].WorkType)
}

func TestIsTestPath(t *testing.T) {
	assert.True(t, IsTestPath("pkg/foo_test.go"))
	assert.True(t, IsTestPath("server/tests/integration/api.py"))
	assert.True(t, IsTestPath("src/__tests__/app.spec.ts"))
	assert.False(t, IsTestPath("pkg/foo.go"))
	assert.False(t, IsTestPath("contest/winner.go"))
}

func TestJaccard(t *testing.T) {
	a := map[string]struct{}{"x": {}, "y": {}}
	b := map[string]struct{}{"y": {}, "z": {}}
	assert.InDelta(t, 1.0/3.0, jaccard(a, b), 1e-9)

	// 都为空视为完全相似
	assert.Equal(t, 1.0, jaccard(map[string]struct{}{}, map[string]struct{}{}))
}
