package cluster

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/model"
)

// Unit 聚类产出的一段连贯工作，落库前由调用方补充 run/repo 信息
type Unit struct {
	Commits      []*model.Commit
	StartAt      time.Time
	EndAt        time.Time
	Additions    int
	Deletions    int
	TouchedPaths []string
	PrimaryPaths []string
	WorkType     string
}

// Build 将一个用户在一个仓库的年度提交聚成工作单元。
// 输入必须按提交时间升序。输出保证划分：每个提交恰好出现在一个单元中。
func Build(commits []*model.Commit, cfg config.ClusteringConfig) []*Unit {
	if len(commits) == 0 {
		return nil
	}

	// Step 1: 时间间隔分组
	timeGroups := groupByTimeGap(commits, cfg.MaxTimeGapHours)

	// Step 2: 组内按相邻提交的目录相似度细分
	var clusters [][]*model.Commit
	for _, group := range timeGroups {
		clusters = append(clusters, refineByPathSimilarity(group, cfg.MinPathOverlap)...)
	}

	// Step 3: 尺寸约束
	clusters = enforceSize(clusters, cfg.MinCommitsPerUnit, cfg.MaxCommitsPerUnit)

	// Step 4: 聚合统计
	units := make([]*Unit, 0, len(clusters))
	for _, c := range clusters {
		units = append(units, aggregate(c))
	}
	return units
}

// groupByTimeGap 相邻提交间隔超过 maxGapHours 则切新组
func groupByTimeGap(commits []*model.Commit, maxGapHours float64) [][]*model.Commit {
	if maxGapHours <= 0 {
		maxGapHours = 8
	}
	maxGap := time.Duration(maxGapHours * float64(time.Hour))

	var groups [][]*model.Commit
	current := []*model.Commit{commits[0]}
	for i := 1; i < len(commits); i++ {
		if commits[i].CommittedAt.Sub(commits[i-1].CommittedAt) > maxGap {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, commits[i])
	}
	groups = append(groups, current)
	return groups
}

// refineByPathSimilarity 只比较相邻提交对，簇是相似邻居构成的链，
// 不会跨过中间不相似的提交向前合并。这是有意保留的行为。
func refineByPathSimilarity(group []*model.Commit, minOverlap float64) [][]*model.Commit {
	if len(group) <= 1 {
		return [][]*model.Commit{group}
	}

	var clusters [][]*model.Commit
	current := []*model.Commit{group[0]}
	prevDirs := dirSet(group[0])

	for i := 1; i < len(group); i++ {
		dirs := dirSet(group[i])
		if jaccard(prevDirs, dirs) >= minOverlap {
			current = append(current, group[i])
		} else {
			clusters = append(clusters, current)
			current = []*model.Commit{group[i]}
		}
		prevDirs = dirs
	}
	clusters = append(clusters, current)
	return clusters
}

// enforceSize 丢弃过小的簇，过大的簇按上限切成连续分片
func enforceSize(clusters [][]*model.Commit, minSize, maxSize int) [][]*model.Commit {
	if minSize < 1 {
		minSize = 1
	}
	if maxSize <= 0 {
		maxSize = 50
	}

	var result [][]*model.Commit
	for _, c := range clusters {
		if len(c) < minSize {
			continue
		}
		for start := 0; start < len(c); start += maxSize {
			end := start + maxSize
			if end > len(c) {
				end = len(c)
			}
			result = append(result, c[start:end])
		}
	}
	return result
}

func aggregate(commits []*model.Commit) *Unit {
	unit := &Unit{
		Commits: commits,
		StartAt: commits[0].CommittedAt,
		EndAt:   commits[0].CommittedAt,
	}

	pathSet := make(map[string]struct{})
	dirFreq := make(map[string]int)
	for _, c := range commits {
		if c.CommittedAt.Before(unit.StartAt) {
			unit.StartAt = c.CommittedAt
		}
		if c.CommittedAt.After(unit.EndAt) {
			unit.EndAt = c.CommittedAt
		}
		unit.Additions += c.Additions
		unit.Deletions += c.Deletions
		for _, f := range c.Files {
			pathSet[f.Path] = struct{}{}
			dirFreq[path.Dir(f.Path)]++
		}
	}

	unit.TouchedPaths = make([]string, 0, len(pathSet))
	for p := range pathSet {
		unit.TouchedPaths = append(unit.TouchedPaths, p)
	}
	sort.Strings(unit.TouchedPaths)

	unit.PrimaryPaths = topDirs(dirFreq, 5)
	unit.WorkType = inferWorkType(commits, unit.TouchedPaths)
	return unit
}

// topDirs 按触达次数取 top-N 目录，次数相同时按名称保证确定性
func topDirs(freq map[string]int, n int) []string {
	dirs := make([]string, 0, len(freq))
	for d := range freq {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool {
		if freq[dirs[i]] != freq[dirs[j]] {
			return freq[dirs[i]] > freq[dirs[j]]
		}
		return dirs[i] < dirs[j]
	})
	if len(dirs) > n {
		dirs = dirs[:n]
	}
	return dirs
}

// workTypeKeywords 按优先级排列，先命中先得
var workTypeKeywords = []struct {
	workType string
	keywords []string
}{
	{model.WorkTypeFeature, []string{"feat", "add ", "implement", "support", "新增", "增加"}},
	{model.WorkTypeBugfix, []string{"fix", "bug", "hotfix", "patch", "修复"}},
	{model.WorkTypeRefactor, []string{"refactor", "restructure", "rewrite", "重构"}},
	{model.WorkTypeDocs, []string{"doc", "readme", "文档"}},
	{model.WorkTypeTest, []string{"test", "spec", "测试"}},
	{model.WorkTypeStyle, []string{"style", "format", "lint"}},
	{model.WorkTypeChore, []string{"chore", "bump", "upgrade", "deps", "ci"}},
}

// inferWorkType 提交信息关键词优先，未命中时按测试路径占比兜底
func inferWorkType(commits []*model.Commit, touchedPaths []string) string {
	for _, entry := range workTypeKeywords {
		for _, c := range commits {
			msg := strings.ToLower(c.Message)
			for _, kw := range entry.keywords {
				if strings.Contains(msg, kw) {
					return entry.workType
				}
			}
		}
	}

	if len(touchedPaths) > 0 {
		testCount := 0
		for _, p := range touchedPaths {
			if IsTestPath(p) {
				testCount++
			}
		}
		if float64(testCount)/float64(len(touchedPaths)) > 0.7 {
			return model.WorkTypeTest
		}
	}

	return model.WorkTypeUnknown
}

// IsTestPath 是否为测试文件路径
func IsTestPath(p string) bool {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	return strings.Contains(lower, "/test/") ||
		strings.Contains(lower, "/tests/") ||
		strings.Contains(lower, "__tests__") ||
		strings.HasPrefix(base, "test_") ||
		strings.HasSuffix(base, "_test.go") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.")
}

// dirSet 提交触达的目录集合（路径去掉文件名）
func dirSet(c *model.Commit) map[string]struct{} {
	dirs := make(map[string]struct{}, len(c.Files))
	for _, f := range c.Files {
		dirs[path.Dir(f.Path)] = struct{}{}
	}
	return dirs
}

// jaccard 两个目录集合的 Jaccard 相似度，均为空视为相同
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
