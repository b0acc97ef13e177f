package impact

import (
	"math"
	"path"
	"sort"
	"strings"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/analyzer/cluster"
	"github.com/coolwithyou/review_go_server/internal/model"
)

// Input 评分输入：一个工作单元的聚合统计加组织级上下文
type Input struct {
	Additions    int
	Deletions    int
	TouchedPaths []string
	Messages     []string
	HotspotPaths []string // 组织近期变更最频繁的文件 top-20
}

// Score 纯函数：相同输入和配置必得相同结果。各因子相加，下限 0，保留 1 位小数。
func Score(in Input, cfg config.ImpactConfig) (float64, model.ImpactFactors) {
	loc := in.Additions + in.Deletions

	factors := model.ImpactFactors{
		Base:       baseScore(loc, cfg.LocCap),
		Size:       sizeScore(loc),
		CoreModule: coreModuleBonus(in, cfg),
		Hotspot:    hotspotBonus(in.TouchedPaths, in.HotspotPaths, cfg.HotspotWeight),
		Test:       testScore(in),
		Config:     configBonus(in.TouchedPaths, cfg),
	}

	total := factors.Base + factors.Size + factors.CoreModule +
		factors.Hotspot + factors.Test + factors.Config
	if total < 0 {
		total = 0
	}
	return round1(total), factors
}

// baseScore log10(min(loc,cap)+1) * 10
func baseScore(loc, cap int) float64 {
	if cap <= 0 {
		cap = 500
	}
	if loc > cap {
		loc = cap
	}
	return math.Log10(float64(loc)+1) * 10
}

// sizeScore min(loc/100, 5)
func sizeScore(loc int) float64 {
	score := float64(loc) / 100
	if score > 5 {
		score = 5
	}
	return score
}

var hotfixKeywords = []string{"hotfix", "urgent", "critical", "emergency", "紧急"}

// coreModuleBonus 命中关键路径按配置权重累加（有上限），
// 提交信息带紧急修复关键词再加固定分
func coreModuleBonus(in Input, cfg config.ImpactConfig) float64 {
	// 模式按字典序遍历，保证上限截断的确定性
	patterns := make([]string, 0, len(cfg.CriticalPaths))
	for p := range cfg.CriticalPaths {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	sum := 0.0
	for _, pattern := range patterns {
		for _, p := range in.TouchedPaths {
			if strings.Contains(p, pattern) {
				sum += cfg.CriticalPaths[pattern]
				break
			}
		}
	}
	if cap := cfg.CoreModuleCap; cap > 0 && sum > cap {
		sum = cap
	}

	for _, msg := range in.Messages {
		lower := strings.ToLower(msg)
		for _, kw := range hotfixKeywords {
			if strings.Contains(lower, kw) {
				return sum + cfg.HotfixBonus
			}
		}
	}
	return sum
}

// hotspotBonus 触达热点文件数 × 权重
func hotspotBonus(touched, hotspots []string, weight float64) float64 {
	if len(hotspots) == 0 {
		return 0
	}
	hotset := make(map[string]struct{}, len(hotspots))
	for _, h := range hotspots {
		hotset[h] = struct{}{}
	}

	count := 0
	for _, p := range touched {
		if _, ok := hotset[p]; ok {
			count++
		}
	}
	return float64(count) * weight
}

// testScore 纯测试改动降分，带适量测试加分，revert 再扣
func testScore(in Input) float64 {
	score := 0.0
	if len(in.TouchedPaths) > 0 {
		testCount := 0
		for _, p := range in.TouchedPaths {
			if cluster.IsTestPath(p) {
				testCount++
			}
		}
		ratio := float64(testCount) / float64(len(in.TouchedPaths))
		switch {
		case ratio > 0.8:
			score = -3
		case ratio > 0 && ratio <= 0.5:
			score = 2
		}
	}

	for _, msg := range in.Messages {
		if strings.Contains(strings.ToLower(msg), "revert") {
			score -= 2
			break
		}
	}
	return score
}

// configBonus 配置文件和 schema/迁移文件各自加分，可叠加
func configBonus(touched []string, cfg config.ImpactConfig) float64 {
	bonus := 0.0
	hasConfig, hasSchema := false, false
	for _, p := range touched {
		if !hasConfig && isConfigPath(p) {
			hasConfig = true
		}
		if !hasSchema && isSchemaPath(p) {
			hasSchema = true
		}
	}
	if hasConfig {
		bonus += cfg.ConfigWeight
	}
	if hasSchema {
		bonus += cfg.SchemaWeight
	}
	return bonus
}

func isConfigPath(p string) bool {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	switch path.Ext(base) {
	case ".yaml", ".yml", ".toml", ".ini", ".env", ".conf":
		return true
	}
	return strings.Contains(base, "config") || strings.Contains(base, "dockerfile")
}

func isSchemaPath(p string) bool {
	lower := strings.ToLower(p)
	return strings.Contains(lower, "migration") ||
		strings.Contains(lower, "schema") ||
		strings.HasSuffix(lower, ".sql")
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
