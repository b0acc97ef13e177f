package stages

import (
	"math"
	"strings"

	"github.com/coolwithyou/review_go_server/internal/model"
)

// 归一化层：不管上游提取多宽松，这里对字段做严格的裁剪和默认值。
// 单独成层便于独立测试。

// clampScore 评分限定在 [1,10]，非法值回落到中性 5 分
func clampScore(v float64) float64 {
	if math.IsNaN(v) || v == 0 {
		return 5
	}
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

// cleanList 去掉空白项并截断长度
func cleanList(items []string, max int) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		result = append(result, item)
		if len(result) >= max {
			break
		}
	}
	return result
}

// normalizePriority 非法优先级回落 medium
func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

// normalizeCategory 类别必须在候选列表内，否则取默认值
func normalizeCategory(v string, allowed []string, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return fallback
}

// normalizeCodeQuality Stage 1 结果归一化
func normalizeCodeQuality(r *CodeQualityResult) *CodeQualityResult {
	r.Overall = clampScore(r.Overall)
	r.Readability = clampScore(r.Readability)
	r.Maintainability = clampScore(r.Maintainability)
	r.BestPractices = clampScore(r.BestPractices)
	r.Strengths = cleanList(r.Strengths, 10)
	r.Weaknesses = cleanList(r.Weaknesses, 10)
	r.Patterns = cleanList(r.Patterns, 10)
	r.Suggestions = cleanList(r.Suggestions, 10)
	return r
}

// normalizeWorkPattern Stage 2 结果归一化
func normalizeWorkPattern(r *WorkPatternResult) *WorkPatternResult {
	r.WorkStyle = normalizeCategory(r.WorkStyle, WorkStyles, "steady")
	r.Collaboration = normalizeCategory(r.Collaboration, CollaborationPatterns, "independent")
	r.Insights = cleanList(r.Insights, 5)
	return r
}

// normalizeGrowth Stage 3 结果归一化
func normalizeGrowth(r *GrowthResult) *GrowthResult {
	if len(r.ImprovementAreas) > 5 {
		r.ImprovementAreas = r.ImprovementAreas[:5]
	}
	cleaned := r.ImprovementAreas[:0]
	for _, area := range r.ImprovementAreas {
		area.Area = strings.TrimSpace(area.Area)
		if area.Area == "" {
			continue
		}
		area.Priority = normalizePriority(area.Priority)
		area.Resources = cleanList(area.Resources, 3)
		cleaned = append(cleaned, area)
	}
	r.ImprovementAreas = cleaned
	r.LearningOpportunities = cleanList(r.LearningOpportunities, 5)
	r.Strengths = cleanList(r.Strengths, 5)
	r.CareerSuggestions = cleanList(r.CareerSuggestions, 3)
	return r
}

// 五维固定权重
const (
	weightProductivity  = 0.25
	weightCodeQuality   = 0.30
	weightDiversity     = 0.15
	weightCollaboration = 0.15
	weightGrowth        = 0.15
)

// normalizeFinal Stage 4 结果归一化：各维度裁剪后按固定权重重算总分和评级
func normalizeFinal(r *FinalResult) *FinalResult {
	r.Dimensions.Productivity = clampScore(r.Dimensions.Productivity)
	r.Dimensions.CodeQuality = clampScore(r.Dimensions.CodeQuality)
	r.Dimensions.Diversity = clampScore(r.Dimensions.Diversity)
	r.Dimensions.Collaboration = clampScore(r.Dimensions.Collaboration)
	r.Dimensions.Growth = clampScore(r.Dimensions.Growth)

	r.OverallScore = OverallScore(r.Dimensions)
	r.Grade = GradeFor(r.OverallScore)

	r.Achievements = cleanList(r.Achievements, 5)
	r.Improvements = cleanList(r.Improvements, 5)

	if len(r.ActionItems) > 5 {
		r.ActionItems = r.ActionItems[:5]
	}
	items := r.ActionItems[:0]
	for _, item := range r.ActionItems {
		item.Title = strings.TrimSpace(item.Title)
		if item.Title == "" {
			continue
		}
		item.Priority = normalizePriority(item.Priority)
		items = append(items, item)
	}
	r.ActionItems = items
	return r
}

// OverallScore 五维加权总分，保留 1 位小数
func OverallScore(d model.DimensionScores) float64 {
	total := d.Productivity*weightProductivity + d.CodeQuality*weightCodeQuality +
		d.Diversity*weightDiversity + d.Collaboration*weightCollaboration +
		d.Growth*weightGrowth
	return math.Round(total*10) / 10
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// GradeFor 总分到评级的固定阈值
func GradeFor(score float64) string {
	switch {
	case score >= 9:
		return "S"
	case score >= 8:
		return "A"
	case score >= 7:
		return "B"
	case score >= 6:
		return "C"
	case score >= 5:
		return "D"
	default:
		return "F"
	}
}
