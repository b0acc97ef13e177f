package stages

import (
	"context"

	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/pkg/github"
	"github.com/coolwithyou/review_go_server/internal/pkg/llm"
)

// PromptVersion 随提示词模板演进递增，落库用于区分不同版本的结果
const PromptVersion = "v1"

// Completer 各阶段所需的 LLM 能力
type Completer interface {
	CompleteWithRetry(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64, maxRetries int) (*llm.Completion, error)
}

// DiffFetcher Stage 1 评审时按需拉取提交 diff
type DiffFetcher interface {
	GetCommitDetail(ctx context.Context, repoFullName, sha string) (*github.CommitDetail, error)
}

// CodeQualityResult Stage 1：单个采样工作单元的代码质量评审
type CodeQualityResult struct {
	Overall         float64  `json:"overall"`
	Readability     float64  `json:"readability"`
	Maintainability float64  `json:"maintainability"`
	BestPractices   float64  `json:"best_practices"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Patterns        []string `json:"patterns"`
	Suggestions     []string `json:"suggestions"`
}

// NeutralCodeQuality Stage 1 失败时的中性默认值，保证流水线继续推进
func NeutralCodeQuality() *CodeQualityResult {
	return &CodeQualityResult{
		Overall:         5,
		Readability:     5,
		Maintainability: 5,
		BestPractices:   5,
		Strengths:       []string{},
		Weaknesses:      []string{},
		Patterns:        []string{},
		Suggestions:     []string{},
	}
}

// Stage1Summary Stage 1 结果的聚合，Stage 2 的输入之一
type Stage1Summary struct {
	UnitCount          int      `json:"unit_count"`
	AvgOverall         float64  `json:"avg_overall"`
	AvgReadability     float64  `json:"avg_readability"`
	AvgMaintainability float64  `json:"avg_maintainability"`
	AvgBestPractices   float64  `json:"avg_best_practices"`
	TopStrengths       []string `json:"top_strengths"`
	TopWeaknesses      []string `json:"top_weaknesses"`
	TopPatterns        []string `json:"top_patterns"`
}

// 工作风格类别
var WorkStyles = []string{"deep_focus", "iterative", "burst", "steady"}

// 协作模式类别
var CollaborationPatterns = []string{"independent", "collaborative", "mentoring", "cross_team"}

// WorkPatternResult Stage 2：按用户归纳的工作模式
type WorkPatternResult struct {
	WorkStyle           string       `json:"work_style"`
	WorkStyleReason     string       `json:"work_style_reason"`
	Collaboration       string       `json:"collaboration"`
	CollaborationReason string       `json:"collaboration_reason"`
	Insights            []string     `json:"insights"`
	Stage1              Stage1Summary `json:"stage1_summary"`
}

// ImprovementArea 待改进项，带优先级和学习资源
type ImprovementArea struct {
	Area      string   `json:"area"`
	Priority  string   `json:"priority"` // high / medium / low
	Resources []string `json:"resources"`
}

// GrowthResult Stage 3：成长点建议
type GrowthResult struct {
	ImprovementAreas      []ImprovementArea `json:"improvement_areas"`
	LearningOpportunities []string          `json:"learning_opportunities"`
	Strengths             []string          `json:"strengths"`
	CareerSuggestions     []string          `json:"career_suggestions"`
}

// FinalResult Stage 4：年度总评
type FinalResult struct {
	Summary      string                `json:"summary"`
	Dimensions   model.DimensionScores `json:"dimensions"`
	OverallScore float64               `json:"overall_score"`
	Grade        string                `json:"grade"`
	Achievements []string              `json:"achievements"`
	Improvements []string              `json:"improvements"`
	ActionItems  []model.ActionItem    `json:"action_items"`
}

// Metrics 量化指标，Stage 2-4 的客观输入
type Metrics struct {
	TotalCommits     int            `json:"total_commits"`
	TotalAdditions   int            `json:"total_additions"`
	TotalDeletions   int            `json:"total_deletions"`
	ActiveDays       int            `json:"active_days"`
	RepoCount        int            `json:"repo_count"`
	WorkTypes        map[string]int `json:"work_types"`
	TimeDistribution map[string]int `json:"time_distribution"` // morning/afternoon/evening/night 提交数
	WeekendRatio     float64        `json:"weekend_ratio"`
	MergeCommits     int            `json:"merge_commits"`
	AvgMessageLength float64        `json:"avg_message_length"`
	ConventionalRate float64        `json:"conventional_rate"` // 规范化提交信息占比
}
