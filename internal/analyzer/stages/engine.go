package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/pkg/llm"
)

const stageMaxRetries = 3

// Engine 四阶段 AI 评审的执行器。
// 各阶段只做一件事：拼输入、调模型、解析归一化，持久化由调用方负责。
type Engine struct {
	llm    Completer
	diffs  DiffFetcher
	cfg    config.Stage1Config
	llmCfg config.LLMConfig
}

func NewEngine(completer Completer, diffs DiffFetcher, cfg config.Stage1Config, llmCfg config.LLMConfig) *Engine {
	return &Engine{llm: completer, diffs: diffs, cfg: cfg, llmCfg: llmCfg}
}

const codeQualitySystemPrompt = `You are a senior engineer reviewing a developer's work unit (a cluster of related commits). Score code quality on overall, readability, maintainability and best_practices (1-10 each), and list strengths, weaknesses, notable patterns and suggestions. Respond with a JSON object only:
{"overall":0,"readability":0,"maintainability":0,"best_practices":0,"strengths":[],"weaknesses":[],"patterns":[],"suggestions":[]}`

// ReviewUnit Stage 1：单个采样单元的代码质量评审。
// 任何失败都回落到中性默认值，不会中断整条流水线。
func (e *Engine) ReviewUnit(ctx context.Context, unit *model.WorkUnit) (*CodeQualityResult, int, int) {
	prompt := fmt.Sprintf("Work unit: %s\nFirst commit message: %s\n\nDiffs:\n%s",
		unitBrief(unit), unit.FirstMessage, e.buildDiffText(ctx, unit))

	comp, err := e.llm.CompleteWithRetry(ctx, codeQualitySystemPrompt, prompt,
		e.llmCfg.MaxTokens, e.llmCfg.Temperature, stageMaxRetries)
	if err != nil {
		log.Printf("Stage1: review failed for unit %d, using neutral default: %v", unit.ID, err)
		return NeutralCodeQuality(), 0, 0
	}

	var result CodeQualityResult
	if err := json.Unmarshal([]byte(llm.ExtractJSON(comp.Text)), &result); err != nil {
		log.Printf("Stage1: unparseable response for unit %d, using neutral default: %v", unit.ID, err)
		return NeutralCodeQuality(), comp.InputTokens, comp.OutputTokens
	}
	return normalizeCodeQuality(&result), comp.InputTokens, comp.OutputTokens
}

// SummarizeStage1 把单元级评审聚合成用户级摘要，供后续阶段使用
func SummarizeStage1(results []*CodeQualityResult) Stage1Summary {
	s := Stage1Summary{
		UnitCount:     len(results),
		TopStrengths:  []string{},
		TopWeaknesses: []string{},
		TopPatterns:   []string{},
	}
	if len(results) == 0 {
		return s
	}

	var overall, readability, maintainability, bestPractices float64
	strengths := make(map[string]int)
	weaknesses := make(map[string]int)
	patterns := make(map[string]int)
	for _, r := range results {
		overall += r.Overall
		readability += r.Readability
		maintainability += r.Maintainability
		bestPractices += r.BestPractices
		for _, v := range r.Strengths {
			strengths[v]++
		}
		for _, v := range r.Weaknesses {
			weaknesses[v]++
		}
		for _, v := range r.Patterns {
			patterns[v]++
		}
	}

	n := float64(len(results))
	s.AvgOverall = round1(overall / n)
	s.AvgReadability = round1(readability / n)
	s.AvgMaintainability = round1(maintainability / n)
	s.AvgBestPractices = round1(bestPractices / n)
	s.TopStrengths = topByCount(strengths, 5)
	s.TopWeaknesses = topByCount(weaknesses, 5)
	s.TopPatterns = topByCount(patterns, 5)
	return s
}

// topByCount 按出现次数取前 N，次数相同按字典序保证稳定
func topByCount(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

const workPatternSystemPrompt = `You are analyzing a developer's annual commit activity to characterize how they work. Given quantitative metrics and an aggregated code quality summary, classify their work_style (deep_focus, iterative, burst, steady) and collaboration (independent, collaborative, mentoring, cross_team), each with a short reason, plus up to 5 insights. Respond with a JSON object only:
{"work_style":"","work_style_reason":"","collaboration":"","collaboration_reason":"","insights":[]}`

// AnalyzeWorkPattern Stage 2：工作模式归纳。
// 模型调用失败返回错误，响应解析失败回落到保守默认分类。
func (e *Engine) AnalyzeWorkPattern(ctx context.Context, s1 Stage1Summary, metrics Metrics) (*WorkPatternResult, int, int, error) {
	prompt := fmt.Sprintf("Metrics:\n%s\n\nCode quality summary:\n%s", mustJSON(metrics), mustJSON(s1))

	comp, err := e.llm.CompleteWithRetry(ctx, workPatternSystemPrompt, prompt,
		e.llmCfg.MaxTokens, e.llmCfg.Temperature, stageMaxRetries)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("work pattern analysis: %w", err)
	}

	var result WorkPatternResult
	if err := json.Unmarshal([]byte(llm.ExtractJSON(comp.Text)), &result); err != nil {
		log.Printf("Stage2: unparseable response, using default classification: %v", err)
		result = WorkPatternResult{Insights: []string{}}
	}
	result.Stage1 = s1
	return normalizeWorkPattern(&result), comp.InputTokens, comp.OutputTokens, nil
}

const growthSystemPrompt = `You are a tech lead writing growth advice for a developer's annual review. Given their work pattern analysis, code quality summary and quantitative metrics, identify up to 5 improvement_areas (each with area, priority high/medium/low and up to 3 resources), up to 5 learning_opportunities, up to 5 strengths and up to 3 career_suggestions. Respond with a JSON object only:
{"improvement_areas":[{"area":"","priority":"","resources":[]}],"learning_opportunities":[],"strengths":[],"career_suggestions":[]}`

// AnalyzeGrowth Stage 3：成长建议
func (e *Engine) AnalyzeGrowth(ctx context.Context, pattern *WorkPatternResult, metrics Metrics) (*GrowthResult, int, int, error) {
	prompt := fmt.Sprintf("Work pattern:\n%s\n\nMetrics:\n%s", mustJSON(pattern), mustJSON(metrics))

	comp, err := e.llm.CompleteWithRetry(ctx, growthSystemPrompt, prompt,
		e.llmCfg.MaxTokens, e.llmCfg.Temperature, stageMaxRetries)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("growth analysis: %w", err)
	}

	var result GrowthResult
	if err := json.Unmarshal([]byte(llm.ExtractJSON(comp.Text)), &result); err != nil {
		log.Printf("Stage3: unparseable response, using empty result: %v", err)
		result = GrowthResult{}
	}
	return normalizeGrowth(&result), comp.InputTokens, comp.OutputTokens, nil
}

// FinalInput Stage 4 的全部输入
type FinalInput struct {
	Org          string                     `json:"org"`
	Username     string                     `json:"username"`
	Year         int                        `json:"year"`
	Metrics      Metrics                    `json:"metrics"`
	Stage1       Stage1Summary              `json:"code_quality_summary"`
	WorkPattern  *WorkPatternResult         `json:"work_pattern"`
	Growth       *GrowthResult              `json:"growth"`
	Samples      []model.RepoSampleSummary  `json:"repo_samples"`
	PriorSummary string                     `json:"prior_year_summary,omitempty"`
}

const finalSystemPrompt = `You are writing the final annual performance review for a developer based on all prior analysis. Score five dimensions 1-10 (productivity, code_quality, diversity, collaboration, growth), write a summary paragraph, and list up to 5 achievements, up to 5 improvements and up to 5 action_items (each with title, priority high/medium/low and optional deadline). If a prior year summary is provided, comment on the trajectory. Respond with a JSON object only:
{"summary":"","dimensions":{"productivity":0,"code_quality":0,"diversity":0,"collaboration":0,"growth":0},"achievements":[],"improvements":[],"action_items":[{"title":"","priority":"","deadline":""}]}`

// Finalize Stage 4：年度总评。
// 总分和评级不信任模型输出，归一化层按固定权重重算。
func (e *Engine) Finalize(ctx context.Context, in *FinalInput) (*FinalResult, int, int, error) {
	comp, err := e.llm.CompleteWithRetry(ctx, finalSystemPrompt, mustJSON(in),
		e.llmCfg.MaxTokens, e.llmCfg.Temperature, stageMaxRetries)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("final review: %w", err)
	}

	var result FinalResult
	if err := json.Unmarshal([]byte(llm.ExtractJSON(comp.Text)), &result); err != nil {
		log.Printf("Stage4: unparseable response, scoring from dimensions defaults: %v", err)
		result = FinalResult{}
	}
	return normalizeFinal(&result), comp.InputTokens, comp.OutputTokens, nil
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
