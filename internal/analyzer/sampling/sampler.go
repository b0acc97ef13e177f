package sampling

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/pkg/llm"
)

// Completer 采样所需的 LLM 能力
type Completer interface {
	CompleteWithRetry(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64, maxRetries int) (*llm.Completion, error)
}

// Result 采样输出：入选单元及每仓库汇总
type Result struct {
	Selections []model.Selection
	Summaries  []model.RepoSampleSummary
}

type Sampler struct {
	llm Completer
	cfg config.SamplingConfig
}

func New(llmClient Completer, cfg config.SamplingConfig) *Sampler {
	return &Sampler{llm: llmClient, cfg: cfg}
}

// Select 按仓库挑选代表性工作单元。
// 小仓库走启发式直接全选省掉 AI 调用；大仓库按批次请求模型挑选，
// 失败或结果不足时按影响力分数兜底。有工作单元的仓库至少产出一个样本。
func (s *Sampler) Select(ctx context.Context, units []*model.WorkUnit) (*Result, error) {
	if len(units) == 0 {
		return &Result{}, nil
	}

	byRepo := make(map[string][]*model.WorkUnit)
	for _, u := range units {
		byRepo[u.RepoName] = append(byRepo[u.RepoName], u)
	}

	repoNames := make([]string, 0, len(byRepo))
	for name := range byRepo {
		repoNames = append(repoNames, name)
	}
	sort.Strings(repoNames)

	result := &Result{}
	var aiRepos []string

	threshold := s.cfg.HeuristicThreshold
	if threshold <= 0 {
		threshold = 5
	}
	maxPerRepo := s.cfg.MaxSamplesPerRepo
	if maxPerRepo <= 0 {
		maxPerRepo = 5
	}

	for _, name := range repoNames {
		repoUnits := byRepo[name]
		if len(repoUnits) <= threshold {
			// 数量不超过阈值，全量入选，不花 AI 费用
			picked := sortByImpact(repoUnits)
			if len(picked) > maxPerRepo {
				picked = picked[:maxPerRepo]
			}
			for _, u := range picked {
				result.Selections = append(result.Selections, model.Selection{
					WorkUnitID: u.ID,
					Reason:     "仓库工作单元数不超过阈值，全量入选",
					Category:   "heuristic_all",
				})
			}
			result.Summaries = append(result.Summaries,
				summarize(name, repoUnits, len(picked), "启发式全选"))
		} else {
			aiRepos = append(aiRepos, name)
		}
	}

	// 需要 AI 挑选的仓库按批处理
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	for start := 0; start < len(aiRepos); start += batchSize {
		end := start + batchSize
		if end > len(aiRepos) {
			end = len(aiRepos)
		}
		s.selectBatch(ctx, aiRepos[start:end], byRepo, maxPerRepo, result)
	}

	return result, nil
}

// selectBatch 一次 LLM 调用为一批仓库挑选样本，失败则整批退回按分数兜底
func (s *Sampler) selectBatch(ctx context.Context, repos []string, byRepo map[string][]*model.WorkUnit, maxPerRepo int, result *Result) {
	prompt := buildBatchPrompt(repos, byRepo, maxPerRepo)

	var picked map[string][]int64
	completion, err := s.llm.CompleteWithRetry(ctx, samplingSystemPrompt, prompt, 2048, 0.1, 2)
	if err != nil {
		log.Printf("Sampling LLM call failed, falling back to top impact: %v", err)
	} else {
		picked = parseBatchResponse(completion.Text)
	}

	for _, name := range repos {
		repoUnits := byRepo[name]
		valid := make(map[int64]*model.WorkUnit, len(repoUnits))
		for _, u := range repoUnits {
			valid[u.ID] = u
		}

		selected := make(map[int64]struct{})
		note := "AI 挑选"
		if picked != nil {
			for _, id := range picked[name] {
				if len(selected) >= maxPerRepo {
					break
				}
				// 模型返回的 id 必须在真实集合内
				if _, ok := valid[id]; ok {
					if _, dup := selected[id]; !dup {
						selected[id] = struct{}{}
						result.Selections = append(result.Selections, model.Selection{
							WorkUnitID: id,
							Reason:     "AI 评估为该仓库的代表性工作",
							Category:   "ai_selected",
						})
					}
				}
			}
		}

		// 配额未满按影响力分数降序补齐；AI 整体失败时这里补满全部名额
		if len(selected) < maxPerRepo {
			category := "backfill_top_impact"
			reason := "AI 结果不足，按影响力分数补齐"
			if picked == nil {
				category = "fallback_top_impact"
				reason = "AI 调用失败，按影响力分数选取"
				note = "AI 失败，按分数兜底"
			} else if len(selected) > 0 {
				note = "AI 挑选 + 分数补齐"
			}
			for _, u := range sortByImpact(repoUnits) {
				if len(selected) >= maxPerRepo {
					break
				}
				if _, ok := selected[u.ID]; ok {
					continue
				}
				selected[u.ID] = struct{}{}
				result.Selections = append(result.Selections, model.Selection{
					WorkUnitID: u.ID,
					Reason:     reason,
					Category:   category,
				})
			}
		}

		result.Summaries = append(result.Summaries,
			summarize(name, repoUnits, len(selected), note))
	}
}

const samplingSystemPrompt = `You are helping select representative work units from a developer's annual commit history for code review. For each repository, pick the most representative units covering different kinds of work (features, fixes, refactors) and preferring higher impact. Respond with a JSON object mapping repository name to an array of selected work unit ids. Respond with JSON only.`

// buildBatchPrompt 紧凑的单元摘要，控制 token 用量
func buildBatchPrompt(repos []string, byRepo map[string][]*model.WorkUnit, maxPerRepo int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Select up to %d work units per repository.\n\n", maxPerRepo)
	for _, name := range repos {
		fmt.Fprintf(&b, "Repository: %s\n", name)
		for _, u := range byRepo[name] {
			fmt.Fprintf(&b, "- id=%d type=%s impact=%.1f commits=%d loc=%d paths=%s msg=%q\n",
				u.ID, u.WorkType, u.ImpactScore, u.CommitCount,
				u.Additions+u.Deletions,
				strings.Join(truncateList(u.PrimaryPaths, 3), ","),
				truncateMessage(u.FirstMessage, 80))
		}
		b.WriteString("\n")
	}
	b.WriteString(`Answer format: {"repo_name": [id, id, ...], ...}`)
	return b.String()
}

// parseBatchResponse 宽松解析模型回复，失败返回 nil
func parseBatchResponse(text string) map[string][]int64 {
	jsonStr := llm.ExtractJSON(text)
	if jsonStr == "" {
		return nil
	}
	var picked map[string][]int64
	if err := json.Unmarshal([]byte(jsonStr), &picked); err != nil {
		return nil
	}
	return picked
}

// sortByImpact 影响力降序，分数相同按 id 保证确定性
func sortByImpact(units []*model.WorkUnit) []*model.WorkUnit {
	sorted := make([]*model.WorkUnit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ImpactScore != sorted[j].ImpactScore {
			return sorted[i].ImpactScore > sorted[j].ImpactScore
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

func summarize(repoName string, units []*model.WorkUnit, sampledCount int, note string) model.RepoSampleSummary {
	summary := model.RepoSampleSummary{
		RepoName:     repoName,
		UnitCount:    len(units),
		SampledCount: sampledCount,
		WorkTypes:    make(map[string]int),
		SamplingNote: note,
	}
	total := 0.0
	for _, u := range units {
		total += u.ImpactScore
		summary.WorkTypes[u.WorkType]++
	}
	if len(units) > 0 {
		summary.AvgImpact = total / float64(len(units))
	}
	return summary
}

// truncateMessage 只保留首行且限长
func truncateMessage(msg string, maxLen int) string {
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func truncateList(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
