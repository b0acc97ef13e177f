package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/analyzer/cluster"
	"github.com/coolwithyou/review_go_server/internal/analyzer/impact"
	"github.com/coolwithyou/review_go_server/internal/analyzer/sampling"
	"github.com/coolwithyou/review_go_server/internal/analyzer/stages"
	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/pkg/oss"
	"github.com/coolwithyou/review_go_server/internal/pkg/pubsub"
	"github.com/coolwithyou/review_go_server/internal/pkg/queue"
	"github.com/coolwithyou/review_go_server/internal/repository"
)

// 近期热点文件统计窗口
const (
	hotspotMonths = 3
	hotspotLimit  = 20
)

// Processor 任务处理器：驱动一次年度分析从入队到产出报告的完整流水线。
// 每个阶段开始时持久化状态，进程被杀后凭状态和落库数据断点续跑。
type Processor struct {
	runRepo      *repository.RunRepository
	repoRepo     *repository.RepoRepository
	commitRepo   *repository.CommitRepository
	unitRepo     *repository.WorkUnitRepository
	stageRepo    *repository.StageRepository
	samplingRepo *repository.SamplingRepository
	reportRepo   *repository.ReportRepository
	scanner      *Scanner
	resumer      *ResumeController
	sampler      *sampling.Sampler
	engine       *stages.Engine
	queue        *queue.Queue
	publisher    *pubsub.Publisher
	ossClient    *oss.Client
	cfg          *config.Config
}

// NewProcessor 创建任务处理器
func NewProcessor(
	runRepo *repository.RunRepository,
	repoRepo *repository.RepoRepository,
	commitRepo *repository.CommitRepository,
	unitRepo *repository.WorkUnitRepository,
	stageRepo *repository.StageRepository,
	samplingRepo *repository.SamplingRepository,
	reportRepo *repository.ReportRepository,
	scanner *Scanner,
	resumer *ResumeController,
	sampler *sampling.Sampler,
	engine *stages.Engine,
	q *queue.Queue,
	publisher *pubsub.Publisher,
	ossClient *oss.Client,
	cfg *config.Config,
) *Processor {
	return &Processor{
		runRepo:      runRepo,
		repoRepo:     repoRepo,
		commitRepo:   commitRepo,
		unitRepo:     unitRepo,
		stageRepo:    stageRepo,
		samplingRepo: samplingRepo,
		reportRepo:   reportRepo,
		scanner:      scanner,
		resumer:      resumer,
		sampler:      sampler,
		engine:       engine,
		queue:        q,
		publisher:    publisher,
		ossClient:    ossClient,
		cfg:          cfg,
	}
}

// Process 处理一条分析任务消息。
// 返回 nil 表示消息消费完毕（包括任务失败落库的情况），
// 只有基础设施错误才返回 error 让上层决定是否重投。
func (p *Processor) Process(ctx context.Context, msg *queue.RunMessage) error {
	run, err := p.runRepo.GetByID(msg.RunID)
	if err != nil {
		return fmt.Errorf("failed to get run %d: %w", msg.RunID, err)
	}

	if p.checkCancelled(ctx, run) {
		return nil
	}

	switch run.Status {
	case model.RunStatusDone, model.RunStatusCancelled:
		log.Printf("Run %d: already %s, skipping", run.ID, run.Status)
		return nil
	case model.RunStatusAwaitingAI:
		// 确认接口会改状态后重新入队，这条消息无事可做
		log.Printf("Run %d: awaiting confirmation, skipping", run.ID)
		return nil
	case model.RunStatusReviewing:
		return p.runFromReview(ctx, run)
	case model.RunStatusFinalizing:
		return p.runFinalize(ctx, run)
	default:
		return p.runFromScan(ctx, run, msg.Mode)
	}
}

// runFromScan 从扫描阶段开始执行完整流水线
func (p *Processor) runFromScan(ctx context.Context, run *model.AnalysisRun, mode string) error {
	now := time.Now()
	run.StartedAt = &now
	run.Status = model.RunStatusScanningRepos
	if err := p.runRepo.Update(run); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	p.publishPhase(ctx, run, pubsub.PhaseScanningRepos)

	// Step 1: 同步仓库列表
	log.Printf("Run %d: syncing repos for org %s", run.ID, run.Org)
	repos, err := p.scanner.SyncRepos(ctx, run)
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("仓库列表获取失败: %w", err))
	}
	if len(repos) == 0 {
		return p.fail(ctx, run, fmt.Errorf("组织 %s 下没有可扫描的仓库", run.Org))
	}

	// 按重试模式对账校准
	run, err = p.resumer.Prepare(run, repos, mode)
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("任务状态校准失败: %w", err))
	}

	if _, err := p.runRepo.UpdateProgress(run.ID, func(pr *model.RunProgress) {
		pr.Phase = pubsub.PhaseScanning
		pr.Total = len(repos)
		for _, repo := range repos {
			pr.Repo(repo.FullName)
		}
	}); err != nil {
		return p.fail(ctx, run, fmt.Errorf("进度初始化失败: %w", err))
	}
	if p.checkCancelled(ctx, run) {
		return nil
	}

	// Step 2: 扫描提交
	log.Printf("Run %d: scanning commits across %d repos", run.ID, len(repos))
	p.setStatus(ctx, run, model.RunStatusScanning, pubsub.PhaseScanning)
	if err := p.scanner.ScanAll(ctx, run, repos); err != nil {
		return p.fail(ctx, run, fmt.Errorf("提交扫描中断: %w", err))
	}
	if p.checkCancelled(ctx, run) {
		return nil
	}

	// 全军覆没才算任务失败，部分仓库失败继续推进
	run, err = p.runRepo.GetByID(run.ID)
	if err != nil {
		return err
	}
	if allReposFailed(run.Progress.Repos) {
		return p.fail(ctx, run, fmt.Errorf("所有仓库扫描失败，请检查 GitHub 访问配置"))
	}

	// Step 3: 构建工作单元
	if err := p.buildUnits(ctx, run, repos); err != nil {
		return p.fail(ctx, run, err)
	}
	if p.checkCancelled(ctx, run) {
		return nil
	}

	// Step 4: 采样并等待确认
	if err := p.runSampling(ctx, run); err != nil {
		return p.fail(ctx, run, err)
	}
	if p.checkCancelled(ctx, run) {
		return nil
	}

	p.setStatus(ctx, run, model.RunStatusAwaitingAI, pubsub.PhaseAwaitingAI)
	log.Printf("Run %d: sampling done, awaiting AI review confirmation", run.ID)
	return nil
}

// buildUnits 逐仓库聚类并评分，补齐本 run 缺失仓库的工作单元。
// 已有单元的仓库跳过不重建：单元 ID 必须保持稳定，
// 否则按旧 ID 落库的 Stage 1 结果会全部失配，恢复时白白重跑 AI 评审。
func (p *Processor) buildUnits(ctx context.Context, run *model.AnalysisRun, repos []*model.Repository) error {
	log.Printf("Run %d: building work units", run.ID)
	p.setStatus(ctx, run, model.RunStatusBuildingUnits, pubsub.PhaseClustering)

	existing, err := p.unitRepo.ListByRun(run.ID)
	if err != nil {
		return fmt.Errorf("读取已有工作单元失败: %w", err)
	}
	unitsByRepo := make(map[int64]int, len(existing))
	for _, u := range existing {
		unitsByRepo[u.RepoID]++
	}

	scanned := make([]*model.Repository, 0, len(repos))
	for _, repo := range repos {
		if rp, ok := run.Progress.Repos[repo.FullName]; ok &&
			(rp.Status == model.RepoStatusDone || rp.Status == model.RepoStatusPartial) {
			scanned = append(scanned, repo)
		}
	}

	totalUnits := 0
	for i, repo := range scanned {
		if p.queue.IsCancelRequested(ctx, run.ID) {
			return nil
		}

		if n := unitsByRepo[repo.ID]; n > 0 {
			totalUnits += n
			p.updateClusteringProgress(run.ID, i+1, len(scanned), totalUnits)
			continue
		}

		commits, err := p.commitRepo.ListByRepoUserYear(repo.ID, run.Username, run.Year)
		if err != nil {
			return fmt.Errorf("读取 %s 提交失败: %w", repo.FullName, err)
		}
		if len(commits) == 0 {
			continue
		}

		hotspots, err := p.commitRepo.MostChangedPaths(repo.ID, hotspotMonths, hotspotLimit)
		if err != nil {
			log.Printf("Run %d: hotspot query failed for %s: %v", run.ID, repo.FullName, err)
			hotspots = nil
		}

		clustered := cluster.Build(commits, p.cfg.Analysis.Clustering)
		units := make([]*model.WorkUnit, 0, len(clustered))
		for _, u := range clustered {
			messages := make([]string, 0, len(u.Commits))
			shas := make(model.StringArray, 0, len(u.Commits))
			for _, c := range u.Commits {
				messages = append(messages, c.Message)
				shas = append(shas, c.SHA)
			}

			score, factors := impact.Score(impact.Input{
				Additions:    u.Additions,
				Deletions:    u.Deletions,
				TouchedPaths: u.TouchedPaths,
				Messages:     messages,
				HotspotPaths: hotspots,
			}, p.cfg.Analysis.Impact)

			units = append(units, &model.WorkUnit{
				RunID:         run.ID,
				RepoID:        repo.ID,
				RepoName:      repo.FullName,
				Username:      run.Username,
				CommitSHAs:    shas,
				CommitCount:   len(u.Commits),
				FirstMessage:  firstLine(u.Commits[0].Message, 500),
				StartAt:       u.StartAt,
				EndAt:         u.EndAt,
				Additions:     u.Additions,
				Deletions:     u.Deletions,
				PrimaryPaths:  model.StringArray(u.PrimaryPaths),
				WorkType:      u.WorkType,
				ImpactScore:   score,
				ImpactFactors: factors,
			})
		}

		if err := p.unitRepo.BatchCreate(units); err != nil {
			return fmt.Errorf("保存 %s 工作单元失败: %w", repo.FullName, err)
		}
		totalUnits += len(units)
		p.updateClusteringProgress(run.ID, i+1, len(scanned), totalUnits)
	}

	log.Printf("Run %d: built %d work units from %d repos", run.ID, totalUnits, len(scanned))
	return nil
}

func (p *Processor) updateClusteringProgress(runID int64, done, total, units int) {
	p.runRepo.UpdateProgress(runID, func(pr *model.RunProgress) {
		pr.Clustering = &model.ClusteringProgress{
			ReposDone:  done,
			ReposTotal: total,
			Units:      units,
		}
	})
}

// runSampling 采样并持久化结果，重入时沿用已有采样
func (p *Processor) runSampling(ctx context.Context, run *model.AnalysisRun) error {
	if sampled, err := p.unitRepo.CountSampledByRun(run.ID); err == nil && sampled > 0 {
		if sr, _ := p.samplingRepo.LatestByRun(run.ID); sr != nil {
			log.Printf("Run %d: sampling result exists (%d units), keeping it", run.ID, sampled)
			return nil
		}
	}

	units, err := p.unitRepo.ListByRun(run.ID)
	if err != nil {
		return fmt.Errorf("读取工作单元失败: %w", err)
	}
	if len(units) == 0 {
		return fmt.Errorf("该用户在 %d 年没有任何提交记录", run.Year)
	}

	result, err := p.sampler.Select(ctx, units)
	if err != nil {
		return fmt.Errorf("采样失败: %w", err)
	}

	// 重入时清掉旧标记再落新结果
	if err := p.unitRepo.ClearSampling(run.ID); err != nil {
		return fmt.Errorf("清理采样标记失败: %w", err)
	}
	for _, sel := range result.Selections {
		if err := p.unitRepo.MarkSampled(sel.WorkUnitID, sel.Reason, sel.Category); err != nil {
			return fmt.Errorf("标记采样单元失败: %w", err)
		}
	}
	if err := p.samplingRepo.Create(&model.SamplingResult{
		RunID:      run.ID,
		Selections: result.Selections,
		Summaries:  result.Summaries,
	}); err != nil {
		return fmt.Errorf("保存采样结果失败: %w", err)
	}
	return nil
}

// runFromReview 确认后的评审阶段
func (p *Processor) runFromReview(ctx context.Context, run *model.AnalysisRun) error {
	if run.SkipAI {
		log.Printf("Run %d: AI review skipped by user", run.ID)
		p.setStatus(ctx, run, model.RunStatusFinalizing, pubsub.PhaseFinalizing)
		return p.runFinalize(ctx, run)
	}

	p.publishPhase(ctx, run, pubsub.PhaseReviewing)

	sampled, err := p.unitRepo.ListSampledByRun(run.ID)
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("读取采样单元失败: %w", err))
	}

	// Stage 1：逐单元评审，已有结果的单元跳过
	existing, err := p.stageRepo.LatestStage1ByRun(run.ID)
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("读取评审进度失败: %w", err))
	}

	delay := time.Duration(p.cfg.Analysis.Stage1.DelayMs) * time.Millisecond
	for i, unit := range sampled {
		if p.checkCancelled(ctx, run) {
			return nil
		}
		if _, ok := existing[unit.ID]; ok {
			continue
		}

		result, inTokens, outTokens := p.engine.ReviewUnit(ctx, unit)
		if err := p.saveStageResult(run.ID, 1, model.SubjectWorkUnit, unit.ID, result, inTokens, outTokens); err != nil {
			return p.fail(ctx, run, err)
		}

		p.runRepo.UpdateProgress(run.ID, func(pr *model.RunProgress) {
			pr.Phase = pubsub.PhaseReviewing
			pr.Total = len(sampled)
			pr.Completed = i + 1
		})
		p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
			RunID:   run.ID,
			Status:  run.Status,
			Phase:   pubsub.PhaseReviewing,
			Message: fmt.Sprintf("代码质量评审 %d/%d", i+1, len(sampled)),
		})

		if delay > 0 && i < len(sampled)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	// Stage 1 汇总
	s1Results, err := p.loadStage1Results(run.ID)
	if err != nil {
		return p.fail(ctx, run, err)
	}
	summary := stages.SummarizeStage1(s1Results)
	metrics, err := p.computeMetrics(run)
	if err != nil {
		return p.fail(ctx, run, err)
	}

	// Stage 2：工作模式
	pattern := &stages.WorkPatternResult{}
	if prev, _ := p.stageRepo.Latest(model.SubjectUser, run.ID, 2); prev != nil {
		if err := json.Unmarshal([]byte(prev.Payload), pattern); err == nil {
			log.Printf("Run %d: reusing existing work pattern result", run.ID)
		}
	}
	if pattern.WorkStyle == "" {
		if p.checkCancelled(ctx, run) {
			return nil
		}
		var inTokens, outTokens int
		pattern, inTokens, outTokens, err = p.engine.AnalyzeWorkPattern(ctx, summary, metrics)
		if err != nil {
			return p.fail(ctx, run, fmt.Errorf("工作模式分析失败: %w", err))
		}
		if err := p.saveStageResult(run.ID, 2, model.SubjectUser, run.ID, pattern, inTokens, outTokens); err != nil {
			return p.fail(ctx, run, err)
		}
	}

	// Stage 3：成长建议
	var growth *stages.GrowthResult
	if prev, _ := p.stageRepo.Latest(model.SubjectUser, run.ID, 3); prev != nil {
		growth = &stages.GrowthResult{}
		if err := json.Unmarshal([]byte(prev.Payload), growth); err != nil {
			growth = nil
		}
	}
	if growth == nil {
		if p.checkCancelled(ctx, run) {
			return nil
		}
		var inTokens, outTokens int
		growth, inTokens, outTokens, err = p.engine.AnalyzeGrowth(ctx, pattern, metrics)
		if err != nil {
			return p.fail(ctx, run, fmt.Errorf("成长分析失败: %w", err))
		}
		if err := p.saveStageResult(run.ID, 3, model.SubjectUser, run.ID, growth, inTokens, outTokens); err != nil {
			return p.fail(ctx, run, err)
		}
	}

	p.setStatus(ctx, run, model.RunStatusFinalizing, pubsub.PhaseFinalizing)
	return p.runFinalize(ctx, run)
}

// runFinalize 生成年度报告并归档
func (p *Processor) runFinalize(ctx context.Context, run *model.AnalysisRun) error {
	if p.checkCancelled(ctx, run) {
		return nil
	}
	log.Printf("Run %d: finalizing report", run.ID)
	p.publishPhase(ctx, run, pubsub.PhaseFinalizing)

	metrics, err := p.computeMetrics(run)
	if err != nil {
		return p.fail(ctx, run, err)
	}

	var final *stages.FinalResult
	if run.SkipAI {
		final = heuristicFinal(metrics)
	} else {
		final, err = p.aiFinal(ctx, run, metrics)
		if err != nil {
			return p.fail(ctx, run, err)
		}
	}

	report := &model.FinalReport{
		RunID:        run.ID,
		Org:          run.Org,
		Username:     run.Username,
		Year:         run.Year,
		OverallScore: final.OverallScore,
		Grade:        final.Grade,
		Summary:      final.Summary,
		Dimensions:   final.Dimensions,
		Achievements: model.StringArray(final.Achievements),
		Improvements: model.StringArray(final.Improvements),
		ActionItems:  model.ActionItemList(final.ActionItems),
	}

	// 报告归档：OSS 优先，未配置时落盘本地
	if data, err := json.Marshal(report); err == nil {
		report.ArtifactURL = p.archiveReport(run, data)
	}

	if err := p.reportRepo.Create(report); err != nil {
		return p.fail(ctx, run, fmt.Errorf("保存报告失败: %w", err))
	}

	now := time.Now()
	run.Status = model.RunStatusDone
	run.CompletedAt = &now
	run.ErrorMsg = ""
	if err := p.runRepo.Update(run); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	p.publishPhase(ctx, run, pubsub.PhaseDone)

	elapsed := 0
	if run.StartedAt != nil {
		elapsed = int(now.Sub(*run.StartedAt).Seconds())
	}
	log.Printf("Run %d: completed in %d seconds, score %.1f grade %s",
		run.ID, elapsed, report.OverallScore, report.Grade)
	return nil
}

// aiFinal Stage 4：汇集所有前序结果生成总评
func (p *Processor) aiFinal(ctx context.Context, run *model.AnalysisRun, metrics stages.Metrics) (*stages.FinalResult, error) {
	s1Results, err := p.loadStage1Results(run.ID)
	if err != nil {
		return nil, err
	}

	pattern := &stages.WorkPatternResult{}
	if prev, _ := p.stageRepo.Latest(model.SubjectUser, run.ID, 2); prev != nil {
		json.Unmarshal([]byte(prev.Payload), pattern)
	}
	growth := &stages.GrowthResult{}
	if prev, _ := p.stageRepo.Latest(model.SubjectUser, run.ID, 3); prev != nil {
		json.Unmarshal([]byte(prev.Payload), growth)
	}

	var samples []model.RepoSampleSummary
	if sr, _ := p.samplingRepo.LatestByRun(run.ID); sr != nil {
		samples = sr.Summaries
	}

	// 去年报告的摘要给模型做趋势对比
	var priorSummary string
	if prior, _ := p.reportRepo.LatestByScope(run.Org, run.Username, run.Year-1); prior != nil {
		priorSummary = prior.Summary
	}

	final, inTokens, outTokens, err := p.engine.Finalize(ctx, &stages.FinalInput{
		Org:          run.Org,
		Username:     run.Username,
		Year:         run.Year,
		Metrics:      metrics,
		Stage1:       stages.SummarizeStage1(s1Results),
		WorkPattern:  pattern,
		Growth:       growth,
		Samples:      samples,
		PriorSummary: priorSummary,
	})
	if err != nil {
		return nil, fmt.Errorf("年度总评生成失败: %w", err)
	}
	if err := p.saveStageResult(run.ID, 4, model.SubjectUser, run.ID, final, inTokens, outTokens); err != nil {
		return nil, err
	}
	return final, nil
}

// heuristicFinal 跳过 AI 评审时的保守报告：量化指标推分数，文案用固定模板
func heuristicFinal(m stages.Metrics) *stages.FinalResult {
	clamp := func(v float64) float64 {
		if v < 1 {
			return 1
		}
		if v > 10 {
			return 10
		}
		return v
	}

	dims := model.DimensionScores{
		Productivity:  clamp(float64(m.ActiveDays) / 25),
		CodeQuality:   5,
		Diversity:     clamp(float64(m.RepoCount) + float64(len(m.WorkTypes))),
		Collaboration: clamp(float64(m.MergeCommits)/10 + 3),
		Growth:        5,
	}

	final := &stages.FinalResult{
		Summary: fmt.Sprintf("本年度共提交 %d 次，活跃 %d 天，覆盖 %d 个仓库。该报告未经 AI 评审，仅基于量化指标生成。",
			m.TotalCommits, m.ActiveDays, m.RepoCount),
		Dimensions:   dims,
		Achievements: []string{},
		Improvements: []string{},
		ActionItems:  []model.ActionItem{},
	}
	final.OverallScore = stages.OverallScore(dims)
	final.Grade = stages.GradeFor(final.OverallScore)
	return final
}

// archiveReport 归档报告 JSON，失败只记日志不阻断流程
func (p *Processor) archiveReport(run *model.AnalysisRun, data []byte) string {
	if p.ossClient != nil {
		url, err := p.ossClient.UploadReport(run.Org, run.Username, run.Year, data)
		if err == nil {
			return url
		}
		log.Printf("Run %d: OSS upload failed, falling back to local: %v", run.ID, err)
	}

	localDir := p.cfg.Report.LocalDir
	if localDir == "" {
		localDir = filepath.Join(os.TempDir(), "reports")
	}
	if err := os.MkdirAll(localDir, 0755); err != nil {
		log.Printf("Run %d: failed to create report dir: %v", run.ID, err)
		return ""
	}
	localPath := filepath.Join(localDir, fmt.Sprintf("%s_%s_%d.json", run.Org, run.Username, run.Year))
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		log.Printf("Run %d: failed to save report locally: %v", run.ID, err)
		return ""
	}
	return "local://" + localPath
}

// computeMetrics 聚合全范围提交和工作单元的量化指标
func (p *Processor) computeMetrics(run *model.AnalysisRun) (stages.Metrics, error) {
	units, err := p.unitRepo.ListByRun(run.ID)
	if err != nil {
		return stages.Metrics{}, fmt.Errorf("读取工作单元失败: %w", err)
	}

	repos, err := p.repoRepo.ListByOrg(run.Org)
	if err != nil {
		return stages.Metrics{}, fmt.Errorf("读取仓库列表失败: %w", err)
	}
	var commits []*model.Commit
	for _, repo := range repos {
		cs, err := p.commitRepo.ListByRepoUserYear(repo.ID, run.Username, run.Year)
		if err != nil {
			return stages.Metrics{}, fmt.Errorf("读取提交失败: %w", err)
		}
		commits = append(commits, cs...)
	}
	return stages.ComputeMetrics(commits, units), nil
}

// loadStage1Results 读取本 run 全部单元的最新 Stage 1 结果
func (p *Processor) loadStage1Results(runID int64) ([]*stages.CodeQualityResult, error) {
	rows, err := p.stageRepo.LatestStage1ByRun(runID)
	if err != nil {
		return nil, fmt.Errorf("读取评审结果失败: %w", err)
	}
	results := make([]*stages.CodeQualityResult, 0, len(rows))
	for _, row := range rows {
		var r stages.CodeQualityResult
		if err := json.Unmarshal([]byte(row.Payload), &r); err != nil {
			continue
		}
		results = append(results, &r)
	}
	return results, nil
}

// saveStageResult 阶段结果只追加不更新，读取方取最新版本
func (p *Processor) saveStageResult(runID int64, stage int, subjectType string, subjectID int64, payload interface{}, inTokens, outTokens int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化阶段结果失败: %w", err)
	}
	if err := p.stageRepo.Create(&model.StageResult{
		RunID:         runID,
		Stage:         stage,
		SubjectType:   subjectType,
		SubjectID:     subjectID,
		PromptVersion: stages.PromptVersion,
		Payload:       string(data),
		InputTokens:   inTokens,
		OutputTokens:  outTokens,
	}); err != nil {
		return fmt.Errorf("保存阶段结果失败: %w", err)
	}
	return nil
}

// checkCancelled 在工作单元边界检查取消标记，命中则落终态
func (p *Processor) checkCancelled(ctx context.Context, run *model.AnalysisRun) bool {
	if !p.queue.IsCancelRequested(ctx, run.ID) {
		return false
	}

	now := time.Now()
	run.Status = model.RunStatusCancelled
	run.CompletedAt = &now
	if err := p.runRepo.Update(run); err != nil {
		log.Printf("Run %d: failed to persist cancellation: %v", run.ID, err)
		return false
	}
	p.queue.ClearCancel(ctx, run.ID)
	p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		RunID:   run.ID,
		Status:  model.RunStatusCancelled,
		Message: "任务已取消，已扫描的数据保留",
	})
	log.Printf("Run %d: cancelled", run.ID)
	return true
}

// setStatus 推进状态并广播
func (p *Processor) setStatus(ctx context.Context, run *model.AnalysisRun, status, phase string) {
	run.Status = status
	if err := p.runRepo.UpdateStatus(run.ID, status); err != nil {
		log.Printf("Run %d: failed to update status to %s: %v", run.ID, status, err)
	}
	p.runRepo.UpdateProgress(run.ID, func(pr *model.RunProgress) {
		pr.Phase = phase
	})
	p.publishPhase(ctx, run, phase)
}

func (p *Processor) publishPhase(ctx context.Context, run *model.AnalysisRun, phase string) {
	p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		RunID:  run.ID,
		Status: run.Status,
		Phase:  phase,
	})
}

// fail 任务失败落库，已扫描的数据保留供 RESUME/RETRY 复用
func (p *Processor) fail(ctx context.Context, run *model.AnalysisRun, err error) error {
	log.Printf("Run %d: failed: %v", run.ID, err)
	if dbErr := p.runRepo.SetFailed(run.ID, err.Error()); dbErr != nil {
		log.Printf("Run %d: failed to persist failure: %v", run.ID, dbErr)
	}
	p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		RunID:  run.ID,
		Status: model.RunStatusFailed,
		Error:  err.Error(),
	})
	return nil
}

func allReposFailed(repos map[string]*model.RepoProgress) bool {
	if len(repos) == 0 {
		return true
	}
	for _, rp := range repos {
		if rp.Status != model.RepoStatusFailed {
			return false
		}
	}
	return true
}

func firstLine(msg string, maxLen int) string {
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' {
			msg = msg[:i]
			break
		}
	}
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
