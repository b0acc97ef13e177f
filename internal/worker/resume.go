package worker

import (
	"fmt"
	"log"

	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/repository"
)

// ResumeController 根据重试模式校准任务状态。
// 入队的进度快照可能落后于实际落库数据（进程中途被杀），
// 这里以数据库为准做对账，决定哪些仓库需要重扫、哪些派生数据要清掉。
type ResumeController struct {
	runRepo      *repository.RunRepository
	commitRepo   *repository.CommitRepository
	unitRepo     *repository.WorkUnitRepository
	stageRepo    *repository.StageRepository
	samplingRepo *repository.SamplingRepository
	reportRepo   *repository.ReportRepository
}

func NewResumeController(
	runRepo *repository.RunRepository,
	commitRepo *repository.CommitRepository,
	unitRepo *repository.WorkUnitRepository,
	stageRepo *repository.StageRepository,
	samplingRepo *repository.SamplingRepository,
	reportRepo *repository.ReportRepository,
) *ResumeController {
	return &ResumeController{
		runRepo:      runRepo,
		commitRepo:   commitRepo,
		unitRepo:     unitRepo,
		stageRepo:    stageRepo,
		samplingRepo: samplingRepo,
		reportRepo:   reportRepo,
	}
}

// Prepare 在流水线启动前按模式校准。repos 为组织全量仓库。
// 返回校准后的最新 run。
func (c *ResumeController) Prepare(run *model.AnalysisRun, repos []*model.Repository, mode string) (*model.AnalysisRun, error) {
	switch mode {
	case model.RetryModeFullRestart:
		if err := c.fullRestart(run); err != nil {
			return nil, err
		}
	case model.RetryModeRetry:
		if err := c.retryFailed(run, repos); err != nil {
			return nil, err
		}
	default:
		if err := c.reconcile(run, repos); err != nil {
			return nil, err
		}
	}
	return c.runRepo.GetByID(run.ID)
}

// fullRestart 清掉该 (org, username, year) 范围的全部既有数据，从零开始
func (c *ResumeController) fullRestart(run *model.AnalysisRun) error {
	runIDs, err := c.runRepo.RunIDsByScope(run.Org, run.Username, run.Year)
	if err != nil {
		return fmt.Errorf("list runs in scope: %w", err)
	}

	if err := c.unitRepo.DeleteByRunIDs(runIDs); err != nil {
		return fmt.Errorf("delete work units: %w", err)
	}
	if err := c.stageRepo.DeleteByRunIDs(runIDs); err != nil {
		return fmt.Errorf("delete stage results: %w", err)
	}
	if err := c.samplingRepo.DeleteByRunIDs(runIDs); err != nil {
		return fmt.Errorf("delete sampling results: %w", err)
	}
	if err := c.reportRepo.DeleteByScope(run.Org, run.Username, run.Year); err != nil {
		return fmt.Errorf("delete reports: %w", err)
	}
	if err := c.commitRepo.DeleteByScope(run.Org, run.Username, run.Year); err != nil {
		return fmt.Errorf("delete commits: %w", err)
	}

	_, err = c.runRepo.UpdateProgress(run.ID, func(p *model.RunProgress) {
		*p = model.RunProgress{}
	})
	if err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	log.Printf("Run %d: full restart, cleared %d prior runs in scope", run.ID, len(runIDs))
	return nil
}

// retryFailed 只清失败/部分仓库的提交并把它们打回 pending，成功仓库保留
func (c *ResumeController) retryFailed(run *model.AnalysisRun, repos []*model.Repository) error {
	byName := make(map[string]*model.Repository, len(repos))
	for _, r := range repos {
		byName[r.FullName] = r
	}

	retried := 0
	for fullName, rp := range run.Progress.Repos {
		if rp.Status != model.RepoStatusFailed && rp.Status != model.RepoStatusPartial {
			continue
		}
		repo, ok := byName[fullName]
		if !ok {
			continue
		}
		if err := c.commitRepo.DeleteByRepoUserYear(repo.ID, run.Username, run.Year); err != nil {
			return fmt.Errorf("delete commits for %s: %w", fullName, err)
		}
		retried++
	}

	_, err := c.runRepo.UpdateProgress(run.ID, func(p *model.RunProgress) {
		for _, rp := range p.Repos {
			if rp.Status == model.RepoStatusFailed || rp.Status == model.RepoStatusPartial {
				*rp = model.RepoProgress{Status: model.RepoStatusPending}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("reset failed repos: %w", err)
	}

	// 扫描之后的派生数据一律重建
	if err := c.dropDerived(run.ID); err != nil {
		return err
	}
	log.Printf("Run %d: retry mode, %d repos reset", run.ID, retried)
	return nil
}

// reconcile 恢复模式：以库里的提交为准对账快照。
// 已有该年度提交的仓库一律视为扫描完成，不看快照状态；
// 快照说 done 但落库数量不够的仓库打回 pending 重扫。
func (c *ResumeController) reconcile(run *model.AnalysisRun, repos []*model.Repository) error {
	promoted := make(map[string]int)
	stale := make([]string, 0)

	for _, repo := range repos {
		rp, ok := run.Progress.Repos[repo.FullName]
		if !ok {
			continue
		}
		count, err := c.commitRepo.CountByRepoUserYear(repo.ID, run.Username, run.Year)
		if err != nil {
			return fmt.Errorf("count commits for %s: %w", repo.FullName, err)
		}

		if rp.Status == model.RepoStatusDone {
			// upsert 幂等，库里比快照多不算异常，少了才说明快照超前
			if int(count) < rp.CommitCount {
				stale = append(stale, repo.FullName)
			}
			continue
		}
		if count > 0 {
			promoted[repo.FullName] = int(count)
		} else if rp.Status == model.RepoStatusScanning {
			// scanning 状态是上次进程死在半路留下的，也要重扫
			stale = append(stale, repo.FullName)
		}
	}

	if len(promoted) == 0 && len(stale) == 0 {
		return nil
	}

	_, err := c.runRepo.UpdateProgress(run.ID, func(p *model.RunProgress) {
		for name, count := range promoted {
			rp := p.Repo(name)
			rp.Status = model.RepoStatusDone
			rp.CommitCount = count
			rp.Error = ""
		}
		for _, name := range stale {
			*p.Repo(name) = model.RepoProgress{Status: model.RepoStatusPending}
		}
	})
	if err != nil {
		return fmt.Errorf("reconcile repos: %w", err)
	}
	log.Printf("Run %d: resume reconciliation promoted %d repos, reset %d repos", run.ID, len(promoted), len(stale))
	return nil
}

// dropDerived 清掉本 run 的工作单元、采样和阶段结果
func (c *ResumeController) dropDerived(runID int64) error {
	ids := []int64{runID}
	if err := c.unitRepo.DeleteByRunIDs(ids); err != nil {
		return fmt.Errorf("delete work units: %w", err)
	}
	if err := c.stageRepo.DeleteByRunIDs(ids); err != nil {
		return fmt.Errorf("delete stage results: %w", err)
	}
	if err := c.samplingRepo.DeleteByRunIDs(ids); err != nil {
		return fmt.Errorf("delete sampling results: %w", err)
	}
	return nil
}
