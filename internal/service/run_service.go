package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/model/dto"
	"github.com/coolwithyou/review_go_server/internal/pkg/queue"
	"github.com/coolwithyou/review_go_server/internal/repository"
)

var (
	ErrRunNotFound    = errors.New("分析任务不存在")
	ErrRunActive      = errors.New("同一范围已有进行中的任务，请等待完成或取消后重试")
	ErrRunNotRetrying = errors.New("只有失败或已取消的任务可以重试")
	ErrRunNotAwaiting = errors.New("任务不在等待确认状态")
	ErrRunInProgress  = errors.New("任务进行中，无法删除，请先取消")
	ErrReportNotReady = errors.New("报告尚未生成")
	ErrInvalidMode    = errors.New("无效的重试模式")
	ErrCannotCancel   = errors.New("任务已结束，无法取消")
)

// 单元评审的 token 预估，供确认页展示费用
const (
	estTokensPerUnit = 2500
	estTokensPerUser = 6000 // Stage 2-4 合计
)

type RunService struct {
	runRepo      *repository.RunRepository
	commitRepo   *repository.CommitRepository
	unitRepo     *repository.WorkUnitRepository
	stageRepo    *repository.StageRepository
	samplingRepo *repository.SamplingRepository
	reportRepo   *repository.ReportRepository
	queue        *queue.Queue
	cfg          *config.Config
}

func NewRunService(
	runRepo *repository.RunRepository,
	commitRepo *repository.CommitRepository,
	unitRepo *repository.WorkUnitRepository,
	stageRepo *repository.StageRepository,
	samplingRepo *repository.SamplingRepository,
	reportRepo *repository.ReportRepository,
	q *queue.Queue,
	cfg *config.Config,
) *RunService {
	return &RunService{
		runRepo:      runRepo,
		commitRepo:   commitRepo,
		unitRepo:     unitRepo,
		stageRepo:    stageRepo,
		samplingRepo: samplingRepo,
		reportRepo:   reportRepo,
		queue:        q,
		cfg:          cfg,
	}
}

// Create 创建分析任务并入队。同一 (org, username, year) 只允许一个进行中的任务。
func (s *RunService) Create(ctx context.Context, req *dto.CreateRunRequest) (*dto.CreateRunResponse, error) {
	active, err := s.runRepo.ActiveByScope(req.Org, req.Username, req.Year)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrRunActive
	}

	run := &model.AnalysisRun{
		Org:      req.Org,
		Username: req.Username,
		Year:     req.Year,
		Status:   model.RunStatusQueued,
	}
	if err := s.runRepo.Create(run); err != nil {
		return nil, err
	}

	if err := s.queue.Push(ctx, &queue.RunMessage{
		RunID:    run.ID,
		Org:      run.Org,
		Username: run.Username,
		Year:     run.Year,
		Mode:     model.RetryModeResume,
	}); err != nil {
		// 入队失败直接标记，避免任务悬在 queued 状态
		s.runRepo.SetFailed(run.ID, "任务入队失败: "+err.Error())
		return nil, err
	}

	return &dto.CreateRunResponse{RunID: run.ID}, nil
}

// List 分页获取任务列表
func (s *RunService) List(page, pageSize int, status string) ([]*dto.RunListItem, int64, error) {
	runs, total, err := s.runRepo.List(page, pageSize, status)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.RunListItem, len(runs))
	for i, r := range runs {
		items[i] = &dto.RunListItem{
			ID:          r.ID,
			Org:         r.Org,
			Username:    r.Username,
			Year:        r.Year,
			Status:      r.Status,
			CreatedAt:   r.CreatedAt,
			CompletedAt: r.CompletedAt,
		}
	}
	return items, total, nil
}

// GetDetail 获取任务详情
func (s *RunService) GetDetail(runID int64) (*dto.RunDetail, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	return &dto.RunDetail{
		RunListItem: dto.RunListItem{
			ID:          run.ID,
			Org:         run.Org,
			Username:    run.Username,
			Year:        run.Year,
			Status:      run.Status,
			CreatedAt:   run.CreatedAt,
			CompletedAt: run.CompletedAt,
		},
		Progress: run.Progress,
		Error:    run.ErrorMsg,
		SkipAI:   run.SkipAI,
	}, nil
}

// GetStatus 轮询用状态查询
func (s *RunService) GetStatus(runID int64) (*dto.RunStatusResponse, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	return &dto.RunStatusResponse{
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.Progress,
		Error:    run.ErrorMsg,
	}, nil
}

// Cancel 请求取消。
// worker 在工作单元边界检查取消标记；不在 worker 手里的任务直接落终态。
func (s *RunService) Cancel(ctx context.Context, runID int64) error {
	run, err := s.getRun(runID)
	if err != nil {
		return err
	}
	if model.IsTerminalStatus(run.Status) {
		return ErrCannotCancel
	}

	if err := s.queue.RequestCancel(ctx, runID); err != nil {
		return err
	}

	// queued 和等待确认的任务没有 worker 在跑，这里直接收尾
	if run.Status == model.RunStatusQueued || run.Status == model.RunStatusAwaitingAI {
		if err := s.runRepo.UpdateStatus(runID, model.RunStatusCancelled); err != nil {
			return err
		}
		s.queue.ClearCancel(ctx, runID)
	}
	return nil
}

// Retry 失败或已取消的任务按指定模式重跑
func (s *RunService) Retry(ctx context.Context, runID int64, mode string) error {
	switch mode {
	case model.RetryModeResume, model.RetryModeRetry, model.RetryModeFullRestart:
	default:
		return ErrInvalidMode
	}

	run, err := s.getRun(runID)
	if err != nil {
		return err
	}
	if run.Status != model.RunStatusFailed && run.Status != model.RunStatusCancelled {
		return ErrRunNotRetrying
	}

	run.Status = model.RunStatusQueued
	run.ErrorMsg = ""
	run.CompletedAt = nil
	if err := s.runRepo.Update(run); err != nil {
		return err
	}

	return s.queue.Push(ctx, &queue.RunMessage{
		RunID:    run.ID,
		Org:      run.Org,
		Username: run.Username,
		Year:     run.Year,
		Mode:     mode,
	})
}

// Delete 删除任务及其派生数据，进行中的任务不允许删除
func (s *RunService) Delete(runID int64) error {
	run, err := s.getRun(runID)
	if err != nil {
		return err
	}
	if model.IsActiveStatus(run.Status) {
		return ErrRunInProgress
	}

	ids := []int64{runID}
	if err := s.unitRepo.DeleteByRunIDs(ids); err != nil {
		return err
	}
	if err := s.stageRepo.DeleteByRunIDs(ids); err != nil {
		return err
	}
	if err := s.samplingRepo.DeleteByRunIDs(ids); err != nil {
		return err
	}
	if err := s.reportRepo.DeleteByRunIDs(ids); err != nil {
		return err
	}
	return s.runRepo.Delete(runID)
}

// GetConfirmation 确认页信息：采样规模和费用预估
func (s *RunService) GetConfirmation(runID int64) (*dto.ConfirmationInfo, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusAwaitingAI {
		return nil, ErrRunNotAwaiting
	}

	sampledCount, err := s.unitRepo.CountSampledByRun(runID)
	if err != nil {
		return nil, err
	}
	unitCount, err := s.unitRepo.CountByRun(runID)
	if err != nil {
		return nil, err
	}
	commitCount, err := s.commitRepo.CountByScope(run.Org, run.Username, run.Year)
	if err != nil {
		return nil, err
	}

	tokens := int(sampledCount)*estTokensPerUnit + estTokensPerUser
	return &dto.ConfirmationInfo{
		SampleCount:     int(sampledCount),
		TotalCommits:    commitCount,
		TotalWorkUnits:  unitCount,
		EstimatedTokens: tokens,
		EstimatedCost:   float64(tokens) / 1000 * s.cfg.LLM.PricePer1KToken,
	}, nil
}

// Confirm 确认进入 AI 评审（或跳过），任务重新入队继续推进
func (s *RunService) Confirm(ctx context.Context, runID int64, req *dto.ConfirmRequest) error {
	run, err := s.getRun(runID)
	if err != nil {
		return err
	}
	if run.Status != model.RunStatusAwaitingAI {
		return ErrRunNotAwaiting
	}

	run.SkipAI = req.SkipAIReview
	run.Status = model.RunStatusReviewing
	if err := s.runRepo.Update(run); err != nil {
		return err
	}

	return s.queue.Push(ctx, &queue.RunMessage{
		RunID:    run.ID,
		Org:      run.Org,
		Username: run.Username,
		Year:     run.Year,
		Mode:     model.RetryModeResume,
	})
}

// GetReport 获取最终报告
func (s *RunService) GetReport(runID int64) (*model.FinalReport, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusDone {
		return nil, ErrReportNotReady
	}

	report, err := s.reportRepo.LatestByRun(runID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, ErrReportNotReady
	}
	return report, nil
}

func (s *RunService) getRun(runID int64) (*model.AnalysisRun, error) {
	run, err := s.runRepo.GetByID(runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}
