package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/model/dto"
	"github.com/coolwithyou/review_go_server/internal/pkg/queue"
	"github.com/coolwithyou/review_go_server/internal/repository"
	"github.com/coolwithyou/review_go_server/internal/testutil"
)

func setupRunService(t *testing.T, db *gorm.DB) (*RunService, *queue.Queue) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := queue.NewQueue(client, "test_run_queue")

	cfg := &config.Config{}
	cfg.LLM.PricePer1KToken = 0.01

	svc := NewRunService(
		repository.NewRunRepository(db),
		repository.NewCommitRepository(db),
		repository.NewWorkUnitRepository(db),
		repository.NewStageRepository(db),
		repository.NewSamplingRepository(db),
		repository.NewReportRepository(db),
		q,
		cfg,
	)
	return svc, q
}

func TestRunService_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	svc, q := setupRunService(t, db)
	ctx := context.Background()

	resp, err := svc.Create(ctx, &dto.CreateRunRequest{Org: "acme", Username: "alice", Year: 2025})
	require.NoError(t, err)
	require.NotZero(t, resp.RunID)

	detail, err := svc.GetDetail(resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, detail.Status)

	// 任务已入队，模式为 resume
	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, resp.RunID, msg.RunID)
	assert.Equal(t, model.RetryModeResume, msg.Mode)
}

func TestRunService_Create_DuplicateActiveScope(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	svc, _ := setupRunService(t, db)
	ctx := context.Background()

	_, err := svc.Create(ctx, &dto.CreateRunRequest{Org: "acme", Username: "alice", Year: 2025})
	require.NoError(t, err)

	_, err = svc.Create(ctx, &dto.CreateRunRequest{Org: "acme", Username: "alice", Year: 2025})
	assert.ErrorIs(t, err, ErrRunActive)

	// 前一个结束后可再次创建
	testutil.TestRun(t, db, testutil.WithScope("acme", "bob", 2025), testutil.WithStatus(model.RunStatusDone))
	_, err = svc.Create(ctx, &dto.CreateRunRequest{Org: "acme", Username: "bob", Year: 2025})
	assert.NoError(t, err)
}

func TestRunService_GetDetail_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	svc, _ := setupRunService(t, db)

	_, err := svc.GetDetail(99999)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunService_List(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	svc, _ := setupRunService(t, db)

	testutil.TestRun(t, db)
	testutil.TestRun(t, db, testutil.WithScope("acme", "bob", 2025), testutil.WithStatus(model.RunStatusDone))

	items, total, err := svc.List(1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, items, 2)

	done, total, err := svc.List(1, 10, model.RunStatusDone)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "bob", done[0].Username)
}

func TestRunService_Cancel(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	svc, q := setupRunService(t, db)
	ctx := context.Background()

	// queued 没有 worker 在跑，直接落终态
	queued := testutil.TestRun(t, db)
	require.NoError(t, svc.Cancel(ctx, queued.ID))
	detail, err := svc.GetDetail(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, detail.Status)
	assert.False(t, q.IsCancelRequested(ctx, queued.ID))

	// 扫描中的任务只打标记，由 worker 在边界收尾
	scanning := testutil.TestRun(t, db,
		testutil.WithScope("acme", "bob", 2025),
		testutil.WithStatus(model.RunStatusScanning))
	require.NoError(t, svc.Cancel(ctx, scanning.ID))
	detail, err = svc.GetDetail(scanning.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusScanning, detail.Status)
	assert.True(t, q.IsCancelRequested(ctx, scanning.ID))

	// 终态不可取消
	done := testutil.TestRun(t, db,
		testutil.WithScope("acme", "carol", 2025),
		testutil.WithStatus(model.RunStatusDone))
	assert.ErrorIs(t, svc.Cancel(ctx, done.ID), ErrCannotCancel)
}

func TestRunService_Retry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	svc, q := setupRunService(t, db)
	ctx := context.Background()

	failed := testutil.TestRun(t, db, testutil.WithStatus(model.RunStatusFailed))

	assert.ErrorIs(t, svc.Retry(ctx, failed.ID, "whatever"), ErrInvalidMode)

	require.NoError(t, svc.Retry(ctx, failed.ID, model.RetryModeRetry))
	detail, err := svc.GetDetail(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, detail.Status)
	assert.Empty(t, detail.Error)

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.RetryModeRetry, msg.Mode)

	// 进行中的任务不能重试
	reviewing := testutil.TestRun(t, db,
		testutil.WithScope("acme", "bob", 2025),
		testutil.WithStatus(model.RunStatusReviewing))
	assert.ErrorIs(t, svc.Retry(ctx, reviewing.ID, model.RetryModeResume), ErrRunNotRetrying)
}

func TestRunService_Delete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	svc, _ := setupRunService(t, db)

	active := testutil.TestRun(t, db, testutil.WithStatus(model.RunStatusScanning))
	assert.ErrorIs(t, svc.Delete(active.ID), ErrRunInProgress)

	failed := testutil.TestRun(t, db,
		testutil.WithScope("acme", "bob", 2025),
		testutil.WithStatus(model.RunStatusFailed))
	gitRepo := testutil.TestRepo(t, db, "acme", "api")
	unit := testutil.TestWorkUnit(t, db, failed.ID, gitRepo.ID)
	require.NoError(t, repository.NewStageRepository(db).Create(&model.StageResult{
		RunID: failed.ID, Stage: model.StageCodeQuality,
		SubjectType: model.SubjectWorkUnit, SubjectID: unit.ID,
		PromptVersion: "v1", Payload: "{}",
	}))
	require.NoError(t, repository.NewReportRepository(db).Create(&model.FinalReport{
		RunID: failed.ID, Org: "acme", Username: "bob", Year: 2025,
		OverallScore: 5.0, Grade: "D", Summary: "草稿",
	}))

	require.NoError(t, svc.Delete(failed.ID))
	_, err := svc.GetDetail(failed.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)

	count, err := repository.NewWorkUnitRepository(db).CountByRun(failed.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// 阶段结果和最终报告一并清掉，不留孤儿行
	stages, err := repository.NewStageRepository(db).LatestStage1ByRun(failed.ID)
	require.NoError(t, err)
	assert.Empty(t, stages)
	report, err := repository.NewReportRepository(db).LatestByRun(failed.ID)
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestRunService_Confirmation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	svc, q := setupRunService(t, db)
	ctx := context.Background()

	run := testutil.TestRun(t, db, testutil.WithStatus(model.RunStatusAwaitingAI))
	gitRepo := testutil.TestRepo(t, db, "acme", "api")
	testutil.TestWorkUnit(t, db, run.ID, gitRepo.ID, testutil.WithSampled("ai_selected"))
	testutil.TestWorkUnit(t, db, run.ID, gitRepo.ID, testutil.WithSampled("heuristic_all"))
	testutil.TestWorkUnit(t, db, run.ID, gitRepo.ID)
	testutil.TestCommit(t, db, gitRepo.ID)

	info, err := svc.GetConfirmation(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.SampleCount)
	assert.Equal(t, int64(3), info.TotalWorkUnits)
	assert.Equal(t, int64(1), info.TotalCommits)
	// 2*2500 + 6000
	assert.Equal(t, 11000, info.EstimatedTokens)
	assert.InDelta(t, 0.11, info.EstimatedCost, 1e-9)

	// 确认后状态推进并重新入队
	require.NoError(t, svc.Confirm(ctx, run.ID, &dto.ConfirmRequest{SkipAIReview: true}))
	detail, err := svc.GetDetail(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusReviewing, detail.Status)
	assert.True(t, detail.SkipAI)

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, run.ID, msg.RunID)

	// 非等待状态拿不到确认页
	_, err = svc.GetConfirmation(run.ID)
	assert.ErrorIs(t, err, ErrRunNotAwaiting)
	assert.ErrorIs(t, svc.Confirm(ctx, run.ID, &dto.ConfirmRequest{}), ErrRunNotAwaiting)
}

func TestRunService_GetReport(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	svc, _ := setupRunService(t, db)

	run := testutil.TestRun(t, db, testutil.WithStatus(model.RunStatusReviewing))
	_, err := svc.GetReport(run.ID)
	assert.ErrorIs(t, err, ErrReportNotReady)

	require.NoError(t, db.Model(run).Update("status", model.RunStatusDone).Error)
	// done 但报告缺失同样报未就绪
	_, err = svc.GetReport(run.ID)
	assert.ErrorIs(t, err, ErrReportNotReady)

	require.NoError(t, repository.NewReportRepository(db).Create(&model.FinalReport{
		RunID: run.ID, Org: "acme", Username: "alice", Year: 2025,
		OverallScore: 7.4, Grade: "B", Summary: "年度总结",
	}))

	report, err := svc.GetReport(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", report.Grade)
}
