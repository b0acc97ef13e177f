package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/repository"
	"github.com/coolwithyou/review_go_server/internal/testutil"
)

func setupResume(t *testing.T, db *gorm.DB) *ResumeController {
	return NewResumeController(
		repository.NewRunRepository(db),
		repository.NewCommitRepository(db),
		repository.NewWorkUnitRepository(db),
		repository.NewStageRepository(db),
		repository.NewSamplingRepository(db),
		repository.NewReportRepository(db),
	)
}

func TestResume_Reconcile_ResetsStaleRepos(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	resumer := setupResume(t, db)

	api := testutil.TestRepo(t, db, "acme", "api")
	web := testutil.TestRepo(t, db, "acme", "web")
	cli := testutil.TestRepo(t, db, "acme", "cli")

	// api 快照说 3 条但库里只有 1 条；web 死在 scanning；cli 快照与库一致
	testutil.TestCommit(t, db, api.ID)
	testutil.TestCommit(t, db, cli.ID)

	run := testutil.TestRun(t, db, testutil.WithProgress(model.RunProgress{
		Repos: map[string]*model.RepoProgress{
			"acme/api": {Status: model.RepoStatusDone, CommitCount: 3},
			"acme/web": {Status: model.RepoStatusScanning},
			"acme/cli": {Status: model.RepoStatusDone, CommitCount: 1},
		},
	}))

	repos := []*model.Repository{api, web, cli}
	updated, err := resumer.Prepare(run, repos, model.RetryModeResume)
	require.NoError(t, err)

	assert.Equal(t, model.RepoStatusPending, updated.Progress.Repos["acme/api"].Status)
	assert.Equal(t, model.RepoStatusPending, updated.Progress.Repos["acme/web"].Status)
	assert.Equal(t, model.RepoStatusDone, updated.Progress.Repos["acme/cli"].Status)
	// 对账打回的仓库清空快照计数
	assert.Zero(t, updated.Progress.Repos["acme/api"].CommitCount)
}

func TestResume_Reconcile_PromotesReposWithPersistedCommits(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	resumer := setupResume(t, db)

	api := testutil.TestRepo(t, db, "acme", "api")
	web := testutil.TestRepo(t, db, "acme", "web")
	testutil.TestCommit(t, db, api.ID, testutil.WithSHA("a1"))
	testutil.TestCommit(t, db, api.ID, testutil.WithSHA("a2"))
	testutil.TestCommit(t, db, web.ID, testutil.WithSHA("w1"))

	// 提交已经落库的仓库，不管快照记的是什么状态都视为扫描完成
	run := testutil.TestRun(t, db, testutil.WithProgress(model.RunProgress{
		Repos: map[string]*model.RepoProgress{
			"acme/api": {Status: model.RepoStatusFailed, Error: "GitHub 接口持续不可用"},
			"acme/web": {Status: model.RepoStatusScanning},
		},
	}))

	updated, err := resumer.Prepare(run, []*model.Repository{api, web}, model.RetryModeResume)
	require.NoError(t, err)

	assert.Equal(t, model.RepoStatusDone, updated.Progress.Repos["acme/api"].Status)
	assert.Equal(t, 2, updated.Progress.Repos["acme/api"].CommitCount)
	assert.Empty(t, updated.Progress.Repos["acme/api"].Error)
	assert.Equal(t, model.RepoStatusDone, updated.Progress.Repos["acme/web"].Status)
	assert.Equal(t, 1, updated.Progress.Repos["acme/web"].CommitCount)
}

func TestResume_Reconcile_MoreCommitsThanSnapshotIsFine(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	resumer := setupResume(t, db)

	api := testutil.TestRepo(t, db, "acme", "api")
	testutil.TestCommit(t, db, api.ID, testutil.WithSHA("a"))
	testutil.TestCommit(t, db, api.ID, testutil.WithSHA("b"))

	run := testutil.TestRun(t, db, testutil.WithProgress(model.RunProgress{
		Repos: map[string]*model.RepoProgress{
			"acme/api": {Status: model.RepoStatusDone, CommitCount: 1},
		},
	}))

	updated, err := resumer.Prepare(run, []*model.Repository{api}, model.RetryModeResume)
	require.NoError(t, err)
	assert.Equal(t, model.RepoStatusDone, updated.Progress.Repos["acme/api"].Status)
}

func TestResume_Retry_ResetsFailedReposAndDropsDerived(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	resumer := setupResume(t, db)

	api := testutil.TestRepo(t, db, "acme", "api")
	web := testutil.TestRepo(t, db, "acme", "web")
	testutil.TestCommit(t, db, api.ID, testutil.WithSHA("keep"))
	testutil.TestCommit(t, db, web.ID, testutil.WithSHA("drop"))

	run := testutil.TestRun(t, db, testutil.WithProgress(model.RunProgress{
		Repos: map[string]*model.RepoProgress{
			"acme/api": {Status: model.RepoStatusDone, CommitCount: 1},
			"acme/web": {Status: model.RepoStatusFailed, Error: "GitHub 接口持续不可用"},
		},
	}))
	testutil.TestWorkUnit(t, db, run.ID, api.ID)

	updated, err := resumer.Prepare(run, []*model.Repository{api, web}, model.RetryModeRetry)
	require.NoError(t, err)

	assert.Equal(t, model.RepoStatusDone, updated.Progress.Repos["acme/api"].Status)
	assert.Equal(t, model.RepoStatusPending, updated.Progress.Repos["acme/web"].Status)
	assert.Empty(t, updated.Progress.Repos["acme/web"].Error)

	commitRepo := repository.NewCommitRepository(db)
	count, err := commitRepo.CountByRepoUserYear(api.ID, "alice", 2025)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	count, err = commitRepo.CountByRepoUserYear(web.ID, "alice", 2025)
	require.NoError(t, err)
	assert.Zero(t, count)

	// 扫描之后的派生数据要重建
	units, err := repository.NewWorkUnitRepository(db).CountByRun(run.ID)
	require.NoError(t, err)
	assert.Zero(t, units)
}

func TestResume_FullRestart_ClearsScope(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	resumer := setupResume(t, db)

	api := testutil.TestRepo(t, db, "acme", "api")
	testutil.TestCommit(t, db, api.ID)

	prior := testutil.TestRun(t, db, testutil.WithStatus(model.RunStatusFailed))
	testutil.TestWorkUnit(t, db, prior.ID, api.ID)

	run := testutil.TestRun(t, db, testutil.WithProgress(model.RunProgress{
		Phase:     "scanning_commits",
		Total:     3,
		Completed: 1,
		Repos: map[string]*model.RepoProgress{
			"acme/api": {Status: model.RepoStatusDone, CommitCount: 1},
		},
	}))

	require.NoError(t, repository.NewReportRepository(db).Create(&model.FinalReport{
		RunID: prior.ID, Org: "acme", Username: "alice", Year: 2025, Grade: "C",
	}))
	// 其他范围的数据不受波及
	other := testutil.TestRepo(t, db, "acme", "web")
	testutil.TestCommit(t, db, other.ID, testutil.WithAuthor("bob"))

	updated, err := resumer.Prepare(run, []*model.Repository{api}, model.RetryModeFullRestart)
	require.NoError(t, err)

	assert.Empty(t, updated.Progress.Repos)
	assert.Zero(t, updated.Progress.Total)
	assert.Empty(t, updated.Progress.Phase)

	commitRepo := repository.NewCommitRepository(db)
	count, err := commitRepo.CountByScope("acme", "alice", 2025)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = commitRepo.CountByScope("acme", "bob", 2025)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 同范围历史 run 的派生数据一并清掉
	units, err := repository.NewWorkUnitRepository(db).CountByRun(prior.ID)
	require.NoError(t, err)
	assert.Zero(t, units)

	report, err := repository.NewReportRepository(db).LatestByScope("acme", "alice", 2025)
	require.NoError(t, err)
	assert.Nil(t, report)
}
