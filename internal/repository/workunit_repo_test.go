package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/testutil"
)

func TestWorkUnitRepository_SamplingLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewWorkUnitRepository(db)

	run := testutil.TestRun(t, db)
	gitRepo := testutil.TestRepo(t, db, "acme", "api")

	a := testutil.TestWorkUnit(t, db, run.ID, gitRepo.ID, testutil.WithImpact(20))
	b := testutil.TestWorkUnit(t, db, run.ID, gitRepo.ID, testutil.WithImpact(8))

	require.NoError(t, repo.MarkSampled(a.ID, "AI 评估为该仓库的代表性工作", "ai_selected"))

	sampled, err := repo.ListSampledByRun(run.ID)
	require.NoError(t, err)
	require.Len(t, sampled, 1)
	assert.Equal(t, a.ID, sampled[0].ID)
	assert.Equal(t, "ai_selected", sampled[0].SamplingCategory)

	count, err := repo.CountSampledByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 重新采样前清除标记
	require.NoError(t, repo.ClearSampling(run.ID))
	count, err = repo.CountSampledByRun(run.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	total, err := repo.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	_ = b
}

func TestWorkUnitRepository_ListSampledOrderedByImpact(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewWorkUnitRepository(db)

	run := testutil.TestRun(t, db)
	gitRepo := testutil.TestRepo(t, db, "acme", "api")

	low := testutil.TestWorkUnit(t, db, run.ID, gitRepo.ID,
		testutil.WithImpact(5), testutil.WithSampled("heuristic_all"))
	high := testutil.TestWorkUnit(t, db, run.ID, gitRepo.ID,
		testutil.WithImpact(30), testutil.WithSampled("ai_selected"))

	sampled, err := repo.ListSampledByRun(run.ID)
	require.NoError(t, err)
	require.Len(t, sampled, 2)
	assert.Equal(t, high.ID, sampled[0].ID)
	assert.Equal(t, low.ID, sampled[1].ID)
}

func TestWorkUnitRepository_DeleteByRun(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewWorkUnitRepository(db)

	run := testutil.TestRun(t, db)
	other := testutil.TestRun(t, db, testutil.WithScope("acme", "bob", 2025))
	gitRepo := testutil.TestRepo(t, db, "acme", "api")

	testutil.TestWorkUnit(t, db, run.ID, gitRepo.ID)
	kept := testutil.TestWorkUnit(t, db, other.ID, gitRepo.ID)

	require.NoError(t, repo.DeleteByRun(run.ID))

	count, err := repo.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	units, err := repo.ListByRun(other.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, kept.ID, units[0].ID)
}

func TestWorkUnitRepository_DeleteByRunIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewWorkUnitRepository(db)

	run := testutil.TestRun(t, db)
	gitRepo := testutil.TestRepo(t, db, "acme", "api")
	testutil.TestWorkUnit(t, db, run.ID, gitRepo.ID)

	// 空列表是 no-op，不能生成非法 SQL
	require.NoError(t, repo.DeleteByRunIDs(nil))

	require.NoError(t, repo.DeleteByRunIDs([]int64{run.ID}))
	count, err := repo.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWorkUnitRepository_BatchCreate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewWorkUnitRepository(db)

	require.NoError(t, repo.BatchCreate(nil))

	run := testutil.TestRun(t, db)
	units := []*model.WorkUnit{
		{RunID: run.ID, RepoID: 1, RepoName: "acme/api", Username: "alice", WorkType: model.WorkTypeFeature},
		{RunID: run.ID, RepoID: 1, RepoName: "acme/api", Username: "alice", WorkType: model.WorkTypeBugfix},
	}
	require.NoError(t, repo.BatchCreate(units))
	assert.NotZero(t, units[0].ID)

	count, err := repo.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
