package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/coolwithyou/review_go_server/internal/model"
)

// TestRun 创建测试分析任务
func TestRun(t *testing.T, db *gorm.DB, opts ...func(*model.AnalysisRun)) *model.AnalysisRun {
	t.Helper()

	run := &model.AnalysisRun{
		Org:      "acme",
		Username: "alice",
		Year:     2025,
		Status:   model.RunStatusQueued,
	}

	for _, opt := range opts {
		opt(run)
	}

	if err := db.Create(run).Error; err != nil {
		t.Fatalf("Failed to create test run: %v", err)
	}

	return run
}

// WithScope 设置任务范围
func WithScope(org, username string, year int) func(*model.AnalysisRun) {
	return func(r *model.AnalysisRun) {
		r.Org = org
		r.Username = username
		r.Year = year
	}
}

// WithStatus 设置任务状态
func WithStatus(status string) func(*model.AnalysisRun) {
	return func(r *model.AnalysisRun) {
		r.Status = status
	}
}

// WithProgress 设置进度快照
func WithProgress(progress model.RunProgress) func(*model.AnalysisRun) {
	return func(r *model.AnalysisRun) {
		r.Progress = progress
	}
}

// WithSkipAI 跳过 AI 评审
func WithSkipAI(skip bool) func(*model.AnalysisRun) {
	return func(r *model.AnalysisRun) {
		r.SkipAI = skip
	}
}

// TestRepo 创建测试仓库
func TestRepo(t *testing.T, db *gorm.DB, org, name string) *model.Repository {
	t.Helper()

	repo := &model.Repository{
		Org:           org,
		Name:          name,
		FullName:      org + "/" + name,
		DefaultBranch: "main",
	}

	if err := db.Create(repo).Error; err != nil {
		t.Fatalf("Failed to create test repo: %v", err)
	}

	return repo
}

// TestCommit 创建测试提交
func TestCommit(t *testing.T, db *gorm.DB, repoID int64, opts ...func(*model.Commit)) *model.Commit {
	t.Helper()

	commit := &model.Commit{
		RepoID:      repoID,
		SHA:         fmt.Sprintf("%040d", time.Now().UnixNano()%1e12),
		Org:         "acme",
		Author:      "alice",
		Message:     "feat: add something",
		CommittedAt: time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
		Additions:   50,
		Deletions:   10,
		Files: model.FileChangeList{
			{Path: "internal/api/server.go", Additions: 50, Deletions: 10, Status: "modified"},
		},
	}

	for _, opt := range opts {
		opt(commit)
	}

	if err := db.Create(commit).Error; err != nil {
		t.Fatalf("Failed to create test commit: %v", err)
	}

	return commit
}

// WithSHA 设置提交哈希
func WithSHA(sha string) func(*model.Commit) {
	return func(c *model.Commit) {
		c.SHA = sha
	}
}

// WithAuthor 设置作者
func WithAuthor(author string) func(*model.Commit) {
	return func(c *model.Commit) {
		c.Author = author
	}
}

// WithMessage 设置提交信息
func WithMessage(msg string) func(*model.Commit) {
	return func(c *model.Commit) {
		c.Message = msg
	}
}

// WithCommittedAt 设置提交时间
func WithCommittedAt(at time.Time) func(*model.Commit) {
	return func(c *model.Commit) {
		c.CommittedAt = at
	}
}

// WithFiles 设置变更文件
func WithFiles(files model.FileChangeList) func(*model.Commit) {
	return func(c *model.Commit) {
		c.Files = files
		c.Additions = 0
		c.Deletions = 0
		for _, f := range files {
			c.Additions += f.Additions
			c.Deletions += f.Deletions
		}
	}
}

// TestWorkUnit 创建测试工作单元
func TestWorkUnit(t *testing.T, db *gorm.DB, runID, repoID int64, opts ...func(*model.WorkUnit)) *model.WorkUnit {
	t.Helper()

	unit := &model.WorkUnit{
		RunID:        runID,
		RepoID:       repoID,
		RepoName:     "acme/api",
		Username:     "alice",
		CommitSHAs:   model.StringArray{fmt.Sprintf("%040d", time.Now().UnixNano()%1e12)},
		CommitCount:  1,
		FirstMessage: "feat: add something",
		StartAt:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		EndAt:        time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC),
		Additions:    100,
		Deletions:    20,
		PrimaryPaths: model.StringArray{"internal/api"},
		WorkType:     model.WorkTypeFeature,
		ImpactScore:  12.5,
	}

	for _, opt := range opts {
		opt(unit)
	}

	if err := db.Create(unit).Error; err != nil {
		t.Fatalf("Failed to create test work unit: %v", err)
	}

	return unit
}

// WithRepoName 设置仓库名
func WithRepoName(name string) func(*model.WorkUnit) {
	return func(u *model.WorkUnit) {
		u.RepoName = name
	}
}

// WithImpact 设置影响力分数
func WithImpact(score float64) func(*model.WorkUnit) {
	return func(u *model.WorkUnit) {
		u.ImpactScore = score
	}
}

// WithWorkType 设置工作类型
func WithWorkType(workType string) func(*model.WorkUnit) {
	return func(u *model.WorkUnit) {
		u.WorkType = workType
	}
}

// WithSampled 标记为已采样
func WithSampled(category string) func(*model.WorkUnit) {
	return func(u *model.WorkUnit) {
		u.IsSampled = true
		u.SamplingCategory = category
	}
}
