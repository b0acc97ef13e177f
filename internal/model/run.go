package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// 运行状态，按流水线推进顺序排列
const (
	RunStatusQueued         = "queued"
	RunStatusScanningRepos  = "scanning_repos"
	RunStatusScanning       = "scanning_commits"
	RunStatusBuildingUnits  = "building_units"
	RunStatusAwaitingAI     = "awaiting_ai_confirmation"
	RunStatusReviewing      = "reviewing"
	RunStatusFinalizing     = "finalizing"
	RunStatusDone           = "done"
	RunStatusFailed         = "failed"
	RunStatusCancelled      = "cancelled"
)

// 重试模式
const (
	RetryModeResume      = "resume"
	RetryModeRetry       = "retry"
	RetryModeFullRestart = "full_restart"
)

// IsTerminal 是否为终态
func IsTerminalStatus(status string) bool {
	return status == RunStatusDone || status == RunStatusFailed || status == RunStatusCancelled
}

// IsActiveStatus 是否为进行中状态（不可删除）
func IsActiveStatus(status string) bool {
	switch status {
	case RunStatusScanningRepos, RunStatusScanning, RunStatusBuildingUnits,
		RunStatusReviewing, RunStatusFinalizing:
		return true
	}
	return false
}

// AnalysisRun 一次年度提交分析任务
type AnalysisRun struct {
	ID          int64       `gorm:"primaryKey" json:"id"`
	Org         string      `gorm:"size:100;not null;index:idx_run_scope" json:"org"`
	Username    string      `gorm:"size:100;not null;index:idx_run_scope" json:"username"`
	Year        int         `gorm:"not null;index:idx_run_scope" json:"year"`
	Status      string      `gorm:"size:32;default:queued;index" json:"status"`
	Progress    RunProgress `gorm:"type:json" json:"progress"`
	ErrorMsg    string      `gorm:"type:text" json:"error,omitempty"`
	SkipAI      bool        `gorm:"default:false" json:"skip_ai_review"`
	CreatedAt   time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func (AnalysisRun) TableName() string {
	return "analysis_runs"
}

// 仓库扫描状态
const (
	RepoStatusPending  = "pending"
	RepoStatusScanning = "scanning"
	RepoStatusDone     = "done"
	RepoStatusPartial  = "partial"
	RepoStatusFailed   = "failed"
)

// UserScanState 单个用户在某仓库内的扫描结果
type UserScanState struct {
	Status      string `json:"status"`
	CommitCount int    `json:"commit_count"`
	Error       string `json:"error,omitempty"`
}

// RepoProgress 单仓库扫描进度，嵌入 RunProgress
type RepoProgress struct {
	Status      string                   `json:"status"`
	CommitCount int                      `json:"commit_count"`
	Users       map[string]UserScanState `json:"users,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// ClusteringProgress 聚类阶段进度
type ClusteringProgress struct {
	ReposDone  int `json:"repos_done"`
	ReposTotal int `json:"repos_total"`
	Units      int `json:"units"`
}

// RunProgress 任务进度快照，存为 JSON 列。
// 并发写入必须 read-modify-write 最新行，禁止基于过期副本覆盖。
type RunProgress struct {
	Phase       string                   `json:"phase"`
	Total       int                      `json:"total"`
	Completed   int                      `json:"completed"`
	Failed      int                      `json:"failed"`
	CurrentRepo string                   `json:"current_repo,omitempty"`
	Message     string                   `json:"message,omitempty"`
	Repos       map[string]*RepoProgress `json:"repos,omitempty"`
	Clustering  *ClusteringProgress      `json:"clustering,omitempty"`
}

func (p RunProgress) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *RunProgress) Scan(value interface{}) error {
	return scanJSON(value, p)
}

// Repo 返回指定仓库的进度条目，不存在则初始化
func (p *RunProgress) Repo(fullName string) *RepoProgress {
	if p.Repos == nil {
		p.Repos = make(map[string]*RepoProgress)
	}
	rp, ok := p.Repos[fullName]
	if !ok {
		rp = &RepoProgress{Status: RepoStatusPending}
		p.Repos[fullName] = rp
	}
	return rp
}
