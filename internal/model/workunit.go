package model

import (
	"time"
)

// 工作单元类型，按提交信息关键词推断
const (
	WorkTypeFeature  = "feature"
	WorkTypeBugfix   = "bugfix"
	WorkTypeRefactor = "refactor"
	WorkTypeDocs     = "docs"
	WorkTypeTest     = "test"
	WorkTypeStyle    = "style"
	WorkTypeChore    = "chore"
	WorkTypeUnknown  = "unknown"
)

// WorkUnit 一个用户在一个仓库内按时间和路径相似度聚出的一段连贯工作。
// 同一 run 内每个提交恰好属于一个 WorkUnit（划分而非覆盖）。
type WorkUnit struct {
	ID               int64         `gorm:"primaryKey" json:"id"`
	RunID            int64         `gorm:"not null;index" json:"run_id"`
	RepoID           int64         `gorm:"not null;index" json:"repo_id"`
	RepoName         string        `gorm:"size:300;not null" json:"repo_name"`
	Username         string        `gorm:"size:100;not null" json:"username"`
	CommitSHAs       StringArray   `gorm:"type:json" json:"commit_shas"`
	CommitCount      int           `json:"commit_count"`
	FirstMessage     string        `gorm:"size:500" json:"first_message,omitempty"`
	StartAt          time.Time     `json:"start_at"`
	EndAt            time.Time     `json:"end_at"`
	Additions        int           `json:"additions"`
	Deletions        int           `json:"deletions"`
	PrimaryPaths     StringArray   `gorm:"type:json" json:"primary_paths"`
	WorkType         string        `gorm:"size:20;default:unknown" json:"work_type"`
	ImpactScore      float64       `json:"impact_score"`
	ImpactFactors    ImpactFactors `gorm:"type:json" json:"impact_factors"`
	IsSampled        bool          `gorm:"default:false;index" json:"is_sampled"`
	SamplingReason   string        `gorm:"type:text" json:"sampling_reason,omitempty"`
	SamplingCategory string        `gorm:"size:50" json:"sampling_category,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

func (WorkUnit) TableName() string {
	return "work_units"
}
