package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// AI 评审阶段编号
const (
	StageCodeQuality = 1 // 按采样 WorkUnit 的代码质量评审
	StageWorkPattern = 2 // 按用户的工作模式归纳
	StageGrowth      = 3 // 成长点建议
	StageFinal       = 4 // 年度总评
)

// StageResult 评审阶段结果。只追加、带版本，修正以新行落库，
// “当前结果”取同 (subject, stage) 下 created_at 最新的一条。
type StageResult struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	RunID         int64     `gorm:"not null;index" json:"run_id"`
	Stage         int       `gorm:"not null;index:idx_stage_subject" json:"stage"`
	SubjectType   string    `gorm:"size:20;not null;index:idx_stage_subject" json:"subject_type"` // work_unit / user
	SubjectID     int64     `gorm:"not null;index:idx_stage_subject" json:"subject_id"`
	PromptVersion string    `gorm:"size:20;not null" json:"prompt_version"`
	Payload       string    `gorm:"type:json;not null" json:"payload"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (StageResult) TableName() string {
	return "stage_results"
}

// 阶段结果主体类型
const (
	SubjectWorkUnit = "work_unit"
	SubjectUser     = "user"
)

// Selection 采样选中的一个 WorkUnit 及原因
type Selection struct {
	WorkUnitID int64  `json:"work_unit_id"`
	Reason     string `json:"reason"`
	Category   string `json:"category"`
}

type SelectionList []Selection

func (l SelectionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

func (l *SelectionList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// RepoSampleSummary 单仓库采样汇总，供报告展示
type RepoSampleSummary struct {
	RepoName      string         `json:"repo_name"`
	UnitCount     int            `json:"unit_count"`
	SampledCount  int            `json:"sampled_count"`
	AvgImpact     float64        `json:"avg_impact"`
	WorkTypes     map[string]int `json:"work_types"`
	SamplingNote  string         `json:"sampling_note"`
}

type RepoSampleSummaryList []RepoSampleSummary

func (l RepoSampleSummaryList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

func (l *RepoSampleSummaryList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// SamplingResult 一次 run 的采样结果（阶段0），Stage 1 的输入
type SamplingResult struct {
	ID         int64                 `gorm:"primaryKey" json:"id"`
	RunID      int64                 `gorm:"not null;index" json:"run_id"`
	Selections SelectionList         `gorm:"type:json" json:"selections"`
	Summaries  RepoSampleSummaryList `gorm:"type:json" json:"summaries"`
	CreatedAt  time.Time             `json:"created_at"`
}

func (SamplingResult) TableName() string {
	return "sampling_results"
}
