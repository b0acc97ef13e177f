package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// DimensionScores 五维加权评估
type DimensionScores struct {
	Productivity  float64 `json:"productivity"`
	CodeQuality   float64 `json:"code_quality"`
	Diversity     float64 `json:"diversity"`
	Collaboration float64 `json:"collaboration"`
	Growth        float64 `json:"growth"`
}

func (d DimensionScores) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *DimensionScores) Scan(value interface{}) error {
	return scanJSON(value, d)
}

// ActionItem 行动项，带优先级和期限
type ActionItem struct {
	Title    string `json:"title"`
	Priority string `json:"priority"` // high / medium / low
	Deadline string `json:"deadline,omitempty"`
}

type ActionItemList []ActionItem

func (l ActionItemList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

func (l *ActionItemList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// FinalReport 年度评审报告，Stage 4 的落库结果
type FinalReport struct {
	ID           int64           `gorm:"primaryKey" json:"id"`
	RunID        int64           `gorm:"not null;index" json:"run_id"`
	Org          string          `gorm:"size:100;not null;index:idx_report_scope" json:"org"`
	Username     string          `gorm:"size:100;not null;index:idx_report_scope" json:"username"`
	Year         int             `gorm:"not null;index:idx_report_scope" json:"year"`
	OverallScore float64         `json:"overall_score"`
	Grade        string          `gorm:"size:2" json:"grade"`
	Summary      string          `gorm:"type:text" json:"summary"`
	Dimensions   DimensionScores `gorm:"type:json" json:"dimensions"`
	Achievements StringArray     `gorm:"type:json" json:"achievements"`
	Improvements StringArray     `gorm:"type:json" json:"improvements"`
	ActionItems  ActionItemList  `gorm:"type:json" json:"action_items"`
	ArtifactURL  string          `gorm:"size:500" json:"artifact_url,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (FinalReport) TableName() string {
	return "final_reports"
}
