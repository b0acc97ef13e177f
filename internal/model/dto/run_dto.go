package dto

import (
	"time"

	"github.com/coolwithyou/review_go_server/internal/model"
)

// CreateRunRequest 创建分析任务
type CreateRunRequest struct {
	Org      string `json:"org" binding:"required"`
	Username string `json:"username" binding:"required"`
	Year     int    `json:"year" binding:"required"`
}

// CreateRunResponse 创建结果
type CreateRunResponse struct {
	RunID int64 `json:"run_id"`
}

// RetryRequest 重试请求，mode 取 resume / retry / full_restart
type RetryRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// ConfirmRequest AI 评审确认
type ConfirmRequest struct {
	SkipAIReview bool `json:"skip_ai_review"`
}

// ConfirmationInfo AI 评审确认页信息：费用预估
type ConfirmationInfo struct {
	SampleCount     int     `json:"sample_count"`
	TotalCommits    int64   `json:"total_commits"`
	TotalWorkUnits  int64   `json:"total_work_units"`
	EstimatedTokens int     `json:"estimated_tokens"`
	EstimatedCost   float64 `json:"estimated_cost"`
}

// RunStatusResponse 轮询用状态响应
type RunStatusResponse struct {
	RunID    int64             `json:"run_id"`
	Status   string            `json:"status"`
	Progress model.RunProgress `json:"progress"`
	Error    string            `json:"error,omitempty"`
}

// RunListItem 任务列表项
type RunListItem struct {
	ID          int64      `json:"id"`
	Org         string     `json:"org"`
	Username    string     `json:"username"`
	Year        int        `json:"year"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunDetail 任务详情
type RunDetail struct {
	RunListItem
	Progress model.RunProgress `json:"progress"`
	Error    string            `json:"error,omitempty"`
	SkipAI   bool              `json:"skip_ai_review"`
}
