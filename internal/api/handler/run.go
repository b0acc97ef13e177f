package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/coolwithyou/review_go_server/internal/model/dto"
	"github.com/coolwithyou/review_go_server/internal/pkg/response"
	"github.com/coolwithyou/review_go_server/internal/service"
)

type RunHandler struct {
	runService *service.RunService
}

func NewRunHandler(runService *service.RunService) *RunHandler {
	return &RunHandler{
		runService: runService,
	}
}

// Create 创建分析任务
// POST /api/v1/runs
func (h *RunHandler) Create(c *gin.Context) {
	var req dto.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	if req.Year < 2000 || req.Year > 2100 {
		response.ParamError(c, "无效的年份")
		return
	}

	resp, err := h.runService.Create(c.Request.Context(), &req)
	if err != nil {
		switch err {
		case service.ErrRunActive:
			response.RunActiveError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "任务已创建", resp)
}

// List 分页获取任务列表
// GET /api/v1/runs
func (h *RunHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.runService.List(page, pageSize, status)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Get 获取任务详情
// GET /api/v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		return
	}

	detail, err := h.runService.GetDetail(runID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, detail)
}

// GetStatus 轮询任务状态
// GET /api/v1/runs/:id/status
func (h *RunHandler) GetStatus(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		return
	}

	status, err := h.runService.GetStatus(runID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, status)
}

// Cancel 请求取消任务
// POST /api/v1/runs/:id/cancel
func (h *RunHandler) Cancel(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		return
	}

	if err := h.runService.Cancel(c.Request.Context(), runID); err != nil {
		h.renderError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已请求取消", nil)
}

// Retry 按指定模式重试
// POST /api/v1/runs/:id/retry
func (h *RunHandler) Retry(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		return
	}

	var req dto.RetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.runService.Retry(c.Request.Context(), runID, req.Mode); err != nil {
		h.renderError(c, err)
		return
	}

	response.SuccessWithMessage(c, "任务已重新入队", nil)
}

// Delete 删除任务
// DELETE /api/v1/runs/:id
func (h *RunHandler) Delete(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		return
	}

	if err := h.runService.Delete(runID); err != nil {
		h.renderError(c, err)
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

// GetConfirmation AI 评审确认页信息
// GET /api/v1/runs/:id/confirmation
func (h *RunHandler) GetConfirmation(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		return
	}

	info, err := h.runService.GetConfirmation(runID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, info)
}

// Confirm 确认进入（或跳过）AI 评审
// POST /api/v1/runs/:id/confirmation
func (h *RunHandler) Confirm(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		return
	}

	var req dto.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.runService.Confirm(c.Request.Context(), runID, &req); err != nil {
		h.renderError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已确认", nil)
}

// GetReport 获取年度报告
// GET /api/v1/runs/:id/report
func (h *RunHandler) GetReport(c *gin.Context) {
	runID, err := parseRunID(c)
	if err != nil {
		return
	}

	report, err := h.runService.GetReport(runID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	response.Success(c, report)
}

func (h *RunHandler) renderError(c *gin.Context, err error) {
	switch err {
	case service.ErrRunNotFound:
		response.NotFoundError(c, err.Error())
	case service.ErrRunActive:
		response.RunActiveError(c, err.Error())
	case service.ErrRunNotRetrying, service.ErrRunNotAwaiting,
		service.ErrRunInProgress, service.ErrReportNotReady, service.ErrCannotCancel:
		response.InvalidStateError(c, err.Error())
	case service.ErrInvalidMode:
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}

func parseRunID(c *gin.Context) (int64, error) {
	runID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的任务ID")
		return 0, err
	}
	return runID, nil
}
