package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/physicalrisk/apietl/internal/service"
	"github.com/physicalrisk/apietl/pkg/logger"
)

// RunService 处理器依赖的编排能力
type RunService interface {
	Entries() []service.Entry
	Trigger(ctx context.Context, sampleLimit int) (*service.Report, bool, error)
	Running() bool
	Last() *service.Report
	Policy() service.FailPolicy
}

// Pinger 检查数据仓库连通性，并返回连接池统计（可为 nil）
type Pinger func(ctx context.Context) (map[string]interface{}, error)

// PipelineHandler 流水线运维处理器
type PipelineHandler struct {
	runs         RunService
	ping         Pinger
	defaultLimit func() int
}

// NewPipelineHandler 创建处理器；defaultLimit 返回未指定 sample_limit 时的取值
func NewPipelineHandler(runs RunService, ping Pinger, defaultLimit func() int) *PipelineHandler {
	if defaultLimit == nil {
		defaultLimit = func() int { return 0 }
	}
	return &PipelineHandler{runs: runs, ping: ping, defaultLimit: defaultLimit}
}

// RunRequest 触发运行请求
type RunRequest struct {
	SampleLimit *int `json:"sample_limit"`
	// Wait 为 true 时同步等待运行结束并返回报告
	Wait bool `json:"wait"`
}

// pipelineInfo 流水线列表项
type pipelineInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Table       string `json:"table"`
}

// Health 健康检查
func (h *PipelineHandler) Health(c *gin.Context) {
	data := gin.H{"running": h.runs.Running(), "pipelines": len(h.runs.Entries())}
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		stats, err := h.ping(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Code:    "WAREHOUSE_UNAVAILABLE",
				Message: "数据仓库不可用: " + err.Error(),
			})
			return
		}
		data["warehouse"] = "ok"
		if stats != nil {
			data["pool"] = stats
		}
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "服务正常", Data: data})
}

// ListPipelines 返回编排列表
func (h *PipelineHandler) ListPipelines(c *gin.Context) {
	entries := h.runs.Entries()
	list := make([]pipelineInfo, 0, len(entries))
	for _, e := range entries {
		list = append(list, pipelineInfo{Name: e.Name, Description: e.Description, Table: e.Table})
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取流水线成功", Data: list})
}

// TriggerRun 触发全量运行
// 默认异步执行并返回 202；wait=true 时同步返回报告，并发请求共享同一次运行
func (h *PipelineHandler) TriggerRun(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: "请求参数错误: " + err.Error()})
			return
		}
	}
	if v := c.Query("sample_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: "sample_limit 必须为整数"})
			return
		}
		req.SampleLimit = &n
	}
	if c.Query("wait") == "true" {
		req.Wait = true
	}

	limit := h.defaultLimit()
	if req.SampleLimit != nil {
		limit = *req.SampleLimit
	}
	if limit < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: "sample_limit 不能为负数"})
		return
	}

	if req.Wait {
		// 请求上下文只控制等待；客户端断开不会取消共享运行
		report, shared, err := h.runs.Trigger(c.Request.Context(), limit)
		if err != nil {
			logger.WithField("request_id", c.GetString("request_id")).Infof("client stopped waiting for run: %v", err)
			c.JSON(http.StatusRequestTimeout, ErrorResponse{Code: "WAIT_CANCELED", Message: "已停止等待，运行在后台继续"})
			return
		}
		c.JSON(http.StatusOK, SuccessResponse{
			Code:    "SUCCESS",
			Message: "运行完成",
			Data:    gin.H{"shared": shared, "exit_code": report.ExitCode(h.runs.Policy()), "report": report},
		})
		return
	}

	if h.runs.Running() {
		c.JSON(http.StatusConflict, ErrorResponse{Code: "RUN_IN_PROGRESS", Message: "已有运行进行中"})
		return
	}
	go func() {
		report, _, err := h.runs.Trigger(context.Background(), limit)
		if err != nil {
			logger.Warnf("api triggered run not completed: %v", err)
			return
		}
		logger.WithField("run_id", report.RunID).Infof("api triggered run finished: %d failed", report.Failed)
	}()
	c.JSON(http.StatusAccepted, SuccessResponse{Code: "ACCEPTED", Message: "运行已提交", Data: gin.H{"sample_limit": limit}})
}

// LastRun 返回最近一次运行报告
func (h *PipelineHandler) LastRun(c *gin.Context) {
	report := h.runs.Last()
	if report == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "NO_RUN", Message: "尚无运行记录"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "获取运行报告成功",
		Data:    gin.H{"running": h.runs.Running(), "exit_code": report.ExitCode(h.runs.Policy()), "report": report},
	})
}
