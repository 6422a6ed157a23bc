package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/LENAX/task-handler/pkg/api/dto"
	"github.com/LENAX/task-handler/pkg/core/engine"
	"github.com/gin-gonic/gin"
)

// TaskHandler 运行中任务API处理器
type TaskHandler struct {
	engine *engine.Engine
}

// NewTaskHandler 创建TaskHandler
func NewTaskHandler(eng *engine.Engine) *TaskHandler {
	return &TaskHandler{engine: eng}
}

// Running 列出正在执行的根任务
// GET /api/v1/tasks/running
func (h *TaskHandler) Running(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, "引擎未配置"))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.RunningTasksResponse{UUIDs: h.engine.Running()}))
}

// Cancel 取消正在执行的根任务
// POST /api/v1/tasks/:uuid/cancel
func (h *TaskHandler) Cancel(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, "引擎未配置"))
		return
	}

	var req dto.CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
			return
		}
	}

	uuid := c.Param("uuid")
	var reason error
	if req.Reason != "" {
		reason = errors.New(req.Reason)
	}
	if err := h.engine.Cancel(uuid, reason); err != nil {
		if errors.Is(err, engine.ErrTaskNotRunning) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, err.Error()))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.CancelResponse{
		UUID:    uuid,
		Message: "已发送取消请求",
	}))
}
