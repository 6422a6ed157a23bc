package dto

import (
	"time"

	"github.com/LENAX/task-handler/pkg/core/task"
)

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// HistorySummary 执行历史摘要信息
type HistorySummary struct {
	ID         string         `json:"id"`
	TaskUUID   string         `json:"task_uuid"`
	TaskID     string         `json:"task_id"`
	Status     task.TaskState `json:"status"`
	Attempts   int            `json:"attempts"`
	ExecutedAt *time.Time     `json:"executed_at,omitempty"`
	SettledAt  *time.Time     `json:"settled_at,omitempty"`
	Duration   string         `json:"duration,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// HistoryDetail 执行历史详细信息（包含完整元数据树）
type HistoryDetail struct {
	HistorySummary
	MetaData *task.MetaData `json:"metadata"`
}

// RunningTasksResponse 正在执行的根任务
type RunningTasksResponse struct {
	UUIDs []string `json:"uuids"`
}

// CancelResponse 取消响应
type CancelResponse struct {
	UUID    string `json:"uuid"`
	Message string `json:"message"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}
