package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/LENAX/task-handler/pkg/api/dto"
	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/LENAX/task-handler/pkg/storage"
	"github.com/gin-gonic/gin"
)

// HistoryHandler 执行历史API处理器
type HistoryHandler struct {
	repo storage.HistoryRepository
}

// NewHistoryHandler 创建HistoryHandler，repo 为 nil 时所有请求返回存储未配置
func NewHistoryHandler(repo storage.HistoryRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// List 分页列出执行历史
// GET /api/v1/history?task_id=&status=&limit=&offset=
func (h *HistoryHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var query dto.HistoryQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}
	if h.repo == nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, "存储未配置"))
		return
	}

	limit := query.GetDefaultLimit()
	offset := query.Offset

	var records []*storage.HistoryRecord
	var err error
	if query.TaskID != "" {
		records, err = h.repo.ListByTaskID(ctx, query.TaskID)
		records = filterRecords(records, task.TaskState(query.Status))
		records = paginate(records, offset, limit+1)
	} else {
		// 多取一条用于判断是否还有下一页
		records, err = h.repo.List(ctx, storage.ListOptions{
			Status: task.TaskState(query.Status),
			Limit:  limit + 1,
			Offset: offset,
		})
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询执行历史失败: %v", err)))
		return
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	items := make([]dto.HistorySummary, 0, len(records))
	for _, record := range records {
		items = append(items, toSummary(record))
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.HistorySummary]{
		Total:   offset + len(items),
		Items:   items,
		HasMore: hasMore,
	}))
}

// Get 获取执行历史详情
// GET /api/v1/history/:id
func (h *HistoryHandler) Get(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, "存储未配置"))
		return
	}

	record, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "执行历史不存在"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询执行历史失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HistoryDetail{
		HistorySummary: toSummary(record),
		MetaData:       record.MetaData,
	}))
}

func toSummary(record *storage.HistoryRecord) dto.HistorySummary {
	summary := dto.HistorySummary{
		ID:         record.ID,
		TaskUUID:   record.TaskUUID,
		TaskID:     record.TaskID,
		Status:     record.Status,
		Attempts:   record.Attempts,
		ExecutedAt: record.ExecutedAt,
		SettledAt:  record.SettledAt,
		Reason:     record.Reason,
		CreatedAt:  record.CreateTime,
	}
	if record.Duration >= 0 {
		summary.Duration = formatDuration(time.Duration(record.Duration) * time.Millisecond)
	}
	return summary
}

// filterRecords 按状态过滤
func filterRecords(records []*storage.HistoryRecord, status task.TaskState) []*storage.HistoryRecord {
	if status == "" {
		return records
	}
	filtered := make([]*storage.HistoryRecord, 0, len(records))
	for _, record := range records {
		if record.Status == status {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

func paginate(records []*storage.HistoryRecord, offset, limit int) []*storage.HistoryRecord {
	if offset >= len(records) {
		return nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}
