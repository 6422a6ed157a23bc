package dto

// HistoryQueryRequest 执行历史查询请求
type HistoryQueryRequest struct {
	TaskID string `form:"task_id" binding:"omitempty"`
	Status string `form:"status" binding:"omitempty,oneof=pending running completed failed cancelled"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// CancelRequest 取消任务请求
type CancelRequest struct {
	Reason string `json:"reason" binding:"omitempty"`
}

// GetDefaultLimit 获取默认limit
func (r *HistoryQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}
