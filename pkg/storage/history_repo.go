// Package storage 提供任务树执行历史的归档存储
// 只做归档查询：任务状态不会从这里恢复
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/google/uuid"
)

// ErrRecordNotFound 记录不存在
var ErrRecordNotFound = errors.New("history record not found")

// HistoryRecord 一次根任务结算的归档记录（对外导出）
type HistoryRecord struct {
	ID         string         `json:"id"`                    // 记录ID（UUID）
	TaskUUID   string         `json:"task_uuid"`             // 根任务UUID
	TaskID     string         `json:"task_id"`               // 根任务业务ID
	Status     task.TaskState `json:"status"`                // 结算状态
	Reason     string         `json:"reason,omitempty"`      // 失败原因
	ExecutedAt *time.Time     `json:"executed_at,omitempty"` // 本次尝试开始时间
	SettledAt  *time.Time     `json:"settled_at,omitempty"`  // 结算时间
	Duration   int64          `json:"duration"`              // 耗时（毫秒），无法计算时为-1
	Attempts   int            `json:"attempts"`              // 根任务累计尝试次数
	MetaData   *task.MetaData `json:"metadata"`              // 完整的元数据树
	CreateTime time.Time      `json:"create_time"`           // 归档时间
}

// NewHistoryRecord 根据根任务的元数据快照构造归档记录（对外导出）
func NewHistoryRecord(meta *task.MetaData) *HistoryRecord {
	record := &HistoryRecord{
		ID:         uuid.NewString(),
		CreateTime: time.Now(),
		Duration:   -1,
		Attempts:   1,
		MetaData:   meta,
	}
	if meta == nil {
		return record
	}
	record.TaskUUID = meta.UUID
	record.TaskID = meta.TaskID
	record.Status = meta.Status
	record.Reason = meta.Reason
	record.ExecutedAt = meta.ExecutedAt
	record.SettledAt = meta.SettledAt()
	record.Duration = meta.Duration
	for _, prior := range meta.Meta {
		if prior.UUID == meta.UUID {
			record.Attempts++
		}
	}
	return record
}

// ListOptions 列表查询选项
type ListOptions struct {
	Status task.TaskState // 为空时不过滤
	Limit  int            // <=0 时使用默认值
	Offset int
}

// DefaultListLimit 默认分页大小
const DefaultListLimit = 50

// HistoryRepository 执行历史存储接口（对外导出）
type HistoryRepository interface {
	// Save 保存归档记录（ID相同则覆盖）
	Save(ctx context.Context, record *HistoryRecord) error
	// GetByID 根据记录ID查询，不存在时返回 ErrRecordNotFound
	GetByID(ctx context.Context, id string) (*HistoryRecord, error)
	// ListByTaskID 查询某个业务任务ID的全部归档记录，按归档时间倒序
	ListByTaskID(ctx context.Context, taskID string) ([]*HistoryRecord, error)
	// List 分页查询归档记录，按归档时间倒序
	List(ctx context.Context, opts ListOptions) ([]*HistoryRecord, error)
	// Close 关闭底层连接
	Close() error
}
