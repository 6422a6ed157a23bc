package storage

import (
	"context"
	"log"
	"time"

	"github.com/LENAX/task-handler/pkg/core/task"
)

// HistoryRecorder 在根任务结算时将元数据树归档到仓库（对外导出）
type HistoryRecorder struct {
	repo    HistoryRepository
	timeout time.Duration
	onSaved func(record *HistoryRecord, err error)
}

// RecorderOption 归档器选项
type RecorderOption func(*HistoryRecorder)

// WithSaveTimeout 设置单次保存超时
func WithSaveTimeout(timeout time.Duration) RecorderOption {
	return func(r *HistoryRecorder) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithSavedHook 每次保存后回调，用于输出或统计
func WithSavedHook(hook func(record *HistoryRecord, err error)) RecorderOption {
	return func(r *HistoryRecorder) {
		r.onSaved = hook
	}
}

// NewHistoryRecorder 创建归档器（对外导出）
func NewHistoryRecorder(repo HistoryRepository, opts ...RecorderOption) *HistoryRecorder {
	r := &HistoryRecorder{repo: repo, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach 只监听根节点：子任务的元数据已经包含在根节点的 $meta 中
func (r *HistoryRecorder) Attach(root task.Task) {
	root.OnDone(r.Listener())
}

// Listener 返回可直接注册到任务上的完成监听器
func (r *HistoryRecorder) Listener() task.DoneListener {
	return func(event task.DoneEvent) {
		if _, err := r.Record(event.MetaData); err != nil {
			log.Printf("⚠️  [执行历史] 归档失败: UUID=%s, Error=%v", event.UUID, err)
		}
	}
}

// Record 立即归档一份元数据快照
func (r *HistoryRecorder) Record(meta *task.MetaData) (*HistoryRecord, error) {
	record := NewHistoryRecord(meta)

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err := r.repo.Save(ctx, record)
	if r.onSaved != nil {
		r.onSaved(record, err)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}
