package task

import "context"

// context key类型，用于类型安全的context.Value访问
type contextKey string

const (
	// TaskUUIDKey 任务UUID在context中的key
	TaskUUIDKey contextKey = "task.uuid"
	// TaskIDKey 任务ID在context中的key
	TaskIDKey contextKey = "task.id"
	// attemptSeqKey 当前尝试序号（内部使用，子任务元数据据此归属到正确的尝试）
	attemptSeqKey contextKey = "task.attempt.seq"
	// stopSignalKey 组合任务自身的取消信号（内部使用）
	stopSignalKey contextKey = "task.stop"
)

// WithTaskUUID 将任务UUID添加到context中（对外导出）
func WithTaskUUID(ctx context.Context, uuid string) context.Context {
	return context.WithValue(ctx, TaskUUIDKey, uuid)
}

// GetTaskUUID 从context中获取当前执行任务的UUID（对外导出）
func GetTaskUUID(ctx context.Context) string {
	if id, ok := ctx.Value(TaskUUIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTaskID 将任务ID添加到context中（对外导出）
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// GetTaskID 从context中获取当前执行任务的ID（对外导出）
func GetTaskID(ctx context.Context) string {
	if id, ok := ctx.Value(TaskIDKey).(string); ok {
		return id
	}
	return ""
}

func withAttemptSeq(ctx context.Context, uuid string, seq int) context.Context {
	return context.WithValue(ctx, attemptSeqKey, attemptRef{uuid: uuid, seq: seq})
}

func getAttemptSeq(ctx context.Context, uuid string) (int, bool) {
	ref, ok := ctx.Value(attemptSeqKey).(attemptRef)
	if !ok || ref.uuid != uuid {
		return 0, false
	}
	return ref.seq, true
}

type attemptRef struct {
	uuid string
	seq  int
}

// withStopSignal 挂载组合任务自身的取消信号，子任务的 context 不会因它而结束
func withStopSignal(ctx context.Context, stop context.Context) context.Context {
	return context.WithValue(ctx, stopSignalKey, stop)
}

// stopCause 返回停止派发的原因：组合任务自身被取消或调用方 context 结束，否则为 nil
func stopCause(ctx context.Context) error {
	if stop, ok := ctx.Value(stopSignalKey).(context.Context); ok && stop.Err() != nil {
		return context.Cause(stop)
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}
