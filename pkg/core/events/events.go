// Package events 将任务树的完成通知发布到进程内事件总线，供订阅者（API推送、日志等）消费
package events

import (
	"time"

	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/google/uuid"
)

// EventType 事件类型
type EventType string

const (
	EventTaskCompleted EventType = "task.completed" // 任务成功
	EventTaskFailed    EventType = "task.failed"    // 任务失败
	EventTaskCancelled EventType = "task.cancelled" // 任务取消
)

// AllEventTypes 全部事件类型
func AllEventTypes() []EventType {
	return []EventType{EventTaskCompleted, EventTaskFailed, EventTaskCancelled}
}

// TaskEvent 任务结算事件
type TaskEvent struct {
	ID        string         `json:"id"`              // 事件ID（UUID）
	Type      EventType      `json:"type"`            // 事件类型
	UUID      string         `json:"uuid"`            // 任务UUID
	TaskID    string         `json:"task_id"`         // 业务任务ID
	RootUUID  string         `json:"root_uuid"`       // 所属任务树根节点UUID
	Depth     int            `json:"depth"`           // 在任务树中的深度，根节点为0
	Status    task.TaskState `json:"status"`          // 结算状态
	Error     string         `json:"error,omitempty"` // 失败原因
	Timestamp time.Time      `json:"timestamp"`       // 事件时间
	MetaData  *task.MetaData `json:"metadata"`        // 结算时的元数据快照
}

// NewTaskEvent 根据完成事件构造任务事件
func NewTaskEvent(done task.DoneEvent) *TaskEvent {
	event := &TaskEvent{
		ID:        uuid.NewString(),
		UUID:      done.UUID,
		Timestamp: time.Now(),
		MetaData:  done.MetaData,
	}
	if done.MetaData != nil {
		event.TaskID = done.MetaData.TaskID
		event.Status = done.MetaData.Status
	}
	if done.Err != nil {
		event.Error = done.Err.Error()
	}
	event.Type = typeOf(event.Status, done.Err)
	return event
}

func typeOf(status task.TaskState, err error) EventType {
	switch {
	case status == task.StateCancelled:
		return EventTaskCancelled
	case err != nil || status == task.StateFailed:
		return EventTaskFailed
	default:
		return EventTaskCompleted
	}
}
