package task

import "time"

// MetaData 任务元数据快照（对外导出）
// 每次结算都会生成，$meta 按顺序保存本任务之前的尝试记录以及本次尝试中运行的子任务快照
type MetaData struct {
	UUID        string      `json:"uuid"`
	TaskID      string      `json:"taskId"`
	Status      TaskState   `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	ExecutedAt  *time.Time  `json:"executedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	CancelledAt *time.Time  `json:"cancelledAt,omitempty"`
	FailedAt    *time.Time  `json:"failedAt,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Duration    int64       `json:"duration"` // 毫秒，无法计算时为-1
	Priority    int         `json:"priority"`
	Weight      int         `json:"weight"`
	Meta        []*MetaData `json:"$meta"`
}

// SettledAt 返回本次尝试的终态时间，未结算时返回nil
func (m *MetaData) SettledAt() *time.Time {
	switch {
	case m.CompletedAt != nil:
		return m.CompletedAt
	case m.CancelledAt != nil:
		return m.CancelledAt
	case m.FailedAt != nil:
		return m.FailedAt
	default:
		return nil
	}
}

// Clone 深拷贝元数据（对外导出）
func (m *MetaData) Clone() *MetaData {
	if m == nil {
		return nil
	}
	clone := *m
	clone.ExecutedAt = copyTime(m.ExecutedAt)
	clone.CompletedAt = copyTime(m.CompletedAt)
	clone.CancelledAt = copyTime(m.CancelledAt)
	clone.FailedAt = copyTime(m.FailedAt)
	clone.Meta = make([]*MetaData, len(m.Meta))
	for i, child := range m.Meta {
		clone.Meta[i] = child.Clone()
	}
	return &clone
}

// Walk 深度优先遍历元数据树，depth 从0开始
func (m *MetaData) Walk(fn func(depth int, meta *MetaData)) {
	m.walk(0, fn)
}

func (m *MetaData) walk(depth int, fn func(depth int, meta *MetaData)) {
	if m == nil {
		return
	}
	fn(depth, m)
	for _, child := range m.Meta {
		child.walk(depth+1, fn)
	}
}

// computeDuration 计算执行耗时（毫秒），缺少任一时间戳时返回-1
func computeDuration(executedAt, settledAt *time.Time) int64 {
	if executedAt == nil || settledAt == nil {
		return -1
	}
	return settledAt.Sub(*executedAt).Milliseconds()
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
