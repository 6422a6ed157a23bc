package dao

import (
	"database/sql"
	"time"
)

// HistoryDAO task_history表的数据访问对象（内部使用）
type HistoryDAO struct {
	ID         string         `db:"id"`
	TaskUUID   string         `db:"task_uuid"`
	TaskID     string         `db:"task_id"`
	Status     string         `db:"status"`
	Reason     sql.NullString `db:"reason"`
	ExecutedAt sql.NullTime   `db:"executed_at"`
	SettledAt  sql.NullTime   `db:"settled_at"`
	DurationMs int64          `db:"duration_ms"`
	Attempts   int            `db:"attempts"`
	MetaData   string         `db:"metadata"` // JSON格式存储
	CreateTime time.Time      `db:"create_time"`
}
