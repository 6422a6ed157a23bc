package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/LENAX/task-handler/pkg/storage/dao"
	"github.com/jmoiron/sqlx"
)

const historyTable = "task_history"

var historyColumns = []string{
	"id", "task_uuid", "task_id", "status", "reason",
	"executed_at", "settled_at", "duration_ms", "attempts", "metadata", "create_time",
}

// SQLHistoryRepo 基于 sqlx 的执行历史仓库，不同数据库通过 Dialect 区分（对外导出）
type SQLHistoryRepo struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewSQLHistoryRepo 创建执行历史仓库并初始化表结构（对外导出）
func NewSQLHistoryRepo(db *sqlx.DB, dialect Dialect) (*SQLHistoryRepo, error) {
	repo := &SQLHistoryRepo{db: db, dialect: dialect}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return repo, nil
}

// GetDB 获取底层数据库连接（对外导出）
func (r *SQLHistoryRepo) GetDB() *sqlx.DB {
	return r.db
}

// Dialect 返回数据库方言
func (r *SQLHistoryRepo) Dialect() Dialect {
	return r.dialect
}

// Close 关闭数据库连接（对外导出）
func (r *SQLHistoryRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// initSchema 初始化数据库表结构
func (r *SQLHistoryRepo) initSchema() error {
	columns := []string{
		"id {{key}} PRIMARY KEY",
		"task_uuid {{key}} NOT NULL",
		"task_id VARCHAR(255) NOT NULL",
		"status VARCHAR(32) NOT NULL",
		"reason {{text}}",
		"executed_at {{timestamp}}",
		"settled_at {{timestamp}}",
		"duration_ms BIGINT NOT NULL DEFAULT -1",
		"attempts INTEGER NOT NULL DEFAULT 1",
		"metadata {{text}} NOT NULL",
		"create_time {{timestamp}} NOT NULL",
	}
	indexes := []Index{
		{Name: "idx_task_history_task_id", Column: "task_id"},
		{Name: "idx_task_history_status", Column: "status"},
		{Name: "idx_task_history_create_time", Column: "create_time"},
	}
	for _, stmt := range r.dialect.CreateTableSQL(historyTable, columns, indexes) {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("执行DDL失败: %w", err)
		}
	}
	return nil
}

// Save 保存归档记录
func (r *SQLHistoryRepo) Save(ctx context.Context, record *HistoryRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("归档记录ID不能为空")
	}
	d, err := toDAO(record)
	if err != nil {
		return err
	}

	query := r.dialect.UpsertSQL(historyTable, historyColumns, "id", historyColumns[1:])
	if _, err := r.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("保存归档记录失败: %w", err)
	}
	return nil
}

// GetByID 根据记录ID查询
func (r *SQLHistoryRepo) GetByID(ctx context.Context, id string) (*HistoryRecord, error) {
	var d dao.HistoryDAO
	query := r.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE id = ?", historyTable))
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("查询归档记录失败: %w", err)
	}
	return fromDAO(&d)
}

// ListByTaskID 查询某个业务任务ID的全部归档记录
func (r *SQLHistoryRepo) ListByTaskID(ctx context.Context, taskID string) ([]*HistoryRecord, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE task_id = ? ORDER BY create_time DESC", historyTable))
	return r.selectRecords(ctx, query, taskID)
}

// List 分页查询归档记录
func (r *SQLHistoryRepo) List(ctx context.Context, opts ListOptions) ([]*HistoryRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	if opts.Status != "" {
		query := r.db.Rebind(fmt.Sprintf(
			"SELECT * FROM %s WHERE status = ? ORDER BY create_time DESC LIMIT ? OFFSET ?", historyTable))
		return r.selectRecords(ctx, query, string(opts.Status), limit, offset)
	}
	query := r.db.Rebind(fmt.Sprintf("SELECT * FROM %s ORDER BY create_time DESC LIMIT ? OFFSET ?", historyTable))
	return r.selectRecords(ctx, query, limit, offset)
}

func (r *SQLHistoryRepo) selectRecords(ctx context.Context, query string, args ...interface{}) ([]*HistoryRecord, error) {
	var rows []dao.HistoryDAO
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("查询归档记录失败: %w", err)
	}
	records := make([]*HistoryRecord, 0, len(rows))
	for i := range rows {
		record, err := fromDAO(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func toDAO(record *HistoryRecord) (*dao.HistoryDAO, error) {
	payload, err := json.Marshal(record.MetaData)
	if err != nil {
		return nil, fmt.Errorf("序列化元数据失败: %w", err)
	}
	createTime := record.CreateTime
	if createTime.IsZero() {
		createTime = time.Now()
	}
	return &dao.HistoryDAO{
		ID:         record.ID,
		TaskUUID:   record.TaskUUID,
		TaskID:     record.TaskID,
		Status:     string(record.Status),
		Reason:     sql.NullString{String: record.Reason, Valid: record.Reason != ""},
		ExecutedAt: nullTime(record.ExecutedAt),
		SettledAt:  nullTime(record.SettledAt),
		DurationMs: record.Duration,
		Attempts:   record.Attempts,
		MetaData:   string(payload),
		CreateTime: createTime.UTC(),
	}, nil
}

func fromDAO(d *dao.HistoryDAO) (*HistoryRecord, error) {
	record := &HistoryRecord{
		ID:         d.ID,
		TaskUUID:   d.TaskUUID,
		TaskID:     d.TaskID,
		Status:     task.TaskState(d.Status),
		Reason:     d.Reason.String,
		Duration:   d.DurationMs,
		Attempts:   d.Attempts,
		CreateTime: d.CreateTime,
	}
	if d.ExecutedAt.Valid {
		t := d.ExecutedAt.Time
		record.ExecutedAt = &t
	}
	if d.SettledAt.Valid {
		t := d.SettledAt.Time
		record.SettledAt = &t
	}
	if d.MetaData != "" {
		var meta task.MetaData
		if err := json.Unmarshal([]byte(d.MetaData), &meta); err != nil {
			return nil, fmt.Errorf("反序列化元数据失败: %w", err)
		}
		record.MetaData = &meta
	}
	return record, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// 确保实现接口
var _ HistoryRepository = (*SQLHistoryRepo)(nil)
