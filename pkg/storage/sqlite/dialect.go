// Package sqlite 提供历史记录仓库的 SQLite 方言
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/LENAX/task-handler/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDialect SQLite方言实现（对外导出）
type SQLiteDialect struct{}

// NewSQLiteDialect 创建SQLite方言实例
func NewSQLiteDialect() *SQLiteDialect {
	return &SQLiteDialect{}
}

// Name 返回方言名称
func (d *SQLiteDialect) Name() string {
	return "sqlite"
}

// DriverName 返回驱动名称
func (d *SQLiteDialect) DriverName() string {
	return "sqlite3"
}

// NormalizeDSN SQLite 的 DSN 原样返回
func (d *SQLiteDialect) NormalizeDSN(dsn string) string {
	return dsn
}

// UpsertSQL 返回SQLite的UPSERT语句
func (d *SQLiteDialect) UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string {
	// 为了兼容较老的 SQLite 版本，使用 INSERT OR REPLACE
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}
	return fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
	)
}

// CreateTableSQL 返回建表与建索引语句
func (d *SQLiteDialect) CreateTableSQL(tableName string, columns []string, indexes []storage.Index) []string {
	cols := storage.ExpandColumns(columns, storage.ColumnTypes{Key: "TEXT", Text: "TEXT", Timestamp: "DATETIME"})
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", tableName, strings.Join(cols, ",\n\t"))}
	for _, idx := range indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.Name, tableName, idx.Column))
	}
	return stmts
}

// ConfigureDB 返回SQLite配置SQL
func (d *SQLiteDialect) ConfigureDB() []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA synchronous=NORMAL;",
	}
}

// NewHistoryRepoFromDSN 通过DSN创建SQLite历史记录仓库（对外导出）
func NewHistoryRepoFromDSN(dsn string) (*storage.SQLHistoryRepo, error) {
	dialect := NewSQLiteDialect()
	if err := ensureDir(dsn); err != nil {
		return nil, err
	}
	db, err := sqlx.Open(dialect.DriverName(), dialect.NormalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	// 内存数据库每个连接互相独立，只保留一个连接
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range dialect.ConfigureDB() {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置SQLite失败: %w", err)
		}
	}
	return storage.NewSQLHistoryRepo(db, dialect)
}

// ensureDir 为文件型数据库创建所在目录
func ensureDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建数据库目录失败: %w", err)
	}
	return nil
}

// 确保实现接口
var _ storage.Dialect = (*SQLiteDialect)(nil)
