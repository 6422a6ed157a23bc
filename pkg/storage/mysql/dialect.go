// Package mysql 提供历史记录仓库的 MySQL 方言
package mysql

import (
	"fmt"
	"log"
	"strings"

	"github.com/LENAX/task-handler/pkg/storage"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// MySQLDialect MySQL方言实现（对外导出）
type MySQLDialect struct{}

// NewMySQLDialect 创建MySQL方言实例
func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

// Name 返回方言名称
func (d *MySQLDialect) Name() string {
	return "mysql"
}

// DriverName 返回驱动名称
func (d *MySQLDialect) DriverName() string {
	return "mysql"
}

// NormalizeDSN 确保DSN包含parseTime=true
// dsn格式: user:password@tcp(host:port)/dbname?parseTime=true
func (d *MySQLDialect) NormalizeDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime=true") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

// UpsertSQL 返回MySQL的UPSERT语句（使用ON DUPLICATE KEY UPDATE）
func (d *MySQLDialect) UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}
	updateParts := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateParts[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
		strings.Join(updateParts, ", "),
	)
}

// CreateTableSQL MySQL 不支持 CREATE INDEX IF NOT EXISTS，索引在建表语句中内联声明
func (d *MySQLDialect) CreateTableSQL(tableName string, columns []string, indexes []storage.Index) []string {
	cols := storage.ExpandColumns(columns, storage.ColumnTypes{Key: "VARCHAR(64)", Text: "TEXT", Timestamp: "DATETIME(3)"})
	for _, idx := range indexes {
		cols = append(cols, fmt.Sprintf("INDEX %s (%s)", idx.Name, idx.Column))
	}
	return []string{fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		tableName, strings.Join(cols, ",\n\t"),
	)}
}

// ConfigureDB 返回MySQL配置SQL
func (d *MySQLDialect) ConfigureDB() []string {
	return []string{
		"SET SESSION sql_mode='STRICT_TRANS_TABLES,NO_ZERO_IN_DATE,NO_ZERO_DATE,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION';",
	}
}

// NewHistoryRepoFromDSN 通过DSN创建MySQL历史记录仓库（对外导出）
func NewHistoryRepoFromDSN(dsn string) (*storage.SQLHistoryRepo, error) {
	dialect := NewMySQLDialect()
	db, err := sqlx.Open(dialect.DriverName(), dialect.NormalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("⚠️  [MySQL] 配置语句执行失败，忽略: %v", err)
		}
	}
	return storage.NewSQLHistoryRepo(db, dialect)
}

// 确保实现接口
var _ storage.Dialect = (*MySQLDialect)(nil)
