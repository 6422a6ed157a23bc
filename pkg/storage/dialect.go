package storage

import "strings"

// Dialect 数据库方言接口（对外导出）
// 屏蔽 SQLite / MySQL / PostgreSQL 在驱动、DDL 与 UPSERT 语法上的差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// DriverName 返回 database/sql 驱动名称
	DriverName() string

	// NormalizeDSN 补全驱动需要的连接参数（如 MySQL 的 parseTime=true）
	NormalizeDSN(dsn string) string

	// UpsertSQL 返回INSERT或UPDATE的SQL语句（sqlx命名参数形式）
	// tableName: 表名
	// columns: 列名列表
	// conflictColumn: 冲突判断列（通常是主键）
	// updateColumns: 需要更新的列（不含主键）
	UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string

	// CreateTableSQL 返回建表与建索引语句
	// columns 为列定义（可包含 {{key}} {{text}} {{timestamp}} 类型占位符），indexes 为需要创建的索引
	CreateTableSQL(tableName string, columns []string, indexes []Index) []string

	// ConfigureDB 配置数据库连接（如SQLite的PRAGMA）
	// 返回需要执行的SQL语句列表
	ConfigureDB() []string
}

// Index 索引定义
type Index struct {
	Name   string
	Column string
}

// ColumnTypes 列定义中类型占位符的取值
type ColumnTypes struct {
	Key       string
	Text      string
	Timestamp string
}

// ExpandColumns 将列定义中的类型占位符替换为方言的具体类型
func ExpandColumns(columns []string, types ColumnTypes) []string {
	replacer := strings.NewReplacer(
		"{{key}}", types.Key,
		"{{text}}", types.Text,
		"{{timestamp}}", types.Timestamp,
	)
	expanded := make([]string, len(columns))
	for i, col := range columns {
		expanded[i] = replacer.Replace(col)
	}
	return expanded
}
