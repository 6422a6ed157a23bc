package storage

import (
	"fmt"
	"strings"

	"github.com/LENAX/task-handler/pkg/config"
	"github.com/LENAX/task-handler/pkg/storage"
	"github.com/LENAX/task-handler/pkg/storage/mysql"
	"github.com/LENAX/task-handler/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/task-handler/pkg/storage/sqlite"
)

// NewHistoryRepository 按数据库类型创建执行历史仓库（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres）
// dsn: 数据库连接字符串
func NewHistoryRepository(dbType, dsn string) (*storage.SQLHistoryRepo, error) {
	var (
		repo *storage.SQLHistoryRepo
		err  error
	)
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		repo, err = pkgsqlite.NewHistoryRepoFromDSN(dsn)
	case "mysql":
		repo, err = mysql.NewHistoryRepoFromDSN(dsn)
	case "postgres", "postgresql":
		repo, err = postgres.NewHistoryRepoFromDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s history repository failed: %w", dbType, err)
	}
	return repo, nil
}

// OpenFromConfig 根据引擎配置创建执行历史仓库并应用连接池设置（内部方法）
func OpenFromConfig(cfg *config.EngineConfig) (*storage.SQLHistoryRepo, error) {
	db := cfg.TaskHandler.Storage.Database
	repo, err := NewHistoryRepository(cfg.GetDatabaseType(), cfg.GetDatabaseDSN())
	if err != nil {
		return nil, err
	}
	// SQLite 内存库已在方言中限制为单连接
	if cfg.GetDatabaseType() != "sqlite" {
		repo.GetDB().SetMaxOpenConns(db.MaxOpenConns)
	}
	repo.GetDB().SetMaxIdleConns(db.MaxIdleConns)
	repo.GetDB().SetConnMaxLifetime(db.ConnMaxLifetime)
	repo.GetDB().SetConnMaxIdleTime(db.ConnMaxIdleTime)
	return repo, nil
}
