package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/LENAX/task-handler/pkg/core/retry"
	"github.com/LENAX/task-handler/pkg/core/task"
	"gopkg.in/yaml.v3"
)

// EngineConfig 任务引擎配置（对外导出）
type EngineConfig struct {
	TaskHandler struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			LogLevel     string `yaml:"log_level"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Execution struct {
			DefaultRetryStrategy string `yaml:"default_retry_strategy"`
			Retry                struct {
				Attempts   int           `yaml:"attempts"`
				Timeout    time.Duration `yaml:"timeout"`
				Delay      time.Duration `yaml:"delay"`
				MaxDelay   time.Duration `yaml:"max_delay"`
				Multiplier float64       `yaml:"multiplier"`
			} `yaml:"retry"`
		} `yaml:"execution"`
		Storage struct {
			Database struct {
				Type            string        `yaml:"type"`
				DSN             string        `yaml:"dsn"`
				MaxOpenConns    int           `yaml:"max_open_conns"`
				MaxIdleConns    int           `yaml:"max_idle_conns"`
				ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
				ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
			} `yaml:"database"`
		} `yaml:"storage"`
		Events struct {
			Enabled bool `yaml:"enabled"`
			Debug   bool `yaml:"debug"`
		} `yaml:"events"`
		API struct {
			Host string `yaml:"host"`
			Port int    `yaml:"port"`
		} `yaml:"api"`
		Notify struct {
			Webhooks []WebhookConfig `yaml:"webhooks"`
		} `yaml:"notify"`
	} `yaml:"task-handler"`
}

// WebhookConfig 任务结算通知的 Webhook 配置
type WebhookConfig struct {
	Name     string        `yaml:"name"`
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
	Events   []string      `yaml:"events"`    // 为空时只通知失败
	RootOnly bool          `yaml:"root_only"` // 只通知根任务
}

// Load 加载配置文件并应用默认值（对外导出）
// path 为空时返回默认配置
func Load(path string) (*EngineConfig, error) {
	cfg := &EngineConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回应用默认值后的配置（对外导出）
func Default() *EngineConfig {
	cfg := &EngineConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 应用默认值
func (c *EngineConfig) ApplyDefaults() {
	// General默认值
	if c.TaskHandler.General.InstanceName == "" {
		c.TaskHandler.General.InstanceName = "task-handler"
	}
	if c.TaskHandler.General.LogLevel == "" {
		c.TaskHandler.General.LogLevel = "info"
	}
	if c.TaskHandler.General.Env == "" {
		c.TaskHandler.General.Env = "dev"
	}

	// Execution默认值
	if c.TaskHandler.Execution.DefaultRetryStrategy == "" {
		c.TaskHandler.Execution.DefaultRetryStrategy = task.Retry.String()
	}
	defaults := retry.DefaultOptions()
	if c.TaskHandler.Execution.Retry.Attempts <= 0 {
		c.TaskHandler.Execution.Retry.Attempts = defaults.Attempts
	}
	if c.TaskHandler.Execution.Retry.Delay <= 0 {
		c.TaskHandler.Execution.Retry.Delay = defaults.Delay
	}
	if c.TaskHandler.Execution.Retry.MaxDelay <= 0 {
		c.TaskHandler.Execution.Retry.MaxDelay = defaults.MaxDelay
	}
	if c.TaskHandler.Execution.Retry.Multiplier < 1 {
		c.TaskHandler.Execution.Retry.Multiplier = defaults.Multiplier
	}

	// Database默认值
	if c.TaskHandler.Storage.Database.Type == "" {
		c.TaskHandler.Storage.Database.Type = "sqlite"
	}
	if c.TaskHandler.Storage.Database.DSN == "" && c.TaskHandler.Storage.Database.Type == "sqlite" {
		c.TaskHandler.Storage.Database.DSN = "./data/task-handler.db"
	}
	if c.TaskHandler.Storage.Database.MaxOpenConns <= 0 {
		c.TaskHandler.Storage.Database.MaxOpenConns = 10
	}
	if c.TaskHandler.Storage.Database.MaxIdleConns <= 0 {
		c.TaskHandler.Storage.Database.MaxIdleConns = 5
	}
	if c.TaskHandler.Storage.Database.ConnMaxLifetime <= 0 {
		c.TaskHandler.Storage.Database.ConnMaxLifetime = 2 * time.Hour
	}
	if c.TaskHandler.Storage.Database.ConnMaxIdleTime <= 0 {
		c.TaskHandler.Storage.Database.ConnMaxIdleTime = 1 * time.Hour
	}

	// API默认值
	if c.TaskHandler.API.Host == "" {
		c.TaskHandler.API.Host = "0.0.0.0"
	}
	if c.TaskHandler.API.Port <= 0 {
		c.TaskHandler.API.Port = 8080
	}
}

// Validate 校验配置
func (c *EngineConfig) Validate() error {
	if _, err := task.ParseRetryStrategy(c.TaskHandler.Execution.DefaultRetryStrategy); err != nil {
		return fmt.Errorf("execution.default_retry_strategy 无效: %w", err)
	}
	switch c.GetDatabaseType() {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.GetDatabaseType())
	}
	if c.GetDatabaseDSN() == "" {
		return fmt.Errorf("storage.database.dsn 不能为空")
	}
	if c.TaskHandler.Execution.Retry.Timeout < 0 {
		return fmt.Errorf("execution.retry.timeout 不能为负数")
	}
	if c.TaskHandler.API.Port > 65535 {
		return fmt.Errorf("api.port 超出范围: %d", c.TaskHandler.API.Port)
	}
	for i, hook := range c.TaskHandler.Notify.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("notify.webhooks[%d].url 不能为空", i)
		}
		if hook.Timeout < 0 {
			return fmt.Errorf("notify.webhooks[%d].timeout 不能为负数", i)
		}
	}
	return nil
}

// RetryOptions 转换为叶子任务的重试选项
func (c *EngineConfig) RetryOptions() retry.Options {
	r := c.TaskHandler.Execution.Retry
	return retry.Options{
		Attempts:   r.Attempts,
		Timeout:    r.Timeout,
		Delay:      r.Delay,
		MaxDelay:   r.MaxDelay,
		Multiplier: r.Multiplier,
		Verbose:    c.IsDebug(),
	}
}

// RetryStrategy 默认重试策略，配置无效时回退为 Retry
func (c *EngineConfig) RetryStrategy() task.RetryStrategy {
	strategy, err := task.ParseRetryStrategy(c.TaskHandler.Execution.DefaultRetryStrategy)
	if err != nil {
		return task.Retry
	}
	return strategy
}

// IsDebug 是否为调试日志级别
func (c *EngineConfig) IsDebug() bool {
	return strings.EqualFold(c.TaskHandler.General.LogLevel, "debug")
}

// GetDatabaseType 获取数据库类型
func (c *EngineConfig) GetDatabaseType() string {
	return strings.ToLower(c.TaskHandler.Storage.Database.Type)
}

// GetDatabaseDSN 获取数据库DSN
func (c *EngineConfig) GetDatabaseDSN() string {
	return c.TaskHandler.Storage.Database.DSN
}

// GetAPIAddr 获取API监听地址
func (c *EngineConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.TaskHandler.API.Host, c.TaskHandler.API.Port)
}
