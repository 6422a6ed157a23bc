package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/LENAX/task-handler/pkg/config"
	"github.com/LENAX/task-handler/pkg/core/builder"
	"github.com/LENAX/task-handler/pkg/core/engine"
	"github.com/LENAX/task-handler/pkg/core/events"
	"github.com/LENAX/task-handler/pkg/jobs"
	"github.com/LENAX/task-handler/pkg/plugin"
	"github.com/LENAX/task-handler/pkg/storage"
	"github.com/spf13/cobra"

	internalstorage "github.com/LENAX/task-handler/internal/storage"
)

// globalOptions 全局参数
type globalOptions struct {
	configPath string
	outputJSON bool
}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "task-handler",
		Short: "Task Handler CLI - 可重试任务树执行工具",
		Long: `Task Handler CLI 按YAML定义构建并执行任务树。

支持的功能：
  - 执行任务树（单次或按Cron定时执行）
  - 查询执行历史
  - 启动HTTP API服务（执行历史查询、取消任务、事件推送）

使用示例：
  # 执行任务树并归档执行历史
  task-handler run -f ./examples/pipeline.yaml --record

  # 每10秒执行一次
  task-handler run -f ./examples/pipeline.yaml --cron "@every 10s"

  # 查看执行历史
  task-handler history list --status failed

  # 启动HTTP服务
  task-handler serve --port 8080`,
		SilenceUsage: true,
	}

	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径（为空时使用默认配置）")
	rootCmd.PersistentFlags().BoolVarP(&opts.outputJSON, "json", "j", false, "使用JSON格式输出")

	// 添加子命令
	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newFuncsCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute 执行根命令
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 加载配置文件
func (o *globalOptions) loadConfig() (*config.EngineConfig, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

// newRegistry 创建注册了内置函数的注册中心
func newRegistry() (*builder.FunctionRegistry, error) {
	registry := builder.NewFunctionRegistry()
	if _, err := jobs.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

// session 命令执行期间使用的组件
type session struct {
	engine   *engine.Engine
	repo     storage.HistoryRepository
	bus      *events.Bus
	notifier plugin.Manager
	notified <-chan struct{}
}

// newSession 按需创建执行历史仓库与事件总线并组装引擎
// 配置了 Webhook 通知时总是创建事件总线
func newSession(cfg *config.EngineConfig, withHistory, withBus bool) (*session, error) {
	registry, err := newRegistry()
	if err != nil {
		return nil, err
	}
	notifier, err := plugin.NewManagerFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("加载通知插件失败: %w", err)
	}

	rt := &session{notifier: notifier}
	withBus = withBus || notifier != nil
	var opts []engine.Option
	if withHistory {
		repo, err := internalstorage.OpenFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("打开执行历史存储失败: %w", err)
		}
		rt.repo = repo
		opts = append(opts, engine.WithHistory(repo))
	}
	if withBus {
		rt.bus = events.NewBus(events.WithDebug(cfg.TaskHandler.Events.Debug))
		opts = append(opts, engine.WithBus(rt.bus))
	}

	rt.engine, err = engine.NewEngine(cfg, registry, opts...)
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

// listen 启动通知插件，未配置时什么也不做
func (rt *session) listen(ctx context.Context) error {
	if rt.notifier == nil {
		return nil
	}
	done, err := rt.notifier.Listen(ctx, rt.bus)
	if err != nil {
		return fmt.Errorf("启动通知插件失败: %w", err)
	}
	rt.notified = done
	return nil
}

// close 关闭仓库与事件总线，并等待已收到的通知处理完
func (rt *session) close() {
	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.notified != nil {
		select {
		case <-rt.notified:
		case <-time.After(5 * time.Second):
		}
	}
	if rt.repo != nil {
		rt.repo.Close()
	}
}
