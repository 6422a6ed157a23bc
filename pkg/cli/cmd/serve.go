package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/LENAX/task-handler/pkg/api"
	"github.com/LENAX/task-handler/pkg/cli/output"
	"github.com/LENAX/task-handler/pkg/core/builder"
	"github.com/spf13/cobra"
)

// newServeCmd serve命令
func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		serverHost string
		serverPort int
		trees      []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP API服务",
		Long: `启动Task Handler HTTP API服务。

-f 指定的任务树必须设置 cron 字段，服务运行期间按Cron定时执行并归档执行历史。

示例：
  # 使用默认配置启动
  task-handler serve

  # 指定端口并加载定时任务树
  task-handler serve --port 8080 -f ./examples/pipeline.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				output.Error("加载配置失败: %v", err)
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.TaskHandler.API.Host = serverHost
			}
			if cmd.Flags().Changed("port") {
				cfg.TaskHandler.API.Port = serverPort
			}

			sess, err := newSession(cfg, true, true)
			if err != nil {
				output.Error("创建引擎失败: %v", err)
				return err
			}
			defer sess.close()
			// 通知订阅随事件总线关闭而结束
			if err := sess.listen(cmd.Context()); err != nil {
				output.Error("%v", err)
				return err
			}

			for _, file := range trees {
				def, err := builder.LoadTreeFile(file)
				if err != nil {
					return err
				}
				if _, err := sess.engine.ScheduleTree(def); err != nil {
					output.Error("注册定时任务失败: %s, %v", file, err)
					return err
				}
			}
			sess.engine.Start()

			// 创建API服务器配置
			config := api.DefaultServerConfig()
			config.Host = cfg.TaskHandler.API.Host
			config.Port = cfg.TaskHandler.API.Port

			apiServer := api.NewAPIServer(api.Dependencies{
				Engine:  sess.engine,
				History: sess.repo,
				Bus:     sess.bus,
			}, config, Version)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// 在goroutine中启动服务器
			serveErr := make(chan error, 1)
			go func() {
				serveErr <- apiServer.Start()
			}()

			output.Success("Task Handler Server started on %s", apiServer.Addr())

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-serveErr:
				if runErr != nil {
					log.Printf("API服务器错误: %v", runErr)
				}
			}

			output.Info("正在关闭服务...")

			// 优雅关闭
			shutdownCtx, cancel := context.WithTimeout(context.Background(), config.WriteTimeout)
			defer cancel()

			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				output.Error("关闭API服务器失败: %v", err)
			}
			if err := sess.engine.Stop(shutdownCtx); err != nil {
				output.Error("停止引擎失败: %v", err)
			}
			output.Success("服务已停止")
			return runErr
		},
	}

	cmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "监听端口（覆盖配置文件）")
	cmd.Flags().StringVarP(&serverHost, "host", "H", "0.0.0.0", "监听地址（覆盖配置文件）")
	cmd.Flags().StringArrayVarP(&trees, "file", "f", nil, "定时执行的任务树定义文件，可重复指定")
	return cmd
}
