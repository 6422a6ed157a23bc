package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LENAX/task-handler/pkg/cli/output"
	"github.com/LENAX/task-handler/pkg/core/builder"
	"github.com/LENAX/task-handler/pkg/core/events"
	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/spf13/cobra"
)

// runResult JSON输出结构
type runResult struct {
	Result   interface{}    `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	MetaData *task.MetaData `json:"metadata"`
}

// newRunCmd run命令
func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		file     string
		cronExpr string
		record   bool
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "执行任务树",
		Long: `按YAML定义构建任务树并执行。

设置 --cron（或定义文件中的 cron 字段）时按Cron表达式重复触发同一棵任务树，
直到收到中断信号。是否真正重跑由根节点的 retry_strategy 决定。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			def, err := builder.LoadTreeFile(file)
			if err != nil {
				return err
			}
			if cronExpr != "" {
				def.Cron = cronExpr
			}

			sess, err := newSession(cfg, record, watch || cfg.TaskHandler.Events.Enabled)
			if err != nil {
				return err
			}
			defer sess.close()
			if err := sess.listen(cmd.Context()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watch {
				if err := watchEvents(ctx, cmd, sess.bus); err != nil {
					return err
				}
			}

			if def.Cron != "" {
				return runCron(ctx, cmd, opts, sess, def)
			}
			root, result, err := sess.engine.RunTree(ctx, def)
			if root == nil {
				return err
			}
			printRun(cmd, opts, root, result, err)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "任务树定义文件（YAML）")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron表达式，覆盖定义文件中的 cron 字段")
	cmd.Flags().BoolVar(&record, "record", false, "将执行结果归档到执行历史")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "实时输出每个节点的结算事件")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// runCron 注册定时执行并阻塞到收到中断信号
func runCron(ctx context.Context, cmd *cobra.Command, opts *globalOptions, sess *session, def *builder.TreeConfig) error {
	root, err := sess.engine.ScheduleTree(def)
	if err != nil {
		return err
	}
	root.OnDone(func(event task.DoneEvent) {
		var result interface{}
		if event.Err == nil {
			result = event.Result
		}
		printRun(cmd, opts, root, result, event.Err)
	})

	sess.engine.Start()
	output.Info("已按 %s 定时执行 %s，Ctrl+C 退出", def.Cron, root.TaskID())
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sess.engine.Stop(stopCtx)
}

// watchEvents 订阅事件总线并输出每个节点的结算
func watchEvents(ctx context.Context, cmd *cobra.Command, bus *events.Bus) error {
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		for event := range ch {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s%s  %s\n",
				event.Timestamp.Format("15:04:05.000"),
				strings.Repeat("  ", event.Depth), event.TaskID, output.FormatStatus(event.Status))
		}
	}()
	return nil
}

// printRun 输出一次执行的结果与元数据树
func printRun(cmd *cobra.Command, opts *globalOptions, root task.Task, result interface{}, err error) {
	out := cmd.OutOrStdout()
	meta := root.Metadata()
	if opts.outputJSON {
		res := runResult{Result: result, MetaData: meta}
		if err != nil {
			res.Error = err.Error()
		}
		_ = output.PrintJSON(out, res)
		return
	}

	output.MetaTree(out, meta)
	if err != nil {
		output.Error("执行失败: %v", err)
		return
	}
	fmt.Fprintf(out, "result: %v\n", result)
}
