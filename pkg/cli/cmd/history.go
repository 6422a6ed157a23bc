package cmd

import (
	"fmt"
	"strconv"

	"github.com/LENAX/task-handler/pkg/cli/output"
	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/LENAX/task-handler/pkg/storage"
	"github.com/spf13/cobra"

	internalstorage "github.com/LENAX/task-handler/internal/storage"
)

// newHistoryCmd history子命令
func newHistoryCmd(opts *globalOptions) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "执行历史查询命令",
		Long:  `查询 run --record 或 serve 归档的任务树执行历史。`,
	}
	historyCmd.AddCommand(newHistoryListCmd(opts))
	historyCmd.AddCommand(newHistoryShowCmd(opts))
	return historyCmd
}

// openHistory 按配置打开执行历史仓库
func openHistory(opts *globalOptions) (storage.HistoryRepository, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	repo, err := internalstorage.OpenFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("打开执行历史存储失败: %w", err)
	}
	return repo, nil
}

// newHistoryListCmd 列出执行历史
func newHistoryListCmd(opts *globalOptions) *cobra.Command {
	var (
		status string
		taskID string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出执行历史",
		RunE: func(cmd *cobra.Command, args []string) error {
			state := task.TaskState(status)
			if status != "" && !state.IsValid() {
				return fmt.Errorf("无效的状态: %s", status)
			}

			repo, err := openHistory(opts)
			if err != nil {
				output.Error("查询失败: %v", err)
				return err
			}
			defer repo.Close()

			var records []*storage.HistoryRecord
			if taskID != "" {
				records, err = repo.ListByTaskID(cmd.Context(), taskID)
			} else {
				records, err = repo.List(cmd.Context(), storage.ListOptions{Status: state, Limit: limit, Offset: offset})
			}
			if err != nil {
				output.Error("查询失败: %v", err)
				return err
			}

			if opts.outputJSON {
				return output.PrintJSON(cmd.OutOrStdout(), records)
			}

			if len(records) == 0 {
				output.Info("暂无执行历史")
				return nil
			}

			table := output.NewTable([]string{"ID", "TASK", "STATUS", "ATTEMPTS", "CREATED", "DURATION"})
			for _, record := range records {
				if taskID != "" && state != "" && record.Status != state {
					continue
				}
				table.AddRow([]string{
					record.ID,
					record.TaskID,
					output.FormatStatus(record.Status),
					strconv.Itoa(record.Attempts),
					record.CreateTime.Local().Format("2006-01-02 15:04:05"),
					output.FormatDuration(record.Duration),
				})
			}
			table.Render(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "按状态过滤（pending/running/completed/failed/cancelled）")
	cmd.Flags().StringVar(&taskID, "task-id", "", "按任务ID过滤")
	cmd.Flags().IntVarP(&limit, "limit", "l", storage.DefaultListLimit, "返回数量")
	cmd.Flags().IntVar(&offset, "offset", 0, "偏移量")
	return cmd
}

// newHistoryShowCmd 查看执行历史详情
func newHistoryShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "查看一次执行的元数据树",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openHistory(opts)
			if err != nil {
				output.Error("查询失败: %v", err)
				return err
			}
			defer repo.Close()

			record, err := repo.GetByID(cmd.Context(), args[0])
			if err != nil {
				output.Error("查询失败: %v", err)
				return err
			}

			if opts.outputJSON {
				return output.PrintJSON(cmd.OutOrStdout(), record)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", record.ID)
			fmt.Fprintf(out, "Task:      %s (%s)\n", record.TaskID, record.TaskUUID)
			fmt.Fprintf(out, "Status:    %s\n", output.FormatStatus(record.Status))
			fmt.Fprintf(out, "Attempts:  %d\n", record.Attempts)
			fmt.Fprintf(out, "Duration:  %s\n", output.FormatDuration(record.Duration))
			if record.Reason != "" {
				fmt.Fprintf(out, "Reason:    %s\n", record.Reason)
			}
			fmt.Fprintln(out)
			output.MetaTree(out, record.MetaData)
			return nil
		},
	}
}
