package cmd

import (
	"github.com/LENAX/task-handler/pkg/cli/output"
	"github.com/spf13/cobra"
)

// funcInfo JSON输出结构
type funcInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Bound       bool   `json:"bound"`
}

// newFuncsCmd 列出可在任务树定义中引用的函数
func newFuncsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "funcs",
		Short: "列出可引用的任务函数",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := newRegistry()
			if err != nil {
				return err
			}

			funcs := registry.List()
			if opts.outputJSON {
				infos := make([]funcInfo, 0, len(funcs))
				for _, f := range funcs {
					infos = append(infos, funcInfo{Name: f.Name, Description: f.Description, Bound: f.Receiver != nil})
				}
				return output.PrintJSON(cmd.OutOrStdout(), infos)
			}

			table := output.NewTable([]string{"NAME", "DESCRIPTION"})
			for _, f := range funcs {
				table.AddRow([]string{f.Name, f.Description})
			}
			table.Render(cmd.OutOrStdout())
			return nil
		},
	}
}
