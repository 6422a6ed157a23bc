package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/fatih/color"
)

// FormatStatus 格式化状态显示
func FormatStatus(status task.TaskState) string {
	switch status {
	case task.StateCompleted:
		return "✅ completed"
	case task.StateFailed:
		return "❌ failed"
	case task.StateRunning:
		return "🔄 running"
	case task.StateCancelled:
		return "🛑 cancelled"
	case task.StatePending:
		return "⏳ pending"
	default:
		return string(status)
	}
}

// FormatDuration 格式化毫秒耗时，-1 显示为 "-"
func FormatDuration(ms int64) string {
	if ms < 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).String()
}

// MetaTree 以缩进树的形式输出元数据，$meta 中的条目作为子节点
func MetaTree(w io.Writer, meta *task.MetaData) {
	if meta == nil {
		return
	}
	meta.Walk(func(depth int, m *task.MetaData) {
		statusColor := color.New(statusAttr(m.Status))
		fmt.Fprintf(w, "%s%s  %s  %s",
			strings.Repeat("  ", depth),
			m.TaskID,
			statusColor.Sprint(FormatStatus(m.Status)),
			FormatDuration(m.Duration))
		if m.Reason != "" {
			fmt.Fprintf(w, "  %s", m.Reason)
		}
		fmt.Fprintln(w)
	})
}

func statusAttr(status task.TaskState) color.Attribute {
	switch status {
	case task.StateCompleted:
		return color.FgGreen
	case task.StateFailed:
		return color.FgRed
	case task.StateCancelled:
		return color.FgYellow
	default:
		return color.FgCyan
	}
}
