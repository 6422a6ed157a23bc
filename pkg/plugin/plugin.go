// Package plugin 在任务结算事件上触发通知插件（如 Webhook）
package plugin

import (
	"context"

	"github.com/LENAX/task-handler/pkg/core/events"
)

// Plugin 插件接口（对外导出）
type Plugin interface {
	// Name 插件名称，在管理器中唯一
	Name() string
	// Init 使用绑定参数初始化插件
	Init(params map[string]string) error
	// Execute 处理一个任务结算事件
	Execute(ctx context.Context, event *events.TaskEvent) error
}
