package plugin

import (
	"fmt"

	"github.com/LENAX/task-handler/pkg/config"
	"github.com/LENAX/task-handler/pkg/core/events"
)

// NewManagerFromConfig 按配置注册并绑定 Webhook 插件（对外导出）
// 没有配置任何 Webhook 时返回 nil
func NewManagerFromConfig(cfg *config.EngineConfig) (Manager, error) {
	if cfg == nil || len(cfg.TaskHandler.Notify.Webhooks) == 0 {
		return nil, nil
	}

	manager := NewManager()
	for i, hook := range cfg.TaskHandler.Notify.Webhooks {
		name := hook.Name
		if name == "" {
			name = fmt.Sprintf("webhook-%d", i)
		}
		params := map[string]string{
			"url":   hook.URL,
			"token": hook.Token,
		}
		if hook.Timeout > 0 {
			params["timeout"] = hook.Timeout.String()
		}
		if err := manager.RegisterWithInit(NewWebhookPlugin(name), params); err != nil {
			return nil, err
		}

		eventTypes := hook.Events
		if len(eventTypes) == 0 {
			eventTypes = []string{string(events.EventTaskFailed)}
		}
		for _, eventType := range eventTypes {
			if err := manager.Bind(Binding{
				PluginName: name,
				Event:      events.EventType(eventType),
				RootOnly:   hook.RootOnly,
			}); err != nil {
				return nil, fmt.Errorf("绑定插件 %s 失败: %w", name, err)
			}
		}
	}
	return manager, nil
}
