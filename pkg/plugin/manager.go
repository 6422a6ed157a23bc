package plugin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/LENAX/task-handler/pkg/core/events"
)

// Binding 插件绑定规则（对外导出）
type Binding struct {
	PluginName string                             // 插件名称
	Event      events.EventType                   // 触发事件
	RootOnly   bool                               // 只在根任务结算时触发
	Condition  func(event *events.TaskEvent) bool // 可选：条件函数，满足条件才触发
}

// matches 判断事件是否满足绑定条件
func (b Binding) matches(event *events.TaskEvent) bool {
	if b.RootOnly && event.Depth != 0 {
		return false
	}
	return b.Condition == nil || b.Condition(event)
}

// Manager 插件管理器接口（对外导出）
type Manager interface {
	// Register 注册插件
	Register(plugin Plugin) error
	// RegisterWithInit 注册并初始化插件
	RegisterWithInit(plugin Plugin, params map[string]string) error
	// Bind 绑定插件到事件
	Bind(binding Binding) error
	// Trigger 按绑定规则把事件交给插件处理
	Trigger(ctx context.Context, event *events.TaskEvent) error
	// Listen 订阅事件总线，ctx 结束前持续触发插件
	Listen(ctx context.Context, bus *events.Bus) (<-chan struct{}, error)
	// GetPlugin 获取已注册的插件
	GetPlugin(name string) (Plugin, bool)
	// ListPlugins 列出所有已注册的插件
	ListPlugins() []string
	// Unregister 取消注册插件
	Unregister(name string) error
}

// managerImpl 插件管理器实现（内部实现）
type managerImpl struct {
	plugins  map[string]Plugin              // 插件名称 -> 插件实例
	bindings map[events.EventType][]Binding // 事件类型 -> 绑定列表
	mu       sync.RWMutex
}

// NewManager 创建插件管理器（对外导出）
func NewManager() Manager {
	return &managerImpl{
		plugins:  make(map[string]Plugin),
		bindings: make(map[events.EventType][]Binding),
	}
}

// Register 注册插件（实现Manager接口）
func (pm *managerImpl) Register(plugin Plugin) error {
	if plugin == nil {
		return fmt.Errorf("插件不能为空")
	}
	name := plugin.Name()
	if name == "" {
		return fmt.Errorf("插件名称不能为空")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.plugins[name]; exists {
		return fmt.Errorf("插件 %s 已注册", name)
	}
	pm.plugins[name] = plugin
	return nil
}

// RegisterWithInit 注册并初始化插件（实现Manager接口）
func (pm *managerImpl) RegisterWithInit(plugin Plugin, params map[string]string) error {
	if err := pm.Register(plugin); err != nil {
		return err
	}
	if err := plugin.Init(params); err != nil {
		// 初始化失败，移除已注册的插件
		pm.mu.Lock()
		delete(pm.plugins, plugin.Name())
		pm.mu.Unlock()
		return fmt.Errorf("插件 %s 初始化失败: %w", plugin.Name(), err)
	}
	return nil
}

// Bind 绑定插件到事件（实现Manager接口）
func (pm *managerImpl) Bind(binding Binding) error {
	if binding.PluginName == "" {
		return fmt.Errorf("插件名称不能为空")
	}
	if !isKnownEvent(binding.Event) {
		return fmt.Errorf("未知的触发事件: %q", binding.Event)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.plugins[binding.PluginName]; !exists {
		return fmt.Errorf("插件 %s 未注册", binding.PluginName)
	}
	pm.bindings[binding.Event] = append(pm.bindings[binding.Event], binding)
	return nil
}

// Trigger 触发插件（实现Manager接口）
// 单个插件失败不影响其他插件，所有错误合并返回
func (pm *managerImpl) Trigger(ctx context.Context, event *events.TaskEvent) error {
	if event == nil {
		return nil
	}

	pm.mu.RLock()
	bindings := append([]Binding(nil), pm.bindings[event.Type]...)
	pm.mu.RUnlock()

	var errs []error
	for _, binding := range bindings {
		if !binding.matches(event) {
			continue
		}
		plugin, exists := pm.GetPlugin(binding.PluginName)
		if !exists {
			continue
		}
		if err := plugin.Execute(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("插件 %s 执行失败: %w", binding.PluginName, err))
		}
	}
	return errors.Join(errs...)
}

// Listen 订阅已绑定的事件类型并在后台触发插件（实现Manager接口）
// 返回的通道在订阅结束（ctx 结束或总线关闭）后关闭
func (pm *managerImpl) Listen(ctx context.Context, bus *events.Bus) (<-chan struct{}, error) {
	if bus == nil {
		return nil, fmt.Errorf("事件总线不能为空")
	}

	pm.mu.RLock()
	types := make([]events.EventType, 0, len(pm.bindings))
	for eventType, bindings := range pm.bindings {
		if len(bindings) > 0 {
			types = append(types, eventType)
		}
	}
	pm.mu.RUnlock()
	if len(types) == 0 {
		return nil, fmt.Errorf("没有任何插件绑定")
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	ch, err := bus.Subscribe(ctx, types...)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range ch {
			if err := pm.Trigger(ctx, event); err != nil {
				log.Printf("⚠️  [插件] 处理事件失败: Event=%s, TaskID=%s, Error=%v", event.Type, event.TaskID, err)
			}
		}
	}()
	return done, nil
}

// GetPlugin 获取已注册的插件（实现Manager接口）
func (pm *managerImpl) GetPlugin(name string) (Plugin, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	plugin, exists := pm.plugins[name]
	return plugin, exists
}

// ListPlugins 列出所有已注册的插件（实现Manager接口）
func (pm *managerImpl) ListPlugins() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.plugins))
	for name := range pm.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister 取消注册插件（实现Manager接口）
func (pm *managerImpl) Unregister(name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.plugins[name]; !exists {
		return fmt.Errorf("插件 %s 未注册", name)
	}
	delete(pm.plugins, name)

	// 移除所有相关的绑定
	for event, bindings := range pm.bindings {
		filtered := make([]Binding, 0, len(bindings))
		for _, binding := range bindings {
			if binding.PluginName != name {
				filtered = append(filtered, binding)
			}
		}
		pm.bindings[event] = filtered
	}
	return nil
}

func isKnownEvent(eventType events.EventType) bool {
	for _, known := range events.AllEventTypes() {
		if known == eventType {
			return true
		}
	}
	return false
}
