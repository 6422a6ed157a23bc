// Package builder 根据YAML定义与函数注册中心构建任务树
package builder

import (
	"fmt"
	"log"
	"sort"

	"github.com/LENAX/task-handler/pkg/core/retry"
	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/begmaroman/go-dag"
)

// TreeBuilder 任务树构建器（对外导出）
type TreeBuilder struct {
	registry        *FunctionRegistry
	retryOptions    retry.Options
	defaultStrategy task.RetryStrategy
}

// BuilderOption 构建器选项
type BuilderOption func(*TreeBuilder)

// WithDefaultRetryOptions 设置叶子节点的默认重试选项
func WithDefaultRetryOptions(opts retry.Options) BuilderOption {
	return func(b *TreeBuilder) {
		b.retryOptions = opts
	}
}

// WithDefaultRetryStrategy 设置节点的默认重试策略
func WithDefaultRetryStrategy(strategy task.RetryStrategy) BuilderOption {
	return func(b *TreeBuilder) {
		b.defaultStrategy = strategy
	}
}

// NewTreeBuilder 创建任务树构建器（对外导出，必须包含registry）
func NewTreeBuilder(registry *FunctionRegistry, opts ...BuilderOption) *TreeBuilder {
	if registry == nil {
		panic("registry不能为nil，TreeBuilder必须使用registry")
	}
	b := &TreeBuilder{
		registry:        registry,
		retryOptions:    retry.DefaultOptions(),
		defaultStrategy: task.Retry,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build 校验定义并构建任务树（对外导出）
// 同一节点被多处引用时，每处引用都会得到独立的任务实例
func (b *TreeBuilder) Build(cfg *TreeConfig) (task.Task, error) {
	if err := b.Validate(cfg); err != nil {
		return nil, err
	}
	return b.buildNode(cfg, cfg.Root)
}

// Validate 校验节点引用、函数是否注册以及是否存在循环引用
func (b *TreeBuilder) Validate(cfg *TreeConfig) error {
	if cfg == nil {
		return fmt.Errorf("任务树定义不能为空")
	}
	if cfg.Root == "" {
		return fmt.Errorf("任务树定义缺少 root")
	}
	if _, ok := cfg.Tasks[cfg.Root]; !ok {
		return fmt.Errorf("root 节点 %s 不存在", cfg.Root)
	}

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	// 顶点以节点名称为ID，值只用于环检测
	d := dag.NewDAG[string]()
	for _, name := range names {
		node := cfg.Tasks[name]
		if node == nil {
			return fmt.Errorf("节点 %s 定义为空", name)
		}
		if err := b.validateNode(name, node); err != nil {
			return err
		}
		if err := d.AddVertexByID(name, name); err != nil {
			return fmt.Errorf("添加节点失败: %s, Error=%w", name, err)
		}
	}

	for _, name := range names {
		for _, ref := range cfg.Tasks[name].references() {
			if _, ok := cfg.Tasks[ref]; !ok {
				return fmt.Errorf("节点 %s 引用了不存在的节点 %s", name, ref)
			}
			if ref == name {
				return fmt.Errorf("检测到循环引用: %s -> %s", name, ref)
			}
			if isEdge, _ := d.IsEdge(name, ref); isEdge {
				continue
			}
			if err := d.AddEdge(name, ref); err != nil {
				return fmt.Errorf("检测到循环引用: %s -> %s, Error=%w", name, ref, err)
			}
		}
	}

	for id := range d.GetRoots() {
		if id != cfg.Root {
			log.Printf("⚠️  [任务树] 节点 %s 未被 root 引用，将被忽略", id)
		}
	}
	return nil
}

func (b *TreeBuilder) validateNode(name string, node *NodeConfig) error {
	if node.RetryStrategy != "" {
		if _, err := task.ParseRetryStrategy(node.RetryStrategy); err != nil {
			return fmt.Errorf("节点 %s: %w", name, err)
		}
	}
	switch node.kind() {
	case NodeSingle:
		if node.Func == "" {
			return fmt.Errorf("节点 %s 缺少 func", name)
		}
		if _, ok := b.registry.Get(node.Func); !ok {
			return fmt.Errorf("节点 %s 引用的函数 %s 未注册", name, node.Func)
		}
	case NodeGroup:
	case NodeSequence:
		if node.Task == "" {
			return fmt.Errorf("节点 %s 缺少 task", name)
		}
	default:
		return fmt.Errorf("节点 %s 类型无效: %s", name, node.Type)
	}
	return nil
}

func (b *TreeBuilder) buildNode(cfg *TreeConfig, name string) (task.Task, error) {
	node := cfg.Tasks[name]
	opts, err := b.nodeOptions(name, node)
	if err != nil {
		return nil, err
	}

	switch node.kind() {
	case NodeGroup:
		children, err := b.buildAll(cfg, node.Children)
		if err != nil {
			return nil, err
		}
		return task.NewGroup(children, node.AtLeastOne, opts...), nil

	case NodeSequence:
		pattern := task.Pattern{}
		if pattern.Pre, err = b.buildAll(cfg, node.Pre); err != nil {
			return nil, err
		}
		if pattern.Task, err = b.buildNode(cfg, node.Task); err != nil {
			return nil, err
		}
		if pattern.Post, err = b.buildAll(cfg, node.Post); err != nil {
			return nil, err
		}
		if pattern.Finally, err = b.buildAll(cfg, node.Finally); err != nil {
			return nil, err
		}
		return task.NewSequence(pattern, opts...), nil

	default:
		fn, _ := b.registry.Get(node.Func)
		opts = append(opts, task.WithRetryOptions(node.Retry.merge(b.retryOptions)))
		if fn.Receiver != nil {
			opts = append(opts, task.WithBind(fn.Receiver))
		}
		single, err := task.NewSingle(fn.Fn, node.Args, opts...)
		if err != nil {
			return nil, fmt.Errorf("构建节点 %s 失败: %w", name, err)
		}
		return single, nil
	}
}

func (b *TreeBuilder) buildAll(cfg *TreeConfig, names []string) ([]task.Task, error) {
	tasks := make([]task.Task, 0, len(names))
	for _, name := range names {
		t, err := b.buildNode(cfg, name)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (b *TreeBuilder) nodeOptions(name string, node *NodeConfig) ([]task.Option, error) {
	id := node.ID
	if id == "" {
		id = name
	}
	strategy := b.defaultStrategy
	if node.RetryStrategy != "" {
		parsed, err := task.ParseRetryStrategy(node.RetryStrategy)
		if err != nil {
			return nil, fmt.Errorf("节点 %s: %w", name, err)
		}
		strategy = parsed
	}

	opts := []task.Option{
		task.WithID(id),
		task.WithPriority(node.Priority),
		task.WithRetryStrategy(strategy),
	}
	if node.Weight != nil {
		opts = append(opts, task.WithWeight(*node.Weight))
	}
	return opts, nil
}
