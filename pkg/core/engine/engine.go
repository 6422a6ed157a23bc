package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/LENAX/task-handler/pkg/config"
	"github.com/LENAX/task-handler/pkg/core/builder"
	"github.com/LENAX/task-handler/pkg/core/events"
	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/LENAX/task-handler/pkg/storage"
)

var (
	// ErrEngineStopped 引擎已停止，不再接受新任务
	ErrEngineStopped = errors.New("引擎已停止")
	// ErrTaskNotRunning 按UUID取消时找不到正在执行的根任务
	ErrTaskNotRunning = errors.New("任务不在执行中")
)

// Engine 任务树运行入口（对外导出）
// 负责按定义构建任务树、挂载事件总线与执行历史归档，并提供最简单的 Scheduler 实现。
// 任务何时执行仍由调用方决定，Engine 不做并发限流。
type Engine struct {
	cfg      *config.EngineConfig
	registry *builder.FunctionRegistry
	builder  *builder.TreeBuilder
	bus      *events.Bus
	recorder *storage.HistoryRecorder
	cron     *CronTrigger

	running map[string]task.Task // 根任务UUID -> Task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	mu      sync.RWMutex
}

// Option 引擎选项
type Option func(*Engine)

// WithBus 挂载事件总线，构建出的每个节点都会发布完成事件
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithHistory 挂载执行历史仓库，根任务每次结算都会归档
func WithHistory(repo storage.HistoryRepository, opts ...storage.RecorderOption) Option {
	return func(e *Engine) {
		if repo != nil {
			e.recorder = storage.NewHistoryRecorder(repo, opts...)
		}
	}
}

// NewEngine 创建Engine实例（对外导出的工厂方法）
func NewEngine(cfg *config.EngineConfig, registry *builder.FunctionRegistry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("函数注册中心不能为空")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		builder: builder.NewTreeBuilder(registry,
			builder.WithDefaultRetryOptions(cfg.RetryOptions()),
			builder.WithDefaultRetryStrategy(cfg.RetryStrategy())),
		running: make(map[string]task.Task),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cron = NewCronTrigger(e)
	return e, nil
}

// Registry 获取函数注册中心（对外导出）
func (e *Engine) Registry() *builder.FunctionRegistry {
	return e.registry
}

// Bus 获取事件总线，未挂载时为 nil（对外导出）
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Cron 获取定时触发器（对外导出）
func (e *Engine) Cron() *CronTrigger {
	return e.cron
}

// Build 按定义构建任务树并挂载监听器（对外导出）
func (e *Engine) Build(def *builder.TreeConfig) (task.Task, error) {
	root, err := e.builder.Build(def)
	if err != nil {
		return nil, fmt.Errorf("构建任务树失败: %w", err)
	}
	e.Attach(root)
	return root, nil
}

// Attach 为外部构建的任务树挂载事件总线与归档监听器（对外导出）
func (e *Engine) Attach(root task.Task) {
	if e.bus != nil {
		e.bus.Attach(root)
	}
	if e.recorder != nil {
		e.recorder.Attach(root)
	}
}

// Run 同步执行根任务，执行期间可通过 Cancel 按UUID取消（对外导出）
func (e *Engine) Run(ctx context.Context, root task.Task) (interface{}, error) {
	e.mu.RLock()
	stopped := e.stopped
	e.mu.RUnlock()
	if stopped {
		return nil, ErrEngineStopped
	}
	return e.run(ctx, root)
}

func (e *Engine) run(ctx context.Context, root task.Task) (interface{}, error) {
	e.mu.Lock()
	_, tracked := e.running[root.UUID()]
	if !tracked {
		e.running[root.UUID()] = root
	}
	e.mu.Unlock()

	if !tracked {
		defer func() {
			e.mu.Lock()
			delete(e.running, root.UUID())
			e.mu.Unlock()
		}()
	}

	log.Printf("▶️  [任务引擎] 开始执行: TaskID=%s, UUID=%s", root.TaskID(), root.UUID())
	result, err := root.Execute(ctx)
	if err != nil {
		log.Printf("❌ [任务引擎] 执行失败: TaskID=%s, 状态=%s, Error=%v", root.TaskID(), root.Status(), err)
		return nil, err
	}
	log.Printf("✅ [任务引擎] 执行完成: TaskID=%s, 状态=%s", root.TaskID(), root.Status())
	return result, nil
}

// RunTree 构建并同步执行任务树（对外导出）
func (e *Engine) RunTree(ctx context.Context, def *builder.TreeConfig) (task.Task, interface{}, error) {
	root, err := e.Build(def)
	if err != nil {
		return nil, nil, err
	}
	result, err := e.Run(ctx, root)
	return root, result, err
}

// Schedule 在后台执行任务（实现 task.Scheduler）
func (e *Engine) Schedule(t task.Task) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return ErrEngineStopped
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// 错误已经由任务自身记录在元数据中
		_, _ = e.run(e.ctx, t)
	}()
	return nil
}

// ScheduleTree 构建任务树并按定义中的 cron 表达式注册定时执行（对外导出）
func (e *Engine) ScheduleTree(def *builder.TreeConfig) (task.Task, error) {
	if def == nil || def.Cron == "" {
		return nil, fmt.Errorf("任务树定义未设置 cron 表达式")
	}
	root, err := e.Build(def)
	if err != nil {
		return nil, err
	}
	name := def.Name
	if name == "" {
		name = def.Root
	}
	if err := e.cron.Register(name, def.Cron, root); err != nil {
		return nil, err
	}
	return root, nil
}

// Cancel 按根任务UUID取消正在执行的任务（对外导出）
// 组合任务的取消不会传播给已派发的子任务，这里逐个取消树中正在执行的节点
func (e *Engine) Cancel(uuid string, reason error) error {
	e.mu.RLock()
	root, ok := e.running[uuid]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("UUID=%s: %w", uuid, ErrTaskNotRunning)
	}

	var targets []task.Task
	seen := make(map[string]bool)
	task.Walk(root, func(depth int, t task.Task) {
		if seen[t.UUID()] || t.Status() != task.StateRunning {
			return
		}
		seen[t.UUID()] = true
		targets = append(targets, t)
	})
	if len(targets) == 0 {
		targets = append(targets, root)
	}
	for _, t := range targets {
		t.Cancel(reason)
	}
	return nil
}

// Running 返回正在执行的根任务UUID（对外导出）
func (e *Engine) Running() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	uuids := make([]string, 0, len(e.running))
	for uuid := range e.running {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)
	return uuids
}

// Start 启动定时触发器（对外导出）
func (e *Engine) Start() {
	e.cron.Start()
	log.Println("✅ [任务引擎] 已启动")
}

// Stop 停止引擎：不再接受新任务，取消后台执行中的任务并等待其结算（对外导出）
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.cron.Stop()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("✅ [任务引擎] 已停止")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待后台任务结束超时: %w", ctx.Err())
	}
}

// 确保实现接口
var _ task.Scheduler = (*Engine)(nil)
