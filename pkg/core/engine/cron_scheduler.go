package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/robfig/cron/v3"
)

// cronParser 支持秒级精度与 @every 等描述符
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronTrigger 定时触发器（对外导出）
// 每次触发都会重新调用同一个任务的 Execute，是否真正重跑由任务的重试策略决定
type CronTrigger struct {
	cron      *cron.Cron
	scheduler task.Scheduler
	tasks     map[string]task.Task    // name -> Task映射
	entries   map[string]cron.EntryID // name -> cron.EntryID映射
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewCronTrigger 创建定时触发器（对外导出）
// scheduler 为 nil 时在 cron 的协程中直接执行任务
func NewCronTrigger(scheduler task.Scheduler) *CronTrigger {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronTrigger{
		cron:      cron.New(cron.WithParser(cronParser)),
		scheduler: scheduler,
		tasks:     make(map[string]task.Task),
		entries:   make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ValidateCronExpr 校验Cron表达式（对外导出）
func ValidateCronExpr(expr string) error {
	if expr == "" {
		return fmt.Errorf("Cron表达式不能为空")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("Cron表达式无效: %w", err)
	}
	return nil
}

// Register 注册定时任务（对外导出）
func (ct *CronTrigger) Register(name, expr string, t task.Task) error {
	if t == nil {
		return fmt.Errorf("定时任务 %s 不能为空", name)
	}
	if err := ValidateCronExpr(expr); err != nil {
		return fmt.Errorf("定时任务 %s: %w", name, err)
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	if _, exists := ct.tasks[name]; exists {
		return fmt.Errorf("定时任务 %s 已注册", name)
	}

	entryID, err := ct.cron.AddFunc(expr, func() {
		ct.trigger(name, t)
	})
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}

	ct.tasks[name] = t
	ct.entries[name] = entryID

	log.Printf("✅ [Cron触发器] 已注册任务: Name=%s, TaskID=%s, CronExpr=%s", name, t.TaskID(), expr)
	return nil
}

// Unregister 取消注册定时任务（对外导出）
func (ct *CronTrigger) Unregister(name string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	entryID, exists := ct.entries[name]
	if !exists {
		return fmt.Errorf("定时任务 %s 未注册", name)
	}

	ct.cron.Remove(entryID)
	delete(ct.tasks, name)
	delete(ct.entries, name)

	log.Printf("✅ [Cron触发器] 已取消注册任务: Name=%s", name)
	return nil
}

// trigger 触发任务执行（内部方法）
func (ct *CronTrigger) trigger(name string, t task.Task) {
	if ct.ctx.Err() != nil {
		return
	}
	log.Printf("🕐 [Cron触发器] 触发任务执行: Name=%s, TaskID=%s, 当前状态=%s", name, t.TaskID(), t.Status())

	if ct.scheduler != nil {
		if err := ct.scheduler.Schedule(t); err != nil {
			log.Printf("❌ [Cron触发器] 提交任务失败: Name=%s, Error=%v", name, err)
		}
		return
	}

	if _, err := t.Execute(ct.ctx); err != nil {
		log.Printf("⚠️  [Cron触发器] 任务执行失败: Name=%s, Error=%v", name, err)
	}
}

// Start 启动定时触发器（对外导出）
func (ct *CronTrigger) Start() {
	ct.cron.Start()
	log.Println("✅ [Cron触发器] 已启动")
}

// Stop 停止定时触发器并等待正在执行的触发结束（对外导出）
func (ct *CronTrigger) Stop() {
	ct.cancel()
	<-ct.cron.Stop().Done()
	log.Println("✅ [Cron触发器] 已停止")
}

// Registered 获取已注册的定时任务名称（对外导出）
func (ct *CronTrigger) Registered() []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	names := make([]string, 0, len(ct.tasks))
	for name := range ct.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
