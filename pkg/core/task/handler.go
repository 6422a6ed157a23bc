// Package task 提供可重试任务执行引擎的核心：统一的生命周期跟踪、可插拔的重试策略、
// 组合执行模式（Single / Group / Sequence）以及结构化的失败传播。
package task

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/LENAX/task-handler/pkg/core/retry"
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
)

// Task 任务接口（对外导出）
type Task interface {
	// Execute 执行任务，是否允许重复执行由重试策略决定
	Execute(ctx context.Context) (interface{}, error)
	// Cancel 取消任务，err 为空时使用默认的用户取消错误
	Cancel(err error)
	// Metadata 返回当前元数据快照，不会失败
	Metadata() *MetaData
	UUID() string
	TaskID() string
	Status() TaskState
	Priority() int
	Weight() int
	RetryStrategy() RetryStrategy
	// OnDone 注册完成监听器，每次结算至多触发一次
	OnDone(listener DoneListener)
	// Children 返回直接子任务，叶子任务返回nil
	Children() []Task
}

// Scheduler 外部调度器（限流、优先级），引擎本身从不调用它
type Scheduler interface {
	Schedule(t Task) error
}

// DoneEvent 任务结算事件
type DoneEvent struct {
	UUID     string
	Result   interface{}
	MetaData *MetaData
	Err      error
}

// DoneListener 完成监听器，在 Execute 返回之前同步调用
type DoneListener func(event DoneEvent)

// runFunc 具体任务类型的执行逻辑
type runFunc func(ctx context.Context) (interface{}, error)

// inflight 正在进行中的一次尝试
type inflight struct {
	cancel context.CancelCauseFunc
}

// Handler 任务基础实现，被 Single / Group / Sequence 嵌入（对外导出）
// 负责身份、时间戳、重试策略、元数据快照、完成通知与取消
type Handler struct {
	uuid     string
	taskID   string
	priority int
	weight   int
	strategy RetryStrategy
	run      runFunc
	// composite 为 true 时自身的取消只停止后续派发，不传播给已派发的子任务
	composite bool

	mu            sync.Mutex
	status        TaskState
	createdAt     time.Time
	executedAt    *time.Time
	completedAt   *time.Time
	cancelledAt   *time.Time
	failedAt      *time.Time
	reason        string
	history       []*MetaData // 之前各次尝试的快照
	children      []*MetaData // 本次尝试中运行的子任务快照
	result        interface{}
	succeeded     bool
	seq           int
	pendingCancel error
	current       *inflight
	listeners     []DoneListener
}

// init 初始化基础字段，由具体任务类型的构造函数调用
func (h *Handler) init(o *options, run runFunc) {
	h.uuid = uuid.NewString()
	h.taskID = o.id
	if h.taskID == "" {
		h.taskID = shortuuid.New()
	}
	h.priority = o.priority
	h.weight = o.weight
	h.strategy = o.retryStrategy
	h.run = run
	h.status = StatePending
	h.createdAt = time.Now()
	h.listeners = append(h.listeners, o.listeners...)
}

// UUID 构造时生成的唯一标识
func (h *Handler) UUID() string { return h.uuid }

// TaskID 业务任务ID
func (h *Handler) TaskID() string { return h.taskID }

// Priority 优先级
func (h *Handler) Priority() int { return h.priority }

// Weight 权重
func (h *Handler) Weight() int { return h.weight }

// RetryStrategy 重试策略
func (h *Handler) RetryStrategy() RetryStrategy { return h.strategy }

// Children 叶子任务没有子任务
func (h *Handler) Children() []Task { return nil }

// Status 当前状态
func (h *Handler) Status() TaskState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// OnDone 注册完成监听器
func (h *Handler) OnDone(listener DoneListener) {
	if listener == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, listener)
	h.mu.Unlock()
}

// Metadata 返回当前元数据快照
func (h *Handler) Metadata() *MetaData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked(true)
}

// gate 策略闸门的判定结果
type gate int

const (
	gateProceed gate = iota
	gateCached
	gateDenied
	gateBusy
)

// Execute 执行任务（对外导出）
func (h *Handler) Execute(ctx context.Context) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	h.mu.Lock()
	if h.pendingCancel != nil {
		// 执行前已被取消：本次调用直接返回取消错误
		err := h.pendingCancel
		h.pendingCancel = nil
		h.mu.Unlock()
		return nil, err
	}

	decision, denyErr := h.shouldBeExecutedLocked()
	switch decision {
	case gateCached:
		result := h.result
		h.mu.Unlock()
		return result, nil
	case gateBusy:
		h.mu.Unlock()
		return nil, fmt.Errorf("Task [%s]: %w", h.taskID, ErrTaskRunning)
	case gateDenied:
		log.Printf("⛔ [重试策略] TaskID=%s, Strategy=%s, 拒绝再次执行", h.taskID, h.strategy)
		wrapped, event, emit := h.settleFailureLocked(denyErr)
		h.mu.Unlock()
		h.emit(emit, event)
		return nil, wrapped
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	h.current = &inflight{cancel: cancel}
	seq := h.seq
	h.mu.Unlock()

	workCtx := runCtx
	if h.composite {
		workCtx = withStopSignal(ctx, runCtx)
	}
	workCtx = withAttemptSeq(WithTaskID(WithTaskUUID(workCtx, h.uuid), h.taskID), h.uuid, seq)

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Task %s] panic recovered: %v\n%s", h.taskID, r, debug.Stack())
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := h.run(workCtx)
		done <- outcome{result: result, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-runCtx.Done():
		select {
		case o = <-done:
		default:
			o = outcome{err: &retry.AbortError{Cause: context.Cause(runCtx)}}
		}
	}

	if o.err != nil && runCtx.Err() != nil && !isAbort(o.err) {
		// 运行期间被取消：以取消结算，子任务的错误作为被抑制的原因保留
		o.err = withSuppressed(&retry.AbortError{Cause: context.Cause(runCtx)}, o.err)
	}

	h.mu.Lock()
	if o.err != nil {
		wrapped, event, emit := h.settleFailureLocked(o.err)
		h.mu.Unlock()
		h.emit(emit, event)
		return nil, wrapped
	}
	event, emit := h.settleSuccessLocked(o.result)
	h.mu.Unlock()
	h.emit(emit, event)
	return o.result, nil
}

// Cancel 取消任务（对外导出）
// 执行中：正在等待的 Execute 立即以取消结算，并通过 context 通知叶子任务中止；
// Group / Sequence 只停止派发后续子任务，已派发的子任务需要单独取消；
// 未执行：任务直接进入取消状态，下一次 Execute 返回该取消错误；
// 已结算：忽略。
func (h *Handler) Cancel(err error) {
	if err == nil {
		err = newCancelError(h.taskID)
	}
	cause := err
	if abortErr, ok := err.(*retry.AbortError); ok && abortErr.Cause != nil {
		cause = abortErr.Cause
	}

	h.mu.Lock()
	switch {
	case h.status == StateRunning && h.current != nil:
		current := h.current
		h.mu.Unlock()
		log.Printf("🛑 [任务取消] TaskID=%s, 原因=%v", h.taskID, cause)
		current.cancel(cause)
	case h.status == StatePending:
		wrapped, event, emit := h.settleFailureLocked(&retry.AbortError{Cause: cause})
		h.pendingCancel = wrapped
		h.mu.Unlock()
		log.Printf("🛑 [任务取消] TaskID=%s, 任务尚未执行, 原因=%v", h.taskID, cause)
		h.emit(emit, event)
	default:
		status := h.status
		h.mu.Unlock()
		log.Printf("⚠️  [任务取消] TaskID=%s, 当前状态=%s, 忽略取消请求", h.taskID, status)
	}
}

// shouldBeExecutedLocked 重试策略闸门，调用方需持有锁
func (h *Handler) shouldBeExecutedLocked() (gate, error) {
	switch {
	case h.status == StatePending:
		h.startAttemptLocked()
		return gateProceed, nil
	case h.status == StateRunning:
		return gateBusy, nil
	case h.strategy == NotExecAfterSuccess && h.status == StateCompleted:
		return gateCached, nil
	}

	executedBefore := h.executedAt != nil
	// 归档上一次尝试，清空终态时间戳与原因
	h.history = append(h.history, h.snapshotLocked(false))
	h.completedAt, h.cancelledAt, h.failedAt = nil, nil, nil
	h.reason = ""
	h.children = nil
	h.result = nil
	h.startAttemptLocked()

	switch {
	case h.strategy == FailAfterExecuted && executedBefore:
		return gateDenied, &StrategyError{TaskID: h.taskID, Strategy: h.strategy}
	case h.strategy == FailAfterSuccess && h.succeeded:
		return gateDenied, &StrategyError{TaskID: h.taskID, Strategy: h.strategy}
	}
	return gateProceed, nil
}

func (h *Handler) startAttemptLocked() {
	h.transitionLocked(StateRunning)
	now := time.Now()
	h.executedAt = &now
	h.seq++
}

func (h *Handler) transitionLocked(target TaskState) {
	if !h.status.CanTransitionTo(target) {
		log.Printf("⚠️  [状态转换] TaskID=%s, 非法转换 %s -> %s", h.taskID, h.status, target)
	}
	h.status = target
}

// settleSuccessLocked 成功结算，调用方需持有锁
func (h *Handler) settleSuccessLocked(result interface{}) (DoneEvent, bool) {
	h.current = nil
	h.transitionLocked(StateCompleted)
	now := time.Now()
	h.completedAt = &now
	h.result = result
	h.succeeded = true

	if len(h.listeners) == 0 {
		return DoneEvent{}, false
	}
	return DoneEvent{UUID: h.uuid, Result: result, MetaData: h.snapshotLocked(true)}, true
}

// settleFailureLocked 失败或取消结算，返回包装后的错误，调用方需持有锁
func (h *Handler) settleFailureLocked(err error) (error, DoneEvent, bool) {
	h.current = nil
	now := time.Now()
	if isAbort(err) {
		h.transitionLocked(StateCancelled)
		h.cancelledAt = &now
	} else {
		h.transitionLocked(StateFailed)
		h.failedAt = &now
	}
	h.result = nil
	h.reason = fmt.Sprintf("Execution error in task [%s]: %s", h.taskID, summarize(err))

	meta := h.snapshotLocked(true)
	wrapped := &TaskError{TaskID: h.taskID, Message: h.reason, Meta: meta, Cause: err}
	if len(h.listeners) == 0 {
		return wrapped, DoneEvent{}, false
	}
	return wrapped, DoneEvent{UUID: h.uuid, MetaData: meta, Err: wrapped}, true
}

// emit 在锁外同步通知监听器
func (h *Handler) emit(ok bool, event DoneEvent) {
	if !ok {
		return
	}
	h.mu.Lock()
	listeners := make([]DoneListener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[Task %s] done listener panic: %v", h.taskID, r)
				}
			}()
			listener(event)
		}()
	}
}

// recordChild 将子任务快照追加到本次尝试的 $meta
// 已取消的尝试仍接收其后台子任务的迟到记录，直到开始新的尝试；其他迟到记录被丢弃
func (h *Handler) recordChild(ctx context.Context, meta *MetaData) {
	seq, ok := getAttemptSeq(ctx, h.uuid)
	h.mu.Lock()
	defer h.mu.Unlock()
	if !ok || seq != h.seq || (h.status != StateRunning && h.status != StateCancelled) {
		return
	}
	h.children = append(h.children, meta)
}

// snapshotLocked 生成元数据快照；withHistory 为 false 时只包含本次尝试的子任务
func (h *Handler) snapshotLocked(withHistory bool) *MetaData {
	settledAt := h.completedAt
	if settledAt == nil {
		settledAt = h.cancelledAt
	}
	if settledAt == nil {
		settledAt = h.failedAt
	}

	size := len(h.children)
	if withHistory {
		size += len(h.history)
	}
	meta := make([]*MetaData, 0, size)
	if withHistory {
		meta = append(meta, h.history...)
	}
	meta = append(meta, h.children...)

	return &MetaData{
		UUID:        h.uuid,
		TaskID:      h.taskID,
		Status:      h.status,
		CreatedAt:   h.createdAt,
		ExecutedAt:  h.executedAt,
		CompletedAt: h.completedAt,
		CancelledAt: h.cancelledAt,
		FailedAt:    h.failedAt,
		Reason:      h.reason,
		Duration:    computeDuration(h.executedAt, settledAt),
		Priority:    h.priority,
		Weight:      h.weight,
		Meta:        meta,
	}
}

// Walk 深度优先遍历任务树（对外导出）
func Walk(root Task, fn func(depth int, t Task)) {
	walk(root, 0, fn)
}

func walk(t Task, depth int, fn func(depth int, t Task)) {
	if t == nil {
		return
	}
	fn(depth, t)
	for _, child := range t.Children() {
		walk(child, depth+1, fn)
	}
}
