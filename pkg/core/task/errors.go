package task

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LENAX/task-handler/pkg/core/retry"
)

// ErrTaskRunning 任务正在执行时再次调用 Execute
var ErrTaskRunning = errors.New("task is already running")

// TaskError 任务执行错误（对外导出）
// 每跨越一个任务边界包装一次，携带结算时的元数据快照和原始错误
type TaskError struct {
	TaskID  string
	Message string
	Meta    *MetaData
	Cause   error
}

func (e *TaskError) Error() string {
	return e.Message
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Metadata 返回结算时的元数据快照
func (e *TaskError) Metadata() *MetaData {
	return e.Meta
}

// StrategyError 重试策略拒绝再次执行（对外导出）
// 由本地合成，不包装任何真实的执行失败
type StrategyError struct {
	TaskID   string
	Strategy RetryStrategy
}

func (e *StrategyError) Error() string {
	switch e.Strategy {
	case FailAfterSuccess:
		return fmt.Sprintf("Task [%s] was previously executed successfully", e.TaskID)
	default:
		return fmt.Sprintf("Task [%s] was executed previously", e.TaskID)
	}
}

// Phase Sequence 的执行阶段
type Phase string

const (
	PhasePre     Phase = "pre"
	PhaseTask    Phase = "task"
	PhasePost    Phase = "post"
	PhaseFinally Phase = "finally"
)

// PhaseError 阶段执行错误（仅 Sequence 使用）
type PhaseError struct {
	Phase Phase
	Cause error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("Error executing the [%s] phase: %s", e.Phase, e.Cause.Error())
}

func (e *PhaseError) Unwrap() error {
	return e.Cause
}

// MultiError 聚合多个子任务错误（仅 Group 使用）
type MultiError struct {
	Errors []error
}

// Add 追加错误，nil 会被忽略
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// Len 错误数量
func (e *MultiError) Len() int {
	return len(e.Errors)
}

// Trace 将每个子错误的消息以 ",\n" 连接
func (e *MultiError) Trace() string {
	messages := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		messages[i] = err.Error()
	}
	return strings.Join(messages, ",\n")
}

func (e *MultiError) Error() string {
	return e.Trace()
}

func (e *MultiError) Unwrap() []error {
	return e.Errors
}

// SuppressedError 首个错误获胜，后续错误作为被抑制的原因附加（对外导出）
// 消息与首个错误完全一致，被抑制的错误仍可通过 errors.Is/As 访问
type SuppressedError struct {
	Err        error
	Suppressed []error
}

func (e *SuppressedError) Error() string {
	return e.Err.Error()
}

func (e *SuppressedError) Unwrap() []error {
	return append([]error{e.Err}, e.Suppressed...)
}

// withSuppressed 将 suppressed 附加到 err 上，没有可附加的错误时原样返回
func withSuppressed(err error, suppressed ...error) error {
	extra := make([]error, 0, len(suppressed))
	for _, s := range suppressed {
		if s != nil {
			extra = append(extra, s)
		}
	}
	if err == nil || len(extra) == 0 {
		return err
	}
	if se, ok := err.(*SuppressedError); ok {
		se.Suppressed = append(se.Suppressed, extra...)
		return se
	}
	return &SuppressedError{Err: err, Suppressed: extra}
}

// newCancelError 构造默认的用户取消错误
func newCancelError(taskID string) error {
	return fmt.Errorf("Task [%s] was cancelled by the user", taskID)
}

// primary 去掉 SuppressedError 外壳，返回真正决定结果的错误
func primary(err error) error {
	if se, ok := err.(*SuppressedError); ok {
		return se.Err
	}
	return err
}

// isAbort 判断本次结算是否属于取消
func isAbort(err error) bool {
	return retry.Classify(primary(err)) == retry.OutcomeAbort
}

// summarize 生成 reason 中的原因摘要
func summarize(err error) string {
	switch e := primary(err).(type) {
	case *MultiError:
		return e.Trace()
	case *retry.AbortError:
		return e.Message()
	default:
		return err.Error()
	}
}
