package retry

import (
	"errors"
	"fmt"
	"time"
)

// Outcome 一次执行的结果分类（对外导出）
// 由重试协作者决定，调用方据此区分取消与普通失败
type Outcome int

const (
	// OutcomeSuccess 执行成功
	OutcomeSuccess Outcome = iota
	// OutcomeFailure 普通失败
	OutcomeFailure
	// OutcomeAbort 被中止（取消信号或调用方主动中止）
	OutcomeAbort
)

// String 返回结果分类名称
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeAbort:
		return "abort"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classify 对错误进行分类（对外导出）
// 只看错误本身的标记，不沿 cause 链查找：被上层包装过的中止错误属于上层的普通失败
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if _, ok := err.(*AbortError); ok {
		return OutcomeAbort
	}
	return OutcomeFailure
}

// IsAbort 判断错误链中是否包含中止错误
func IsAbort(err error) bool {
	var abortErr *AbortError
	return errors.As(err, &abortErr)
}

// AbortError 中止错误（对外导出）
// 取消信号触发或被调用函数返回 Abort(err) 时产生，不会再被重试
type AbortError struct {
	Attempt int   // 发生中止时的尝试序号（从1开始，0表示尚未开始）
	Cause   error // 中止原因
}

// Abort 将错误标记为中止，重试循环遇到后立即停止（对外导出）
func Abort(cause error) error {
	return &AbortError{Cause: cause}
}

func (e *AbortError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("operation aborted (attempt %d)", e.Attempt)
	}
	return fmt.Sprintf("operation aborted (attempt %d): %v", e.Attempt, e.Cause)
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}

// Message 返回内部原因的消息，没有原因时返回自身消息
func (e *AbortError) Message() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Error()
}

// TimeoutError 单次尝试超时（对外导出）
type TimeoutError struct {
	Attempt int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d timed out after %s", e.Attempt, e.Timeout)
}
