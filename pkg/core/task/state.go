package task

import (
	"fmt"
	"strings"
)

// TaskState 任务状态枚举（对外导出）
// 每次执行尝试都会经历 Pending → Running → 终态 的一个周期
type TaskState string

const (
	// StatePending 待执行（构造后的初始状态）
	StatePending TaskState = "pending"
	// StateRunning 执行中
	StateRunning TaskState = "running"
	// StateCompleted 执行成功
	StateCompleted TaskState = "completed"
	// StateCancelled 已取消
	StateCancelled TaskState = "cancelled"
	// StateFailed 执行失败
	StateFailed TaskState = "failed"
)

// IsValid 检查状态是否有效（对外导出）
func (s TaskState) IsValid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal 是否为终态
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo 检查是否可以转换到目标状态（对外导出）
func (s TaskState) CanTransitionTo(target TaskState) bool {
	switch s {
	case StatePending:
		// 尚未执行时可以开始执行，也可以被直接取消
		return target == StateRunning || target == StateCancelled
	case StateRunning:
		return target.IsTerminal()
	case StateCompleted, StateCancelled, StateFailed:
		// 终态只能进入新一轮尝试，是否允许由重试策略决定
		return target == StateRunning
	default:
		return false
	}
}

// RetryStrategy 重试策略（对外导出）
// 决定对已经执行过的任务再次调用 Execute 是否被允许
type RetryStrategy int

const (
	// Retry 总是允许重新执行，之前的尝试记录归档到 $meta
	Retry RetryStrategy = iota
	// NotExecAfterSuccess 成功后再次调用直接返回缓存结果，失败或取消后允许重新执行
	NotExecAfterSuccess
	// FailAfterSuccess 成功后再次调用立即失败，成功之前等同于 Retry
	FailAfterSuccess
	// FailAfterExecuted 首次尝试之后的任何调用都立即失败
	FailAfterExecuted
)

var retryStrategyNames = map[RetryStrategy]string{
	Retry:               "retry",
	NotExecAfterSuccess: "not_exec_after_success",
	FailAfterSuccess:    "fail_after_success",
	FailAfterExecuted:   "fail_after_executed",
}

// String 返回策略名称
func (r RetryStrategy) String() string {
	if name, ok := retryStrategyNames[r]; ok {
		return name
	}
	return fmt.Sprintf("retry_strategy(%d)", int(r))
}

// ParseRetryStrategy 从字符串解析重试策略（对外导出）
// 接受 snake_case 与 CamelCase 两种写法，空字符串返回默认的 Retry
func ParseRetryStrategy(s string) (RetryStrategy, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	if normalized == "" {
		return Retry, nil
	}
	for strategy, name := range retryStrategyNames {
		if strings.ReplaceAll(name, "_", "") == normalized {
			return strategy, nil
		}
	}
	return Retry, fmt.Errorf("未知的重试策略: %s", s)
}
