// Package retry 提供叶子任务使用的通用重试协作者：
// 按次数重试、单次超时、指数退避，并通过 context 支持中止信号。
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime/debug"
	"time"
)

// Func 可重试的函数签名（对外导出）
type Func func(ctx context.Context) (interface{}, error)

// Options 重试选项（对外导出）
type Options struct {
	Attempts   int           `yaml:"attempts" json:"attempts"`     // 最大尝试次数（含首次），<=0 视为1
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`       // 单次尝试超时，0表示不限制
	Delay      time.Duration `yaml:"delay" json:"delay"`           // 首次重试前的等待时间
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`   // 退避等待上限，0表示不限制
	Multiplier float64       `yaml:"multiplier" json:"multiplier"` // 退避倍数，<1 视为1
	Verbose    bool          `yaml:"verbose" json:"verbose"`       // 是否打印每次重试日志
}

// DefaultOptions 返回默认重试选项（对外导出）
func DefaultOptions() Options {
	return Options{
		Attempts:   1,
		Delay:      100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
	}
}

// normalize 修正非法取值
func (o Options) normalize() Options {
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.MaxDelay < 0 {
		o.MaxDelay = 0
	}
	if o.MaxDelay > 0 && o.Delay > o.MaxDelay {
		o.Delay = o.MaxDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = 1
	}
	return o
}

// nextDelay 计算下一次退避等待时间，超过上限（未设置时为 time.Duration 最大值）即饱和
func (o Options) nextDelay(current time.Duration) time.Duration {
	ceiling := time.Duration(math.MaxInt64)
	if o.MaxDelay > 0 {
		ceiling = o.MaxDelay
	}
	next := float64(current) * o.Multiplier
	if math.IsNaN(next) || next >= float64(ceiling) {
		return ceiling
	}
	if next < 0 {
		return 0
	}
	return time.Duration(next)
}

type attemptKey struct{}

// WithAttempt 将当前尝试序号写入context（对外导出）
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFromContext 读取当前尝试序号，不存在时返回0（对外导出）
func AttemptFromContext(ctx context.Context) int {
	if attempt, ok := ctx.Value(attemptKey{}).(int); ok {
		return attempt
	}
	return 0
}

// Do 按选项执行fn，直到成功、用尽次数或被中止（对外导出）
// ctx 被取消时返回 *AbortError，其 Cause 为 context.Cause(ctx)。
// 次数用尽时返回最后一次尝试的错误。
func Do(ctx context.Context, fn Func, opts Options) (interface{}, error) {
	opts = opts.normalize()

	var lastErr error
	delay := opts.Delay
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, &AbortError{Attempt: attempt, Cause: causeOf(ctx)}
		}

		result, err := runAttempt(ctx, fn, attempt, opts.Timeout)
		if err == nil {
			return result, nil
		}

		var abortErr *AbortError
		if errors.As(err, &abortErr) {
			if abortErr.Attempt == 0 {
				abortErr.Attempt = attempt
			}
			return nil, abortErr
		}
		if ctx.Err() != nil {
			return nil, &AbortError{Attempt: attempt, Cause: causeOf(ctx)}
		}

		lastErr = err
		if attempt == opts.Attempts {
			break
		}

		if opts.Verbose {
			log.Printf("🔄 [重试] 第%d/%d次尝试失败: %v, %v后重试", attempt, opts.Attempts, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, &AbortError{Attempt: attempt, Cause: causeOf(ctx)}
		}
		delay = opts.nextDelay(delay)
	}

	return nil, lastErr
}

// runAttempt 执行单次尝试，处理超时、取消与panic
func runAttempt(ctx context.Context, fn Func, attempt int, timeout time.Duration) (interface{}, error) {
	attemptCtx := WithAttempt(ctx, attempt)
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(attemptCtx)
	}
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[retry] panic recovered: %v\n%s", r, debug.Stack())
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := fn(attemptCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, &AbortError{Attempt: attempt, Cause: causeOf(ctx)}
		}
		return nil, &TimeoutError{Attempt: attempt, Timeout: timeout}
	}
}

// sleep 可被取消的等待
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func causeOf(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
