package task

import (
	"context"
	"fmt"

	"github.com/LENAX/task-handler/pkg/core/retry"
)

// Single 叶子任务：一个函数、一组参数以及可选的绑定接收者（对外导出）
// 低层的按次数重试、单次超时与退避由 retry.Do 完成
type Single struct {
	Handler

	fn           JobFunc
	args         []interface{}
	retryOptions retry.Options
}

// NewSingle 创建叶子任务（对外导出）
func NewSingle(fn interface{}, args []interface{}, opts ...Option) (*Single, error) {
	o := applyOptions(opts)

	jobFunc, err := WrapJobFunc(fn, o.bind)
	if err != nil {
		return nil, fmt.Errorf("包装任务函数失败: %w", err)
	}

	s := &Single{
		fn:           jobFunc,
		args:         append([]interface{}(nil), args...),
		retryOptions: o.retryOptions,
	}
	s.init(o, s.execute)
	return s, nil
}

// MustSingle 与 NewSingle 相同，失败时panic，用于函数签名在编译期即可确定的场景
func MustSingle(fn interface{}, args []interface{}, opts ...Option) *Single {
	s, err := NewSingle(fn, args, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// RetryOptions 返回底层重试选项
func (s *Single) RetryOptions() retry.Options {
	return s.retryOptions
}

func (s *Single) execute(ctx context.Context) (interface{}, error) {
	return retry.Do(ctx, func(attemptCtx context.Context) (interface{}, error) {
		return s.fn(attemptCtx, s.args)
	}, s.retryOptions)
}
