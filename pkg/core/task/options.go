package task

import (
	"github.com/LENAX/task-handler/pkg/core/retry"
)

// options 任务构造选项（内部使用）
type options struct {
	priority      int
	weight        int
	id            string
	retryOptions  retry.Options
	retryStrategy RetryStrategy
	bind          interface{}
	listeners     []DoneListener
}

// defaultOptions 返回默认选项
func defaultOptions() *options {
	return &options{
		priority:      0,
		weight:        1,
		retryOptions:  retry.DefaultOptions(),
		retryStrategy: Retry,
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Option 配置选项函数类型
type Option func(*options)

// WithPriority 设置优先级，供外部调度器使用
func WithPriority(priority int) Option {
	return func(o *options) {
		o.priority = priority
	}
}

// WithWeight 设置权重，供外部调度器使用
func WithWeight(weight int) Option {
	return func(o *options) {
		if weight >= 0 {
			o.weight = weight
		}
	}
}

// WithID 设置业务任务ID（taskId），用于错误信息与逻辑重试关联
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithRetryOptions 设置叶子任务的底层重试选项
func WithRetryOptions(retryOptions retry.Options) Option {
	return func(o *options) {
		o.retryOptions = retryOptions
	}
}

// WithRetryStrategy 设置重试策略
func WithRetryStrategy(strategy RetryStrategy) Option {
	return func(o *options) {
		o.retryStrategy = strategy
	}
}

// WithBind 绑定接收者，调用时作为第一个参数传入（方法表达式）
func WithBind(receiver interface{}) Option {
	return func(o *options) {
		o.bind = receiver
	}
}

// WithDoneListener 在构造时注册完成监听器，保证在首次执行前订阅
func WithDoneListener(listener DoneListener) Option {
	return func(o *options) {
		if listener != nil {
			o.listeners = append(o.listeners, listener)
		}
	}
}
