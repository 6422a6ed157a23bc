package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// Bus 基于 watermill gochannel 的进程内事件总线（对外导出）
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
	buffer int

	mu     sync.RWMutex
	closed bool
}

type busOptions struct {
	debug  bool
	trace  bool
	buffer int
}

// BusOption 事件总线选项
type BusOption func(*busOptions)

// WithDebug 打开 watermill 调试日志
func WithDebug(debug bool) BusOption {
	return func(o *busOptions) {
		o.debug = debug
	}
}

// WithTrace 打开 watermill trace 日志
func WithTrace(trace bool) BusOption {
	return func(o *busOptions) {
		o.trace = trace
	}
}

// WithBuffer 设置订阅通道缓冲大小
func WithBuffer(size int) BusOption {
	return func(o *busOptions) {
		if size > 0 {
			o.buffer = size
		}
	}
}

// NewBus 创建事件总线（对外导出）
func NewBus(opts ...BusOption) *Bus {
	options := &busOptions{buffer: 64}
	for _, opt := range opts {
		opt(options)
	}

	logger := watermill.NewStdLogger(options.debug, options.trace)
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(options.buffer),
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return &Bus{
		pubsub: pubsub,
		logger: logger,
		buffer: options.buffer,
	}
}

// Publish 发布事件
func (b *Bus) Publish(event *TaskEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("事件总线已关闭")
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("task_id", event.TaskID)
	msg.Metadata.Set("uuid", event.UUID)
	msg.Metadata.Set("timestamp", event.Timestamp.Format(time.RFC3339Nano))

	if err := b.pubsub.Publish(string(event.Type), msg); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// Attach 为任务树的每个节点注册完成监听器，结算时发布事件
// 需要在执行之前调用；子任务在之后被替换不会自动挂载
func (b *Bus) Attach(root task.Task) {
	rootUUID := root.UUID()
	task.Walk(root, func(depth int, t task.Task) {
		t.OnDone(func(done task.DoneEvent) {
			event := NewTaskEvent(done)
			event.RootUUID = rootUUID
			event.Depth = depth
			if err := b.Publish(event); err != nil {
				log.Printf("⚠️  [事件总线] 发布事件失败: TaskID=%s, Error=%v", event.TaskID, err)
			}
		})
	})
}

// Subscribe 订阅指定类型的事件，不指定类型时订阅全部（对外导出）
// ctx 结束后返回的通道会被关闭
func (b *Bus) Subscribe(ctx context.Context, types ...EventType) (<-chan *TaskEvent, error) {
	if len(types) == 0 {
		types = AllEventTypes()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("事件总线已关闭")
	}

	out := make(chan *TaskEvent, b.buffer)
	var wg sync.WaitGroup
	for _, eventType := range types {
		messages, err := b.pubsub.Subscribe(ctx, string(eventType))
		if err != nil {
			return nil, fmt.Errorf("订阅事件 %s 失败: %w", eventType, err)
		}

		wg.Add(1)
		go func(messages <-chan *message.Message) {
			defer wg.Done()
			for msg := range messages {
				var event TaskEvent
				if err := json.Unmarshal(msg.Payload, &event); err != nil {
					b.logger.Error("反序列化事件失败", err, watermill.LogFields{"message_uuid": msg.UUID})
					msg.Ack()
					continue
				}
				msg.Ack()

				select {
				case out <- &event:
				case <-ctx.Done():
					return
				}
			}
		}(messages)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Close 关闭事件总线，所有订阅通道随之关闭
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}
