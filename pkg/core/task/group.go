package task

import (
	"context"
	"log"

	"github.com/LENAX/task-handler/pkg/core/retry"
)

// Group 按顺序运行全部子任务，不因单个失败而中断（对外导出）
// 结果按位置返回，失败的子任务对应位置为 nil；
// atLeastOne 为 false 时任一子任务失败即整体失败，为 true 时只有全部失败才整体失败。
type Group struct {
	Handler

	tasks      []Task
	atLeastOne bool
}

// NewGroup 创建任务组（对外导出）
func NewGroup(tasks []Task, atLeastOne bool, opts ...Option) *Group {
	o := applyOptions(opts)
	g := &Group{
		tasks:      append([]Task(nil), tasks...),
		atLeastOne: atLeastOne,
	}
	g.init(o, g.execute)
	g.composite = true
	return g
}

// Children 返回子任务
func (g *Group) Children() []Task {
	return append([]Task(nil), g.tasks...)
}

// AtLeastOne 是否只要求至少一个子任务成功
func (g *Group) AtLeastOne() bool {
	return g.atLeastOne
}

func (g *Group) execute(ctx context.Context) (interface{}, error) {
	results := make([]interface{}, len(g.tasks))
	failures := &MultiError{}

	for i, child := range g.tasks {
		if cause := stopCause(ctx); cause != nil {
			// 已派发的子任务不受影响，尚未派发的保持 pending
			log.Printf("🛑 [任务组] TaskID=%s, 已取消, 跳过剩余%d个子任务", g.TaskID(), len(g.tasks)-i)
			return nil, &retry.AbortError{Cause: cause}
		}

		result, err := child.Execute(ctx)
		g.recordChild(ctx, child.Metadata())
		if err != nil {
			failures.Add(err)
			continue
		}
		results[i] = result
	}

	if failures.Len() == 0 {
		return results, nil
	}
	if g.atLeastOne && failures.Len() < len(g.tasks) {
		log.Printf("⚠️  [任务组] TaskID=%s, %d/%d个子任务失败, 至少一个成功", g.TaskID(), failures.Len(), len(g.tasks))
		return results, nil
	}
	return nil, failures
}
