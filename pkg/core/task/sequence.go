package task

import (
	"context"
	"log"

	"github.com/LENAX/task-handler/pkg/core/retry"
)

// Pattern Sequence 的阶段定义（对外导出）
// Pre 按顺序执行，首个失败即终止；Task 为主任务；Post 在主任务成功后执行；
// Finally 无论前面成功与否都会执行。
type Pattern struct {
	Pre     []Task
	Task    Task
	Post    []Task
	Finally []Task
}

// Sequence 分阶段执行的任务（对外导出）
type Sequence struct {
	Handler

	pattern Pattern
}

// NewSequence 创建分阶段任务（对外导出）
func NewSequence(pattern Pattern, opts ...Option) *Sequence {
	o := applyOptions(opts)
	s := &Sequence{
		pattern: Pattern{
			Pre:     append([]Task(nil), pattern.Pre...),
			Task:    pattern.Task,
			Post:    append([]Task(nil), pattern.Post...),
			Finally: append([]Task(nil), pattern.Finally...),
		},
	}
	s.init(o, s.execute)
	s.composite = true
	return s
}

// Pattern 返回阶段定义
func (s *Sequence) Pattern() Pattern {
	return s.pattern
}

// Children 按 pre、task、post、finally 的顺序返回全部子任务
func (s *Sequence) Children() []Task {
	children := make([]Task, 0, len(s.pattern.Pre)+len(s.pattern.Post)+len(s.pattern.Finally)+1)
	children = append(children, s.pattern.Pre...)
	if s.pattern.Task != nil {
		children = append(children, s.pattern.Task)
	}
	children = append(children, s.pattern.Post...)
	children = append(children, s.pattern.Finally...)
	return children
}

func (s *Sequence) execute(ctx context.Context) (interface{}, error) {
	result, err := s.runMain(ctx)

	// finally 在父任务被取消后仍然执行
	finallyErr := s.runFinally(context.WithoutCancel(ctx))
	switch {
	case err != nil:
		return nil, withSuppressed(err, finallyErr)
	case finallyErr != nil:
		return nil, finallyErr
	default:
		return result, nil
	}
}

// runMain 依次执行 pre、task、post
func (s *Sequence) runMain(ctx context.Context) (interface{}, error) {
	for _, pre := range s.pattern.Pre {
		if err := s.runMainChild(ctx, pre); err != nil {
			return nil, &PhaseError{Phase: PhasePre, Cause: err}
		}
	}

	var result interface{}
	if s.pattern.Task != nil {
		if cause := stopCause(ctx); cause != nil {
			return nil, &retry.AbortError{Cause: cause}
		}
		var err error
		result, err = s.pattern.Task.Execute(ctx)
		s.recordChild(ctx, s.pattern.Task.Metadata())
		if err != nil {
			return nil, err
		}
	}

	for _, post := range s.pattern.Post {
		if err := s.runMainChild(ctx, post); err != nil {
			return nil, &PhaseError{Phase: PhasePost, Cause: err}
		}
	}
	return result, nil
}

// runFinally 执行全部 finally 子任务，返回首个失败，其余失败作为被抑制的原因附加
func (s *Sequence) runFinally(ctx context.Context) error {
	var first error
	var suppressed []error
	for _, fin := range s.pattern.Finally {
		err := s.runChild(ctx, fin)
		if err == nil {
			continue
		}
		log.Printf("⚠️  [finally] TaskID=%s, 子任务 %s 失败: %v", s.TaskID(), fin.TaskID(), err)
		if first == nil {
			first = err
			continue
		}
		suppressed = append(suppressed, err)
	}
	if first == nil {
		return nil
	}
	return withSuppressed(&PhaseError{Phase: PhaseFinally, Cause: first}, suppressed...)
}

func (s *Sequence) runChild(ctx context.Context, child Task) error {
	_, err := child.Execute(ctx)
	s.recordChild(ctx, child.Metadata())
	return err
}

// runMainChild 派发 pre / post 子任务前检查是否已被取消
func (s *Sequence) runMainChild(ctx context.Context, child Task) error {
	if cause := stopCause(ctx); cause != nil {
		return &retry.AbortError{Cause: cause}
	}
	return s.runChild(ctx, child)
}
