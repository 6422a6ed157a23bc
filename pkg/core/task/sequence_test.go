package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSequence_AllPhases 各阶段按顺序执行，返回主任务结果
func TestSequence_AllPhases(t *testing.T) {
	var order []string
	step := func(name string, v interface{}) Task {
		s, err := NewSingle(func(ctx context.Context) (interface{}, error) {
			order = append(order, name)
			return v, nil
		}, nil, WithID(name), noRetry())
		require.NoError(t, err)
		return s
	}

	seq := NewSequence(Pattern{
		Pre:     []Task{step("pre1", nil), step("pre2", nil)},
		Task:    step("main", "result"),
		Post:    []Task{step("post", nil)},
		Finally: []Task{step("finally", nil)},
	})

	result, err := seq.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.Equal(t, []string{"pre1", "pre2", "main", "post", "finally"}, order)
	assert.Len(t, seq.Metadata().Meta, 5)
	assert.Len(t, seq.Children(), 5)
}

// TestSequence_PreFailure pre 失败时跳过 task 与 post，finally 仍然执行
func TestSequence_PreFailure(t *testing.T) {
	main := okTask(t, "main", 1)
	post := okTask(t, "post", 2)
	fin := okTask(t, "fin", 3)
	seq := NewSequence(Pattern{
		Pre:     []Task{failTask(t, "pre", "setup broke")},
		Task:    main,
		Post:    []Task{post},
		Finally: []Task{fin},
	}, WithID("seq"))

	_, err := seq.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t,
		"Execution error in task [seq]: Error executing the [pre] phase: Execution error in task [pre]: setup broke",
		err.Error())

	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhasePre, phaseErr.Phase)

	assert.Equal(t, StatePending, main.Status())
	assert.Equal(t, StatePending, post.Status())
	assert.Equal(t, StateCompleted, fin.Status())
	assert.Len(t, seq.Metadata().Meta, 2)
}

// TestSequence_TaskFailure 主任务错误原样传播，不包装阶段信息
func TestSequence_TaskFailure(t *testing.T) {
	post := okTask(t, "post", 2)
	seq := NewSequence(Pattern{Task: failTask(t, "main", "bad"), Post: []Task{post}}, WithID("seq"))

	_, err := seq.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Execution error in task [seq]: Execution error in task [main]: bad", err.Error())
	var phaseErr *PhaseError
	assert.False(t, errors.As(err, &phaseErr))
	assert.Equal(t, StatePending, post.Status())
}

// TestSequence_PostFailure post 失败包装为 post 阶段错误
func TestSequence_PostFailure(t *testing.T) {
	seq := NewSequence(Pattern{Task: okTask(t, "main", 1), Post: []Task{failTask(t, "post", "cleanup")}})

	_, err := seq.Execute(context.Background())
	require.Error(t, err)
	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhasePost, phaseErr.Phase)
}

// TestSequence_PostFailureRunsEveryFinally 第二个 post 失败时剩余 post 不再执行，全部 finally 仍然执行
func TestSequence_PostFailureRunsEveryFinally(t *testing.T) {
	post0 := okTask(t, "post0", 0)
	post2 := okTask(t, "post2", 2)
	fin1 := okTask(t, "fin1", 1)
	fin2 := okTask(t, "fin2", 2)
	seq := NewSequence(Pattern{
		Task:    okTask(t, "main", 1),
		Post:    []Task{post0, failTask(t, "post1", "flush failed"), post2},
		Finally: []Task{fin1, fin2},
	}, WithID("seq"))

	_, err := seq.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error executing the [post] phase:")
	assert.Equal(t,
		"Execution error in task [seq]: Error executing the [post] phase: Execution error in task [post1]: flush failed",
		err.Error())

	assert.Equal(t, StateCompleted, post0.Status())
	assert.Equal(t, StatePending, post2.Status())
	assert.Equal(t, StateCompleted, fin1.Status())
	assert.Equal(t, StateCompleted, fin2.Status())
	// main、post0、post1、fin1、fin2
	assert.Len(t, seq.Metadata().Meta, 5)
}

// TestSequence_FinallyFailure 仅 finally 失败时返回 finally 阶段错误
func TestSequence_FinallyFailure(t *testing.T) {
	second := okTask(t, "fin2", 2)
	seq := NewSequence(Pattern{
		Task:    okTask(t, "main", 1),
		Finally: []Task{failTask(t, "fin1", "close failed"), second},
	}, WithID("seq"))

	_, err := seq.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t,
		"Execution error in task [seq]: Error executing the [finally] phase: Execution error in task [fin1]: close failed",
		err.Error())
	// finally 中的失败不会阻止后续 finally 任务
	assert.Equal(t, StateCompleted, second.Status())
}

// TestSequence_FirstErrorWins 前面的错误优先，finally 的错误作为被抑制的原因保留
func TestSequence_FirstErrorWins(t *testing.T) {
	seq := NewSequence(Pattern{
		Task:    failTask(t, "main", "primary"),
		Finally: []Task{failTask(t, "fin", "secondary")},
	}, WithID("seq"))

	_, err := seq.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Execution error in task [seq]: Execution error in task [main]: primary", err.Error())

	var suppressed *SuppressedError
	require.ErrorAs(t, err, &suppressed)
	require.Len(t, suppressed.Suppressed, 1)
	var phaseErr *PhaseError
	require.ErrorAs(t, suppressed.Suppressed[0], &phaseErr)
	assert.Equal(t, PhaseFinally, phaseErr.Phase)
	assert.Equal(t, StateFailed, seq.Status())
}

// TestSequence_FinallyRunsAfterCancel 取消后已派发的主任务继续完成，post 不再派发，finally 仍然执行
func TestSequence_FinallyRunsAfterCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	main, err := NewSingle(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, nil, WithID("main"), noRetry())
	require.NoError(t, err)
	post := okTask(t, "post", 2)
	fin := okTask(t, "fin", 1)
	seq := NewSequence(Pattern{Task: main, Post: []Task{post}, Finally: []Task{fin}}, WithID("seq"))

	done := make(chan error, 1)
	go func() {
		_, err := seq.Execute(context.Background())
		done <- err
	}()
	<-started
	seq.Cancel(nil)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Task [seq] was cancelled by the user")
	case <-time.After(time.Second):
		t.Fatal("取消后未立即返回")
	}
	assert.Equal(t, StateCancelled, seq.Status())
	assert.Equal(t, StateRunning, main.Status())

	close(release)
	assert.Eventually(t, func() bool {
		return fin.Status() == StateCompleted
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateCompleted, main.Status())
	assert.Equal(t, StatePending, post.Status())

	// 后台完成的 main 与 finally 快照归入被取消的这次尝试
	assert.Eventually(t, func() bool {
		return len(seq.Metadata().Meta) == 2
	}, time.Second, 10*time.Millisecond)
	meta := seq.Metadata()
	assert.Equal(t, StateCancelled, meta.Status)
	assert.Equal(t, "main", meta.Meta[0].TaskID)
	assert.Equal(t, "fin", meta.Meta[1].TaskID)
}

// TestSequence_NestedMeta 嵌套任务的元数据递归保存在 $meta 中
func TestSequence_NestedMeta(t *testing.T) {
	inner := NewGroup([]Task{okTask(t, "a", 1), okTask(t, "b", 2)}, false, WithID("inner"))
	seq := NewSequence(Pattern{Task: inner}, WithID("outer"))

	_, err := seq.Execute(context.Background())
	require.NoError(t, err)

	var ids []string
	seq.Metadata().Walk(func(depth int, m *MetaData) {
		ids = append(ids, m.TaskID)
	})
	assert.Equal(t, []string{"outer", "inner", "a", "b"}, ids)
}
