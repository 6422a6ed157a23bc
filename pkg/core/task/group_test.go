package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okTask(t *testing.T, id string, v interface{}) Task {
	t.Helper()
	s, err := NewSingle(func(ctx context.Context) (interface{}, error) { return v, nil }, nil, WithID(id), noRetry())
	require.NoError(t, err)
	return s
}

func failTask(t *testing.T, id, msg string) Task {
	t.Helper()
	s, err := NewSingle(func(ctx context.Context) error { return errors.New(msg) }, nil, WithID(id), noRetry())
	require.NoError(t, err)
	return s
}

// TestGroup_AllSucceed 结果按位置返回，$meta 按执行顺序记录子任务
func TestGroup_AllSucceed(t *testing.T) {
	children := []Task{okTask(t, "a", 1), okTask(t, "b", 2), okTask(t, "c", 3)}
	g := NewGroup(children, false, WithID("g"))

	result, err := g.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, result)

	meta := g.Metadata()
	assert.Equal(t, StateCompleted, meta.Status)
	require.Len(t, meta.Meta, 3)
	for i, child := range children {
		assert.Equal(t, child.UUID(), meta.Meta[i].UUID)
	}
	assert.Len(t, g.Children(), 3)
}

// TestGroup_FailureAggregates 任一失败即整体失败，但所有子任务都会执行
func TestGroup_FailureAggregates(t *testing.T) {
	last := okTask(t, "c", 3)
	g := NewGroup([]Task{failTask(t, "a", "x"), failTask(t, "b", "y"), last}, false, WithID("g"))

	result, err := g.Execute(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, StateCompleted, last.Status())

	var multi *MultiError
	require.ErrorAs(t, err, &multi)
	assert.Equal(t, 2, multi.Len())

	expected := "Execution error in task [g]: " +
		"Execution error in task [a]: x,\n" +
		"Execution error in task [b]: y"
	assert.Equal(t, expected, err.Error())
	assert.Equal(t, expected, g.Metadata().Reason)
	assert.Equal(t, StateFailed, g.Status())
	assert.Len(t, g.Metadata().Meta, 3)
}

// TestGroup_AtLeastOne 至少一个成功时整体成功，失败位置为 nil
func TestGroup_AtLeastOne(t *testing.T) {
	g := NewGroup([]Task{failTask(t, "a", "x"), okTask(t, "b", "B")}, true)

	result, err := g.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, "B"}, result)
	assert.Equal(t, StateCompleted, g.Status())
}

// TestGroup_AtLeastOneAllFail 全部失败时整体失败
func TestGroup_AtLeastOneAllFail(t *testing.T) {
	g := NewGroup([]Task{failTask(t, "a", "x"), failTask(t, "b", "y")}, true)

	_, err := g.Execute(context.Background())
	require.Error(t, err)
	var multi *MultiError
	require.ErrorAs(t, err, &multi)
	assert.Equal(t, 2, multi.Len())
}

// TestGroup_Empty 空任务组直接成功
func TestGroup_Empty(t *testing.T) {
	for _, atLeastOne := range []bool{false, true} {
		g := NewGroup(nil, atLeastOne)
		result, err := g.Execute(context.Background())
		require.NoError(t, err, fmt.Sprintf("atLeastOne=%v", atLeastOne))
		assert.Equal(t, []interface{}{}, result)
	}
}

// TestGroup_RetryHistory 任务组再次执行时，上一次尝试连同其子任务被归档
func TestGroup_RetryHistory(t *testing.T) {
	calls := 0
	flaky, err := NewSingle(func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("first")
		}
		return nil
	}, nil, noRetry())
	require.NoError(t, err)
	g := NewGroup([]Task{flaky, okTask(t, "b", 2)}, false)

	_, err = g.Execute(context.Background())
	require.Error(t, err)
	_, err = g.Execute(context.Background())
	require.NoError(t, err)

	meta := g.Metadata()
	// 1 条上一次尝试 + 本次的 2 个子任务
	require.Len(t, meta.Meta, 3)
	prior := meta.Meta[0]
	assert.Equal(t, g.UUID(), prior.UUID)
	assert.Equal(t, StateFailed, prior.Status)
	assert.Len(t, prior.Meta, 2)
	assert.Equal(t, StateCompleted, meta.Meta[1].Status)
	// 子任务自身也记录了重试历史
	assert.Len(t, meta.Meta[1].Meta, 1)
}

// TestGroup_CancelStopsDispatch 取消只影响任务组自身：已派发的子任务继续完成，剩余子任务不再派发
func TestGroup_CancelStopsDispatch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	inflight, err := NewSingle(func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}, nil, WithID("inflight"), noRetry())
	require.NoError(t, err)
	rest := okTask(t, "rest", 1)
	g := NewGroup([]Task{inflight, rest}, false, WithID("g"))

	done := make(chan error, 1)
	go func() {
		_, err := g.Execute(context.Background())
		done <- err
	}()
	<-started
	g.Cancel(nil)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Task [g] was cancelled by the user")
	case <-time.After(time.Second):
		t.Fatal("任务组未在取消后返回")
	}
	assert.Equal(t, StateCancelled, g.Status())
	assert.Equal(t, StateRunning, inflight.Status(), "已派发的子任务不应被连带取消")

	close(release)
	assert.Eventually(t, func() bool {
		return inflight.Status() == StateCompleted
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StatePending, rest.Status())

	// 子任务的迟到快照仍归入被取消的这次尝试
	assert.Eventually(t, func() bool {
		meta := g.Metadata()
		return len(meta.Meta) == 1 && meta.Meta[0].Status == StateCompleted
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateCancelled, g.Metadata().Status)
}

// TestGroup_CancelChildIndividually 需要真正中止时由调用方单独取消子任务
func TestGroup_CancelChildIndividually(t *testing.T) {
	started := make(chan struct{})
	blocking, err := NewSingle(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil, WithID("blocking"), noRetry())
	require.NoError(t, err)
	g := NewGroup([]Task{blocking, okTask(t, "rest", 1)}, false, WithID("g"))

	done := make(chan error, 1)
	go func() {
		_, err := g.Execute(context.Background())
		done <- err
	}()
	<-started
	g.Cancel(nil)
	require.Error(t, <-done)
	assert.Equal(t, StateRunning, blocking.Status())

	blocking.Cancel(nil)
	assert.Eventually(t, func() bool {
		return blocking.Status() == StateCancelled
	}, time.Second, 10*time.Millisecond)
}

// TestGroup_CallerContextStopsChildren 调用方 context 结束时子任务一并中止
func TestGroup_CallerContextStopsChildren(t *testing.T) {
	started := make(chan struct{})
	blocking, err := NewSingle(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil, WithID("blocking"), noRetry())
	require.NoError(t, err)
	rest := okTask(t, "rest", 1)
	g := NewGroup([]Task{blocking, rest}, false, WithID("g"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Execute(ctx)
		done <- err
	}()
	<-started
	cancel()

	require.Error(t, <-done)
	assert.Equal(t, StateCancelled, g.Status())
	assert.Eventually(t, func() bool {
		return blocking.Status() == StateCancelled
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StatePending, rest.Status())
}

// TestGroup_MiddleChildFails 只有中间的子任务失败时 $meta 如实记录每个子任务的状态
func TestGroup_MiddleChildFails(t *testing.T) {
	g := NewGroup([]Task{okTask(t, "a", 1), failTask(t, "b", "broken"), okTask(t, "c", 3)}, false, WithID("g"))

	_, err := g.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, StateFailed, g.Status())

	meta := g.Metadata()
	require.Len(t, meta.Meta, 3)
	var statuses []TaskState
	for _, child := range meta.Meta {
		statuses = append(statuses, child.Status)
	}
	assert.Equal(t, []TaskState{StateCompleted, StateFailed, StateCompleted}, statuses)
	assert.Equal(t, []string{"a", "b", "c"}, []string{meta.Meta[0].TaskID, meta.Meta[1].TaskID, meta.Meta[2].TaskID})
}

// TestGroup_AtLeastOneMiddleFails 至少一个成功时失败位置为 nil
func TestGroup_AtLeastOneMiddleFails(t *testing.T) {
	g := NewGroup([]Task{okTask(t, "r1", "r1"), failTask(t, "r2", "broken"), okTask(t, "r3", "r3")}, true)

	result, err := g.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"r1", nil, "r3"}, result)
	assert.Equal(t, StateCompleted, g.Status())
	assert.Len(t, g.Metadata().Meta, 3)
}

// TestGroup_ChildAbortMarksParentFailed 子任务被单独取消时父任务按普通失败处理
func TestGroup_ChildAbortMarksParentFailed(t *testing.T) {
	child := okTask(t, "child", 1)
	child.Cancel(nil)
	g := NewGroup([]Task{child}, false)

	_, err := g.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, g.Status())
	assert.Equal(t, StateCancelled, child.Status())
}

// TestWalk 深度优先遍历任务树
func TestWalk(t *testing.T) {
	leaf := okTask(t, "leaf", 1)
	inner := NewGroup([]Task{leaf}, false, WithID("inner"))
	root := NewSequence(Pattern{Pre: []Task{inner}, Task: okTask(t, "main", 2)}, WithID("root"))

	var visited []string
	Walk(root, func(depth int, t Task) {
		visited = append(visited, fmt.Sprintf("%d:%s", depth, t.TaskID()))
	})
	assert.Equal(t, []string{"0:root", "1:inner", "2:leaf", "1:main"}, visited)
}
