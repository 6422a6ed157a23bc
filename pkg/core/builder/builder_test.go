package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LENAX/task-handler/pkg/core/retry"
	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tally struct {
	n int
}

func (t *tally) Add(ctx context.Context, delta int) (int, error) {
	t.n += delta
	return t.n, nil
}

func newRegistry(t *testing.T) (*FunctionRegistry, *tally) {
	t.Helper()
	r := NewFunctionRegistry()
	require.NoError(t, r.Register("echo", func(ctx context.Context, v interface{}) (interface{}, error) { return v, nil }, "返回参数"))
	require.NoError(t, r.Register("fail", func(ctx context.Context, msg string) error { return errors.New(msg) }, "总是失败"))
	counter := &tally{}
	require.NoError(t, r.RegisterBound("add", (*tally).Add, counter, "累加"))
	return r, counter
}

const pipeline = `
name: demo
root: pipeline
tasks:
  pipeline:
    type: sequence
    retry_strategy: not_exec_after_success
    pre: [prepare]
    task: fanout
    finally: [prepare]
  prepare:
    func: add
    args: [1]
  fanout:
    type: group
    id: fan-out
    at_least_one: true
    children: [hello, broken]
  hello:
    func: echo
    args: ["hello"]
    weight: 3
    retry:
      attempts: 2
      delay: 10ms
  broken:
    func: fail
    args: ["nope"]
`

func TestTreeBuilder_Build(t *testing.T) {
	registry, counter := newRegistry(t)
	cfg, err := ParseTree([]byte(pipeline))
	require.NoError(t, err)

	root, err := NewTreeBuilder(registry).Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "pipeline", root.TaskID())
	assert.Equal(t, task.NotExecAfterSuccess, root.RetryStrategy())

	result, err := root.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"hello", nil}, result)
	// prepare 在 pre 与 finally 中各引用一次，得到两个独立实例
	assert.Equal(t, 2, counter.n)

	var ids []string
	task.Walk(root, func(depth int, t task.Task) { ids = append(ids, t.TaskID()) })
	assert.Equal(t, []string{"pipeline", "prepare", "fan-out", "hello", "broken", "prepare"}, ids)

	children := root.Children()
	assert.NotEqual(t, children[0].UUID(), children[2].UUID())

	hello := children[1].Children()[0].(*task.Single)
	assert.Equal(t, 3, hello.Weight())
	assert.Equal(t, 2, hello.RetryOptions().Attempts)
	assert.Equal(t, 10*time.Millisecond, hello.RetryOptions().Delay)
}

func TestTreeBuilder_Defaults(t *testing.T) {
	registry, _ := newRegistry(t)
	cfg := &TreeConfig{Root: "only", Tasks: map[string]*NodeConfig{"only": {Func: "echo", Args: []interface{}{1}}}}

	b := NewTreeBuilder(registry,
		WithDefaultRetryOptions(retry.Options{Attempts: 5}),
		WithDefaultRetryStrategy(task.FailAfterExecuted))
	root, err := b.Build(cfg)
	require.NoError(t, err)

	single := root.(*task.Single)
	assert.Equal(t, 5, single.RetryOptions().Attempts)
	assert.Equal(t, task.FailAfterExecuted, single.RetryStrategy())
	assert.Equal(t, 1, single.Weight())
}

func TestTreeBuilder_ValidationErrors(t *testing.T) {
	registry, _ := newRegistry(t)
	b := NewTreeBuilder(registry)

	cases := map[string]*TreeConfig{
		"nil root":      {Tasks: map[string]*NodeConfig{"a": {Func: "echo"}}},
		"missing root":  {Root: "x", Tasks: map[string]*NodeConfig{"a": {Func: "echo"}}},
		"unknown func":  {Root: "a", Tasks: map[string]*NodeConfig{"a": {Func: "nope"}}},
		"missing func":  {Root: "a", Tasks: map[string]*NodeConfig{"a": {}}},
		"bad type":      {Root: "a", Tasks: map[string]*NodeConfig{"a": {Type: "pool"}}},
		"bad strategy":  {Root: "a", Tasks: map[string]*NodeConfig{"a": {Func: "echo", RetryStrategy: "maybe"}}},
		"dangling ref":  {Root: "a", Tasks: map[string]*NodeConfig{"a": {Type: NodeGroup, Children: []string{"b"}}}},
		"sequence task": {Root: "a", Tasks: map[string]*NodeConfig{"a": {Type: NodeSequence}}},
		"self loop":     {Root: "a", Tasks: map[string]*NodeConfig{"a": {Type: NodeGroup, Children: []string{"a"}}}},
		"cycle": {Root: "a", Tasks: map[string]*NodeConfig{
			"a": {Type: NodeGroup, Children: []string{"b"}},
			"b": {Type: NodeSequence, Task: "c"},
			"c": {Type: NodeGroup, Children: []string{"a"}},
		}},
	}
	for name, cfg := range cases {
		_, err := b.Build(cfg)
		assert.Error(t, err, name)
	}
	_, err := b.Build(nil)
	assert.Error(t, err)
}

func TestLoadTreeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipeline), 0644))

	cfg, err := LoadTreeFile(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Name)
	assert.Len(t, cfg.Tasks, 5)
	assert.Equal(t, 10*time.Millisecond, cfg.Tasks["hello"].Retry.Delay)

	_, err = LoadTreeFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFunctionRegistry(t *testing.T) {
	registry, _ := newRegistry(t)

	assert.Error(t, registry.Register("echo", func() {}, "重复"))
	assert.Error(t, registry.Register("", func() {}, "无名"))
	assert.Error(t, registry.Register("bad", 42, "不是函数"))
	assert.Error(t, registry.RegisterBound("nil-recv", (*tally).Add, nil, ""))

	list := registry.List()
	require.Len(t, list, 3)
	assert.Equal(t, "add", list[0].Name)
	assert.Equal(t, "echo", list[1].Name)
}

func TestTreeBuilder_SharedLeafAcrossBranches(t *testing.T) {
	registry, counter := newRegistry(t)
	cfg, err := ParseTree([]byte(`
root: main
tasks:
  main:
    type: group
    children: [left, right, left]
  left:
    type: sequence
    pre: [leaf]
    task: leaf
  right:
    type: group
    children: [leaf, greet]
  leaf:
    func: add
    args: [1]
  greet:
    func: echo
    args: [hi]
`))
	require.NoError(t, err)

	builder := NewTreeBuilder(registry)
	require.NoError(t, builder.Validate(cfg))

	root, err := builder.Build(cfg)
	require.NoError(t, err)
	result, err := root.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, result, 3)
	// left 两次（各含 pre 与 task 两个 leaf）+ right 一次
	assert.Equal(t, 5, counter.n)

	var ids []string
	task.Walk(root, func(depth int, t task.Task) { ids = append(ids, t.TaskID()) })
	assert.Equal(t, []string{"main", "left", "leaf", "leaf", "right", "leaf", "greet", "left", "leaf", "leaf"}, ids)
}
