package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n int
}

func (c *counter) Add(ctx context.Context, delta int) (int, error) {
	c.n += delta
	return c.n, nil
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TestWrapJobFunc_Conversions 参数按形参类型转换
func TestWrapJobFunc_Conversions(t *testing.T) {
	fn, err := WrapJobFunc(func(ctx context.Context, a int, b float64, c bool, d string) (string, error) {
		if a != 3 || b != 1.5 || !c {
			return "", errors.New("unexpected args")
		}
		return d, nil
	}, nil)
	require.NoError(t, err)

	result, err := fn(context.Background(), []interface{}{"3", 1.5, "true", 12})
	require.NoError(t, err)
	assert.Equal(t, "12", result)
}

// TestWrapJobFunc_StructFromMap map 与 JSON 字符串都可以转换为结构体
func TestWrapJobFunc_StructFromMap(t *testing.T) {
	fn, err := WrapJobFunc(func(p payload) payload { return p }, nil)
	require.NoError(t, err)

	result, err := fn(context.Background(), []interface{}{map[string]interface{}{"name": "x", "count": 2}})
	require.NoError(t, err)
	assert.Equal(t, payload{Name: "x", Count: 2}, result)

	result, err = fn(context.Background(), []interface{}{`{"name":"y","count":5}`})
	require.NoError(t, err)
	assert.Equal(t, payload{Name: "y", Count: 5}, result)
}

// TestWrapJobFunc_MissingAndExtraArgs 缺少的参数使用零值，多余的参数报错
func TestWrapJobFunc_MissingAndExtraArgs(t *testing.T) {
	fn, err := WrapJobFunc(func(a int, b string) (interface{}, error) {
		return []interface{}{a, b}, nil
	}, nil)
	require.NoError(t, err)

	result, err := fn(context.Background(), []interface{}{7})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{7, ""}, result)

	_, err = fn(context.Background(), []interface{}{1, "a", "extra"})
	assert.Error(t, err)
}

// TestWrapJobFunc_Variadic 可变参数
func TestWrapJobFunc_Variadic(t *testing.T) {
	fn, err := WrapJobFunc(func(prefix string, nums ...int) int {
		total := len(prefix)
		for _, n := range nums {
			total += n
		}
		return total
	}, nil)
	require.NoError(t, err)

	result, err := fn(context.Background(), []interface{}{"ab", 1, "2", 3.0})
	require.NoError(t, err)
	assert.Equal(t, 8, result)
}

// TestWrapJobFunc_Bind 绑定接收者的方法表达式
func TestWrapJobFunc_Bind(t *testing.T) {
	c := &counter{}
	s, err := NewSingle((*counter).Add, []interface{}{2}, WithBind(c), noRetry(), WithRetryStrategy(Retry))
	require.NoError(t, err)

	_, err = s.Execute(context.Background())
	require.NoError(t, err)
	result, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result)
	assert.Equal(t, 4, c.n)
}

// TestWrapJobFunc_BindMismatch 接收者类型不匹配时报错
func TestWrapJobFunc_BindMismatch(t *testing.T) {
	_, err := WrapJobFunc((*counter).Add, "not a counter")
	assert.Error(t, err)
}

// TestWrapJobFunc_ErrorOnly 只返回 error 的函数
func TestWrapJobFunc_ErrorOnly(t *testing.T) {
	boom := errors.New("boom")
	fn, err := WrapJobFunc(func(ctx context.Context) error { return boom }, nil)
	require.NoError(t, err)

	result, err := fn(context.Background(), nil)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, boom)
}

// TestWrapJobFunc_BadConversion 无法转换的参数返回错误
func TestWrapJobFunc_BadConversion(t *testing.T) {
	fn, err := WrapJobFunc(func(a int) int { return a }, nil)
	require.NoError(t, err)

	_, err = fn(context.Background(), []interface{}{"abc"})
	assert.Error(t, err)
}
