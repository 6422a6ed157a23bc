package builder

import (
	"fmt"
	"sort"
	"sync"

	"github.com/LENAX/task-handler/pkg/core/task"
)

// RegisteredFunc 已注册的任务函数
type RegisteredFunc struct {
	Name        string
	Description string
	Fn          interface{}
	Receiver    interface{} // 不为 nil 时作为绑定接收者传入
}

// FunctionRegistry 任务函数注册中心（对外导出）
// 树定义文件通过名称引用这里注册的函数
type FunctionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]*RegisteredFunc
}

// NewFunctionRegistry 创建函数注册中心（对外导出）
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{funcs: make(map[string]*RegisteredFunc)}
}

// Register 注册函数，注册时即校验函数签名
func (r *FunctionRegistry) Register(name string, fn interface{}, description string) error {
	return r.register(&RegisteredFunc{Name: name, Description: description, Fn: fn})
}

// RegisterBound 注册绑定接收者的方法表达式，例如 (*Counter).Incr
func (r *FunctionRegistry) RegisterBound(name string, fn interface{}, receiver interface{}, description string) error {
	if receiver == nil {
		return fmt.Errorf("函数 %s 的接收者不能为空", name)
	}
	return r.register(&RegisteredFunc{Name: name, Description: description, Fn: fn, Receiver: receiver})
}

func (r *FunctionRegistry) register(f *RegisteredFunc) error {
	if f.Name == "" {
		return fmt.Errorf("函数名称不能为空")
	}
	if _, err := task.WrapJobFunc(f.Fn, f.Receiver); err != nil {
		return fmt.Errorf("函数 %s 签名无效: %w", f.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[f.Name]; exists {
		return fmt.Errorf("函数 %s 已注册", f.Name)
	}
	r.funcs[f.Name] = f
	return nil
}

// Get 根据名称获取函数
func (r *FunctionRegistry) Get(name string) (*RegisteredFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[name]
	return f, ok
}

// List 按名称排序返回全部已注册函数
func (r *FunctionRegistry) List() []*RegisteredFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*RegisteredFunc, 0, len(r.funcs))
	for _, f := range r.funcs {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
