package builder

import (
	"fmt"
	"os"
	"time"

	"github.com/LENAX/task-handler/pkg/core/retry"
	"gopkg.in/yaml.v3"
)

// 节点类型
const (
	NodeSingle   = "single"
	NodeGroup    = "group"
	NodeSequence = "sequence"
)

// TreeConfig 任务树定义（对外导出）
//
//	root: pipeline
//	tasks:
//	  pipeline:
//	    type: sequence
//	    pre: [check]
//	    task: fetch
//	    finally: [cleanup]
//	  fetch:
//	    func: html_title
//	    args: ["https://example.com"]
//	    retry: {attempts: 3, delay: 500ms}
type TreeConfig struct {
	Name  string                 `yaml:"name"`
	Root  string                 `yaml:"root"`
	Cron  string                 `yaml:"cron"`
	Tasks map[string]*NodeConfig `yaml:"tasks"`
}

// NodeConfig 单个节点定义
type NodeConfig struct {
	Type          string        `yaml:"type"` // single（默认）/ group / sequence
	ID            string        `yaml:"id"`   // 业务任务ID，默认为节点名称
	Priority      int           `yaml:"priority"`
	Weight        *int          `yaml:"weight"`
	RetryStrategy string        `yaml:"retry_strategy"`
	Retry         *RetryConfig  `yaml:"retry"`
	Func          string        `yaml:"func"`
	Args          []interface{} `yaml:"args"`
	Children      []string      `yaml:"children"`
	AtLeastOne    bool          `yaml:"at_least_one"`
	Pre           []string      `yaml:"pre"`
	Task          string        `yaml:"task"`
	Post          []string      `yaml:"post"`
	Finally       []string      `yaml:"finally"`
}

// RetryConfig 叶子节点的底层重试选项，未填写的字段沿用默认值
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Timeout    time.Duration `yaml:"timeout"`
	Delay      time.Duration `yaml:"delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// merge 用非零字段覆盖默认选项
func (c *RetryConfig) merge(base retry.Options) retry.Options {
	if c == nil {
		return base
	}
	if c.Attempts > 0 {
		base.Attempts = c.Attempts
	}
	if c.Timeout > 0 {
		base.Timeout = c.Timeout
	}
	if c.Delay > 0 {
		base.Delay = c.Delay
	}
	if c.MaxDelay > 0 {
		base.MaxDelay = c.MaxDelay
	}
	if c.Multiplier > 0 {
		base.Multiplier = c.Multiplier
	}
	return base
}

// kind 返回节点类型，未填写时为 single
func (n *NodeConfig) kind() string {
	if n.Type == "" {
		return NodeSingle
	}
	return n.Type
}

// references 按执行顺序返回节点引用的子节点名称
func (n *NodeConfig) references() []string {
	switch n.kind() {
	case NodeGroup:
		return n.Children
	case NodeSequence:
		refs := make([]string, 0, len(n.Pre)+len(n.Post)+len(n.Finally)+1)
		refs = append(refs, n.Pre...)
		if n.Task != "" {
			refs = append(refs, n.Task)
		}
		refs = append(refs, n.Post...)
		return append(refs, n.Finally...)
	default:
		return nil
	}
}

// ParseTree 解析YAML格式的任务树定义（对外导出）
func ParseTree(data []byte) (*TreeConfig, error) {
	var cfg TreeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析任务树定义失败: %w", err)
	}
	return &cfg, nil
}

// LoadTreeFile 从文件加载任务树定义（对外导出）
func LoadTreeFile(path string) (*TreeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取任务树定义失败: %w", err)
	}
	return ParseTree(data)
}
