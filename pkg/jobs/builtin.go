// Package jobs 提供可在任务树定义中直接引用的内置任务函数
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/LENAX/task-handler/pkg/core/builder"
	"github.com/LENAX/task-handler/pkg/core/retry"
	"github.com/PuerkitoBio/goquery"
)

// httpClient 内置HTTP任务共用的客户端
// 基于 DefaultTransport 修改，保留代理和 DNS 配置
var httpClient = func() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 20
	transport.IdleConnTimeout = 90 * time.Second
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
}()

// Echo 原样返回参数：一个参数时返回该参数，多个参数时返回切片
func Echo(args ...interface{}) interface{} {
	if len(args) == 1 {
		return args[0]
	}
	return args
}

// Sleep 等待指定时长（如 "500ms"），期间可被取消
func Sleep(ctx context.Context, duration string) (string, error) {
	d, err := time.ParseDuration(duration)
	if err != nil {
		return "", fmt.Errorf("无效的时长 %q: %w", duration, err)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return d.String(), nil
	case <-ctx.Done():
		return "", context.Cause(ctx)
	}
}

// Fail 总是返回给定消息的错误
func Fail(message string) error {
	if message == "" {
		message = "fail"
	}
	return errors.New(message)
}

// Flaky 前若干次调用失败之后成功，用于演示重试（需要绑定接收者注册）
type Flaky struct {
	mu    sync.Mutex
	calls int
}

// Call 前 failTimes 次调用返回错误，之后返回累计调用次数
func (f *Flaky) Call(ctx context.Context, failTimes int) (int, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()

	if calls <= failTimes {
		log.Printf("🔄 [Flaky] 第%d次调用失败（第%d次尝试）", calls, retry.AttemptFromContext(ctx))
		return calls, fmt.Errorf("flaky: 第%d次调用失败", calls)
	}
	return calls, nil
}

// Calls 返回累计调用次数
func (f *Flaky) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// HTMLTitle 抓取页面并返回 <title> 文本
func HTMLTitle(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求 %s 失败: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("请求 %s 返回状态码 %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("解析HTML失败: %w", err)
	}
	title := strings.TrimSpace(doc.Find("head > title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return title, nil
}

// RegisterBuiltins 注册全部内置任务函数（对外导出）
// 返回 Flaky 接收者以便调用方观察调用次数
func RegisterBuiltins(registry *builder.FunctionRegistry) (*Flaky, error) {
	flaky := &Flaky{}
	builtins := []struct {
		name        string
		fn          interface{}
		receiver    interface{}
		description string
	}{
		{name: "echo", fn: Echo, description: "原样返回参数"},
		{name: "sleep", fn: Sleep, description: "等待指定时长，如 500ms"},
		{name: "fail", fn: Fail, description: "总是失败"},
		{name: "flaky", fn: (*Flaky).Call, receiver: flaky, description: "前N次调用失败之后成功"},
		{name: "html_title", fn: HTMLTitle, description: "抓取页面标题"},
	}

	for _, b := range builtins {
		var err error
		if b.receiver != nil {
			err = registry.RegisterBound(b.name, b.fn, b.receiver, b.description)
		} else {
			err = registry.Register(b.name, b.fn, b.description)
		}
		if err != nil {
			return nil, fmt.Errorf("注册内置函数 %s 失败: %w", b.name, err)
		}
	}
	return flaky, nil
}
