package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LENAX/task-handler/pkg/core/events"
)

// WebhookPayload 推送给 Webhook 的请求体
type WebhookPayload struct {
	Subject string            `json:"subject"` // 通知标题
	Text    string            `json:"text"`    // 通知正文
	Event   *events.TaskEvent `json:"event"`   // 原始事件
}

// WebhookPlugin 以 HTTP POST 推送任务结算通知（对外导出）
type WebhookPlugin struct {
	name    string
	url     string
	token   string
	client  *http.Client
	enabled bool
}

// NewWebhookPlugin 创建Webhook插件（对外导出）
func NewWebhookPlugin(name string) *WebhookPlugin {
	if name == "" {
		name = "webhook"
	}
	return &WebhookPlugin{name: name}
}

// Name 插件名称（实现Plugin接口）
func (w *WebhookPlugin) Name() string {
	return w.name
}

// Init 初始化插件（实现Plugin接口）
// 参数：url（必填）、timeout（如 5s，默认10s）、token（可选，以 Bearer 方式携带）
func (w *WebhookPlugin) Init(params map[string]string) error {
	raw := params["url"]
	if raw == "" {
		return fmt.Errorf("url参数不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("url参数无效: %q", raw)
	}

	timeout := 10 * time.Second
	if value := params["timeout"]; value != "" {
		timeout, err = time.ParseDuration(value)
		if err != nil || timeout <= 0 {
			return fmt.Errorf("timeout参数格式错误: %q", value)
		}
	}

	w.url = raw
	w.token = params["token"]
	w.client = &http.Client{Timeout: timeout}
	w.enabled = true
	log.Printf("✅ [WebhookPlugin] 初始化完成: Name=%s, URL=%s", w.name, parsed.Redacted())
	return nil
}

// Execute 推送通知（实现Plugin接口）
func (w *WebhookPlugin) Execute(ctx context.Context, event *events.TaskEvent) error {
	if !w.enabled {
		return fmt.Errorf("Webhook插件未初始化")
	}
	if event == nil {
		return fmt.Errorf("事件不能为空")
	}

	body, err := json.Marshal(WebhookPayload{
		Subject: buildSubject(event),
		Text:    buildBody(event),
		Event:   event,
	})
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("推送通知失败: %w", err)
	}
	defer resp.Body.Close()
	// 读完响应体以便复用连接
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook返回状态码 %d", resp.StatusCode)
	}
	log.Printf("✅ [WebhookPlugin] 通知推送成功: Event=%s, TaskID=%s", event.Type, event.TaskID)
	return nil
}

// buildSubject 构建通知标题
func buildSubject(event *events.TaskEvent) string {
	switch event.Type {
	case events.EventTaskCompleted:
		return fmt.Sprintf("[任务成功] %s - %s", event.TaskID, event.UUID)
	case events.EventTaskFailed:
		return fmt.Sprintf("[任务失败] %s - %s", event.TaskID, event.UUID)
	case events.EventTaskCancelled:
		return fmt.Sprintf("[任务取消] %s - %s", event.TaskID, event.UUID)
	default:
		return fmt.Sprintf("[系统通知] %s", event.Type)
	}
}

// buildBody 构建通知正文
func buildBody(event *events.TaskEvent) string {
	var body strings.Builder
	fmt.Fprintf(&body, "事件类型: %s\n", event.Type)
	fmt.Fprintf(&body, "状态: %s\n", event.Status)
	if event.TaskID != "" {
		fmt.Fprintf(&body, "Task ID: %s\n", event.TaskID)
	}
	if event.RootUUID != "" && event.RootUUID != event.UUID {
		fmt.Fprintf(&body, "根任务UUID: %s\n", event.RootUUID)
	}
	if event.Error != "" {
		fmt.Fprintf(&body, "错误信息: %s\n", event.Error)
	}
	if meta := event.MetaData; meta != nil {
		if meta.Duration >= 0 {
			fmt.Fprintf(&body, "耗时: %dms\n", meta.Duration)
		}
		if len(meta.Meta) > 0 {
			fmt.Fprintf(&body, "历史尝试: %d\n", len(meta.Meta))
		}
	}
	return body.String()
}
