package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LENAX/task-handler/pkg/api/dto"
	"github.com/LENAX/task-handler/pkg/api/middleware"
	"github.com/LENAX/task-handler/pkg/core/builder"
	"github.com/LENAX/task-handler/pkg/core/engine"
	"github.com/LENAX/task-handler/pkg/core/events"
	"github.com/LENAX/task-handler/pkg/core/retry"
	"github.com/LENAX/task-handler/pkg/core/task"
	"github.com/LENAX/task-handler/pkg/storage"
	"github.com/LENAX/task-handler/pkg/storage/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var body envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func do(router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newHistoryRepo(t *testing.T) *storage.SQLHistoryRepo {
	t.Helper()
	repo, err := sqlite.NewHistoryRepoFromDSN(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// runAndRecord 执行一个任务并把根节点元数据写入仓库
func runAndRecord(t *testing.T, repo storage.HistoryRepository, id string, fail bool) *storage.HistoryRecord {
	t.Helper()
	fn := func() error { return nil }
	if fail {
		fn = func() error { return errors.New("boom") }
	}
	single := task.MustSingle(fn, nil, task.WithID(id), task.WithRetryOptions(retry.Options{Attempts: 1}))
	_, _ = single.Execute(context.Background())

	record, err := storage.NewHistoryRecorder(repo).Record(single.Metadata())
	require.NoError(t, err)
	return record
}

func TestHealth(t *testing.T) {
	router := SetupRouter(Dependencies{}, "1.2.3")

	w := do(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[dto.HealthResponse](t, w)
	assert.Equal(t, "healthy", body.Data.Status)
	assert.Equal(t, "1.2.3", body.Data.Version)

	w = do(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHistory_ListAndGet(t *testing.T) {
	repo := newHistoryRepo(t)
	ok := runAndRecord(t, repo, "job-a", false)
	runAndRecord(t, repo, "job-b", true)
	runAndRecord(t, repo, "job-a", true)

	router := SetupRouter(Dependencies{History: repo}, "test")

	w := do(router, http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListResponse[dto.HistorySummary]](t, w)
	assert.Len(t, list.Data.Items, 3)
	assert.False(t, list.Data.HasMore)

	w = do(router, http.MethodGet, "/api/v1/history?limit=2", nil)
	list = decode[dto.ListResponse[dto.HistorySummary]](t, w)
	assert.Len(t, list.Data.Items, 2)
	assert.True(t, list.Data.HasMore)

	w = do(router, http.MethodGet, "/api/v1/history?status=failed", nil)
	list = decode[dto.ListResponse[dto.HistorySummary]](t, w)
	assert.Len(t, list.Data.Items, 2)
	for _, item := range list.Data.Items {
		assert.Equal(t, task.StateFailed, item.Status)
		assert.Contains(t, item.Reason, "boom")
	}

	w = do(router, http.MethodGet, "/api/v1/history?task_id=job-a&status=completed", nil)
	list = decode[dto.ListResponse[dto.HistorySummary]](t, w)
	require.Len(t, list.Data.Items, 1)
	assert.Equal(t, ok.ID, list.Data.Items[0].ID)

	w = do(router, http.MethodGet, "/api/v1/history?status=weird", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/v1/history/"+ok.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[dto.HistoryDetail](t, w)
	assert.Equal(t, "job-a", detail.Data.TaskID)
	require.NotNil(t, detail.Data.MetaData)
	assert.Equal(t, task.StateCompleted, detail.Data.MetaData.Status)

	w = do(router, http.MethodGet, "/api/v1/history/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistory_NotConfigured(t *testing.T) {
	router := SetupRouter(Dependencies{}, "test")
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodGet, "/api/v1/history", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodGet, "/api/v1/history/x", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodGet, "/api/v1/tasks/running", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodGet, "/api/v1/events/ws", nil).Code)
}

func TestTasks_RunningAndCancel(t *testing.T) {
	registry := builder.NewFunctionRegistry()
	require.NoError(t, registry.Register("block", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, "阻塞直到取消"))
	eng, err := engine.NewEngine(nil, registry)
	require.NoError(t, err)
	defer eng.Stop(context.Background())

	root, err := eng.Build(&builder.TreeConfig{Root: "main", Tasks: map[string]*builder.NodeConfig{"main": {Func: "block"}}})
	require.NoError(t, err)
	require.NoError(t, eng.Schedule(root))
	require.Eventually(t, func() bool { return root.Status() == task.StateRunning }, 2*time.Second, 10*time.Millisecond)

	router := SetupRouter(Dependencies{Engine: eng}, "test")

	w := do(router, http.MethodGet, "/api/v1/tasks/running", nil)
	require.Equal(t, http.StatusOK, w.Code)
	running := decode[dto.RunningTasksResponse](t, w)
	assert.Equal(t, []string{root.UUID()}, running.Data.UUIDs)

	w = do(router, http.MethodPost, "/api/v1/tasks/"+root.UUID()+"/cancel", []byte(`{"reason":"接口取消"}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool { return root.Status() == task.StateCancelled }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, root.Metadata().Reason, "接口取消")

	w = do(router, http.MethodPost, "/api/v1/tasks/unknown/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/api/v1/tasks/unknown/cancel", []byte(`{"reason":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvents_WebSocketStream(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	server := httptest.NewServer(SetupRouter(Dependencies{Bus: bus}, "test"))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events/ws?type=task.failed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	ok := task.MustSingle(func() {}, nil, task.WithID("fine"))
	bad := task.MustSingle(func() error { return errors.New("boom") }, nil,
		task.WithID("broken"), task.WithRetryOptions(retry.Options{Attempts: 1}))
	bus.Attach(ok)
	bus.Attach(bad)
	_, _ = ok.Execute(context.Background())
	_, _ = bad.Execute(context.Background())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event events.TaskEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "broken", event.TaskID)
	assert.Equal(t, events.EventTaskFailed, event.Type)
	assert.Contains(t, event.Error, "boom")

	resp := do(SetupRouter(Dependencies{Bus: bus}, "test"), http.MethodGet, "/api/v1/events/ws?type=task.unknown", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.Recovery())
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := do(router, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[any](t, w)
	assert.Equal(t, 500, body.Code)
}

func TestServer_Addr(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Port = 9090
	server := NewAPIServer(Dependencies{}, cfg, "test")
	assert.Equal(t, "0.0.0.0:9090", server.Addr())
	assert.NoError(t, server.Shutdown(context.Background()))
}
