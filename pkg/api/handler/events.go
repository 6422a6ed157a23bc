package handler

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/LENAX/task-handler/pkg/api/dto"
	"github.com/LENAX/task-handler/pkg/core/events"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EventsHandler 任务事件推送处理器
type EventsHandler struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
}

// NewEventsHandler 创建EventsHandler
func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Stream 通过WebSocket推送任务结算事件
// GET /api/v1/events/ws?type=task.failed&type=task.cancelled
func (h *EventsHandler) Stream(c *gin.Context) {
	if h.bus == nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, "事件总线未配置"))
		return
	}

	types, err := parseEventTypes(c.QueryArray("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := h.bus.Subscribe(ctx, types...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("订阅事件失败: %v", err)))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️  [事件推送] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// 读循环只用于感知客户端断开与处理 pong
	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("⚠️  [事件推送] WebSocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("⚠️  [事件推送] 发送事件失败: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// parseEventTypes 校验查询参数中的事件类型
func parseEventTypes(raw []string) ([]events.EventType, error) {
	valid := make(map[events.EventType]bool)
	for _, t := range events.AllEventTypes() {
		valid[t] = true
	}
	types := make([]events.EventType, 0, len(raw))
	for _, r := range raw {
		t := events.EventType(r)
		if !valid[t] {
			return nil, fmt.Errorf("未知的事件类型: %s", r)
		}
		types = append(types, t)
	}
	return types, nil
}
