package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/apk-analysis/apk-toolbench/internal/toolrun"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
)

type eventClient struct {
	conn    *websocket.Conn
	batchID string // 为空时接收所有批次
	send    chan toolrun.Event
}

// EventHub 把执行事件广播给 WebSocket 客户端
type EventHub struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*eventClient]struct{}
}

// NewEventHub 创建事件广播器
func NewEventHub(logger *logrus.Logger) *EventHub {
	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*eventClient]struct{}),
	}
}

// Publish 非阻塞广播; 跟不上的客户端丢弃该事件
func (h *EventHub) Publish(evt toolrun.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for cl := range h.clients {
		if cl.batchID != "" && cl.batchID != evt.BatchID {
			continue
		}
		select {
		case cl.send <- evt:
		default:
			h.logger.Debug("Dropping event for slow WebSocket client")
		}
	}
}

// Clients 当前连接数
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket GET /ws/events?batch_id=
func (h *EventHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	cl := &eventClient{
		conn:    conn,
		batchID: c.Query("batch_id"),
		send:    make(chan toolrun.Event, clientBuffer),
	}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("batch_id", cl.batchID).Info("WebSocket client connected")

	go h.writeLoop(cl)

	// 客户端只读; 读循环用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}

	h.remove(cl)
	h.logger.Info("WebSocket client disconnected")
}

func (h *EventHub) writeLoop(cl *eventClient) {
	defer cl.conn.Close()
	for evt := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteJSON(evt); err != nil {
			h.logger.WithError(err).Debug("Failed to write WebSocket event")
			h.remove(cl)
			return
		}
	}
}

func (h *EventHub) remove(cl *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
}
