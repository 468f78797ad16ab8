package broadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// DefaultWriteWait 单帧写入超时
	DefaultWriteWait = 10 * time.Second
	// maxMessageSize 客户端只发控制帧，读取上限很小
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn writePump 用到的连接方法
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// WebSocketHandler 以 WebSocket 推送状态变化，每个事件一个文本帧
type WebSocketHandler struct {
	hub          *Hub
	queueSize    int
	pingInterval time.Duration
	writeWait    time.Duration
	logger       *zap.Logger
}

// NewWebSocketHandler pingInterval 为 0 时不发送 ping；writeWait <= 0 时使用 DefaultWriteWait
func NewWebSocketHandler(hub *Hub, queueSize int, pingInterval, writeWait time.Duration, logger *zap.Logger) *WebSocketHandler {
	if writeWait <= 0 {
		writeWait = DefaultWriteWait
	}
	return &WebSocketHandler{
		hub:          hub,
		queueSize:    queueSize,
		pingInterval: pingInterval,
		writeWait:    writeWait,
		logger:       logger,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	q := newQueueTransport(h.queueSize)
	sub := h.hub.Subscribe(q)

	h.logger.Info("WebSocket subscriber connected",
		zap.String("subscriber_id", sub.ID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go h.readPump(sub.ID, ws)
	h.writePump(sub.ID, q, ws)
}

// readPump 只用于感知对端关闭，客户端消息被忽略
func (h *WebSocketHandler) readPump(id string, ws *websocket.Conn) {
	defer h.hub.Unsubscribe(id)

	ws.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			h.logger.Info("WebSocket subscriber disconnected",
				zap.String("subscriber_id", id),
				zap.Error(err),
			)
			return
		}
	}
}

// writePump 唯一的写入方；每次写入前设置截止时间，对端不读时写入超时退出
func (h *WebSocketHandler) writePump(id string, q *queueTransport, ws wsConn) {
	defer func() {
		h.hub.Unsubscribe(id)
		ws.Close()
	}()

	var tick <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-q.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case event := <-q.Events():
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := ws.WriteJSON(event); err != nil {
				h.logger.Warn("WebSocket write failed", zap.String("subscriber_id", id), zap.Error(err))
				return
			}
		case <-tick:
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
