package broadcast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SSEHandler 以 Server-Sent Events 推送状态变化
// 每个事件一帧：data: {"patient_id":..,"status":..}
type SSEHandler struct {
	hub       *Hub
	queueSize int
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewSSEHandler heartbeat 为 0 时不发送心跳
func NewSSEHandler(hub *Hub, queueSize int, heartbeat time.Duration, logger *zap.Logger) *SSEHandler {
	return &SSEHandler{
		hub:       hub,
		queueSize: queueSize,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	q := newQueueTransport(h.queueSize)
	sub := h.hub.Subscribe(q)
	defer h.hub.Unsubscribe(sub.ID)

	h.logger.Info("SSE subscriber connected",
		zap.String("subscriber_id", sub.ID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE subscriber disconnected", zap.String("subscriber_id", sub.ID))
			return
		case <-q.Done():
			return
		case event := <-q.Events():
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("Failed to marshal status event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				h.logger.Warn("SSE write failed", zap.String("subscriber_id", sub.ID), zap.Error(err))
				return
			}
			flusher.Flush()
		case <-tick:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
