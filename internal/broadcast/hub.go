package broadcast

import (
	"sync"

	"caretrax-drip/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport 订阅者连接
// Write 返回错误即视为连接失效，订阅会被移除
type Transport interface {
	Write(event models.StatusChangeEvent) error
	Close() error
}

// Subscription 一个已注册的订阅者
type Subscription struct {
	ID        string
	transport Transport
}

// Hub 状态变化广播中心
// 注册表由 mu 保护；publishMu 保证同一订阅者按发布顺序收到事件
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	publishMu sync.Mutex
	logger    *zap.Logger
}

// NewHub 创建广播中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]*Subscription),
		logger: logger,
	}
}

// Subscribe 注册订阅者，返回带新 ID 的订阅
func (h *Hub) Subscribe(t Transport) *Subscription {
	sub := &Subscription{ID: uuid.New().String(), transport: t}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("Subscriber registered",
		zap.String("subscriber_id", sub.ID),
		zap.Int("subscribers", n),
	)
	return sub
}

// Unsubscribe 移除订阅并关闭连接；重复调用无副作用
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if err := sub.transport.Close(); err != nil {
		h.logger.Debug("Failed to close subscriber transport",
			zap.String("subscriber_id", id),
			zap.Error(err),
		)
	}
	h.logger.Debug("Subscriber removed", zap.String("subscriber_id", id))
}

// Publish 推送给所有订阅者，写失败的订阅者被移除，不影响其他订阅者
func (h *Hub) Publish(event models.StatusChangeEvent) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	var failed []string
	for _, sub := range targets {
		if err := sub.transport.Write(event); err != nil {
			h.logger.Warn("Failed to deliver status event, dropping subscriber",
				zap.String("subscriber_id", sub.ID),
				zap.String("patient_id", event.PatientID),
				zap.Error(err),
			)
			failed = append(failed, sub.ID)
		}
	}

	for _, id := range failed {
		h.Unsubscribe(id)
	}
}

// Count 当前订阅者数量
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 移除所有订阅者（服务停止时调用）
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Unsubscribe(id)
	}
}
