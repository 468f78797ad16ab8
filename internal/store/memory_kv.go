package store

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MemoryKV 进程内 KV（Redis 未启用时使用）
// 过期条目在读取时删除，或由 Sweep 定期清理
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]memoryItem
	now  func() time.Time
}

type memoryItem struct {
	value   string
	expires time.Time // zero = no ttl
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		data: make(map[string]memoryItem),
		now:  time.Now,
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.data[key]
	if !ok {
		return "", ErrMiss
	}
	if !item.expires.IsZero() && !m.now().Before(item.expires) {
		delete(m.data, key)
		return "", ErrMiss
	}
	return item.value, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.data[key] = memoryItem{value: value, expires: exp}
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Sweep 删除所有已过期条目，返回删除数量
func (m *MemoryKV) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, item := range m.data {
		if !item.expires.IsZero() && !now.Before(item.expires) {
			delete(m.data, k)
			removed++
		}
	}
	return removed
}

// Len 当前条目数（含未清理的过期条目）
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// ScheduleSweep 按 cron 表达式定期清理过期条目，返回已启动的调度器，调用方负责 Stop
func ScheduleSweep(kv *MemoryKV, spec string, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if n := kv.Sweep(); n > 0 {
			logger.Debug("Swept expired cache entries", zap.Int("removed", n))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
