package broadcast

import (
	"fmt"
	"sync"

	"caretrax-drip/internal/models"
)

// DefaultQueueSize 每个订阅者的默认缓冲
const DefaultQueueSize = 64

// queueTransport 带缓冲的订阅者队列，由连接的写循环消费
// 队列满或已关闭时 Write 失败
type queueTransport struct {
	ch   chan models.StatusChangeEvent
	done chan struct{}
	once sync.Once
}

func newQueueTransport(size int) *queueTransport {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &queueTransport{
		ch:   make(chan models.StatusChangeEvent, size),
		done: make(chan struct{}),
	}
}

func (q *queueTransport) Write(event models.StatusChangeEvent) error {
	select {
	case <-q.done:
		return fmt.Errorf("subscriber closed: %w", models.ErrTransport)
	default:
	}

	select {
	case q.ch <- event:
		return nil
	default:
		return fmt.Errorf("subscriber queue full: %w", models.ErrTransport)
	}
}

func (q *queueTransport) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

// Events 待写出的事件
func (q *queueTransport) Events() <-chan models.StatusChangeEvent { return q.ch }

// Done 订阅被移除时关闭
func (q *queueTransport) Done() <-chan struct{} { return q.done }
