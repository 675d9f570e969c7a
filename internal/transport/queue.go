// =============================================================================
// 文件: internal/transport/queue.go
// 描述: 可靠 UDP 传输 - 无界 FIFO 队列 (命令队列/事件队列)
// =============================================================================
package transport

import (
	"context"
	"sync"
)

// Queue 无界 FIFO, Push 从不阻塞
type Queue[T any] struct {
	items  []T
	signal chan struct{}
	closed bool

	mu sync.Mutex
}

// NewQueue 创建队列
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{}, 1)}
}

// Push 追加元素, 队列关闭后返回 false
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.notify()
	return true
}

// TryPop 非阻塞取出队首
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.notify()
	}
	return v, true
}

// Pop 阻塞直到有元素、ctx 结束或队列关闭且为空
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			q.notify()
			var zero T
			return zero, ErrConnectionClosed
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

// Drain 取出全部元素
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Signal 有新元素时可读
func (q *Queue[T]) Signal() <-chan struct{} {
	return q.signal
}

// Close 关闭队列, 已有元素仍可取出
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

// Len 当前长度
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
