package task

import (
	"context"
	"fmt"
	"sync"
)

// Queue 线程安全的无界 FIFO，多生产者单消费者
//
// Post 可以在任意 goroutine 中调用且从不阻塞；Get 阻塞直到有消息、
// ctx 取消或队列停止。每个取出的消息在发送成功后需调用 Done，
// Join 等待所有已投递消息被 Done。
type Queue struct {
	mu      sync.Mutex
	items   []Frame
	pending int
	notify  chan struct{}
	waiters []chan struct{}
	stopped chan struct{}
	cause   error
}

// NewQueue 创建队列
func NewQueue() *Queue {
	return &Queue{
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Post 投递消息，队列已停止时返回 false
func (q *Queue) Post(f Frame) bool {
	q.mu.Lock()
	if q.cause != nil {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, f)
	q.pending++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Get 取出队首消息
func (q *Queue) Get(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		q.mu.Lock()
		if q.cause != nil {
			err := q.cause
			q.mu.Unlock()
			return Frame{}, err
		}
		if len(q.items) > 0 {
			f := q.items[0]
			q.items[0] = Frame{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return f, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.stopped:
		case <-ctx.Done():
		}
	}
}

// Done 标记一条消息处理完成
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		return
	}
	q.pending--
	if q.pending == 0 {
		for _, w := range q.waiters {
			close(w)
		}
		q.waiters = nil
	}
}

// Join 等待所有消息处理完成；队列停止且仍有未完成消息时返回错误
func (q *Queue) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.pending == 0 {
			q.mu.Unlock()
			return nil
		}
		if q.cause != nil {
			err := fmt.Errorf("%w: %d message(s) undelivered: %w", ErrProcessorStopped, q.pending, q.cause)
			q.mu.Unlock()
			return err
		}
		w := make(chan struct{})
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()

		select {
		case <-w:
		case <-q.stopped:
		case <-ctx.Done():
			return fmt.Errorf("wait for message delivery: %w", ctx.Err())
		}
	}
}

// Stop 停止队列，之后的 Post 被丢弃，Get 与 Join 返回 cause
func (q *Queue) Stop(cause error) {
	if cause == nil {
		cause = ErrProcessorStopped
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cause != nil {
		return
	}
	q.cause = cause
	close(q.stopped)
}

// Len 返回尚未 Done 的消息数
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}
