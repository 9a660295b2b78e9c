package mocks

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed RecordingTransport 注入的默认失败
var ErrTransportClosed = errors.New("transport closed")

// RecordingTransport 记录每次发送的字节
type RecordingTransport struct {
	mu        sync.Mutex
	payloads  [][]byte
	failAfter int
	err       error
	sent      chan struct{}
}

// NewRecordingTransport 创建从不失败的 transport
func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{failAfter: -1, sent: make(chan struct{}, 1024)}
}

// FailAfter 成功发送 n 条后开始返回 err
func (t *RecordingTransport) FailAfter(n int, err error) *RecordingTransport {
	if err == nil {
		err = ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failAfter = n
	t.err = err
	return t
}

// Send 记录 payload 的副本
func (t *RecordingTransport) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failAfter >= 0 && len(t.payloads) >= t.failAfter {
		return t.err
	}
	t.payloads = append(t.payloads, append([]byte(nil), payload...))
	select {
	case t.sent <- struct{}{}:
	default:
	}
	return nil
}

// Payloads 返回已发送内容
func (t *RecordingTransport) Payloads() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.payloads...)
}

// Len 已发送条数
func (t *RecordingTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.payloads)
}

// Sent 每次成功发送时收到一个信号
func (t *RecordingTransport) Sent() <-chan struct{} {
	return t.sent
}
