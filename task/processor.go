package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultWriteTimeout 单条消息发送超时
const DefaultWriteTimeout = 10 * time.Second

// MessageProcessor 从 Queue 取出消息并按序写入 Transport
type MessageProcessor struct {
	transport    Transport
	queue        *Queue
	handler      *ErrorHandler
	observer     Observer
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewMessageProcessor 创建消息处理器
func NewMessageProcessor(transport Transport, queue *Queue, handler *ErrorHandler, observer Observer, writeTimeout time.Duration, logger *zap.Logger) *MessageProcessor {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageProcessor{
		transport:    transport,
		queue:        queue,
		handler:      handler,
		observer:     observer,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Run 发送循环，ctx 取消时返回 nil，发送失败时停止队列并返回错误
func (p *MessageProcessor) Run(ctx context.Context) error {
	for {
		f, err := p.queue.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		// 写入一旦开始就不随 ctx 中断，避免半帧
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
		err = p.transport.Send(sendCtx, f.Payload)
		cancel()
		if err != nil {
			err = fmt.Errorf("send %s message %d: %w", f.Type, f.Sequence, err)
			p.logger.Error("message delivery failed", zap.Error(err))
			if p.handler != nil {
				p.handler.Handle(err)
			}
			p.queue.Stop(err)
			return err
		}
		p.observer.MessageSent(string(f.Type))
		p.logger.Debug("message sent",
			zap.String("type", string(f.Type)),
			zap.Int("sequence", f.Sequence))
		p.queue.Done()
	}
}
