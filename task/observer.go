package task

import (
	"context"
	"time"

	"github.com/OperatorNext/OperatorNext/internal/sysmetrics"
)

// Observer 任务生命周期指标，metrics.Collector 实现该接口
type Observer interface {
	TaskCreated()
	RunStarted()
	RunFinished(status string, duration time.Duration)
	StepRecorded()
	ErrorRecorded(errorType string)
	MessageSent(msgType string)
	MessageReplayed(msgType string)
}

type nopObserver struct{}

func (nopObserver) TaskCreated()                        {}
func (nopObserver) RunStarted()                         {}
func (nopObserver) RunFinished(string, time.Duration)   {}
func (nopObserver) StepRecorded()                       {}
func (nopObserver) ErrorRecorded(string)                {}
func (nopObserver) MessageSent(string)                  {}
func (nopObserver) MessageReplayed(string)              {}

// Sampler 资源采样，sysmetrics.Collector 实现该接口
type Sampler interface {
	Sample() sysmetrics.Snapshot
	Environment() sysmetrics.Environment
}

type nopSampler struct{}

func (nopSampler) Sample() sysmetrics.Snapshot         { return sysmetrics.Snapshot{} }
func (nopSampler) Environment() sysmetrics.Environment { return sysmetrics.Environment{} }

// Archiver 终态任务归档
type Archiver interface {
	Save(ctx context.Context, details Details) error
}

// Transport 单个客户端连接的发送端
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// TransportFunc 函数适配器
type TransportFunc func(ctx context.Context, payload []byte) error

// Send 实现 Transport
func (f TransportFunc) Send(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}
