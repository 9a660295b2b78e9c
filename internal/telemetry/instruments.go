package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/OperatorNext/OperatorNext/task"

// RunInstruments 任务运行的追踪与 OTel 指标
type RunInstruments struct {
	tracer trace.Tracer

	runDuration metric.Float64Histogram
	stepTotal   metric.Int64Counter
	activeRuns  metric.Int64UpDownCounter
}

// NewRunInstruments 基于全局 provider 创建运行埋点。
// 遥测禁用时全局 provider 为 noop，所有调用均为空操作。
func NewRunInstruments() (*RunInstruments, error) {
	meter := otel.Meter(instrumentationName)
	r := &RunInstruments{tracer: otel.Tracer(instrumentationName)}

	var err error
	r.runDuration, err = meter.Float64Histogram("task.run.duration",
		metric.WithDescription("Agent run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1800))
	if err != nil {
		return nil, err
	}

	r.stepTotal, err = meter.Int64Counter("task.step.total",
		metric.WithDescription("Total number of agent steps"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, err
	}

	r.activeRuns, err = meter.Int64UpDownCounter("task.run.active",
		metric.WithDescription("Number of agent runs in progress"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	return r, nil
}

// StartRun 开启一次任务运行 span
func (r *RunInstruments) StartRun(ctx context.Context, taskID string) (context.Context, trace.Span) {
	ctx, span := r.tracer.Start(ctx, "task.run",
		trace.WithAttributes(attribute.String("task.id", taskID)))
	r.activeRuns.Add(ctx, 1)
	return ctx, span
}

// EndRun 结束运行 span 并记录耗时
func (r *RunInstruments) EndRun(ctx context.Context, span trace.Span, status string, duration time.Duration, err error) {
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("status", status))
	r.activeRuns.Add(ctx, -1)
	r.runDuration.Record(ctx, duration.Seconds(), attrs)

	span.SetAttributes(attribute.String("task.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RecordStep 在当前运行 span 上记录步骤事件
func (r *RunInstruments) RecordStep(ctx context.Context, step int, url string) {
	r.stepTotal.Add(ctx, 1)
	trace.SpanFromContext(ctx).AddEvent("task.step",
		trace.WithAttributes(
			attribute.Int("step", step),
			attribute.String("url", url),
		))
}
