package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/agent"
	"github.com/OperatorNext/OperatorNext/agent/browser"
	"github.com/OperatorNext/OperatorNext/internal/telemetry"
)

// RunningErrorType 重复运行提示的错误类型
const RunningErrorType = "TaskAlreadyRunning"

// archiveTimeout 终态归档的超时
const archiveTimeout = 5 * time.Second

// =============================================================================
// ⚙️ 配置与选项
// =============================================================================

// ServiceConfig 任务服务配置
type ServiceConfig struct {
	// 单次运行超时，0 表示不限制
	RunTimeout time.Duration
	// 单条消息发送超时
	WriteTimeout time.Duration
	// 错误诊断信息
	Diagnostics Diagnostics
}

// DefaultServiceConfig 返回默认配置
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		WriteTimeout: DefaultWriteTimeout,
		Diagnostics:  DefaultDiagnostics(),
	}
}

// Option Service 选项
type Option func(*Service)

// WithSampler 设置资源采样器
func WithSampler(s Sampler) Option {
	return func(svc *Service) { svc.sampler = s }
}

// WithJournal 设置事件日志
func WithJournal(j Journal) Option {
	return func(svc *Service) { svc.journal = j }
}

// WithArchiver 设置终态归档
func WithArchiver(a Archiver) Option {
	return func(svc *Service) { svc.archiver = a }
}

// WithObserver 设置指标观察者
func WithObserver(o Observer) Option {
	return func(svc *Service) { svc.observer = o }
}

// WithInstruments 设置追踪埋点
func WithInstruments(i *telemetry.RunInstruments) Option {
	return func(svc *Service) { svc.instruments = i }
}

// =============================================================================
// 🎯 Service
// =============================================================================

// Service 任务注册表与运行编排
type Service struct {
	factory     agent.Factory
	config      ServiceConfig
	registry    *registry
	sampler     Sampler
	journal     Journal
	archiver    Archiver
	observer    Observer
	instruments *telemetry.RunInstruments
	logger      *zap.Logger
}

// NewService 创建任务服务
func NewService(factory agent.Factory, config ServiceConfig, logger *zap.Logger, opts ...Option) (*Service, error) {
	if factory == nil {
		return nil, errors.New("agent factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	s := &Service{
		factory:  factory,
		config:   config,
		registry: newRegistry(),
		sampler:  nopSampler{},
		journal:  NewMemoryJournal(),
		observer: nopObserver{},
		logger:   logger.With(zap.String("component", "task_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.instruments == nil {
		instruments, err := telemetry.NewRunInstruments()
		if err != nil {
			return nil, fmt.Errorf("create run instruments: %w", err)
		}
		s.instruments = instruments
	}
	return s, nil
}

// Create 创建 pending 任务并记录创建时的环境快照
func (s *Service) Create(ctx context.Context, description string) (Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Task{}, ErrEmptyDescription
	}
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}

	now := time.Now()
	t := Task{
		ID:          uuid.NewString(),
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	metadata := Metadata{
		BrowserInfo:        map[string]any{},
		PerformanceMetrics: s.sampler.Sample(),
		Environment:        s.sampler.Environment(),
	}
	s.registry.add(newRecord(t, metadata))
	s.observer.TaskCreated()

	s.logger.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("description", description))
	return t, nil
}

// Get 查询任务
func (s *Service) Get(taskID string) (Task, error) {
	rec, ok := s.registry.get(taskID)
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return rec.snapshotTask(), nil
}

// List 按创建时间倒序列出任务
func (s *Service) List() []Task {
	return s.registry.list()
}

// Details 返回任务、统计、元数据与错误日志
func (s *Service) Details(taskID string) (Details, error) {
	rec, ok := s.registry.get(taskID)
	if !ok {
		return Details{}, ErrTaskNotFound
	}
	return rec.details(), nil
}

// Events 返回序号大于 after 的已提交信封
func (s *Service) Events(ctx context.Context, taskID string, after int) ([]json.RawMessage, error) {
	if _, ok := s.registry.get(taskID); !ok {
		return nil, ErrTaskNotFound
	}
	return s.journal.Since(ctx, taskID, after)
}

// =============================================================================
// ▶️ 运行
// =============================================================================

// Run 在 transport 上运行或重放任务，阻塞直到结束。
//
// pending 任务启动 Agent；completed/failed 任务重放缓存的全部信封；
// running 任务重放已缓存步骤后发送 TaskAlreadyRunning 并返回 ErrTaskRunning。
// 运行失败时返回导致失败的错误，失败信封已发送给客户端。
func (s *Service) Run(ctx context.Context, taskID string, transport Transport) error {
	rec, ok := s.registry.get(taskID)
	if !ok {
		return ErrTaskNotFound
	}

	rec.mu.Lock()
	status := rec.task.Status
	steps := append([]Frame(nil), rec.steps...)
	terminal := rec.result
	if status == StatusFailed {
		terminal = rec.failure
	}
	if status == StatusPending {
		now := time.Now()
		rec.task.Status = StatusRunning
		rec.task.UpdatedAt = now
		rec.stats.StartedAt = &now
		rec.stats.LastActivity = now
	}
	rec.mu.Unlock()

	logger := s.logger.With(zap.String("task_id", taskID))

	switch status {
	case StatusPending:
		return s.execute(ctx, rec, transport, logger)

	case StatusRunning:
		logger.Warn("task already running, replaying cached steps", zap.Int("steps", len(steps)))
		if err := s.replay(ctx, transport, steps); err != nil {
			return err
		}
		notice, err := s.runningNotice(rec)
		if err != nil {
			return err
		}
		if err := s.send(ctx, transport, notice); err != nil {
			return err
		}
		return ErrTaskRunning

	default:
		logger.Info("replaying finished task",
			zap.String("status", string(status)),
			zap.Int("steps", len(steps)))
		frames := steps
		if terminal != nil {
			frames = append(frames, *terminal)
		}
		return s.replay(ctx, transport, frames)
	}
}

func (s *Service) replay(ctx context.Context, transport Transport, frames []Frame) error {
	for _, f := range frames {
		if err := s.send(ctx, transport, f); err != nil {
			return fmt.Errorf("replay %s message %d: %w", f.Type, f.Sequence, err)
		}
		s.observer.MessageReplayed(string(f.Type))
	}
	return nil
}

func (s *Service) send(ctx context.Context, transport Transport, f Frame) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.WriteTimeout)
	defer cancel()
	return transport.Send(sendCtx, f.Payload)
}

// runningNotice 重复运行提示不占用任务序号，也不计入错误日志
func (s *Service) runningNotice(rec *record) (Frame, error) {
	rec.mu.Lock()
	seq, taskID := rec.seq, rec.task.ID
	rec.mu.Unlock()

	now := formatTime(time.Now())
	return encodeFrame(Envelope{
		Type: MessageError,
		Data: ErrorMessage{
			Error:       ErrTaskRunning.Error(),
			ErrorType:   RunningErrorType,
			Severity:    SeverityWarning,
			Details:     map[string]any{},
			Timestamp:   now,
			Recoverable: true,
		},
		Timestamp: now,
		SessionID: taskID,
		Sequence:  seq,
	})
}

// execute 启动消息处理器与 Agent，结束后写入终态
func (s *Service) execute(ctx context.Context, rec *record, transport Transport, logger *zap.Logger) error {
	runCtx := ctx
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}
	runCtx, span := s.instruments.StartRun(runCtx, rec.task.ID)
	s.observer.RunStarted()
	started := time.Now()

	handler := newErrorHandler(rec, s.config.Diagnostics, s.observer, logger)
	queue := NewQueue()
	processor := NewMessageProcessor(transport, queue, handler, s.observer, s.config.WriteTimeout, logger)

	procCtx, stopProcessor := context.WithCancel(context.WithoutCancel(runCtx))
	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		_ = processor.Run(procCtx)
	}()

	callbacks := newCallbackManager(runCtx, rec, s.sampler, handler, queue, s.journal, s.instruments, s.observer, logger)
	err := s.driveGuarded(runCtx, rec, callbacks, queue, logger)

	stopProcessor()
	<-procDone

	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		s.fail(ctx, rec, transport, handler, err, logger)
	} else {
		rec.mu.Lock()
		rec.task.Status = StatusCompleted
		rec.task.UpdatedAt = time.Now()
		rec.mu.Unlock()
		logger.Info("task completed", zap.Duration("duration", time.Since(started)))
	}

	elapsed := time.Since(started)
	s.observer.RunFinished(string(status), elapsed)
	s.instruments.EndRun(runCtx, span, string(status), elapsed, err)
	s.archive(rec, logger)
	return err
}

// driveGuarded 把 Agent 的 panic 转为运行错误，保证处理器停止并进入失败路径
func (s *Service) driveGuarded(ctx context.Context, rec *record, callbacks *CallbackManager, queue *Queue, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("agent panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	return s.drive(ctx, rec, callbacks, queue, logger)
}

// drive 创建 Agent、校验浏览器、运行并等待消息发送完毕
func (s *Service) drive(ctx context.Context, rec *record, callbacks *CallbackManager, queue *Queue, logger *zap.Logger) error {
	rec.mu.Lock()
	description := rec.task.Description
	rec.mu.Unlock()

	ag, err := s.factory.NewAgent(description, callbacks.Hooks())
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	version, err := ag.ValidateBrowser(ctx)
	if err != nil {
		return fmt.Errorf("validate browser: %w", err)
	}
	rec.mu.Lock()
	rec.metadata.BrowserInfo["version"] = version
	rec.metadata.BrowserInfo["cdp_endpoint"] = browser.RedactEndpoint(s.config.Diagnostics.CDPEndpoint)
	rec.metadata.BrowserInfo["connected_at"] = formatTime(time.Now())
	rec.mu.Unlock()
	logger.Info("remote browser connected", zap.String("version", version))

	if err := ag.Run(ctx); err != nil {
		return err
	}
	if err := queue.Join(ctx); err != nil {
		return err
	}

	rec.mu.Lock()
	done := rec.result != nil
	rec.mu.Unlock()
	if !done {
		return ErrNoCompletion
	}
	return nil
}

// fail 记录错误、缓存终态信封并直接发送给客户端
func (s *Service) fail(ctx context.Context, rec *record, transport Transport, handler *ErrorHandler, cause error, logger *zap.Logger) {
	msg := handler.Handle(cause)
	result, _ := json.Marshal(map[string]string{"error": cause.Error()})

	rec.mu.Lock()
	seq := rec.seq + 1
	frame, err := encodeFrame(Envelope{
		Type:      MessageError,
		Data:      msg,
		Timestamp: msg.Timestamp,
		SessionID: rec.task.ID,
		Sequence:  seq,
	})
	now := time.Now()
	rec.task.Status = StatusFailed
	rec.task.Result = result
	rec.task.UpdatedAt = now
	rec.stats.LastActivity = now
	if err == nil {
		rec.seq = seq
		rec.failure = &frame
	}
	taskID := rec.task.ID
	rec.mu.Unlock()

	logger.Error("task failed",
		zap.String("error_type", msg.ErrorType),
		zap.Bool("recoverable", msg.Recoverable),
		zap.Error(cause))
	if err != nil {
		logger.Error("encode failure envelope", zap.Error(err))
		return
	}

	appendJournal(s.journal, taskID, frame, logger)
	if err := s.send(ctx, transport, frame); err != nil {
		logger.Warn("failure envelope not delivered", zap.Error(err))
		return
	}
	s.observer.MessageSent(string(frame.Type))
}

// archive 写入终态归档，失败只记录日志
func (s *Service) archive(rec *record, logger *zap.Logger) {
	if s.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.archiver.Save(ctx, rec.details()); err != nil {
		logger.Warn("task archive failed", zap.Error(err))
	}
}
