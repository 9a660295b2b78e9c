package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/agent"
	"github.com/OperatorNext/OperatorNext/internal/telemetry"
)

// screenshotPreview 步骤元数据中截图预览的长度
const screenshotPreview = 100

// =============================================================================
// 🪝 CallbackManager
// =============================================================================

// CallbackManager 把 Agent 钩子转换为消息，每次运行创建一个
//
// 钩子在 Agent 的 goroutine 中同步调用，从不向外 panic 或返回错误：
// 失败交给 ErrorHandler 记录，该步骤被丢弃。
type CallbackManager struct {
	ctx         context.Context
	rec         *record
	sampler     Sampler
	handler     *ErrorHandler
	queue       *Queue
	journal     Journal
	instruments *telemetry.RunInstruments
	observer    Observer
	logger      *zap.Logger
}

func newCallbackManager(ctx context.Context, rec *record, sampler Sampler, handler *ErrorHandler, queue *Queue,
	journal Journal, instruments *telemetry.RunInstruments, observer Observer, logger *zap.Logger) *CallbackManager {
	return &CallbackManager{
		ctx:         ctx,
		rec:         rec,
		sampler:     sampler,
		handler:     handler,
		queue:       queue,
		journal:     journal,
		instruments: instruments,
		observer:    observer,
		logger:      logger,
	}
}

// Hooks 返回交给 Agent 的钩子
func (m *CallbackManager) Hooks() agent.Hooks {
	return agent.Hooks{
		OnStep: m.OnStep,
		OnDone: m.OnDone,
	}
}

// OnStep 步骤钩子
func (m *CallbackManager) OnStep(state *agent.State, output *agent.Output, info agent.StepInfo) {
	m.rec.mu.Lock()
	step := len(m.rec.steps) + 1
	m.rec.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("step hook panicked", zap.Int("step", step), zap.Any("panic", r), zap.Stack("stack"))
			m.handler.HandleStep(fmt.Errorf("step hook panic: %v", r), step)
		}
	}()

	if err := m.recordStep(step, state, output); err != nil {
		m.logger.Error("step dropped", zap.Int("step", step), zap.Int("agent_step", info.Number), zap.Error(err))
		m.handler.HandleStep(err, step)
	}
}

func (m *CallbackManager) recordStep(step int, state *agent.State, output *agent.Output) error {
	if state == nil {
		return errors.New("agent reported a step without browser state")
	}
	if output == nil {
		return errors.New("agent reported a step without model output")
	}

	startedAt := time.Now()
	snapshot := m.sampler.Sample()
	actions := m.convertActions(step, output.Actions)

	var screenshot *string
	if state.Screenshot != "" {
		screenshot = stringPtr(state.Screenshot)
	}
	completedAt := time.Now()
	msg := StepMessage{
		Step:        step,
		URL:         state.URL,
		Status:      "completed",
		Evaluation:  output.Brain.EvaluationPreviousGoal,
		Memory:      output.Brain.Memory,
		NextGoal:    output.Brain.NextGoal,
		Actions:     actions,
		Screenshot:  screenshot,
		StartedAt:   formatTime(startedAt),
		CompletedAt: formatTime(completedAt),
		Metadata: map[string]any{
			"browser_state": browserState(state),
			"performance":   snapshot,
		},
	}
	msg.Duration = StepDuration(msg.StartedAt, msg.CompletedAt, m.logger)

	m.rec.mu.Lock()
	seq := m.rec.seq + 1
	frame, err := encodeFrame(Envelope{
		Type:      MessageStep,
		Data:      msg,
		Timestamp: msg.CompletedAt,
		SessionID: m.rec.task.ID,
		Sequence:  seq,
	})
	if err != nil {
		m.rec.mu.Unlock()
		return err
	}
	m.rec.seq = seq
	m.rec.steps = append(m.rec.steps, frame)
	m.rec.stats.StepCount = step
	m.rec.stats.LastActivity = completedAt
	m.rec.stats.SystemMetrics = append(m.rec.stats.SystemMetrics, MetricsSample{
		Timestamp: startedAt,
		Step:      step,
		Metrics:   snapshot,
	})
	taskID := m.rec.task.ID
	m.rec.mu.Unlock()

	m.commit(taskID, frame)
	m.observer.StepRecorded()
	m.instruments.RecordStep(m.ctx, step, state.URL)
	m.logger.Info("step recorded",
		zap.Int("step", step),
		zap.Int("sequence", seq),
		zap.String("url", state.URL),
		zap.String("evaluation", output.Brain.EvaluationPreviousGoal),
		zap.String("next_goal", output.Brain.NextGoal),
		zap.Int("actions", len(actions)))
	return nil
}

// convertActions 单个动作转换失败只记录错误并跳过
func (m *CallbackManager) convertActions(step int, actions []agent.Action) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		converted, err := convertAction(a)
		if err != nil {
			kind := actionKind(a)
			m.logger.Warn("action skipped", zap.Int("step", step), zap.String("action", kind), zap.Error(err))
			m.handler.HandleAction(err, step, kind)
			continue
		}
		out = append(out, converted)
	}
	return out
}

func convertAction(a agent.Action) (action Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert action: panic: %v", r)
		}
	}()
	if a == nil {
		return Action{}, errors.New("convert action: nil action")
	}
	args, err := a.Args()
	if err != nil {
		return Action{}, fmt.Errorf("convert action %s: %w", a.Kind(), err)
	}
	if args == nil {
		args = map[string]any{}
	}
	// 参数须可序列化，否则整个步骤信封都会编码失败
	if _, err := json.Marshal(args); err != nil {
		return Action{}, fmt.Errorf("convert action %s: %w", a.Kind(), err)
	}
	return Action{
		Type:      agent.NormalizeKind(a.Kind()),
		Args:      args,
		Status:    "pending",
		Timestamp: formatTime(time.Now()),
	}, nil
}

func actionKind(a agent.Action) (kind string) {
	defer func() {
		if recover() != nil {
			kind = "unknown"
		}
	}()
	if a == nil {
		return "unknown"
	}
	return agent.NormalizeKind(a.Kind())
}

func browserState(state *agent.State) map[string]any {
	out := map[string]any{
		"url":        state.URL,
		"title":      optional(state.Title),
		"content":    optional(state.Content),
		"elements":   nil,
		"screenshot": nil,
	}
	if len(state.Elements) > 0 {
		out["elements"] = state.Elements
	}
	if state.Screenshot != "" {
		preview := state.Screenshot
		if len(preview) > screenshotPreview {
			preview = preview[:screenshotPreview]
		}
		out["screenshot"] = preview + "..."
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// OnDone 完成钩子
func (m *CallbackManager) OnDone(history *agent.History) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("done hook panicked", zap.Any("panic", r), zap.Stack("stack"))
			m.handler.Handle(fmt.Errorf("done hook panic: %v", r))
		}
	}()

	if err := m.recordResult(history); err != nil {
		m.logger.Error("result dropped", zap.Error(err))
		m.handler.Handle(err)
	}
}

func (m *CallbackManager) recordResult(history *agent.History) error {
	var final *string
	if content, ok := history.FinalResult(); ok {
		final = stringPtr(content)
	}
	success := history.IsDone()

	m.rec.mu.Lock()
	if m.rec.result != nil {
		m.rec.mu.Unlock()
		return errors.New("done hook invoked more than once")
	}
	end := time.Now()
	start := end
	if m.rec.stats.StartedAt != nil {
		start = *m.rec.stats.StartedAt
	}
	duration := end.Sub(start).Seconds()
	total := len(m.rec.steps)
	errorCount := m.rec.stats.ErrorCount

	result := ResultMessage{
		FinalResult: final,
		TotalSteps:  total,
		Success:     success,
		Status:      string(StatusCompleted),
		StartedAt:   formatTime(start),
		CompletedAt: formatTime(end),
		Duration:    duration,
		ErrorCount:  errorCount,
		RetryCount:  m.rec.stats.RetryCount,
		Summary:     fmt.Sprintf("Task completed: %d steps in %.2fs", total, duration),
		Metadata: map[string]any{
			"performance_metrics": map[string]any{
				"average_step_duration": ratio(duration, float64(total)),
				"error_rate":            ratio(float64(errorCount), float64(total)),
			},
		},
	}
	seq := m.rec.seq + 1
	frame, err := encodeFrame(Envelope{
		Type:      MessageResult,
		Data:      result,
		Timestamp: result.CompletedAt,
		SessionID: m.rec.task.ID,
		Sequence:  seq,
	})
	if err != nil {
		m.rec.mu.Unlock()
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		m.rec.mu.Unlock()
		return fmt.Errorf("encode result: %w", err)
	}
	m.rec.seq = seq
	m.rec.result = &frame
	m.rec.task.Result = data
	m.rec.stats.CompletedAt = &end
	m.rec.stats.Duration = duration
	m.rec.stats.LastActivity = end
	taskID := m.rec.task.ID
	m.rec.mu.Unlock()

	m.commit(taskID, frame)
	m.logger.Info("task result recorded",
		zap.Int("total_steps", total),
		zap.Float64("duration_seconds", duration),
		zap.Bool("success", success),
		zap.Int("sequence", seq))
	return nil
}

// commit 写入日志并投递发送队列
func (m *CallbackManager) commit(taskID string, frame Frame) {
	appendJournal(m.journal, taskID, frame, m.logger)
	if !m.queue.Post(frame) {
		m.logger.Warn("delivery queue stopped, message kept for replay only",
			zap.String("type", string(frame.Type)),
			zap.Int("sequence", frame.Sequence))
	}
}

// appendJournal 日志写入失败不影响任务
func appendJournal(journal Journal, taskID string, frame Frame, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := journal.Append(ctx, taskID, frame); err != nil {
		logger.Warn("journal append failed", zap.Int("sequence", frame.Sequence), zap.Error(err))
	}
}

const journalTimeout = 2 * time.Second
