package browser

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/agent"
)

// LoopConfig 规划循环参数
type LoopConfig struct {
	MaxSteps          int
	MaxActionsPerStep int
	// MaxFailures 连续规划失败的容忍次数
	MaxFailures int
}

// DefaultLoopConfig 返回默认参数
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxSteps:          100,
		MaxActionsPerStep: 10,
		MaxFailures:       3,
	}
}

// =============================================================================
// 🔁 规划循环 Agent
// =============================================================================

// LoopAgent 读取页面、请求规划、执行动作，直到 done 或达到最大步数
type LoopAgent struct {
	task     string
	hooks    agent.Hooks
	driver   Driver
	planner  Planner
	config   LoopConfig
	recorder Recorder
	logger   *zap.Logger
}

var _ agent.Agent = (*LoopAgent)(nil)

// NewLoopAgent 创建 Agent
func NewLoopAgent(task string, hooks agent.Hooks, driver Driver, planner Planner, config LoopConfig, recorder Recorder, logger *zap.Logger) *LoopAgent {
	if config.MaxSteps <= 0 {
		config.MaxSteps = DefaultLoopConfig().MaxSteps
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultLoopConfig().MaxFailures
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoopAgent{
		task:     task,
		hooks:    hooks,
		driver:   driver,
		planner:  planner,
		config:   config,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "loop_agent")),
	}
}

// ValidateBrowser 实现 agent.Agent
func (a *LoopAgent) ValidateBrowser(ctx context.Context) (string, error) {
	return a.driver.Connect(ctx)
}

// Run 实现 agent.Agent。返回错误时不调用 OnDone。
func (a *LoopAgent) Run(ctx context.Context) error {
	defer a.driver.Close()

	if _, err := a.driver.Connect(ctx); err != nil {
		return err
	}

	history := &agent.History{}
	var (
		memory   string
		previous []agent.ActionResult
		failures int
	)

	for step := 1; step <= a.config.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("agent run interrupted at step %d: %w", step, err)
		}

		state, err := a.driver.State(ctx)
		if err != nil {
			return err
		}

		info := agent.StepInfo{Number: step, MaxSteps: a.config.MaxSteps}
		output, err := a.planner.Plan(ctx, PlanRequest{
			Task:     a.task,
			State:    state,
			Step:     info,
			Memory:   memory,
			Previous: previous,
		})
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("agent run interrupted at step %d: %w", step, ctx.Err())
			}
			failures++
			a.logger.Warn("planning failed", zap.Int("step", step), zap.Int("failures", failures), zap.Error(err))
			if failures >= a.config.MaxFailures {
				return fmt.Errorf("planning failed %d times in a row: %w", failures, err)
			}
			previous = []agent.ActionResult{{Error: err.Error()}}
			step--
			continue
		}
		failures = 0

		if limit := a.config.MaxActionsPerStep; limit > 0 && len(output.Actions) > limit {
			output.Actions = output.Actions[:limit]
		}
		if a.hooks.OnStep != nil {
			a.hooks.OnStep(state, output, info)
		}

		results := a.execute(ctx, output.Actions)
		history.Entries = append(history.Entries, agent.HistoryEntry{State: state, Output: output, Results: results})
		memory = output.Brain.Memory
		previous = results

		if history.IsDone() {
			break
		}
	}

	if !history.IsDone() {
		a.logger.Warn("task not finished within step limit", zap.Int("max_steps", a.config.MaxSteps))
	}
	if a.hooks.OnDone != nil {
		a.hooks.OnDone(history)
	}
	return nil
}

// execute 依次执行动作；单个动作失败记入结果后停止本步剩余动作
func (a *LoopAgent) execute(ctx context.Context, actions []agent.Action) []agent.ActionResult {
	results := make([]agent.ActionResult, 0, len(actions))
	for _, act := range actions {
		kind := agent.NormalizeKind(act.Kind())
		exec, ok := act.(Executable)
		if !ok {
			a.recorder.RecordBrowserAction(kind, "unsupported")
			results = append(results, agent.ActionResult{Error: fmt.Sprintf("unsupported action %q", act.Kind())})
			break
		}

		res, err := exec.Execute(ctx, a.driver)
		if err != nil {
			a.recorder.RecordBrowserAction(kind, "error")
			if !errors.Is(err, context.Canceled) {
				a.logger.Warn("action failed", zap.String("action", kind), zap.Error(err))
			}
			results = append(results, agent.ActionResult{Error: err.Error()})
			break
		}
		a.recorder.RecordBrowserAction(kind, "success")
		results = append(results, res)
		if res.IsDone {
			break
		}
	}
	return results
}
