package browser

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/agent"
	"github.com/OperatorNext/OperatorNext/config"
)

// Factory 为每个任务创建独立的远程浏览器会话与规划循环
type Factory struct {
	driverConfig  DriverConfig
	plannerConfig PlannerConfig
	loopConfig    LoopConfig
	recorder      Recorder
	logger        *zap.Logger

	newDriver func(DriverConfig, *zap.Logger) Driver
	planner   Planner
}

var _ agent.Factory = (*Factory)(nil)

// FactoryOption 工厂选项
type FactoryOption func(*Factory)

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) FactoryOption {
	return func(f *Factory) { f.recorder = r }
}

// WithDriverFunc 替换驱动构造函数
func WithDriverFunc(fn func(DriverConfig, *zap.Logger) Driver) FactoryOption {
	return func(f *Factory) { f.newDriver = fn }
}

// WithPlanner 使用指定规划器代替 OpenAI 兼容规划器
func WithPlanner(p Planner) FactoryOption {
	return func(f *Factory) { f.planner = p }
}

// NewFactory 根据配置创建工厂
func NewFactory(cfg *config.Config, logger *zap.Logger, opts ...FactoryOption) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}

	driverCfg := DefaultDriverConfig()
	driverCfg.CDPURL = cfg.Browser.CDPURL
	driverCfg.Token = cfg.Browser.Token
	if cfg.Browser.ViewportWidth > 0 {
		driverCfg.ViewportWidth = cfg.Browser.ViewportWidth
	}
	if cfg.Browser.ViewportHeight > 0 {
		driverCfg.ViewportHeight = cfg.Browser.ViewportHeight
	}
	if cfg.Browser.Timeout > 0 {
		driverCfg.Timeout = cfg.Browser.Timeout
	}

	loopCfg := DefaultLoopConfig()
	loopCfg.MaxSteps = cfg.Agent.MaxSteps
	if cfg.Agent.MaxActionsPerStep > 0 {
		loopCfg.MaxActionsPerStep = cfg.Agent.MaxActionsPerStep
	}

	f := &Factory{
		driverConfig: driverCfg,
		plannerConfig: PlannerConfig{
			BaseURL:          cfg.LLM.BaseURL,
			APIKey:           cfg.LLM.APIKey,
			Model:            cfg.LLM.Model,
			Timeout:          cfg.LLM.Timeout,
			Temperature:      cfg.LLM.Temperature,
			MaxRetries:       cfg.LLM.MaxRetries,
			MaxContentTokens: cfg.Agent.MaxContentTokens,
			UseVision:        true,
		},
		loopConfig: loopCfg,
		recorder:   nopRecorder{},
		logger:     logger,
		newDriver: func(c DriverConfig, l *zap.Logger) Driver {
			return NewChromeDriver(c, l)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.planner == nil {
		f.planner = NewOpenAIPlanner(f.plannerConfig, f.recorder, logger)
	}
	return f
}

// NewAgent 实现 agent.Factory
func (f *Factory) NewAgent(task string, hooks agent.Hooks) (agent.Agent, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, errors.New("agent task must not be empty")
	}
	driver := f.newDriver(f.driverConfig, f.logger)
	return NewLoopAgent(task, hooks, driver, f.planner, f.loopConfig, f.recorder, f.logger), nil
}
