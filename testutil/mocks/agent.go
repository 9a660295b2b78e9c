// MockAgent 是 agent.Agent 的脚本化实现。
//
// 运行脚本拿到钩子后同步调用，模拟真实 Agent 在自身 goroutine 中触发回调。
package mocks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/OperatorNext/OperatorNext/agent"
)

// Script 运行脚本
type Script func(ctx context.Context, hooks agent.Hooks) error

// MockAgent 脚本化 Agent
type MockAgent struct {
	Task    string
	Hooks   agent.Hooks
	Version string
	// ValidateErr 非空时 ValidateBrowser 返回该错误
	ValidateErr error
	script      Script
}

// ValidateBrowser 实现 agent.Agent
func (a *MockAgent) ValidateBrowser(context.Context) (string, error) {
	if a.ValidateErr != nil {
		return "", a.ValidateErr
	}
	return a.Version, nil
}

// Run 实现 agent.Agent
func (a *MockAgent) Run(ctx context.Context) error {
	if a.script == nil {
		return nil
	}
	return a.script(ctx, a.Hooks)
}

// MockFactory 记录创建次数的 Agent 工厂
type MockFactory struct {
	mu          sync.Mutex
	script      Script
	validateErr error
	createErr   error
	created     atomic.Int32
	agents      []*MockAgent
}

// NewMockFactory 创建工厂，每个 Agent 运行同一个脚本
func NewMockFactory(script Script) *MockFactory {
	return &MockFactory{script: script}
}

// WithValidateError ValidateBrowser 失败
func (f *MockFactory) WithValidateError(err error) *MockFactory {
	f.validateErr = err
	return f
}

// WithCreateError NewAgent 失败
func (f *MockFactory) WithCreateError(err error) *MockFactory {
	f.createErr = err
	return f
}

// NewAgent 实现 agent.Factory
func (f *MockFactory) NewAgent(task string, hooks agent.Hooks) (agent.Agent, error) {
	f.created.Add(1)
	if f.createErr != nil {
		return nil, f.createErr
	}
	a := &MockAgent{
		Task:        task,
		Hooks:       hooks,
		Version:     "HeadlessChrome/120.0.0.0",
		ValidateErr: f.validateErr,
		script:      f.script,
	}
	f.mu.Lock()
	f.agents = append(f.agents, a)
	f.mu.Unlock()
	return a, nil
}

// Created 返回 NewAgent 调用次数
func (f *MockFactory) Created() int {
	return int(f.created.Load())
}

// Agents 返回已创建的 Agent
func (f *MockFactory) Agents() []*MockAgent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockAgent(nil), f.agents...)
}
