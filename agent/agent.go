package agent

import (
	"context"
	"errors"
	"strings"
)

// ErrBrowserUnreachable 远程浏览器不可达。
// 实现方应使用 %w 包装该错误，以便任务服务识别连接类故障。
var ErrBrowserUnreachable = errors.New("remote browser unreachable")

// =============================================================================
// 🌐 浏览器状态
// =============================================================================

// Element 页面上的可交互元素
type Element struct {
	Index int               `json:"index"`
	Tag   string            `json:"tag"`
	Text  string            `json:"text,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// State 单步开始时的浏览器状态。除 URL 外的字段都可能为空。
type State struct {
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content,omitempty"`
	Elements   []Element `json:"elements,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"` // base64 编码的 PNG
}

// =============================================================================
// 🎯 动作与规划输出
// =============================================================================

// Action Agent 产出的单个浏览器动作
type Action interface {
	// Kind 返回动作的具体类型名，如 "ClickElementAction"
	Kind() string
	// Args 返回动作参数视图
	Args() (map[string]any, error)
}

// NormalizeKind 去掉 "Action" 后缀并转为小写，例如
// "ClickElementAction" 变为 "clickelement"。
func NormalizeKind(kind string) string {
	return strings.ToLower(strings.ReplaceAll(kind, "Action", ""))
}

// GenericAction 以名称加参数表达的动作
type GenericAction struct {
	Name   string
	Params map[string]any
}

// Kind 实现 Action
func (a GenericAction) Kind() string { return a.Name }

// Args 实现 Action，返回参数副本
func (a GenericAction) Args() (map[string]any, error) {
	out := make(map[string]any, len(a.Params))
	for k, v := range a.Params {
		out[k] = v
	}
	return out, nil
}

// Brain Agent 对当前进度的自我评估
type Brain struct {
	EvaluationPreviousGoal string `json:"evaluation_previous_goal"`
	Memory                 string `json:"memory"`
	NextGoal               string `json:"next_goal"`
}

// Output 单步规划输出
type Output struct {
	Brain   Brain
	Actions []Action
}

// StepInfo 步骤上下文
type StepInfo struct {
	Number   int
	MaxSteps int
}

// =============================================================================
// 📜 运行历史
// =============================================================================

// ActionResult 单个动作的执行结果
type ActionResult struct {
	ExtractedContent string `json:"extracted_content,omitempty"`
	Error            string `json:"error,omitempty"`
	IsDone           bool   `json:"is_done"`
}

// HistoryEntry 一个步骤的历史记录
type HistoryEntry struct {
	State   *State
	Output  *Output
	Results []ActionResult
}

// History Agent 运行历史
type History struct {
	Entries []HistoryEntry
}

// IsDone 最后一个动作结果是否报告任务完成
func (h *History) IsDone() bool {
	if h == nil || len(h.Entries) == 0 {
		return false
	}
	results := h.Entries[len(h.Entries)-1].Results
	if len(results) == 0 {
		return false
	}
	return results[len(results)-1].IsDone
}

// FinalResult 返回最后一个动作结果的提取内容；不存在时 ok 为 false
func (h *History) FinalResult() (string, bool) {
	if h == nil || len(h.Entries) == 0 {
		return "", false
	}
	results := h.Entries[len(h.Entries)-1].Results
	if len(results) == 0 {
		return "", false
	}
	last := results[len(results)-1]
	if last.ExtractedContent == "" {
		return "", false
	}
	return last.ExtractedContent, true
}

// =============================================================================
// 🤖 Agent 契约
// =============================================================================

// Hooks Agent 运行期间同步调用的钩子。
// 钩子在 Agent 自己的 goroutine 中执行，不得向外传播 panic。
type Hooks struct {
	OnStep func(state *State, output *Output, step StepInfo)
	OnDone func(history *History)
}

// Agent 单次任务运行
type Agent interface {
	// ValidateBrowser 连接远程浏览器并返回其版本
	ValidateBrowser(ctx context.Context) (string, error)
	// Run 运行到任务结束；正常结束时恰好调用一次 OnDone
	Run(ctx context.Context) error
}

// Factory 为任务创建 Agent
type Factory interface {
	NewAgent(task string, hooks Hooks) (Agent, error)
}

// FactoryFunc 函数适配器
type FactoryFunc func(task string, hooks Hooks) (Agent, error)

// NewAgent 实现 Factory
func (f FactoryFunc) NewAgent(task string, hooks Hooks) (Agent, error) {
	return f(task, hooks)
}
