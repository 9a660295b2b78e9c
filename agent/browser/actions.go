package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/OperatorNext/OperatorNext/agent"
)

// =============================================================================
// 🎯 浏览器动作
// =============================================================================

// Executable 可在 Driver 上执行的动作
type Executable interface {
	agent.Action
	Execute(ctx context.Context, d Driver) (agent.ActionResult, error)
}

// GoToURLAction 打开 URL
type GoToURLAction struct {
	URL string `json:"url"`
}

// ClickElementAction 点击元素
type ClickElementAction struct {
	Index int `json:"index"`
}

// InputTextAction 向元素输入文本
type InputTextAction struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ScrollAction 滚动页面，Amount 为像素，负值向上
type ScrollAction struct {
	Amount int `json:"amount"`
}

// GoBackAction 后退
type GoBackAction struct{}

// ExtractContentAction 提取页面正文
type ExtractContentAction struct {
	Goal string `json:"goal,omitempty"`
}

// DoneAction 结束任务并给出最终答案
type DoneAction struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

func (a GoToURLAction) Kind() string        { return "GoToURLAction" }
func (a ClickElementAction) Kind() string   { return "ClickElementAction" }
func (a InputTextAction) Kind() string      { return "InputTextAction" }
func (a ScrollAction) Kind() string         { return "ScrollAction" }
func (a GoBackAction) Kind() string         { return "GoBackAction" }
func (a ExtractContentAction) Kind() string { return "ExtractContentAction" }
func (a DoneAction) Kind() string           { return "DoneAction" }

func (a GoToURLAction) Args() (map[string]any, error)        { return structArgs(a) }
func (a ClickElementAction) Args() (map[string]any, error)   { return structArgs(a) }
func (a InputTextAction) Args() (map[string]any, error)      { return structArgs(a) }
func (a ScrollAction) Args() (map[string]any, error)         { return structArgs(a) }
func (a GoBackAction) Args() (map[string]any, error)         { return structArgs(a) }
func (a ExtractContentAction) Args() (map[string]any, error) { return structArgs(a) }
func (a DoneAction) Args() (map[string]any, error)           { return structArgs(a) }

// Execute 实现 Executable
func (a GoToURLAction) Execute(ctx context.Context, d Driver) (agent.ActionResult, error) {
	if err := d.Navigate(ctx, a.URL); err != nil {
		return agent.ActionResult{}, err
	}
	return agent.ActionResult{ExtractedContent: "Navigated to " + a.URL}, nil
}

// Execute 实现 Executable
func (a ClickElementAction) Execute(ctx context.Context, d Driver) (agent.ActionResult, error) {
	if err := d.Click(ctx, a.Index); err != nil {
		return agent.ActionResult{}, err
	}
	return agent.ActionResult{ExtractedContent: fmt.Sprintf("Clicked element %d", a.Index)}, nil
}

// Execute 实现 Executable
func (a InputTextAction) Execute(ctx context.Context, d Driver) (agent.ActionResult, error) {
	if err := d.Input(ctx, a.Index, a.Text); err != nil {
		return agent.ActionResult{}, err
	}
	return agent.ActionResult{ExtractedContent: fmt.Sprintf("Input %q into element %d", a.Text, a.Index)}, nil
}

// Execute 实现 Executable
func (a ScrollAction) Execute(ctx context.Context, d Driver) (agent.ActionResult, error) {
	amount := a.Amount
	if amount == 0 {
		amount = 600
	}
	if err := d.Scroll(ctx, amount); err != nil {
		return agent.ActionResult{}, err
	}
	return agent.ActionResult{ExtractedContent: fmt.Sprintf("Scrolled by %d pixels", amount)}, nil
}

// Execute 实现 Executable
func (a GoBackAction) Execute(ctx context.Context, d Driver) (agent.ActionResult, error) {
	if err := d.Back(ctx); err != nil {
		return agent.ActionResult{}, err
	}
	return agent.ActionResult{ExtractedContent: "Navigated back"}, nil
}

// Execute 实现 Executable
func (a ExtractContentAction) Execute(ctx context.Context, d Driver) (agent.ActionResult, error) {
	text, err := d.ExtractText(ctx)
	if err != nil {
		return agent.ActionResult{}, err
	}
	return agent.ActionResult{ExtractedContent: text}, nil
}

// Execute 实现 Executable
func (a DoneAction) Execute(context.Context, Driver) (agent.ActionResult, error) {
	return agent.ActionResult{ExtractedContent: a.Text, IsDone: true}, nil
}

// structArgs 将导出字段按 json 标签展开为参数表
func structArgs(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// =============================================================================
// 📋 动作注册表
// =============================================================================

// actionRegistry 规划输出中的动作名到类型的映射
var actionRegistry = map[string]reflect.Type{
	"go_to_url":       reflect.TypeOf(GoToURLAction{}),
	"click_element":   reflect.TypeOf(ClickElementAction{}),
	"input_text":      reflect.TypeOf(InputTextAction{}),
	"scroll":          reflect.TypeOf(ScrollAction{}),
	"go_back":         reflect.TypeOf(GoBackAction{}),
	"extract_content": reflect.TypeOf(ExtractContentAction{}),
	"done":            reflect.TypeOf(DoneAction{}),
}

// DecodeAction 解析 `{"click_element": {"index": 3}}` 形式的单个动作。
// 未注册的动作名返回 GenericAction，由执行阶段报告不支持。
func DecodeAction(raw json.RawMessage) (agent.Action, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	if len(wrapper) != 1 {
		return nil, fmt.Errorf("decode action: expected exactly one action name, got %d", len(wrapper))
	}
	for name, body := range wrapper {
		typ, ok := actionRegistry[name]
		if !ok {
			params := map[string]any{}
			_ = json.Unmarshal(body, &params)
			return agent.GenericAction{Name: name, Params: params}, nil
		}
		ptr := reflect.New(typ)
		if len(body) > 0 && string(body) != "null" {
			if err := json.Unmarshal(body, ptr.Interface()); err != nil {
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
		}
		return ptr.Elem().Interface().(agent.Action), nil
	}
	return nil, fmt.Errorf("decode action: empty")
}

// ActionSchema 提示词中列出的可用动作
const ActionSchema = `Available actions (use exactly one key per action object):
- {"go_to_url": {"url": string}}
- {"click_element": {"index": int}}
- {"input_text": {"index": int, "text": string}}
- {"scroll": {"amount": int}}  (pixels, negative scrolls up)
- {"go_back": {}}
- {"extract_content": {"goal": string}}
- {"done": {"text": string, "success": bool}}`
