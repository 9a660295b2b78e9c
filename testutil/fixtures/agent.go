// =============================================================================
// 📦 测试数据工厂 - Agent 状态与输出
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/OperatorNext/OperatorNext/agent"
)

// State 返回指定 URL 的浏览器状态
func State(url string) *agent.State {
	return &agent.State{
		URL:   url,
		Title: "Example Domain",
		Elements: []agent.Element{
			{Index: 0, Tag: "a", Text: "More information..."},
		},
	}
}

// StateWithScreenshot 带截图的状态
func StateWithScreenshot(url, screenshot string) *agent.State {
	s := State(url)
	s.Screenshot = screenshot
	return s
}

// Output 返回带给定动作的模型输出
func Output(nextGoal string, actions ...agent.Action) *agent.Output {
	return &agent.Output{
		Brain: agent.Brain{
			EvaluationPreviousGoal: "Success - page loaded",
			Memory:                 "on " + nextGoal,
			NextGoal:               nextGoal,
		},
		Actions: actions,
	}
}

// Navigate 导航动作
func Navigate(url string) agent.Action {
	return agent.GenericAction{Name: "GoToURLAction", Params: map[string]any{"url": url}}
}

// Click 点击动作
func Click(index int) agent.Action {
	return agent.GenericAction{Name: "ClickElementAction", Params: map[string]any{"index": index}}
}

// BrokenAction 参数读取失败的动作
type BrokenAction struct{}

// Kind 实现 agent.Action
func (BrokenAction) Kind() string { return "BrokenAction" }

// Args 实现 agent.Action
func (BrokenAction) Args() (map[string]any, error) {
	return nil, fmt.Errorf("malformed action arguments")
}

// DoneHistory 以 IsDone 结束的历史
func DoneHistory(result string) *agent.History {
	return &agent.History{Entries: []agent.HistoryEntry{
		{Results: []agent.ActionResult{{ExtractedContent: result, IsDone: true}}},
	}}
}

// UnfinishedHistory 未完成的历史
func UnfinishedHistory() *agent.History {
	return &agent.History{Entries: []agent.HistoryEntry{
		{Results: []agent.ActionResult{{ExtractedContent: "partial"}}},
	}}
}
