package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/OperatorNext/OperatorNext/agent"
)

// fakeDriver 记录调用的内存驱动
type fakeDriver struct {
	mu         sync.Mutex
	url        string
	calls      []string
	connectErr error
	stateErr   error
	clickErr   error
	connects   int
	closed     bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{url: "about:blank"}
}

func (d *fakeDriver) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDriver) Connect(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	if d.connectErr != nil {
		return "", d.connectErr
	}
	return "HeadlessChrome/120.0", nil
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.record("navigate")
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) Click(_ context.Context, index int) error {
	d.record(fmt.Sprintf("click:%d", index))
	return d.clickErr
}

func (d *fakeDriver) Input(_ context.Context, index int, _ string) error {
	d.record(fmt.Sprintf("input:%d", index))
	return nil
}

func (d *fakeDriver) Scroll(_ context.Context, deltaY int) error {
	d.record(fmt.Sprintf("scroll:%d", deltaY))
	return nil
}

func (d *fakeDriver) Back(context.Context) error {
	d.record("back")
	return nil
}

func (d *fakeDriver) ExtractText(context.Context) (string, error) {
	d.record("extract")
	return "page text", nil
}

func (d *fakeDriver) State(context.Context) (*agent.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stateErr != nil {
		return nil, d.stateErr
	}
	return &agent.State{
		URL:      d.url,
		Title:    "Example",
		Elements: []agent.Element{{Index: 0, Tag: "a", Text: "More"}},
	}, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// scriptedPlanner 按顺序返回预设的规划结果
type scriptedPlanner struct {
	mu       sync.Mutex
	outputs  []*agent.Output
	errs     []error
	requests []PlanRequest
}

func (p *scriptedPlanner) Plan(ctx context.Context, req PlanRequest) (*agent.Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.outputs) {
		return p.outputs[i], nil
	}
	return &agent.Output{Actions: []agent.Action{ScrollAction{}}}, nil
}
