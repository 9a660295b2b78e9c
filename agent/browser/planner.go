package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/OperatorNext/OperatorNext/agent"
	"github.com/OperatorNext/OperatorNext/internal/tlsutil"
)

// =============================================================================
// 🧠 规划器
// =============================================================================

// PlanRequest 单步规划输入
type PlanRequest struct {
	Task     string
	State    *agent.State
	Step     agent.StepInfo
	Memory   string
	Previous []agent.ActionResult
}

// Planner 根据页面状态产出下一步动作
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*agent.Output, error)
}

// PlannerConfig OpenAI 兼容规划器配置
type PlannerConfig struct {
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	Temperature      float64
	MaxRetries       int
	MaxContentTokens int
	// UseVision 为 true 时把截图作为 image_url 发送
	UseVision bool
	// EndpointPath 默认 "/chat/completions"，BaseURL 通常已包含 /v1
	EndpointPath string
}

// Recorder 规划与动作的指标记录
type Recorder interface {
	RecordLLMRequest(model, status string, duration time.Duration, promptTokens, completionTokens int)
	RecordBrowserAction(action, status string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLLMRequest(string, string, time.Duration, int, int) {}
func (nopRecorder) RecordBrowserAction(string, string)                     {}

// UpstreamError 模型接口返回的错误
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("planner upstream error: status=%d msg=%s", e.StatusCode, e.Message)
}

// ErrorType 用于任务错误分类
func (e *UpstreamError) ErrorType() string { return "PlannerUpstreamError" }

// Retryable 限流与服务端错误可重试
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// OpenAIPlanner 通过 chat completions 接口规划动作
type OpenAIPlanner struct {
	config   PlannerConfig
	client   *http.Client
	recorder Recorder
	logger   *zap.Logger

	encOnce sync.Once
	encode  func(string) []int
	decode  func([]int) string
}

var _ Planner = (*OpenAIPlanner)(nil)

// NewOpenAIPlanner 创建规划器；recorder 可为 nil
func NewOpenAIPlanner(config PlannerConfig, recorder Recorder, logger *zap.Logger) *OpenAIPlanner {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.EndpointPath == "" {
		config.EndpointPath = "/chat/completions"
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIPlanner{
		config:   config,
		client:   tlsutil.SecureHTTPClient(config.Timeout),
		recorder: recorder,
		logger:   logger.With(zap.String("component", "planner"), zap.String("model", config.Model)),
	}
}

// ---- 请求与响应结构 ----

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// planJSON 模型返回的规划结构
type planJSON struct {
	CurrentState agent.Brain       `json:"current_state"`
	Action       []json.RawMessage `json:"action"`
}

const systemPrompt = `You are a browser automation agent. You receive the user's task, the current page and the
interactive elements (prefixed with their [index]). Reply with a single JSON object:
{"current_state": {"evaluation_previous_goal": string, "memory": string, "next_goal": string},
 "action": [ ...one or more actions... ]}
Use the "done" action once the task is finished, putting the final answer in its text.
`

// Plan 实现 Planner
func (p *OpenAIPlanner) Plan(ctx context.Context, req PlanRequest) (*agent.Output, error) {
	body := chatRequest{
		Model:          p.config.Model,
		Messages:       p.buildMessages(req),
		Temperature:    p.config.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			p.logger.Debug("retrying plan", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := p.complete(ctx, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var upstream *UpstreamError
		if !errors.As(err, &upstream) || !upstream.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *OpenAIPlanner) complete(ctx context.Context, payload []byte) (*agent.Output, error) {
	start := time.Now()
	endpoint := strings.TrimRight(p.config.BaseURL, "/") + p.config.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.recorder.RecordLLMRequest(p.config.Model, "error", time.Since(start), 0, 0)
		return nil, fmt.Errorf("planner request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.recorder.RecordLLMRequest(p.config.Model, "error", time.Since(start), 0, 0)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		p.recorder.RecordLLMRequest(p.config.Model, "error", time.Since(start), 0, 0)
		return nil, fmt.Errorf("decode planner response: %w", err)
	}
	p.recorder.RecordLLMRequest(p.config.Model, "success", time.Since(start), cr.Usage.PromptTokens, cr.Usage.CompletionTokens)

	if len(cr.Choices) == 0 {
		return nil, errors.New("planner returned no choices")
	}
	return ParsePlan(cr.Choices[0].Message.Content)
}

// ParsePlan 解析模型返回的 JSON 规划，容忍 markdown 代码块包裹。
// 无法解析的单个动作被跳过，全部无法解析时返回错误。
func ParsePlan(content string) (*agent.Output, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var plan planJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	out := &agent.Output{Brain: plan.CurrentState}
	var errs []error
	for _, raw := range plan.Action {
		a, err := DecodeAction(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out.Actions = append(out.Actions, a)
	}
	if len(out.Actions) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("parse plan: %w", errors.Join(errs...))
	}
	return out, nil
}

func (p *OpenAIPlanner) buildMessages(req PlanRequest) []chatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", req.Task)
	fmt.Fprintf(&b, "Step %d of %d\n", req.Step.Number, req.Step.MaxSteps)
	if req.Memory != "" {
		fmt.Fprintf(&b, "Memory: %s\n", req.Memory)
	}
	for _, r := range req.Previous {
		if r.Error != "" {
			fmt.Fprintf(&b, "Previous action error: %s\n", r.Error)
		} else if r.ExtractedContent != "" {
			fmt.Fprintf(&b, "Previous action result: %s\n", p.trimToTokens(r.ExtractedContent, p.config.MaxContentTokens/4))
		}
	}
	if st := req.State; st != nil {
		fmt.Fprintf(&b, "Current URL: %s\nTitle: %s\n", st.URL, st.Title)
		b.WriteString("Interactive elements:\n")
		b.WriteString(FormatElements(st.Elements))
		b.WriteString("Page text:\n")
		b.WriteString(p.trimToTokens(st.Content, p.config.MaxContentTokens))
		b.WriteString("\n")
	}

	user := chatMessage{Role: "user", Content: b.String()}
	if p.config.UseVision && req.State != nil && req.State.Screenshot != "" {
		user.Content = []chatContentPart{
			{Type: "text", Text: b.String()},
			{Type: "image_url", ImageURL: &chatImageURL{URL: "data:image/png;base64," + req.State.Screenshot}},
		}
	}

	return []chatMessage{
		{Role: "system", Content: systemPrompt + ActionSchema},
		user,
	}
}

// trimToTokens 按模型编码截断文本；编码不可用时按 4 字符/Token 估算
func (p *OpenAIPlanner) trimToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}
	p.encOnce.Do(p.initEncoding)
	if p.encode != nil {
		tokens := p.encode(text)
		if len(tokens) <= maxTokens {
			return text
		}
		return p.decode(tokens[:maxTokens]) + "..."
	}
	return truncateRunes(text, maxTokens*4)
}

func (p *OpenAIPlanner) initEncoding() {
	if p.encode != nil {
		return
	}
	enc, err := tiktoken.EncodingForModel(p.config.Model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		p.logger.Warn("tiktoken encoding unavailable, falling back to character estimate", zap.Error(err))
		return
	}
	p.encode = func(s string) []int { return enc.Encode(s, nil, nil) }
	p.decode = enc.Decode
}

func backoff(attempt int) time.Duration {
	d := time.Duration(float64(500*time.Millisecond) * math.Pow(2, float64(attempt-1)))
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}
