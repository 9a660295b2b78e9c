// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 上下文、通道等待与消息信封解码
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	envs := testutil.DecodeEnvelopes(t, transport.Payloads())
//	testutil.AssertEnvelopes(t, envs, "step", "step", "result")
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回 30 秒超时的测试上下文
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文，测试结束时取消
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// MustParseJSON 解析 JSON 字符串，失败时 panic
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}

// =============================================================================
// ✉️ 消息信封
// =============================================================================

// Envelope 测试中解码的消息信封
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Sequence  int             `json:"sequence"`
}

// DecodeEnvelopes 解码一组信封，失败时终止测试
func DecodeEnvelopes(t *testing.T, payloads [][]byte) []Envelope {
	t.Helper()

	out := make([]Envelope, len(payloads))
	for i, p := range payloads {
		if err := json.Unmarshal(p, &out[i]); err != nil {
			t.Fatalf("payload[%d] is not an envelope: %v", i, err)
		}
	}
	return out
}

// AssertEnvelopes 断言信封类型依次为 kinds，且序号从 1 起连续
func AssertEnvelopes(t *testing.T, envs []Envelope, kinds ...string) {
	t.Helper()

	if len(envs) != len(kinds) {
		t.Fatalf("got %d envelopes, want %d (%v)", len(envs), len(kinds), kinds)
	}
	for i, env := range envs {
		if env.Type != kinds[i] {
			t.Errorf("envelope[%d].type = %q, want %q", i, env.Type, kinds[i])
		}
		if env.Sequence != i+1 {
			t.Errorf("envelope[%d].sequence = %d, want %d", i, env.Sequence, i+1)
		}
	}
}

// EnvelopeData 把信封的 data 解码为 T，失败时终止测试
func EnvelopeData[T any](t *testing.T, env Envelope) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v", env.Type, err)
	}
	return v
}
