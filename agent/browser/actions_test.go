package browser

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OperatorNext/OperatorNext/agent"
)

func TestDecodeAction(t *testing.T) {
	tests := []struct {
		raw  string
		want agent.Action
	}{
		{`{"go_to_url": {"url": "https://example.com"}}`, GoToURLAction{URL: "https://example.com"}},
		{`{"click_element": {"index": 3}}`, ClickElementAction{Index: 3}},
		{`{"input_text": {"index": 1, "text": "hi"}}`, InputTextAction{Index: 1, Text: "hi"}},
		{`{"scroll": {"amount": -200}}`, ScrollAction{Amount: -200}},
		{`{"go_back": null}`, GoBackAction{}},
		{`{"extract_content": {}}`, ExtractContentAction{}},
		{`{"done": {"text": "42", "success": true}}`, DoneAction{Text: "42", Success: true}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := DecodeAction(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeAction_Unknown(t *testing.T) {
	got, err := DecodeAction(json.RawMessage(`{"hover": {"index": 2}}`))
	require.NoError(t, err)
	assert.Equal(t, "hover", got.Kind())
	args, err := got.Args()
	require.NoError(t, err)
	assert.Equal(t, float64(2), args["index"])
}

func TestDecodeAction_Invalid(t *testing.T) {
	for _, raw := range []string{`[]`, `{}`, `{"a":{},"b":{}}`, `{"click_element": {"index": "x"}}`} {
		_, err := DecodeAction(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}
}

func TestActionKindsAndArgs(t *testing.T) {
	a := InputTextAction{Index: 5, Text: "query"}
	assert.Equal(t, "inputtext", agent.NormalizeKind(a.Kind()))
	args, err := a.Args()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"index": float64(5), "text": "query"}, args)

	args, err = GoBackAction{}.Args()
	require.NoError(t, err)
	assert.Empty(t, args)

	assert.Equal(t, "gotourl", agent.NormalizeKind(GoToURLAction{}.Kind()))
	assert.Equal(t, "extractcontent", agent.NormalizeKind(ExtractContentAction{}.Kind()))
}

func TestActionExecute(t *testing.T) {
	ctx := context.Background()
	d := newFakeDriver()

	res, err := GoToURLAction{URL: "https://example.com"}.Execute(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "Navigated to https://example.com", res.ExtractedContent)
	assert.Equal(t, "https://example.com", d.url)

	_, err = ClickElementAction{Index: 2}.Execute(ctx, d)
	require.NoError(t, err)
	_, err = InputTextAction{Index: 1, Text: "x"}.Execute(ctx, d)
	require.NoError(t, err)
	res, err = ScrollAction{}.Execute(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "Scrolled by 600 pixels", res.ExtractedContent)
	_, err = GoBackAction{}.Execute(ctx, d)
	require.NoError(t, err)

	res, err = ExtractContentAction{}.Execute(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "page text", res.ExtractedContent)

	res, err = DoneAction{Text: "final"}.Execute(ctx, d)
	require.NoError(t, err)
	assert.True(t, res.IsDone)
	assert.Equal(t, "final", res.ExtractedContent)

	assert.Equal(t, []string{"navigate", "click:2", "input:1", "scroll:600", "back", "extract"}, d.calls)
}
