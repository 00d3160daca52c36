package translate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/models"
	"github.com/Davincible/copilot-gateway/internal/openai"
)

func TestToChat_Basic(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "gpt-4.1",
		"system": "You are a helpful assistant",
		"max_tokens": 100,
		"stop_sequences": ["END"],
		"temperature": 0.2,
		"metadata": {"user_id": "u-1"},
		"messages": [{"role": "user", "content": "Hello, world!"}],
		"tools": [{
			"name": "get_weather",
			"description": "Get current weather",
			"input_schema": {"type": "object", "properties": {"city": {"type": "string"}}}
		}],
		"tool_choice": {"type": "any"}
	}`)

	out := toJSON(t, newTestTranslator().ToChat(req))

	assert.Equal(t, "gpt-4.1", out["model"])
	assert.Equal(t, float64(100), out["max_tokens"])
	assert.Equal(t, []any{"END"}, out["stop"])
	assert.Equal(t, 0.2, out["temperature"])
	assert.Equal(t, "u-1", out["user"])
	assert.Equal(t, "required", out["tool_choice"])
	assert.NotContains(t, out, "thinking_budget")

	messages := out["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "You are a helpful assistant"}, messages[0])
	assert.Equal(t, map[string]any{"role": "user", "content": "Hello, world!"}, messages[1])

	tools := out["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])
	assert.Equal(t, "Get current weather", fn["description"])
	assert.Equal(t, "object", fn["parameters"].(map[string]any)["type"])
}

func TestToChat_ToolResultsPrecedeUserContent(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "gpt-4.1",
		"max_tokens": 10,
		"messages": [{
			"role": "user",
			"content": [
				{"type": "text", "text": "here you go"},
				{"type": "tool_result", "tool_use_id": "call_1", "content": "42"},
				{"type": "tool_result", "tool_use_id": "call_2", "content": [{"type": "text", "text": "a"}, {"type": "text", "text": "b"}]},
				{"type": "text", "text": "thanks"}
			]
		}]
	}`)

	messages := newTestTranslator().ToChat(req).Messages
	require.Len(t, messages, 3)

	assert.Equal(t, openai.RoleTool, messages[0].Role)
	assert.Equal(t, "call_1", messages[0].ToolCallID)
	assert.Equal(t, "42", messages[0].Content.Text)

	assert.Equal(t, openai.RoleTool, messages[1].Role)
	assert.Equal(t, "a\n\nb", messages[1].Content.Text)

	assert.Equal(t, openai.RoleUser, messages[2].Role)
	assert.Equal(t, "here you go\n\nthanks", messages[2].Content.Text)
}

func TestToChat_AssistantThinkingFilter(t *testing.T) {
	body := `{
		"model": "%s",
		"max_tokens": 10,
		"messages": [{
			"role": "assistant",
			"content": [
				{"type": "thinking", "thinking": "unsigned"},
				{"type": "thinking", "thinking": "Thinking...", "signature": "sig-placeholder"},
				{"type": "thinking", "thinking": "from responses", "signature": "enc@rs_1"},
				{"type": "thinking", "thinking": "real", "signature": "sig-real"},
				{"type": "text", "text": "calling"},
				{"type": "tool_use", "id": "toolu_1", "name": "Read", "input": {"path": "a.go"}}
			]
		}]
	}`

	t.Run("claude drops unsigned and foreign thinking", func(t *testing.T) {
		req := decodeRequest(t, strings.Replace(body, "%s", "claude-sonnet-4", 1))
		messages := newTestTranslator().ToChat(req).Messages
		require.Len(t, messages, 1)

		msg := messages[0]
		require.NotNil(t, msg.ReasoningText)
		assert.Equal(t, "real", *msg.ReasoningText)
		require.NotNil(t, msg.ReasoningOpaque)
		assert.Equal(t, "sig-real", *msg.ReasoningOpaque)
		assert.Equal(t, "calling", msg.Content.Text)
		require.Len(t, msg.ToolCalls, 1)
		assert.Equal(t, "toolu_1", msg.ToolCalls[0].ID)
		assert.Equal(t, "function", msg.ToolCalls[0].Type)
		assert.Equal(t, "Read", msg.ToolCalls[0].Function.Name)
		assert.JSONEq(t, `{"path":"a.go"}`, msg.ToolCalls[0].Function.Arguments)
	})

	t.Run("other models keep every thinking block", func(t *testing.T) {
		req := decodeRequest(t, strings.Replace(body, "%s", "gpt-5-mini", 1))
		msg := newTestTranslator().ToChat(req).Messages[0]

		require.NotNil(t, msg.ReasoningText)
		assert.Equal(t, "unsigned\n\nfrom responses\n\nreal", *msg.ReasoningText)
		require.NotNil(t, msg.ReasoningOpaque)
		assert.Equal(t, "sig-placeholder", *msg.ReasoningOpaque)
	})
}

func TestToChat_InterleavedThinking(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-sonnet-4-20250514",
		"max_tokens": 20000,
		"thinking": {"type": "enabled", "budget_tokens": 50000},
		"system": [{"type": "text", "text": "first"}, {"type": "text", "text": "second"}],
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
			{"role": "user", "content": "again"}
		]
	}`)

	out := newTestTranslator().ToChat(req)

	assert.Equal(t, "claude-sonnet-4", out.Model)
	require.NotNil(t, out.ThinkingBudget)
	assert.Equal(t, 15999, *out.ThinkingBudget)

	system := out.Messages[0].Content.Text
	assert.True(t, strings.HasPrefix(system, "first\n<interleaved_thinking_protocol>"))
	assert.True(t, strings.HasSuffix(system, "</interleaved_thinking_protocol>\n\nsecond"))

	assert.Equal(t, interleavedThinkingReminder+"\n\nhi", out.Messages[1].Content.Text)
	assert.Equal(t, "again", out.Messages[3].Content.Text)
}

func TestToChat_ReminderOnPartsContent(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "claude-sonnet-4",
		"max_tokens": 10,
		"thinking": {"type": "enabled", "budget_tokens": 2000},
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "look"},
			{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "AAAA"}}
		]}]
	}`)

	msg := newTestTranslator().ToChat(req).Messages[0]
	require.True(t, msg.Content.IsParts)
	require.Len(t, msg.Content.Parts, 3)
	assert.Equal(t, interleavedThinkingReminder, msg.Content.Parts[0].Text)
	assert.Equal(t, "look", msg.Content.Parts[1].Text)
	assert.Equal(t, "data:image/png;base64,AAAA", msg.Content.Parts[2].ImageURL.URL)
}

func TestThinkingBudget(t *testing.T) {
	model := models.Model{
		Capabilities: models.Capabilities{
			Limits:   models.Limits{MaxOutputTokens: 16000},
			Supports: models.Supports{MaxThinkingBudget: anthropic.Int(10000)},
		},
	}

	tests := []struct {
		name     string
		thinking *anthropic.ThinkingConfig
		model    models.Model
		expected *int
	}{
		{"no thinking", nil, model, nil},
		{"no budget", &anthropic.ThinkingConfig{Type: "enabled"}, model, nil},
		{"clamped to model max", &anthropic.ThinkingConfig{BudgetTokens: anthropic.Int(50000)}, model, anthropic.Int(10000)},
		{"raised to default min", &anthropic.ThinkingConfig{BudgetTokens: anthropic.Int(10)}, model, anthropic.Int(1024)},
		{"within range", &anthropic.ThinkingConfig{BudgetTokens: anthropic.Int(4096)}, model, anthropic.Int(4096)},
		{"model without budget", &anthropic.ThinkingConfig{BudgetTokens: anthropic.Int(4096)}, models.Model{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, thinkingBudget(tt.thinking, tt.model))
		})
	}
}

func TestChatToolChoice(t *testing.T) {
	tests := []struct {
		choice   *anthropic.ToolChoice
		expected string
	}{
		{&anthropic.ToolChoice{Type: "auto"}, `"auto"`},
		{&anthropic.ToolChoice{Type: "any"}, `"required"`},
		{&anthropic.ToolChoice{Type: "none"}, `"none"`},
		{&anthropic.ToolChoice{Type: "tool", Name: "Read"}, `{"function":{"name":"Read"},"type":"function"}`},
		{&anthropic.ToolChoice{Type: "tool"}, ``},
		{nil, ``},
	}

	for _, tt := range tests {
		got := chatToolChoice(tt.choice)
		if tt.expected == "" {
			assert.Nil(t, got)
			continue
		}
		assert.JSONEq(t, tt.expected, string(got))
	}
}

func TestNormalizeModelName(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4", NormalizeModelName("claude-sonnet-4-20250514"))
	assert.Equal(t, "claude-opus-4", NormalizeModelName("claude-opus-4-1-20250805"))
	assert.Equal(t, "claude-sonnet-4.5", NormalizeModelName("claude-sonnet-4.5"))
	assert.Equal(t, "gpt-4.1", NormalizeModelName("gpt-4.1"))
}

func TestConvertStopReason(t *testing.T) {
	tests := []struct {
		reason   *string
		expected *string
	}{
		{anthropic.String("stop"), anthropic.String("end_turn")},
		{anthropic.String("length"), anthropic.String("max_tokens")},
		{anthropic.String("tool_calls"), anthropic.String("tool_use")},
		{anthropic.String("content_filter"), anthropic.String("end_turn")},
		{anthropic.String("mystery"), nil},
		{nil, nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ConvertStopReason(tt.reason))
	}
}

func TestFromChat(t *testing.T) {
	var resp openai.ChatResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4.1",
		"choices": [
			{
				"index": 0,
				"message": {"role": "assistant", "content": "Let me check.", "reasoning_text": "need data", "reasoning_opaque": "sig"},
				"finish_reason": "stop"
			},
			{
				"index": 1,
				"message": {"role": "assistant", "content": null, "tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"go\"}"}},
					{"id": "call_2", "type": "function", "function": {"name": "broken", "arguments": "{not json"}}
				]},
				"finish_reason": "tool_calls"
			}
		],
		"usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120, "prompt_tokens_details": {"cached_tokens": 40}}
	}`), &resp))

	out := newTestTranslator().FromChat(&resp)

	assert.Equal(t, "chatcmpl-1", out.ID)
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "assistant", out.Role)
	require.NotNil(t, out.StopReason)
	assert.Equal(t, "tool_use", *out.StopReason)
	assert.Nil(t, out.StopSequence)

	require.Len(t, out.Content, 4)
	assert.Equal(t, anthropic.ThinkingBlock("need data", "sig"), out.Content[0])
	assert.Equal(t, anthropic.TextBlock("Let me check."), out.Content[1])
	assert.Equal(t, "call_1", out.Content[2].ID)
	assert.JSONEq(t, `{"q":"go"}`, string(out.Content[2].Input))
	assert.JSONEq(t, `{"raw_arguments":"{not json"}`, string(out.Content[3].Input))

	assert.Equal(t, 60, out.Usage.InputTokens)
	assert.Equal(t, 20, out.Usage.OutputTokens)
	require.NotNil(t, out.Usage.CacheReadInputTokens)
	assert.Equal(t, 40, *out.Usage.CacheReadInputTokens)
}

func TestFromChat_OpaqueOnlyAndNoUsage(t *testing.T) {
	resp := &openai.ChatResponse{
		ID:    "c",
		Model: "claude-sonnet-4",
		Choices: []openai.ChatChoice{{
			Message:      openai.ChatMessage{Role: "assistant", Content: openai.TextContent(""), ReasoningOpaque: anthropic.String("opaque")},
			FinishReason: anthropic.String("length"),
		}},
	}

	out := newTestTranslator().FromChat(resp)

	require.Len(t, out.Content, 1)
	assert.Equal(t, anthropic.ThinkingBlock(ThinkingPlaceholder, "opaque"), out.Content[0])
	assert.Equal(t, "max_tokens", *out.StopReason)
	assert.Equal(t, anthropic.Usage{}, out.Usage)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "cache_read_input_tokens")
}

func TestParseArguments(t *testing.T) {
	tr := newTestTranslator()
	tests := []struct {
		raw      string
		expected string
	}{
		{"", `{}`},
		{"   ", `{}`},
		{`{"a": 1}`, `{"a":1}`},
		{`[1,2]`, `{"arguments":[1,2]}`},
		{`"text"`, `{"raw_arguments":"\"text\""}`},
		{`{"a":`, `{"raw_arguments":"{\"a\":"}`},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.JSONEq(t, tt.expected, string(tr.parseArguments(tt.raw)))
		})
	}
}

func TestChatRoundTrip_Text(t *testing.T) {
	tr := newTestTranslator()
	req := decodeRequest(t, `{"model": "gpt-4.1", "max_tokens": 10, "messages": [{"role": "user", "content": "echo me"}]}`)

	chatReq := tr.ToChat(req)
	echo := &openai.ChatResponse{
		ID:    "r",
		Model: chatReq.Model,
		Choices: []openai.ChatChoice{{
			Message:      openai.ChatMessage{Role: "assistant", Content: chatReq.Messages[0].Content},
			FinishReason: anthropic.String("stop"),
		}},
	}

	out := tr.FromChat(echo)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "echo me", out.Content[0].Text)
	assert.Equal(t, "end_turn", *out.StopReason)
}
