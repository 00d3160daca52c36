package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentBlock_RoundTripKeepsUnmodelledFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "text with citations",
			raw:  `{"type":"text","text":"see","citations":[{"type":"char_location","cited_text":"x"}],"cache_control":{"type":"ephemeral"}}`,
		},
		{
			name: "image by url",
			raw:  `{"type":"image","source":{"type":"url","url":"https://example.com/a.png"}}`,
		},
		{
			name: "base64 image",
			raw:  `{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AA"}}`,
		},
		{
			name: "unknown block",
			raw:  `{"type":"server_tool_use","id":"srv_1","name":"web_search","input":{"query":"go"}}`,
		},
		{
			name: "tool result with cache control",
			raw:  `{"type":"tool_result","tool_use_id":"t1","content":[{"type":"text","text":"ok"}],"cache_control":{"type":"ephemeral"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var block ContentBlock
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &block))

			out, err := json.Marshal(block)
			require.NoError(t, err)
			assert.JSONEq(t, tt.raw, string(out))
		})
	}
}

func TestContentBlock_ModifiedFieldsWin(t *testing.T) {
	var block ContentBlock
	require.NoError(t, json.Unmarshal([]byte(`{"type":"tool_result","tool_use_id":"t1","content":"ok","extra":1}`), &block))

	content := TextContent("ok\n\nmore")
	block.Content = &content

	out, err := json.Marshal(block)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_result","tool_use_id":"t1","content":"ok\n\nmore","extra":1}`, string(out))
}

func TestContentBlock_BuiltBlocksHaveNoRaw(t *testing.T) {
	out, err := json.Marshal(TextBlock("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","text":"hi"}`, string(out))
}
