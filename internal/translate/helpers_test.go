package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/models"
)

// assertWellFormed checks the structural guarantees of an Anthropic event
// stream: message_start first, blocks strictly nested and never
// overlapping, each index started and stopped exactly once, deltas only
// inside their block and exactly one terminal event.
func assertWellFormed(t *testing.T, events []anthropic.StreamEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	assert.Equal(t, anthropic.EventMessageStart, events[0].Type)

	open := -1
	started := map[int]bool{}
	stopped := map[int]bool{}
	terminals := 0

	for i, ev := range events {
		require.Zero(t, terminals, "event %d (%s) after terminal event", i, ev.Type)
		switch ev.Type {
		case anthropic.EventContentBlockStart:
			idx := *ev.Index
			require.Equal(t, -1, open, "event %d: block %d started while %d open", i, idx, open)
			require.False(t, started[idx], "block %d started twice", idx)
			started[idx] = true
			open = idx
		case anthropic.EventContentBlockDelta:
			require.Equal(t, open, *ev.Index, "event %d: delta outside its block", i)
		case anthropic.EventContentBlockStop:
			require.Equal(t, open, *ev.Index, "event %d: stop for block that is not open", i)
			stopped[*ev.Index] = true
			open = -1
		case anthropic.EventMessageDelta:
			require.Equal(t, -1, open, "message_delta with block %d open", open)
		case anthropic.EventMessageStop, anthropic.EventError:
			require.Equal(t, -1, open, "terminal event with block %d open", open)
			terminals++
		}
	}

	assert.Equal(t, 1, terminals, "exactly one terminal event")
	for idx := range started {
		assert.True(t, stopped[idx], "block %d never stopped", idx)
	}
}

func eventTypes(events []anthropic.StreamEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
		if ev.Delta != nil && ev.Delta.Type != "" {
			out[i] += ":" + ev.Delta.Type
		}
		if ev.ContentBlock != nil {
			out[i] += ":" + ev.ContentBlock.Type
		}
	}
	return out
}

func decodeRequest(t *testing.T, raw string) *anthropic.MessagesRequest {
	t.Helper()
	var req anthropic.MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	return &req
}

func toJSON(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func testRegistry() *models.Registry {
	registry := models.NewRegistry()
	registry.Register(models.Model{
		ID: "claude-sonnet-4",
		Capabilities: models.Capabilities{
			Limits:   models.Limits{MaxOutputTokens: 16000},
			Supports: models.Supports{MaxThinkingBudget: anthropic.Int(32000), MinThinkingBudget: anthropic.Int(1024)},
		},
	})
	registry.Register(models.Model{
		ID: "gpt-5-mini",
		Capabilities: models.Capabilities{
			Limits: models.Limits{MaxOutputTokens: 64000},
		},
	})
	return registry
}

func newTestTranslator() *Translator {
	return New(Options{Models: testRegistry()})
}
