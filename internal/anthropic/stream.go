package anthropic

import (
	"encoding/json"
)

// Stream event types
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"

	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaSignature = "signature_delta"
	DeltaInputJSON = "input_json_delta"
)

// StreamEvent is a single Anthropic SSE event. Type doubles as the SSE
// event name.
type StreamEvent struct {
	Type         string        `json:"type"`
	Message      *Response     `json:"message,omitempty"`
	Index        *int          `json:"index,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *Delta        `json:"delta,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Error        *ErrorDetail  `json:"error,omitempty"`
}

// Delta is the payload of content_block_delta (Type set) and
// message_delta (Type empty) events.
type Delta struct {
	Type        string
	Text        string
	Thinking    string
	Signature   string
	PartialJSON string

	StopReason   *string
	StopSequence *string
}

func (d Delta) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case DeltaText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{d.Type, d.Text})
	case DeltaThinking:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Thinking string `json:"thinking"`
		}{d.Type, d.Thinking})
	case DeltaSignature:
		return json.Marshal(struct {
			Type      string `json:"type"`
			Signature string `json:"signature"`
		}{d.Type, d.Signature})
	case DeltaInputJSON:
		return json.Marshal(struct {
			Type        string `json:"type"`
			PartialJSON string `json:"partial_json"`
		}{d.Type, d.PartialJSON})
	}
	return json.Marshal(struct {
		StopReason   *string `json:"stop_reason"`
		StopSequence *string `json:"stop_sequence"`
	}{d.StopReason, d.StopSequence})
}

func (d *Delta) UnmarshalJSON(data []byte) error {
	var w struct {
		Type         string  `json:"type"`
		Text         string  `json:"text"`
		Thinking     string  `json:"thinking"`
		Signature    string  `json:"signature"`
		PartialJSON  string  `json:"partial_json"`
		StopReason   *string `json:"stop_reason"`
		StopSequence *string `json:"stop_sequence"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = Delta(w)
	return nil
}

// MessageStart opens a stream. Content is always written as an empty list.
func MessageStart(id, model string, usage Usage) StreamEvent {
	return StreamEvent{
		Type: EventMessageStart,
		Message: &Response{
			ID:      id,
			Type:    "message",
			Role:    RoleAssistant,
			Model:   model,
			Content: []ContentBlock{},
			Usage:   usage,
		},
	}
}

func BlockStart(index int, block ContentBlock) StreamEvent {
	return StreamEvent{Type: EventContentBlockStart, Index: &index, ContentBlock: &block}
}

func BlockStop(index int) StreamEvent {
	return StreamEvent{Type: EventContentBlockStop, Index: &index}
}

func TextDelta(index int, text string) StreamEvent {
	return StreamEvent{Type: EventContentBlockDelta, Index: &index, Delta: &Delta{Type: DeltaText, Text: text}}
}

func ThinkingDelta(index int, thinking string) StreamEvent {
	return StreamEvent{Type: EventContentBlockDelta, Index: &index, Delta: &Delta{Type: DeltaThinking, Thinking: thinking}}
}

func SignatureDelta(index int, signature string) StreamEvent {
	return StreamEvent{Type: EventContentBlockDelta, Index: &index, Delta: &Delta{Type: DeltaSignature, Signature: signature}}
}

func InputJSONDelta(index int, partial string) StreamEvent {
	return StreamEvent{Type: EventContentBlockDelta, Index: &index, Delta: &Delta{Type: DeltaInputJSON, PartialJSON: partial}}
}

// MessageDelta carries the final stop reason and usage.
func MessageDelta(stopReason *string, usage Usage) StreamEvent {
	return StreamEvent{Type: EventMessageDelta, Delta: &Delta{StopReason: stopReason}, Usage: &usage}
}

func MessageStop() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}

// ErrorEvent builds an in-stream error event.
func ErrorEvent(errType, message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: &ErrorDetail{Type: errType, Message: message}}
}
