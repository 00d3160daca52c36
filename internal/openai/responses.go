package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Responses item and part types
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
	ItemReasoning          = "reasoning"

	PartInputText   = "input_text"
	PartInputImage  = "input_image"
	PartOutputText  = "output_text"
	PartRefusal     = "refusal"
	PartSummaryText = "summary_text"

	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// ResponsesRequest is the body of POST /responses built by the gateway.
type ResponsesRequest struct {
	Model             string            `json:"model"`
	Input             []InputItem       `json:"input"`
	Instructions      *string           `json:"instructions"`
	Temperature       *float64          `json:"temperature,omitempty"`
	TopP              *float64          `json:"top_p,omitempty"`
	MaxOutputTokens   int               `json:"max_output_tokens,omitempty"`
	Tools             []ResponsesTool   `json:"tools"`
	ToolChoice        json.RawMessage   `json:"tool_choice,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	SafetyIdentifier  *string           `json:"safety_identifier,omitempty"`
	PromptCacheKey    *string           `json:"prompt_cache_key,omitempty"`
	Stream            bool              `json:"stream"`
	Store             bool              `json:"store"`
	ParallelToolCalls bool              `json:"parallel_tool_calls"`
	Reasoning         *Reasoning        `json:"reasoning,omitempty"`
	Include           []string          `json:"include,omitempty"`
}

type Reasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type ResponsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict"`
	Description string          `json:"description,omitempty"`
}

// InputContent is a string or a list of input parts.
type InputContent struct {
	Text    string
	Parts   []InputPart
	IsParts bool
}

func InputText(s string) *InputContent {
	return &InputContent{Text: s}
}

func InputParts(parts []InputPart) *InputContent {
	if parts == nil {
		parts = []InputPart{}
	}
	return &InputContent{Parts: parts, IsParts: true}
}

func (c InputContent) MarshalJSON() ([]byte, error) {
	if c.IsParts {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *InputContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var parts []InputPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("decode input parts: %w", err)
		}
		*c = InputContent{Parts: parts, IsParts: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = InputContent{Text: s}
	return nil
}

type InputPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// InputItem is one entry of the Responses input list: a message, a
// function call, a function call output or a reasoning item.
type InputItem struct {
	Type string `json:"type"`

	Role    string        `json:"role,omitempty"`
	Content *InputContent `json:"content,omitempty"`

	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    *InputContent `json:"output,omitempty"`
	Status    string        `json:"status,omitempty"`

	ID               string        `json:"id,omitempty"`
	Summary          []SummaryPart `json:"summary,omitempty"`
	EncryptedContent string        `json:"encrypted_content,omitempty"`
}

func (it InputItem) MarshalJSON() ([]byte, error) {
	type plain InputItem
	if it.Type == ItemReasoning {
		// summary is required on reasoning items, even when empty
		summary := it.Summary
		if summary == nil {
			summary = []SummaryPart{}
		}
		return json.Marshal(struct {
			Type             string        `json:"type"`
			ID               string        `json:"id"`
			Summary          []SummaryPart `json:"summary"`
			EncryptedContent string        `json:"encrypted_content,omitempty"`
		}{it.Type, it.ID, summary, it.EncryptedContent})
	}
	return json.Marshal(plain(it))
}

type SummaryPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponsesResult is a complete Responses API result, also carried by the
// created/completed/incomplete/failed stream events.
type ResponsesResult struct {
	ID                string             `json:"id"`
	Object            string             `json:"object,omitempty"`
	CreatedAt         int64              `json:"created_at,omitempty"`
	Model             string             `json:"model"`
	Status            string             `json:"status,omitempty"`
	Output            []OutputItem       `json:"output"`
	OutputText        string             `json:"output_text,omitempty"`
	Usage             *ResponsesUsage    `json:"usage,omitempty"`
	Error             *ResponseError     `json:"error,omitempty"`
	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`
}

type ResponseError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type IncompleteDetails struct {
	Reason string `json:"reason"`
}

type ResponsesUsage struct {
	InputTokens        int                 `json:"input_tokens"`
	OutputTokens       int                 `json:"output_tokens"`
	TotalTokens        int                 `json:"total_tokens,omitempty"`
	InputTokensDetails *InputTokensDetails `json:"input_tokens_details,omitempty"`
}

type InputTokensDetails struct {
	CachedTokens *int `json:"cached_tokens,omitempty"`
}

// CachedTokens returns the reported cached input tokens, if any.
func (u *ResponsesUsage) CachedTokens() (int, bool) {
	if u == nil || u.InputTokensDetails == nil || u.InputTokensDetails.CachedTokens == nil {
		return 0, false
	}
	return *u.InputTokensDetails.CachedTokens, true
}

// OutputItem is one entry of a Responses output list.
type OutputItem struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`

	Content []OutputContent `json:"content,omitempty"`

	Summary          []SummaryPart `json:"summary,omitempty"`
	EncryptedContent string        `json:"encrypted_content,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type OutputContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Refusal   string `json:"refusal,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Responses stream event types
const (
	EventCreated               = "response.created"
	EventInProgress            = "response.in_progress"
	EventCompleted             = "response.completed"
	EventIncomplete            = "response.incomplete"
	EventFailed                = "response.failed"
	EventError                 = "error"
	EventPing                  = "ping"
	EventOutputItemAdded       = "response.output_item.added"
	EventOutputItemDone        = "response.output_item.done"
	EventOutputTextDelta       = "response.output_text.delta"
	EventOutputTextDone        = "response.output_text.done"
	EventReasoningSummaryDelta = "response.reasoning_summary_text.delta"
	EventReasoningSummaryDone  = "response.reasoning_summary_text.done"
	EventFunctionCallArgsDelta = "response.function_call_arguments.delta"
	EventFunctionCallArgsDone  = "response.function_call_arguments.done"
)

// ResponsesStreamEvent is a decoded Responses SSE event. Only the fields
// the gateway reads are modelled.
type ResponsesStreamEvent struct {
	Type           string           `json:"type"`
	SequenceNumber int              `json:"sequence_number,omitempty"`
	Response       *ResponsesResult `json:"response,omitempty"`
	Item           *OutputItem      `json:"item,omitempty"`
	OutputIndex    int              `json:"output_index"`
	ContentIndex   int              `json:"content_index"`
	SummaryIndex   int              `json:"summary_index"`
	ItemID         string           `json:"item_id,omitempty"`
	Delta          string           `json:"delta,omitempty"`
	Text           string           `json:"text,omitempty"`
	Arguments      *string          `json:"arguments,omitempty"`
	Message        string           `json:"message,omitempty"`
	Code           string           `json:"code,omitempty"`
}
