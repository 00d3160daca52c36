package anthropic

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Content is a message body: either a plain string or an ordered list of
// blocks. Exactly one of Text or Blocks is meaningful, selected by IsText.
type Content struct {
	Text   string
	Blocks []ContentBlock
	IsText bool
}

// TextContent builds a string content.
func TextContent(s string) Content {
	return Content{Text: s, IsText: true}
}

// BlocksContent builds a block-list content.
func BlocksContent(blocks ...ContentBlock) Content {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return Content{Blocks: blocks}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsText {
		return json.Marshal(c.Text)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("decode content blocks: %w", err)
	}
	*c = Content{Blocks: blocks}
	return nil
}

// ImageSource is the payload of an image block, either base64 data or a URL.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ImageSourceURL is the source type of images referenced by URL.
const ImageSourceURL = "url"

// ContentBlock is a tagged variant over the Anthropic block types. Every
// decoded block keeps its original JSON in Raw. Blocks of a type the gateway
// does not model are written back unchanged, known blocks are written over
// Raw so fields like citations survive.
type ContentBlock struct {
	Type string

	// text
	Text string

	// thinking
	Thinking  string
	Signature string

	// tool_use
	ID    string
	Name  string
	Input json.RawMessage

	// tool_result
	ToolUseID string
	Content   *Content
	IsError   bool

	// image
	Source *ImageSource

	CacheControl json.RawMessage
	Raw          json.RawMessage
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ThinkingBlock builds a thinking block.
func ThinkingBlock(thinking, signature string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Thinking: thinking, Signature: signature}
}

// ToolUseBlock builds a tool_use block. A nil input is written as {}.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result block.
func ToolResultBlock(toolUseID string, content Content, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: &content, IsError: isError}
}

type wireBlock struct {
	Type         string          `json:"type"`
	Text         *string         `json:"text,omitempty"`
	Thinking     *string         `json:"thinking,omitempty"`
	Signature    *string         `json:"signature,omitempty"`
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	Content      *Content        `json:"content,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	Source       *ImageSource    `json:"source,omitempty"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	w := wireBlock{Type: b.Type, CacheControl: b.CacheControl}
	switch b.Type {
	case BlockText:
		w.Text = &b.Text
	case BlockThinking:
		w.Thinking = &b.Thinking
		if b.Signature != "" {
			w.Signature = &b.Signature
		}
	case BlockToolUse:
		w.ID, w.Name = b.ID, b.Name
		w.Input = b.Input
		if len(w.Input) == 0 {
			w.Input = json.RawMessage("{}")
		}
	case BlockToolResult:
		w.ToolUseID, w.Content, w.IsError = b.ToolUseID, b.Content, b.IsError
	case BlockImage:
		w.Source = b.Source
	default:
		if len(b.Raw) > 0 {
			return b.Raw, nil
		}
	}

	data, err := json.Marshal(w)
	if err != nil || len(b.Raw) == 0 {
		return data, err
	}
	return overlay(b.Raw, data)
}

// overlay writes the fields of modelled over the object in raw.
func overlay(raw, modelled []byte) ([]byte, error) {
	var base, fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &base); err != nil || base == nil {
		return modelled, nil
	}
	if err := json.Unmarshal(modelled, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		base[k] = v
	}
	return json.Marshal(base)
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = ContentBlock{
		Type:         w.Type,
		ID:           w.ID,
		Name:         w.Name,
		Input:        w.Input,
		ToolUseID:    w.ToolUseID,
		Content:      w.Content,
		IsError:      w.IsError,
		Source:       w.Source,
		CacheControl: w.CacheControl,
		Raw:          append(json.RawMessage(nil), data...),
	}
	if w.Text != nil {
		b.Text = *w.Text
	}
	if w.Thinking != nil {
		b.Thinking = *w.Thinking
	}
	if w.Signature != nil {
		b.Signature = *w.Signature
	}
	return nil
}
