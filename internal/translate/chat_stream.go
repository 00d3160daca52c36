package translate

import (
	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/openai"
)

// ChatStreamState tracks one Chat Completions stream being re-emitted as
// Anthropic events. At most one content block is open at a time.
type ChatStreamState struct {
	MessageStartSent bool
	BlockIndex       int
	BlockOpen        bool
	ThinkingOpen     bool
	Finished         bool

	toolCalls map[int]toolCallBlock
	// pendingOpaque is a signature that arrived while a tool block was
	// open. It is emitted as its own block once that block closes.
	pendingOpaque string
}

type toolCallBlock struct {
	id         string
	name       string
	blockIndex int
}

func NewChatStreamState() *ChatStreamState {
	return &ChatStreamState{toolCalls: make(map[int]toolCallBlock)}
}

// chatChunk is the working set for translating one chunk. opaque is
// cleared once the chunk's reasoning signature has been emitted.
type chatChunk struct {
	state  *ChatStreamState
	events []anthropic.StreamEvent
	opaque string
}

func (c *chatChunk) emit(events ...anthropic.StreamEvent) {
	c.events = append(c.events, events...)
}

// TranslateChatChunk converts one chunk into zero or more Anthropic events.
// Only the first choice is considered.
func TranslateChatChunk(chunk *openai.ChatChunk, state *ChatStreamState) []anthropic.StreamEvent {
	if len(chunk.Choices) == 0 || state.Finished {
		return nil
	}
	if state.toolCalls == nil {
		state.toolCalls = make(map[int]toolCallBlock)
	}

	choice := chunk.Choices[0]
	delta := choice.Delta
	c := &chatChunk{state: state}
	if delta.ReasoningOpaque != nil {
		c.opaque = *delta.ReasoningOpaque
	}

	c.messageStart(chunk)
	content := c.thinkingText(delta)
	c.content(content)
	c.toolCalls(delta.ToolCalls)
	c.finish(choice, chunk.Usage)

	return c.events
}

func (c *chatChunk) messageStart(chunk *openai.ChatChunk) {
	if c.state.MessageStartSent {
		return
	}
	usage := chatUsage(chunk.Usage)
	usage.OutputTokens = 0
	c.emit(anthropic.MessageStart(chunk.ID, chunk.Model, usage))
	c.state.MessageStartSent = true
}

// thinkingText streams reasoning text into a thinking block and returns the
// text content to forward. Reasoning that arrives while a text block is
// open is forwarded as text instead.
func (c *chatChunk) thinkingText(delta openai.ChatDelta) *string {
	if delta.ReasoningText == nil || *delta.ReasoningText == "" {
		return delta.Content
	}
	s := c.state
	if s.BlockOpen {
		return delta.ReasoningText
	}

	if !s.ThinkingOpen {
		c.emit(anthropic.BlockStart(s.BlockIndex, anthropic.ThinkingBlock("", "")))
		s.ThinkingOpen = true
	}
	c.emit(anthropic.ThinkingDelta(s.BlockIndex, *delta.ReasoningText))
	return delta.Content
}

func (c *chatChunk) content(content *string) {
	s := c.state
	if content != nil && *content != "" {
		c.closeThinking("")
		if c.toolBlockOpen() {
			c.closeBlock()
		}
		if !s.BlockOpen {
			c.emit(anthropic.BlockStart(s.BlockIndex, anthropic.TextBlock("")))
			s.BlockOpen = true
		}
		c.emit(anthropic.TextDelta(s.BlockIndex, *content))
		return
	}

	if c.opaque != "" && s.ThinkingOpen {
		c.closeThinking(c.opaque)
		c.opaque = ""
	}
}

func (c *chatChunk) toolCalls(calls []openai.ToolCallDelta) {
	if len(calls) == 0 {
		return
	}
	s := c.state

	c.closeThinking("")
	if s.BlockOpen && !c.toolBlockOpen() {
		c.closeBlock()
	}
	if s.BlockOpen {
		s.pendingOpaque, c.opaque = c.opaque, ""
	}
	c.opaqueThinking()

	for _, call := range calls {
		if call.ID != "" && call.Function != nil && call.Function.Name != "" {
			if s.BlockOpen {
				c.closeBlock()
			}
			s.toolCalls[call.Index] = toolCallBlock{id: call.ID, name: call.Function.Name, blockIndex: s.BlockIndex}
			c.emit(anthropic.BlockStart(s.BlockIndex, anthropic.ToolUseBlock(call.ID, call.Function.Name, nil)))
			s.BlockOpen = true
		}

		if call.Function != nil && call.Function.Arguments != "" {
			if tc, ok := s.toolCalls[call.Index]; ok {
				c.emit(anthropic.InputJSONDelta(tc.blockIndex, call.Function.Arguments))
			}
		}
	}
}

func (c *chatChunk) finish(choice openai.ChunkChoice, usage *openai.ChatUsage) {
	if choice.FinishReason == nil || *choice.FinishReason == "" {
		return
	}
	s := c.state

	if s.ThinkingOpen {
		c.closeThinking(c.opaque)
		c.opaque = ""
	}
	if s.BlockOpen {
		wasTool := c.toolBlockOpen()
		c.closeBlock()
		if !wasTool {
			c.opaqueThinking()
		}
	}

	c.emit(
		anthropic.MessageDelta(ConvertStopReason(choice.FinishReason), chatUsage(usage)),
		anthropic.MessageStop(),
	)
	s.Finished = true
}

func (c *chatChunk) toolBlockOpen() bool {
	s := c.state
	if !s.BlockOpen {
		return false
	}
	for _, tc := range s.toolCalls {
		if tc.blockIndex == s.BlockIndex {
			return true
		}
	}
	return false
}

func (c *chatChunk) closeBlock() {
	s := c.state
	c.emit(anthropic.BlockStop(s.BlockIndex))
	s.BlockIndex++
	s.BlockOpen = false

	if s.pendingOpaque != "" {
		c.emitOpaqueThinking(s.pendingOpaque)
		s.pendingOpaque = ""
	}
}

// closeThinking ends an open thinking block with the given signature.
func (c *chatChunk) closeThinking(signature string) {
	s := c.state
	if !s.ThinkingOpen {
		return
	}
	c.emit(
		anthropic.SignatureDelta(s.BlockIndex, signature),
		anthropic.BlockStop(s.BlockIndex),
	)
	s.BlockIndex++
	s.ThinkingOpen = false
}

// opaqueThinking emits a complete placeholder thinking block carrying a
// signature that arrived without reasoning text.
func (c *chatChunk) opaqueThinking() {
	if c.opaque == "" {
		return
	}
	c.emitOpaqueThinking(c.opaque)
	c.opaque = ""
}

func (c *chatChunk) emitOpaqueThinking(signature string) {
	s := c.state
	c.emit(
		anthropic.BlockStart(s.BlockIndex, anthropic.ThinkingBlock("", "")),
		anthropic.ThinkingDelta(s.BlockIndex, ThinkingPlaceholder),
		anthropic.SignatureDelta(s.BlockIndex, signature),
		anthropic.BlockStop(s.BlockIndex),
	)
	s.BlockIndex++
}

// StreamErrorEvent is the event sent when a stream fails mid-flight.
func StreamErrorEvent() anthropic.StreamEvent {
	return anthropic.ErrorEvent("api_error", "An unexpected error occurred during streaming.")
}
