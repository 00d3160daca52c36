package translate

import (
	"fmt"
	"slices"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/openai"
)

const failedResponseMessage = "The response failed due to an unknown error."

type blockKey struct {
	outputIndex int
	subIndex    int
}

type functionCallState struct {
	blockIndex      int
	toolCallID      string
	name            string
	whitespaceCount int
}

// ResponsesStreamState tracks one Responses stream being re-emitted as
// Anthropic events. Several blocks may be known at once, but opening a
// block always closes every other open block first.
type ResponsesStreamState struct {
	MessageStartSent bool
	MessageCompleted bool

	// Err is set when the stream was cut short because of corrupted output.
	Err error

	whitespaceLimit int
	nextBlockIndex  int
	blockByKey      map[blockKey]int
	openBlocks      []int
	blockHasDelta   map[int]bool
	functionCalls   map[int]*functionCallState
}

// NewResponsesStreamState returns a state that aborts a function call once
// its arguments contain more than whitespaceLimit consecutive whitespace
// characters.
func NewResponsesStreamState(whitespaceLimit int) *ResponsesStreamState {
	if whitespaceLimit <= 0 {
		whitespaceLimit = DefaultWhitespaceRunLimit
	}
	return &ResponsesStreamState{
		whitespaceLimit: whitespaceLimit,
		blockByKey:      make(map[blockKey]int),
		blockHasDelta:   make(map[int]bool),
		functionCalls:   make(map[int]*functionCallState),
	}
}

// OpenBlocks returns the indices of the currently open blocks.
func (s *ResponsesStreamState) OpenBlocks() []int {
	return slices.Clone(s.openBlocks)
}

// PendingFunctionCalls is the number of function calls whose arguments
// are still streaming.
func (s *ResponsesStreamState) PendingFunctionCalls() int {
	return len(s.functionCalls)
}

type responsesEvent struct {
	state  *ResponsesStreamState
	events []anthropic.StreamEvent
}

func (r *responsesEvent) emit(events ...anthropic.StreamEvent) {
	r.events = append(r.events, events...)
}

// TranslateResponsesEvent converts one Responses stream event into zero or
// more Anthropic events. Events after the terminal event are ignored.
func TranslateResponsesEvent(ev *openai.ResponsesStreamEvent, state *ResponsesStreamState) []anthropic.StreamEvent {
	if state.MessageCompleted {
		return nil
	}
	r := &responsesEvent{state: state}

	switch ev.Type {
	case openai.EventCreated:
		if ev.Response != nil {
			r.messageStart(ev.Response)
		}
	case openai.EventOutputItemAdded:
		r.outputItemAdded(ev)
	case openai.EventOutputItemDone:
		r.outputItemDone(ev)
	case openai.EventReasoningSummaryDelta:
		idx := r.openThinking(ev.OutputIndex)
		r.emit(anthropic.ThinkingDelta(idx, ev.Delta))
		state.blockHasDelta[idx] = true
	case openai.EventReasoningSummaryDone:
		idx := r.openThinking(ev.OutputIndex)
		if ev.Text != "" && !state.blockHasDelta[idx] {
			r.emit(anthropic.ThinkingDelta(idx, ev.Text))
		}
	case openai.EventOutputTextDelta:
		if ev.Delta == "" {
			break
		}
		idx := r.openText(ev.OutputIndex, ev.ContentIndex)
		r.emit(anthropic.TextDelta(idx, ev.Delta))
		state.blockHasDelta[idx] = true
	case openai.EventOutputTextDone:
		idx := r.openText(ev.OutputIndex, ev.ContentIndex)
		if ev.Text != "" && !state.blockHasDelta[idx] {
			r.emit(anthropic.TextDelta(idx, ev.Text))
		}
	case openai.EventFunctionCallArgsDelta:
		r.argumentsDelta(ev)
	case openai.EventFunctionCallArgsDone:
		r.argumentsDone(ev)
	case openai.EventCompleted, openai.EventIncomplete:
		r.completed(ev.Response)
	case openai.EventFailed:
		message := failedResponseMessage
		if ev.Response != nil && ev.Response.Error != nil && ev.Response.Error.Message != "" {
			message = ev.Response.Error.Message
		}
		r.fail(message)
	case openai.EventError:
		message := ev.Message
		if message == "" {
			message = StreamErrorEvent().Error.Message
		}
		r.fail(message)
	}
	return r.events
}

func (r *responsesEvent) messageStart(res *openai.ResponsesResult) {
	r.state.MessageStartSent = true

	usage := anthropic.Usage{CacheReadInputTokens: anthropic.Int(0)}
	if res.Usage != nil {
		cached, _ := res.Usage.CachedTokens()
		usage.InputTokens = res.Usage.InputTokens - cached
		usage.CacheReadInputTokens = anthropic.Int(cached)
	}
	r.emit(anthropic.MessageStart(res.ID, res.Model, usage))
}

func (r *responsesEvent) outputItemAdded(ev *openai.ResponsesStreamEvent) {
	if ev.Item == nil || ev.Item.Type != openai.ItemFunctionCall {
		return
	}
	idx := r.openFunctionCall(ev.OutputIndex, ev.Item.CallID, ev.Item.Name)
	if ev.Item.Arguments != "" {
		r.emit(anthropic.InputJSONDelta(idx, ev.Item.Arguments))
		r.state.blockHasDelta[idx] = true
	}
}

// outputItemDone signs a finished reasoning item's thinking block with
// "encrypted_content@id".
func (r *responsesEvent) outputItemDone(ev *openai.ResponsesStreamEvent) {
	if ev.Item == nil || ev.Item.Type != openai.ItemReasoning {
		return
	}
	idx := r.openThinking(ev.OutputIndex)
	if len(ev.Item.Summary) == 0 {
		r.emit(anthropic.ThinkingDelta(idx, ThinkingPlaceholder))
	}
	r.emit(anthropic.SignatureDelta(idx, ReasoningSignature(*ev.Item)))
	r.state.blockHasDelta[idx] = true
}

func (r *responsesEvent) argumentsDelta(ev *openai.ResponsesStreamEvent) {
	if ev.Delta == "" {
		return
	}
	s := r.state
	idx := r.openFunctionCall(ev.OutputIndex, "", "")
	fc := s.functionCalls[ev.OutputIndex]

	count, exceeded := whitespaceRun(fc.whitespaceCount, ev.Delta, s.whitespaceLimit)
	if exceeded {
		r.corrupt(&StreamCorruptionError{
			OutputIndex: ev.OutputIndex,
			Reason:      fmt.Sprintf("function call arguments contain more than %d consecutive whitespace characters", s.whitespaceLimit),
		})
		return
	}
	fc.whitespaceCount = count

	r.emit(anthropic.InputJSONDelta(idx, ev.Delta))
	s.blockHasDelta[idx] = true
}

// argumentsDone emits the full arguments only when none were streamed, then
// forgets the call. The block stays open until another block opens or the
// response ends.
func (r *responsesEvent) argumentsDone(ev *openai.ResponsesStreamEvent) {
	s := r.state
	idx := r.openFunctionCall(ev.OutputIndex, "", "")
	if ev.Arguments != nil && *ev.Arguments != "" && !s.blockHasDelta[idx] {
		r.emit(anthropic.InputJSONDelta(idx, *ev.Arguments))
		s.blockHasDelta[idx] = true
	}
	delete(s.functionCalls, ev.OutputIndex)
}

func (r *responsesEvent) completed(res *openai.ResponsesResult) {
	r.closeAll()
	if res == nil {
		res = &openai.ResponsesResult{}
	}
	r.emit(
		anthropic.MessageDelta(ResponsesStopReason(res), responsesUsage(res.Usage)),
		anthropic.MessageStop(),
	)
	r.state.MessageCompleted = true
}

func (r *responsesEvent) fail(message string) {
	r.closeAll()
	r.emit(anthropic.ErrorEvent("api_error", message))
	r.state.MessageCompleted = true
}

func (r *responsesEvent) corrupt(err *StreamCorruptionError) {
	r.state.Err = err
	r.fail(err.Error())
}

func (r *responsesEvent) openText(outputIndex, contentIndex int) int {
	idx := r.blockFor(blockKey{outputIndex, contentIndex})
	r.openBlock(idx, anthropic.TextBlock(""))
	return idx
}

// openThinking keys thinking blocks on the output index alone so that all
// summary parts of one reasoning item share a block.
func (r *responsesEvent) openThinking(outputIndex int) int {
	idx := r.blockFor(blockKey{outputIndex, 0})
	r.openBlock(idx, anthropic.ThinkingBlock("", ""))
	return idx
}

func (r *responsesEvent) openFunctionCall(outputIndex int, callID, name string) int {
	s := r.state
	fc, ok := s.functionCalls[outputIndex]
	if !ok {
		idx := s.nextBlockIndex
		s.nextBlockIndex++
		if callID == "" {
			callID = fmt.Sprintf("tool_call_%d", idx)
		}
		if name == "" {
			name = "function"
		}
		fc = &functionCallState{blockIndex: idx, toolCallID: callID, name: name}
		s.functionCalls[outputIndex] = fc
	}
	r.openBlock(fc.blockIndex, anthropic.ToolUseBlock(fc.toolCallID, fc.name, nil))
	return fc.blockIndex
}

func (r *responsesEvent) blockFor(key blockKey) int {
	s := r.state
	idx, ok := s.blockByKey[key]
	if !ok {
		idx = s.nextBlockIndex
		s.nextBlockIndex++
		s.blockByKey[key] = idx
	}
	return idx
}

func (r *responsesEvent) openBlock(idx int, block anthropic.ContentBlock) {
	if slices.Contains(r.state.openBlocks, idx) {
		return
	}
	r.closeOpen()
	r.emit(anthropic.BlockStart(idx, block))
	r.state.openBlocks = append(r.state.openBlocks, idx)
}

func (r *responsesEvent) closeOpen() {
	s := r.state
	for _, idx := range s.openBlocks {
		r.emit(anthropic.BlockStop(idx))
		delete(s.blockHasDelta, idx)
	}
	s.openBlocks = s.openBlocks[:0]
}

func (r *responsesEvent) closeAll() {
	r.closeOpen()
	clear(r.state.functionCalls)
}

// whitespaceRun advances the consecutive whitespace counter over chunk.
// Tabs, CR and LF extend the run and any other character except a space
// resets it. Spaces neither count nor reset, so indented code in an
// argument string never trips the guard.
func whitespaceRun(count int, chunk string, limit int) (int, bool) {
	for _, ch := range chunk {
		switch ch {
		case '\t', '\r', '\n':
			count++
			if count > limit {
				return count, true
			}
		case ' ':
		default:
			count = 0
		}
	}
	return count, false
}
