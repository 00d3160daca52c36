package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/models"
	"github.com/Davincible/copilot-gateway/internal/openai"
	"github.com/Davincible/copilot-gateway/internal/sse"
	"github.com/Davincible/copilot-gateway/internal/translate"
	"github.com/Davincible/copilot-gateway/internal/upstream"
)

const (
	headerAnthropicBeta     = "Anthropic-Beta"
	interleavedThinkingBeta = "interleaved-thinking-2025-05-14"
	streamIncompleteMessage = "Responses stream ended without completion"
)

// Messages serves POST /v1/messages. The request goes out in the best
// protocol the model supports: native Messages, then Responses, then Chat
// Completions.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.gate.Wait(ctx); err != nil {
		h.writeAnthropicError(ctx, w, err)
		return
	}

	payload, body, err := readPayload(r)
	if err != nil {
		h.writeAnthropicError(ctx, w, err)
		return
	}
	var req anthropic.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeAnthropicError(ctx, w, badRequest("invalid JSON body: %v", err))
		return
	}

	// Agent clients send tool-less warmup requests with a beta header;
	// those go to the small model so they don't count as premium requests.
	beta := r.Header.Get(headerAnthropicBeta)
	if beta != "" && len(req.Tools) == 0 && h.smallModel != "" {
		h.logger.DebugContext(ctx, "Routing warmup request to small model", "model", req.Model, "small_model", h.smallModel)
		req.Model = h.smallModel
	}

	merged := mergeToolResults(&req)

	route := h.models.Route(req.Model)
	logAttrs(ctx, slog.String("model", req.Model), slog.String("route", route.String()))
	h.logger.DebugContext(ctx, "Handling messages request", "model", req.Model, "route", route.String(), "stream", req.Stream)

	switch route {
	case models.RouteMessages:
		if err := patchPayload(payload, &req, merged); err != nil {
			h.writeAnthropicError(ctx, w, err)
			return
		}
		h.messagesNative(ctx, w, &req, payload, beta)
	case models.RouteResponses:
		h.messagesViaResponses(ctx, w, &req)
	default:
		h.messagesViaChat(ctx, w, &req)
	}
}

func (h *Handler) messagesViaChat(ctx context.Context, w http.ResponseWriter, req *anthropic.MessagesRequest) {
	chatReq := h.translator.ToChat(req)

	resp, err := h.upstream.Post(ctx, upstream.PathChatCompletions, chatReq, upstream.RequestOptions{
		Vision:    chatVision(chatReq),
		Initiator: chatInitiator(chatReq),
		Stream:    chatReq.Stream,
	})
	if err != nil {
		h.writeAnthropicError(ctx, w, err)
		return
	}
	defer closeBody(ctx, h.logger, resp)

	if !chatReq.Stream {
		var chatResp openai.ChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			h.writeAnthropicError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, h.translator.FromChat(&chatResp), http.StatusOK)
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		h.writeAnthropicError(ctx, w, err)
		return
	}

	state := translate.NewChatStreamState()
	for ev, err := range sse.Read(resp.Body) {
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to read upstream stream", "error", err)
			h.writeEvents(ctx, sw, translate.StreamErrorEvent())
			return
		}
		if ev.IsDone() {
			break
		}
		if ev.Data == "" {
			continue
		}

		var chunk openai.ChatChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			h.logger.ErrorContext(ctx, "Failed to decode chat chunk", "error", err, "data", truncate(ev.Data, 400))
			h.writeEvents(ctx, sw, translate.StreamErrorEvent())
			return
		}
		if !h.writeEvents(ctx, sw, translate.TranslateChatChunk(&chunk, state)...) {
			return
		}
	}
}

func (h *Handler) messagesViaResponses(ctx context.Context, w http.ResponseWriter, req *anthropic.MessagesRequest) {
	resReq := h.translator.ToResponses(req)

	vision, initiator := responsesRequestOptions(resReq.Input)
	resp, err := h.upstream.Post(ctx, upstream.PathResponses, resReq, upstream.RequestOptions{
		Vision:    vision,
		Initiator: initiator,
		Stream:    resReq.Stream,
	})
	if err != nil {
		h.writeAnthropicError(ctx, w, err)
		return
	}
	defer closeBody(ctx, h.logger, resp)

	if !resReq.Stream {
		var result openai.ResponsesResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			h.writeAnthropicError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, h.translator.FromResponses(&result), http.StatusOK)
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		h.writeAnthropicError(ctx, w, err)
		return
	}

	state := h.translator.NewResponsesStream()
	for ev, err := range sse.Read(resp.Body) {
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to read upstream stream", "error", err)
			break
		}
		if ev.Event == openai.EventPing {
			if !h.writeEvents(ctx, sw, anthropic.StreamEvent{Type: anthropic.EventPing}) {
				return
			}
			continue
		}
		if ev.Data == "" || ev.IsDone() {
			continue
		}

		var rev openai.ResponsesStreamEvent
		if err := json.Unmarshal([]byte(ev.Data), &rev); err != nil {
			h.logger.ErrorContext(ctx, "Failed to decode responses event", "error", err, "data", truncate(ev.Data, 400))
			break
		}
		if rev.Type == "" {
			rev.Type = ev.Event
		}

		if !h.writeEvents(ctx, sw, translate.TranslateResponsesEvent(&rev, state)...) {
			return
		}
		if state.Err != nil {
			h.logger.WarnContext(ctx, "Aborted corrupted responses stream", "error", state.Err)
		}
		if state.MessageCompleted {
			return
		}
	}

	h.logger.WarnContext(ctx, "Responses stream ended without completion")
	h.writeEvents(ctx, sw, anthropic.ErrorEvent(errAPI, streamIncompleteMessage))
}

// messagesNative forwards the client payload as sent, with only the model
// and merged messages patched in.
func (h *Handler) messagesNative(ctx context.Context, w http.ResponseWriter, req *anthropic.MessagesRequest, payload map[string]json.RawMessage, beta string) {
	if beta == "" && req.Thinking != nil && req.Thinking.BudgetTokens != nil && *req.Thinking.BudgetTokens > 0 {
		beta = interleavedThinkingBeta
	}

	resp, err := h.upstream.Post(ctx, upstream.PathMessages, payload, upstream.RequestOptions{
		Vision:        messagesVision(req),
		Initiator:     messagesInitiator(req),
		AnthropicBeta: beta,
		Stream:        req.Stream,
	})
	if err != nil {
		h.writeAnthropicError(ctx, w, err)
		return
	}
	defer closeBody(ctx, h.logger, resp)

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, resp.Body); err != nil {
			h.logger.ErrorContext(ctx, "Failed to relay messages response", "error", err)
		}
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		h.writeAnthropicError(ctx, w, err)
		return
	}

	for ev, err := range sse.Read(resp.Body) {
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to read upstream stream", "error", err)
			h.writeEvents(ctx, sw, translate.StreamErrorEvent())
			return
		}
		if err := sw.Write(ev); err != nil {
			h.logger.DebugContext(ctx, "Client went away", "error", err)
			return
		}
	}
}

// writeEvents reports false once the client can no longer be written to.
func (h *Handler) writeEvents(ctx context.Context, sw *sse.Writer, events ...anthropic.StreamEvent) bool {
	for _, ev := range events {
		if err := sw.WriteJSON(ev.Type, ev); err != nil {
			h.logger.DebugContext(ctx, "Client went away", "error", err)
			return false
		}
	}
	return true
}

// patchPayload writes the model and the merged messages of req back into
// the raw request body.
func patchPayload(payload map[string]json.RawMessage, req *anthropic.MessagesRequest, merged []int) error {
	model, err := json.Marshal(req.Model)
	if err != nil {
		return err
	}
	payload["model"] = model

	if len(merged) == 0 {
		return nil
	}

	var messages []json.RawMessage
	if err := json.Unmarshal(payload["messages"], &messages); err != nil {
		return badRequest("invalid messages: %v", err)
	}
	for _, i := range merged {
		if messages[i], err = json.Marshal(req.Messages[i]); err != nil {
			return err
		}
	}
	if payload["messages"], err = json.Marshal(messages); err != nil {
		return err
	}
	return nil
}

// mergeToolResults folds the text blocks of a user turn made only of
// tool results and text into the tool results and returns the indexes of
// the turns it changed. Editor hooks and reminders add such text, and a
// standalone text block would make the turn count as a new user request
// upstream.
func mergeToolResults(req *anthropic.MessagesRequest) []int {
	var merged []int
	for i := range req.Messages {
		msg := &req.Messages[i]
		if msg.Role != anthropic.RoleUser || msg.Content.IsText {
			continue
		}

		var results, texts []anthropic.ContentBlock
		mergeable := true
		for _, block := range msg.Content.Blocks {
			switch block.Type {
			case anthropic.BlockToolResult:
				results = append(results, block)
			case anthropic.BlockText:
				texts = append(texts, block)
			default:
				mergeable = false
			}
		}
		if !mergeable || len(results) == 0 || len(texts) == 0 {
			continue
		}

		if len(results) == len(texts) {
			for j := range results {
				results[j] = appendToToolResult(results[j], texts[j:j+1])
			}
		} else {
			last := len(results) - 1
			results[last] = appendToToolResult(results[last], texts)
		}
		msg.Content = anthropic.BlocksContent(results...)
		merged = append(merged, i)
	}
	return merged
}

func appendToToolResult(result anthropic.ContentBlock, texts []anthropic.ContentBlock) anthropic.ContentBlock {
	var content anthropic.Content
	if result.Content != nil {
		content = *result.Content
	} else {
		content = anthropic.TextContent("")
	}

	if content.IsText {
		merged := content.Text
		for _, t := range texts {
			merged += "\n\n" + t.Text
		}
		content = anthropic.TextContent(merged)
	} else {
		blocks := append(append([]anthropic.ContentBlock{}, content.Blocks...), texts...)
		content = anthropic.BlocksContent(blocks...)
	}

	result.Content = &content
	return result
}

func messagesVision(req *anthropic.MessagesRequest) bool {
	for _, msg := range req.Messages {
		for _, block := range msg.Content.Blocks {
			if block.Type == anthropic.BlockImage {
				return true
			}
		}
	}
	return false
}

// messagesInitiator is "user" when the last turn is a user turn carrying
// anything besides tool results.
func messagesInitiator(req *anthropic.MessagesRequest) string {
	if len(req.Messages) == 0 {
		return upstream.InitiatorAgent
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != anthropic.RoleUser {
		return upstream.InitiatorAgent
	}
	if last.Content.IsText {
		return upstream.InitiatorUser
	}
	for _, block := range last.Content.Blocks {
		if block.Type != anthropic.BlockToolResult {
			return upstream.InitiatorUser
		}
	}
	return upstream.InitiatorAgent
}

func chatVision(req *openai.ChatRequest) bool {
	for _, msg := range req.Messages {
		if msg.Content == nil {
			continue
		}
		for _, part := range msg.Content.Parts {
			if part.Type == openai.PartImageURL {
				return true
			}
		}
	}
	return false
}

// chatInitiator is "agent" when the conversation ends on an assistant or
// tool message.
func chatInitiator(req *openai.ChatRequest) string {
	if len(req.Messages) == 0 {
		return upstream.InitiatorUser
	}
	switch req.Messages[len(req.Messages)-1].Role {
	case openai.RoleAssistant, openai.RoleTool:
		return upstream.InitiatorAgent
	default:
		return upstream.InitiatorUser
	}
}

// responsesRequestOptions derives the vision flag and the initiator of a
// Responses input list. An input ending on an item without a role (a
// function call output) or on an assistant message is agent-initiated.
func responsesRequestOptions(input []openai.InputItem) (vision bool, initiator string) {
	initiator = upstream.InitiatorUser
	if n := len(input); n > 0 {
		if role := input[n-1].Role; role == "" || role == openai.RoleAssistant {
			initiator = upstream.InitiatorAgent
		}
	}

	for _, item := range input {
		if item.Content == nil {
			continue
		}
		for _, part := range item.Content.Parts {
			if part.Type == openai.PartInputImage {
				return true, initiator
			}
		}
	}
	return false, initiator
}
