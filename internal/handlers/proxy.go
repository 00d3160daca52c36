package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/Davincible/copilot-gateway/internal/models"
	"github.com/Davincible/copilot-gateway/internal/openai"
	"github.com/Davincible/copilot-gateway/internal/sse"
	"github.com/Davincible/copilot-gateway/internal/streamid"
	"github.com/Davincible/copilot-gateway/internal/upstream"
)

const (
	applyPatchToolName        = "apply_patch"
	responsesUnsupportedError = "This model does not support the responses endpoint. Please choose a different model."
)

// applyPatchTool replaces the freeform apply_patch custom tool, which the
// upstream does not accept, with an equivalent function tool.
var applyPatchTool = json.RawMessage(`{"type":"function","name":"apply_patch","description":"Use the ` + "`apply_patch`" + ` tool to edit files","parameters":{"type":"object","properties":{"input":{"type":"string","description":"The entire contents of the apply_patch command"}},"required":["input"]},"strict":false}`)

// eventRewriter transforms the data of a relayed SSE event.
type eventRewriter func(event string, data []byte) ([]byte, error)

// ChatCompletions serves POST /chat/completions by forwarding the payload
// unchanged apart from a default max_tokens.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.gate.Wait(ctx); err != nil {
		h.writeOpenAIError(ctx, w, err)
		return
	}

	payload, body, err := readPayload(r)
	if err != nil {
		h.writeOpenAIError(ctx, w, err)
		return
	}

	var req openai.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeOpenAIError(ctx, w, badRequest("invalid chat completions request: %v", err))
		return
	}
	logAttrs(ctx, slog.String("model", req.Model))

	model, found := h.models.Get(req.Model)
	if found {
		if usage, err := h.estimator.Estimate(&req, model); err != nil {
			h.logger.WarnContext(ctx, "Failed to calculate token count", "model", req.Model, "error", err)
		} else {
			h.logger.InfoContext(ctx, "Current token count", "model", req.Model, "input", usage.Input, "output", usage.Output)
		}
	} else {
		h.logger.WarnContext(ctx, "Unknown model, skipping token count", "model", req.Model)
	}

	if isNull(payload["max_tokens"]) && found && model.Capabilities.Limits.MaxOutputTokens > 0 {
		payload["max_tokens"], _ = json.Marshal(model.Capabilities.Limits.MaxOutputTokens)
		h.logger.DebugContext(ctx, "Set default max_tokens", "max_tokens", model.Capabilities.Limits.MaxOutputTokens)
	}

	resp, err := h.upstream.Post(ctx, upstream.PathChatCompletions, payload, upstream.RequestOptions{
		Vision:    chatVision(&req),
		Initiator: chatInitiator(&req),
		Stream:    req.Stream,
	})
	if err != nil {
		h.writeOpenAIError(ctx, w, err)
		return
	}
	defer closeBody(ctx, h.logger, resp)

	h.relay(ctx, w, resp, req.Stream, nil)
}

// Responses serves POST /responses for models with a native Responses
// endpoint. Streamed item ids are made consistent on the way back.
func (h *Handler) Responses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.gate.Wait(ctx); err != nil {
		h.writeOpenAIError(ctx, w, err)
		return
	}

	payload, _, err := readPayload(r)
	if err != nil {
		h.writeOpenAIError(ctx, w, err)
		return
	}

	var modelID string
	_ = json.Unmarshal(payload["model"], &modelID)
	var stream bool
	_ = json.Unmarshal(payload["stream"], &stream)
	logAttrs(ctx, slog.String("model", modelID))

	if h.useFunctionApplyPatch {
		rewriteApplyPatch(payload)
	}
	if _, ok := payload["service_tier"]; ok {
		payload["service_tier"] = json.RawMessage("null")
	}

	model, found := h.models.Get(modelID)
	if !found || !model.Supports(models.EndpointResponses) {
		h.writeOpenAIError(ctx, w, badRequest(responsesUnsupportedError))
		return
	}

	var input []openai.InputItem
	if err := json.Unmarshal(payload["input"], &input); err != nil {
		input = nil
	}
	vision, initiator := responsesRequestOptions(input)

	resp, err := h.upstream.Post(ctx, upstream.PathResponses, payload, upstream.RequestOptions{
		Vision:    vision,
		Initiator: initiator,
		Stream:    stream,
	})
	if err != nil {
		h.writeOpenAIError(ctx, w, err)
		return
	}
	defer closeBody(ctx, h.logger, resp)

	h.relay(ctx, w, resp, stream, streamid.NewTracker().Fix)
}

// relay copies an upstream response to the client. Streams are re-framed
// event by event, optionally rewriting each payload.
func (h *Handler) relay(ctx context.Context, w http.ResponseWriter, resp *http.Response, stream bool, rewrite eventRewriter) {
	if !stream {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			h.logger.ErrorContext(ctx, "Failed to relay response", "error", err)
		}
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		h.writeOpenAIError(ctx, w, err)
		return
	}

	for ev, err := range sse.Read(resp.Body) {
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to read upstream stream", "error", err)
			return
		}

		data := []byte(ev.Data)
		if rewrite != nil && !ev.IsDone() {
			fixed, err := rewrite(ev.Event, data)
			if err != nil {
				h.logger.WarnContext(ctx, "Failed to rewrite stream event, forwarding as is", "event", ev.Event, "error", err)
			} else {
				data = fixed
			}
		}

		ev.Data = string(data)
		if err := sw.Write(ev); err != nil {
			h.logger.DebugContext(ctx, "Client went away", "error", err)
			return
		}
	}
}

// readPayload decodes the body as a JSON object, keeping every field raw.
func readPayload(r *http.Request) (map[string]json.RawMessage, []byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, badRequest("failed to read request body: %v", err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, badRequest("invalid JSON body: %v", err)
	}
	if payload == nil {
		return nil, nil, badRequest("request body must be a JSON object")
	}
	return payload, body, nil
}

func rewriteApplyPatch(payload map[string]json.RawMessage) {
	var tools []json.RawMessage
	if err := json.Unmarshal(payload["tools"], &tools); err != nil {
		return
	}

	changed := false
	for i, raw := range tools {
		var tool struct {
			Type string `json:"type"`
			Name string `json:"name"`
		}
		if json.Unmarshal(raw, &tool) != nil {
			continue
		}
		if tool.Type == "custom" && tool.Name == applyPatchToolName {
			tools[i] = applyPatchTool
			changed = true
		}
	}

	if changed {
		payload["tools"], _ = json.Marshal(tools)
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
