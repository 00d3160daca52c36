package handlers

import (
	"math"
	"net/http"
	"strings"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
)

// Count defaults. The tool overheads approximate the tool-use system
// prompt the provider adds; the multiplier tracks the Claude tokenizer
// producing more tokens than the estimating encoders.
const (
	DefaultClaudeToolOverhead = 346
	DefaultGrokToolOverhead   = 120
	DefaultClaudeMultiplier   = 1.15
	DefaultGrokPrefix         = "grok"
	DefaultClaudePrefix       = "claude"
)

type CountOptions struct {
	ClaudePrefix       string
	GrokPrefix         string
	ClaudeToolOverhead int
	GrokToolOverhead   int
	ClaudeMultiplier   float64
}

func (o CountOptions) withDefaults() CountOptions {
	if o.ClaudePrefix == "" {
		o.ClaudePrefix = DefaultClaudePrefix
	}
	if o.GrokPrefix == "" {
		o.GrokPrefix = DefaultGrokPrefix
	}
	if o.ClaudeToolOverhead == 0 {
		o.ClaudeToolOverhead = DefaultClaudeToolOverhead
	}
	if o.GrokToolOverhead == 0 {
		o.GrokToolOverhead = DefaultGrokToolOverhead
	}
	if o.ClaudeMultiplier == 0 {
		o.ClaudeMultiplier = DefaultClaudeMultiplier
	}
	return o
}

// CountTokens serves POST /v1/messages/count_tokens. It never fails: any
// problem answers with a count of 1.
func (h *Handler) CountTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fallback := anthropic.CountTokensResponse{InputTokens: 1}

	var req anthropic.MessagesRequest
	if err := readJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode count request", "error", err)
		writeJSON(ctx, w, fallback, http.StatusOK)
		return
	}

	model, ok := h.models.Get(req.Model)
	if !ok {
		h.logger.WarnContext(ctx, "Model not found, returning default token count", "model", req.Model)
		writeJSON(ctx, w, fallback, http.StatusOK)
		return
	}

	usage, err := h.estimator.Estimate(h.translator.ToChat(&req), model)
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to estimate tokens", "model", req.Model, "error", err)
		writeJSON(ctx, w, fallback, http.StatusOK)
		return
	}

	if len(req.Tools) > 0 && r.Header.Get(headerAnthropicBeta) != "" && countToolPrompt(req.Tools) {
		switch {
		case strings.HasPrefix(req.Model, h.count.ClaudePrefix):
			usage.Input += h.count.ClaudeToolOverhead
		case strings.HasPrefix(req.Model, h.count.GrokPrefix):
			usage.Input += h.count.GrokToolOverhead
		}
	}

	total := usage.Input + usage.Output
	if strings.HasPrefix(req.Model, h.count.ClaudePrefix) {
		total = int(math.Round(float64(total) * h.count.ClaudeMultiplier))
	}

	h.logger.InfoContext(ctx, "Token count", "model", req.Model, "input_tokens", total)
	writeJSON(ctx, w, anthropic.CountTokensResponse{InputTokens: total}, http.StatusOK)
}

// countToolPrompt reports whether the tool-use system prompt overhead
// applies. MCP tools and a lone Skill tool don't get it.
func countToolPrompt(tools []anthropic.Tool) bool {
	for _, tool := range tools {
		if strings.HasPrefix(tool.Name, "mcp__") {
			return false
		}
		if tool.Name == "Skill" && len(tools) == 1 {
			return false
		}
	}
	return true
}
