// Package handlers serves the gateway's HTTP surface: Anthropic Messages,
// Chat Completions and Responses, token counting, models and health.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"

	"github.com/Davincible/copilot-gateway/internal/models"
	"github.com/Davincible/copilot-gateway/internal/ratelimit"
	"github.com/Davincible/copilot-gateway/internal/tokenizer"
	"github.com/Davincible/copilot-gateway/internal/translate"
	"github.com/Davincible/copilot-gateway/internal/upstream"
)

// Upstream sends payloads to the provider.
type Upstream interface {
	Post(ctx context.Context, path string, payload any, opts upstream.RequestOptions) (*http.Response, error)
}

type Options struct {
	Upstream   Upstream
	Models     *models.Registry
	Translator *translate.Translator
	Estimator  *tokenizer.Estimator
	Gate       *ratelimit.Gate

	// SmallModel replaces the model of warmup requests. Empty disables it.
	SmallModel            string
	UseFunctionApplyPatch bool
	Count                 CountOptions

	Logger *slog.Logger
}

type Handler struct {
	upstream   Upstream
	models     *models.Registry
	translator *translate.Translator
	estimator  *tokenizer.Estimator
	gate       *ratelimit.Gate

	smallModel            string
	useFunctionApplyPatch bool
	count                 CountOptions

	logger *slog.Logger
}

func New(opts Options) *Handler {
	h := &Handler{
		upstream:              opts.Upstream,
		models:                opts.Models,
		translator:            opts.Translator,
		estimator:             opts.Estimator,
		gate:                  opts.Gate,
		smallModel:            opts.SmallModel,
		useFunctionApplyPatch: opts.UseFunctionApplyPatch,
		count:                 opts.Count.withDefaults(),
		logger:                opts.Logger,
	}
	if h.models == nil {
		h.models = models.NewRegistry()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.translator == nil {
		h.translator = translate.New(translate.Options{Models: h.models, Logger: h.logger})
	}
	if h.estimator == nil {
		h.estimator = tokenizer.NewEstimator(nil)
	}
	return h
}

// readJSON decodes the request body into v.
func readJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

// logAttrs adds request-scoped attributes to the access log line.
func logAttrs(ctx context.Context, attrs ...slog.Attr) {
	httplog.SetAttrs(ctx, attrs...)
}

func closeBody(ctx context.Context, logger *slog.Logger, resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.DebugContext(ctx, "Failed to close upstream body", "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("...%s", s[len(s)-n:])
}
