package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/openai"
	"github.com/Davincible/copilot-gateway/internal/ratelimit"
	"github.com/Davincible/copilot-gateway/internal/token"
	"github.com/Davincible/copilot-gateway/internal/upstream"
)

// Error types shared by both envelopes
const (
	errInvalidRequest = "invalid_request_error"
	errAuthentication = "authentication_error"
	errPermission     = "permission_error"
	errNotFound       = "not_found_error"
	errRateLimit      = "rate_limit_error"
	errOverloaded     = "overloaded_error"
	errAPI            = "api_error"
)

// requestError is a client mistake answered with 400.
type requestError struct {
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(format string, args ...any) error {
	return &requestError{message: fmt.Sprintf(format, args...)}
}

type errorInfo struct {
	status  int
	errType string
	message string
}

func classify(err error) errorInfo {
	var (
		reqErr  *requestError
		httpErr *upstream.HTTPError
		authErr *token.AuthError
	)

	switch {
	case errors.As(err, &reqErr):
		return errorInfo{http.StatusBadRequest, errInvalidRequest, reqErr.message}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return errorInfo{http.StatusTooManyRequests, errRateLimit, "Rate limit exceeded, please retry later"}
	case errors.As(err, &httpErr):
		message := strings.TrimSpace(string(httpErr.Body))
		if message == "" {
			message = http.StatusText(httpErr.Status)
		}
		return errorInfo{httpErr.Status, errorTypeFor(httpErr.Status), message}
	case errors.As(err, &authErr):
		return errorInfo{http.StatusInternalServerError, errAPI, authErr.Error()}
	default:
		return errorInfo{http.StatusInternalServerError, errAPI, err.Error()}
	}
}

func errorTypeFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return errInvalidRequest
	case http.StatusUnauthorized:
		return errAuthentication
	case http.StatusForbidden:
		return errPermission
	case http.StatusNotFound:
		return errNotFound
	case http.StatusTooManyRequests:
		return errRateLimit
	case 529:
		return errOverloaded
	default:
		return errAPI
	}
}

func (h *Handler) logError(ctx context.Context, info errorInfo, err error) {
	level := slog.LevelError
	if info.status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, "Request failed", "status", info.status, "error", err)
}

// writeAnthropicError answers with the Anthropic error envelope.
func (h *Handler) writeAnthropicError(ctx context.Context, w http.ResponseWriter, err error) {
	info := classify(err)
	h.logError(ctx, info, err)
	writeJSON(ctx, w, anthropic.ErrorResponse{
		Type:  "error",
		Error: anthropic.ErrorDetail{Type: info.errType, Message: info.message},
	}, info.status)
}

// writeOpenAIError answers with the OpenAI error envelope.
func (h *Handler) writeOpenAIError(ctx context.Context, w http.ResponseWriter, err error) {
	info := classify(err)
	h.logError(ctx, info, err)
	writeJSON(ctx, w, openai.ErrorResponse{
		Error: openai.ErrorDetail{Type: info.errType, Message: info.message},
	}, info.status)
}
