package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Davincible/copilot-gateway/internal/config"
)

// DefaultMaxRequestBytes bounds request bodies. Conversations with inline
// images get large, so the limit is generous.
const DefaultMaxRequestBytes = 32 << 20

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares[:len(c.middlewares):len(c.middlewares)], middlewares...)}
}

// Handler applies all middleware in the chain to the given handler. The
// first middleware is the outermost.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	Recovery     Middleware
	RequestID    Middleware
	TraceContext Middleware
	Logging      Middleware
	Propagation  Middleware
	SizeLimit    Middleware
	Auth         Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(config *config.Manager, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		Recovery:     Recovery(logger),
		RequestID:    RequestIDGeneration,
		TraceContext: TraceContextExtraction,
		Logging:      Logging(logger),
		Propagation:  RequestIDPropagation,
		SizeLimit:    RequestSizeLimit(DefaultMaxRequestBytes),
		Auth:         NewAuthMiddleware(config, logger),
	}
}

// HealthChain returns the middleware chain for health endpoints (no auth)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.RequestID,
		ms.TraceContext,
		ms.Logging,
		ms.Propagation,
		ms.Recovery,
	)
}

// DefaultChain returns the standard middleware chain for API endpoints
func (ms MiddlewareSet) DefaultChain() Chain {
	return ms.HealthChain().Then(
		ms.SizeLimit,
		ms.Auth,
	)
}
