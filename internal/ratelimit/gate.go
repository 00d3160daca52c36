// Package ratelimit spaces upstream requests by a minimum interval.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request arrives inside the interval
// and the gate is configured not to wait.
var ErrRateLimited = errors.New("rate limit exceeded")

// Gate admits at most one request per interval. A nil Gate or a zero
// interval admits everything.
type Gate struct {
	limiter  *rate.Limiter
	interval time.Duration
	wait     bool
	logger   *slog.Logger
}

func New(interval time.Duration, wait bool, logger *slog.Logger) *Gate {
	if interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		wait:     wait,
		logger:   logger,
	}
}

// Wait blocks until the request may proceed, or fails with ErrRateLimited
// when waiting is disabled.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil {
		return nil
	}

	if g.limiter.Allow() {
		return nil
	}

	if !g.wait {
		g.logger.WarnContext(ctx, "Rate limit exceeded", "interval", g.interval)
		return ErrRateLimited
	}

	g.logger.InfoContext(ctx, "Rate limit reached, waiting", "interval", g.interval)
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limit: %w", err)
	}
	return nil
}
