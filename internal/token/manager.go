// Package token manages the short-lived upstream credential: lazy
// acquisition, single-flight refresh, background renewal and invalidation.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultExpiryMargin       = 60 * time.Second
	DefaultMinRefreshInterval = 60 * time.Second

	backgroundRefreshTimeout = 30 * time.Second
	flightKey                = "token"
)

// ErrNoToken is returned when a refresh completed but left no credential.
var ErrNoToken = errors.New("no upstream token available")

// AuthError wraps any failure to obtain a credential.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Credential is a freshly fetched upstream token.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	RefreshIn time.Duration
}

// Fetcher obtains a new credential from the credential service.
type Fetcher interface {
	Fetch(ctx context.Context) (Credential, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (Credential, error)

func (f FetcherFunc) Fetch(ctx context.Context) (Credential, error) { return f(ctx) }

type Options struct {
	ExpiryMargin       time.Duration
	MinRefreshInterval time.Duration
	Logger             *slog.Logger
	Now                func() time.Time
}

// Manager owns the credential. All methods are safe for concurrent use.
type Manager struct {
	fetcher    Fetcher
	margin     time.Duration
	minRefresh time.Duration
	logger     *slog.Logger
	now        func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	token      string
	expiresAt  time.Time
	timer      *time.Timer
	generation uint64
	// stores counts successful stores, so a failed background refresh can
	// tell whether a newer credential arrived meanwhile.
	stores uint64
}

func NewManager(fetcher Fetcher, opts Options) *Manager {
	m := &Manager{
		fetcher:    fetcher,
		margin:     opts.ExpiryMargin,
		minRefresh: opts.MinRefreshInterval,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if m.margin <= 0 {
		m.margin = DefaultExpiryMargin
	}
	if m.minRefresh <= 0 {
		m.minRefresh = DefaultMinRefreshInterval
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// GetToken returns a usable token, refreshing synchronously when none is
// held or the held one expires within the margin.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	if tok, ok := m.current(); ok {
		return tok, nil
	}

	if err := m.refresh(ctx); err != nil {
		return "", &AuthError{Err: err}
	}

	m.mu.Lock()
	tok := m.token
	m.mu.Unlock()
	if tok == "" {
		return "", &AuthError{Err: ErrNoToken}
	}
	return tok, nil
}

// RefreshToken forces a refresh and re-arms the background timer.
func (m *Manager) RefreshToken(ctx context.Context) error {
	if err := m.refresh(ctx); err != nil {
		return &AuthError{Err: err}
	}
	return nil
}

// Clear drops the token and cancels any scheduled refresh. A refresh that
// is in flight when Clear is called does not repopulate the token.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.token = ""
	m.expiresAt = time.Time{}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
	m.mu.Unlock()

	m.group.Forget(flightKey)
}

// HasValidToken reports, without blocking on I/O, whether a token is held
// that stays valid beyond the margin.
func (m *Manager) HasValidToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != "" && m.expiresAt.Sub(m.now()) > m.margin
}

func (m *Manager) current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || m.expiresAt.Sub(m.now()) < m.margin {
		return "", false
	}
	return m.token, true
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	ch := m.group.DoChan(flightKey, func() (any, error) {
		cred, err := m.fetcher.Fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		m.store(gen, cred)
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *Manager) store(gen uint64, cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		m.logger.Debug("Discarding token fetched before clear")
		return
	}

	m.token = cred.Token
	m.expiresAt = cred.ExpiresAt
	m.stores++

	if m.timer != nil {
		m.timer.Stop()
	}
	delay := RefreshDelay(cred.RefreshIn, m.margin, m.minRefresh)
	m.timer = time.AfterFunc(delay, m.backgroundRefresh)

	m.logger.Debug("Upstream token refreshed",
		"expires_at", cred.ExpiresAt.Format(time.RFC3339),
		"next_refresh", delay.String())
}

func (m *Manager) backgroundRefresh() {
	m.mu.Lock()
	gen, stores := m.generation, m.stores
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
	defer cancel()

	err := m.refresh(ctx)
	if err == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || stores != m.stores {
		m.logger.Debug("Ignoring stale background refresh failure", "error", err)
		return
	}

	m.logger.Error("Background token refresh failed", "error", err)
	m.token = ""
	m.expiresAt = time.Time{}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// RefreshDelay is refreshIn minus the margin, never below floor.
func RefreshDelay(refreshIn, margin, floor time.Duration) time.Duration {
	return max(refreshIn-margin, floor)
}
