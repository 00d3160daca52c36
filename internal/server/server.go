// Package server wires the gateway together and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Davincible/copilot-gateway/internal/config"
	"github.com/Davincible/copilot-gateway/internal/handlers"
	"github.com/Davincible/copilot-gateway/internal/middleware"
	"github.com/Davincible/copilot-gateway/internal/models"
	"github.com/Davincible/copilot-gateway/internal/ratelimit"
	"github.com/Davincible/copilot-gateway/internal/token"
	"github.com/Davincible/copilot-gateway/internal/tokenizer"
	"github.com/Davincible/copilot-gateway/internal/translate"
	"github.com/Davincible/copilot-gateway/internal/upstream"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Options replace the production collaborators, mostly for tests.
type Options struct {
	// Fetcher supplies upstream credentials. Defaults to the GitHub token
	// exchange using the configured or stored GitHub token.
	Fetcher token.Fetcher
	// BaseURL overrides the Copilot API base derived from the account type.
	BaseURL string
	// Listener overrides listening on the configured address.
	Listener        net.Listener
	Loader          tokenizer.Loader
	HTTPClient      *http.Client
	ShutdownTimeout time.Duration
}

type Server struct {
	config *config.Manager
	logger *slog.Logger
	opts   Options

	tokens   *token.Manager
	client   *upstream.Client
	registry *models.Registry
	server   *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger, opts Options) *Server {
	if opts.Loader == nil {
		opts.Loader = tokenizer.TiktokenLoader
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		config:   configManager,
		logger:   logger,
		opts:     opts,
		registry: models.NewRegistry(),
	}
}

// Start authenticates, loads the model catalogue and serves until ctx is
// cancelled or the listener fails, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Get()

	ln, err := s.setup(ctx, cfg)
	if err != nil {
		return err
	}

	var shutdownFuncs []func(context.Context) error
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		s.tokens.Clear()
		return nil
	})

	s.server = &http.Server{
		Handler:           s.routes(cfg),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	shutdownFuncs = append(shutdownFuncs, s.server.Shutdown)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.InfoContext(gCtx, "Gateway listening", "address", ln.Addr().String(), "models", s.registry.Len())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	// Serve only returns early on failure, which cancels gCtx.
	<-gCtx.Done()
	s.logger.InfoContext(ctx, "Gateway is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			s.logger.ErrorContext(shutdownCtx, "Shutdown step failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.logger.InfoContext(shutdownCtx, "Gateway exited")
	return nil
}

func (s *Server) setup(ctx context.Context, cfg *config.Config) (net.Listener, error) {
	fetcher := s.opts.Fetcher
	if fetcher == nil {
		githubToken, err := token.ResolveGitHubToken(cfg.GitHubToken, token.NewKeyringStore())
		if err != nil {
			if errors.Is(err, token.ErrNotStored) {
				return nil, fmt.Errorf("no GitHub token configured, run the auth login command first: %w", err)
			}
			return nil, err
		}
		fetcher = token.NewGitHubFetcher(githubToken, "", s.opts.HTTPClient, upstream.GitHubHeaders(cfg.VSCodeVersion))
	}

	s.tokens = token.NewManager(fetcher, token.Options{Logger: s.logger})
	if err := s.tokens.RefreshToken(ctx); err != nil {
		return nil, fmt.Errorf("obtain upstream token: %w", err)
	}

	baseURL := s.opts.BaseURL
	if baseURL == "" {
		baseURL = upstream.BaseURLFor(cfg.AccountType)
	}
	s.client = upstream.New(s.tokens, upstream.Options{
		BaseURL:       baseURL,
		VSCodeVersion: cfg.VSCodeVersion,
		HTTPClient:    s.opts.HTTPClient,
		Logger:        s.logger,
	})

	if err := s.RefreshModels(ctx); err != nil {
		s.tokens.Clear()
		return nil, err
	}

	ln := s.opts.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", cfg.Address()); err != nil {
			s.tokens.Clear()
			return nil, fmt.Errorf("listen on %s: %w", cfg.Address(), err)
		}
	}
	return ln, nil
}

// RefreshModels reloads the model catalogue from the upstream.
func (s *Server) RefreshModels(ctx context.Context) error {
	list, err := s.client.Models(ctx)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	s.registry.Replace(list.Data)
	s.logger.InfoContext(ctx, "Loaded models", "count", s.registry.Len())
	return nil
}

func (s *Server) routes(cfg *config.Config) http.Handler {
	translator := translate.New(translate.Options{
		Models:              s.registry,
		ExtraPrompts:        cfg.ExtraPrompts,
		ReasoningEfforts:    cfg.ModelReasoningEfforts,
		WhitespaceRunLimit:  cfg.WhitespaceRunLimit,
		ClaudePrefix:        cfg.ModelFamilies.Claude,
		XHighEffortPrefixes: cfg.ModelFamilies.XHighEffort,
		Logger:              s.logger,
	})

	h := handlers.New(handlers.Options{
		Upstream:              s.client,
		Models:                s.registry,
		Translator:            translator,
		Estimator:             tokenizer.NewEstimator(tokenizer.NewCache(s.opts.Loader)),
		Gate:                  ratelimit.New(time.Duration(cfg.RateLimit.Seconds)*time.Second, cfg.RateLimit.Wait, s.logger),
		SmallModel:            cfg.SmallModel,
		UseFunctionApplyPatch: cfg.UseFunctionApplyPatch,
		Count: handlers.CountOptions{
			ClaudePrefix: cfg.ModelFamilies.Claude,
			GrokPrefix:   cfg.ModelFamilies.Grok,
		},
		Logger: s.logger,
	})
	health := handlers.NewHealthHandler(s.tokens, s.registry)

	set := middleware.NewMiddlewareSet(s.config, s.logger)
	api := set.DefaultChain()

	mux := http.NewServeMux()
	mux.Handle("GET /health", set.HealthChain().Handler(health))
	mux.Handle("GET /{$}", set.HealthChain().Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Server running"))
	})))

	mux.Handle("POST /v1/messages", api.Handler(http.HandlerFunc(h.Messages)))
	mux.Handle("POST /v1/messages/count_tokens", api.Handler(http.HandlerFunc(h.CountTokens)))

	for _, prefix := range []string{"", "/v1"} {
		mux.Handle("POST "+prefix+"/chat/completions", api.Handler(http.HandlerFunc(h.ChatCompletions)))
		mux.Handle("POST "+prefix+"/responses", api.Handler(http.HandlerFunc(h.Responses)))
		mux.Handle("GET "+prefix+"/models", api.Handler(http.HandlerFunc(h.Models)))
	}

	return mux
}
