// Package upstream is the HTTP client for the Copilot API. It authenticates
// every call with the managed credential and retries once with a fresh
// credential when the upstream rejects it.
package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/Davincible/copilot-gateway/internal/models"
)

const (
	PathChatCompletions = "/chat/completions"
	PathResponses       = "/responses"
	PathMessages        = "/v1/messages"
	PathModels          = "/models"

	DefaultTimeout = 10 * time.Minute
)

// DefaultRetryStatuses trigger a credential refresh and one retry.
var DefaultRetryStatuses = []int{http.StatusUnauthorized, http.StatusForbidden}

// TokenSource supplies the upstream bearer token.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	Clear()
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Status int
	Body   []byte
	Header http.Header
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, strings.TrimSpace(string(e.Body)))
}

// RequestOptions select the per-call headers.
type RequestOptions struct {
	Vision        bool
	Initiator     string
	AnthropicBeta string
	Stream        bool
}

type Options struct {
	BaseURL       string
	VSCodeVersion string
	RetryStatuses []int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

type Client struct {
	tokens        TokenSource
	baseURL       string
	vscodeVersion string
	retryStatuses []int
	http          *http.Client
	logger        *slog.Logger
}

func New(tokens TokenSource, opts Options) *Client {
	c := &Client{
		tokens:        tokens,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		vscodeVersion: opts.VSCodeVersion,
		retryStatuses: opts.RetryStatuses,
		http:          opts.HTTPClient,
		logger:        opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.retryStatuses == nil {
		c.retryStatuses = DefaultRetryStatuses
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Do sends a request to path. When the upstream answers with one of the
// retry statuses the credential is cleared, refreshed and the request is
// sent exactly once more. The returned body is already decompressed.
// Non-2xx responses are returned as *HTTPError.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, opts RequestOptions) (*http.Response, error) {
	resp, err := c.send(ctx, method, path, body, opts)
	if err != nil {
		return nil, err
	}

	if slices.Contains(c.retryStatuses, resp.StatusCode) {
		drain(resp)
		c.logger.WarnContext(ctx, "Upstream rejected credential, refreshing", "status", resp.StatusCode, "path", path)
		c.tokens.Clear()

		resp, err = c.send(ctx, method, path, body, opts)
		if err != nil {
			return nil, err
		}
	}

	if err := decodeBody(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{Status: resp.StatusCode, Body: data, Header: resp.Header}
	}
	return resp, nil
}

// Post marshals payload (raw bytes pass through unchanged) and sends it.
func (c *Client) Post(ctx context.Context, path string, payload any, opts RequestOptions) (*http.Response, error) {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case json.RawMessage:
		body = p
	default:
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode upstream payload: %w", err)
		}
	}
	return c.Do(ctx, http.MethodPost, path, body, opts)
}

// Models fetches the model catalogue.
func (c *Client) Models(ctx context.Context) (*models.List, error) {
	resp, err := c.Do(ctx, http.MethodGet, PathModels, nil, RequestOptions{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list models.List
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return &list, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, opts RequestOptions) (*http.Response, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header = copilotHeaders(token, c.vscodeVersion, opts)
	req.Header.Set("Accept-Encoding", "gzip, br")

	c.logger.DebugContext(ctx, "Upstream request",
		"method", method,
		"path", path,
		"request_id", req.Header.Get("X-Request-Id"),
		"bytes", len(body),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// decodeBody swaps a compressed body for a decompressing reader.
func decodeBody(resp *http.Response) error {
	var decoded io.Reader
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		decoded = gz
	case "br":
		decoded = brotli.NewReader(resp.Body)
	default:
		return nil
	}

	resp.Body = &decodedBody{Reader: decoded, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

type decodedBody struct {
	io.Reader
	raw io.ReadCloser
}

func (b *decodedBody) Close() error {
	if c, ok := b.Reader.(io.Closer); ok {
		c.Close()
	}
	return b.raw.Close()
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
