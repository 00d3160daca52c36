package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Davincible/copilot-gateway/internal/anthropic"
	"github.com/Davincible/copilot-gateway/internal/models"
	"github.com/Davincible/copilot-gateway/internal/sse"
	"github.com/Davincible/copilot-gateway/internal/tokenizer"
	"github.com/Davincible/copilot-gateway/internal/translate"
	"github.com/Davincible/copilot-gateway/internal/upstream"
)

type staticTokens struct{}

func (staticTokens) GetToken(context.Context) (string, error) { return "test-token", nil }
func (staticTokens) Clear()                                  {}

type byteEncoder struct{}

func (byteEncoder) Count(text string) int { return len(text) }

type upstreamCall struct {
	Path   string
	Header http.Header
	Body   map[string]any
}

// fakeUpstream records every request and answers with reply.
type fakeUpstream struct {
	mu    sync.Mutex
	calls []upstreamCall
	reply http.HandlerFunc
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var decoded map[string]any
	_ = json.Unmarshal(body, &decoded)

	f.mu.Lock()
	f.calls = append(f.calls, upstreamCall{Path: r.URL.Path, Header: r.Header.Clone(), Body: decoded})
	f.mu.Unlock()

	f.reply(w, r)
}

func (f *fakeUpstream) lastCall(t *testing.T) upstreamCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls, "upstream was not called")
	return f.calls[len(f.calls)-1]
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func sseReply(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", sse.ContentType)
		w.WriteHeader(http.StatusOK)
		for _, frame := range frames {
			_, _ = io.WriteString(w, frame)
		}
	}
}

func testRegistry() *models.Registry {
	registry := models.NewRegistry()
	registry.Register(models.Model{
		ID: "claude-sonnet-4",
		Capabilities: models.Capabilities{
			Limits:   models.Limits{MaxOutputTokens: 16000},
			Supports: models.Supports{MaxThinkingBudget: anthropic.Int(32000), MinThinkingBudget: anthropic.Int(1024)},
		},
		SupportedEndpoints: []string{models.EndpointChat},
	})
	registry.Register(models.Model{
		ID:                 "claude-native",
		SupportedEndpoints: []string{models.EndpointMessages, models.EndpointChat},
	})
	registry.Register(models.Model{
		ID: "gpt-5-mini",
		Capabilities: models.Capabilities{
			Limits: models.Limits{MaxOutputTokens: 64000},
		},
		SupportedEndpoints: []string{models.EndpointResponses, models.EndpointChat},
	})
	registry.Register(models.Model{
		ID: "gpt-4o",
		Capabilities: models.Capabilities{
			Tokenizer: tokenizer.O200kBase,
			Limits:    models.Limits{MaxOutputTokens: 4096},
		},
		SupportedEndpoints: []string{models.EndpointChat},
	})
	registry.Register(models.Model{
		ID:                 "grok-code-fast-1",
		SupportedEndpoints: []string{models.EndpointChat},
	})
	return registry
}

func newTestHandler(t *testing.T, reply http.HandlerFunc, configure ...func(*Options)) (*Handler, *fakeUpstream) {
	t.Helper()

	fake := &fakeUpstream{reply: reply}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	registry := testRegistry()
	opts := Options{
		Upstream:              upstream.New(staticTokens{}, upstream.Options{BaseURL: srv.URL}),
		Models:                registry,
		Translator:            translate.New(translate.Options{Models: registry}),
		Estimator:             tokenizer.NewEstimator(tokenizer.NewCache(func(string) (tokenizer.Encoder, error) { return byteEncoder{}, nil })),
		SmallModel:            "gpt-5-mini",
		UseFunctionApplyPatch: true,
	}
	for _, c := range configure {
		c(&opts)
	}
	return New(opts), fake
}

// serve runs one request; headers are given as name, value pairs.
func serve(handler http.HandlerFunc, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func readEvents(t *testing.T, body string) []sse.Event {
	t.Helper()
	var events []sse.Event
	for ev, err := range sse.Read(strings.NewReader(body)) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func eventNames(events []sse.Event) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	return names
}

func decodeJSON(t *testing.T, data string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(data), v))
}
