package upstream

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	mu      sync.Mutex
	issued  int
	cleared int
	err     error
}

func (f *fakeTokens) GetToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.issued++
	return fmt.Sprintf("tok-%d", f.cleared), nil
}

func (f *fakeTokens) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *fakeTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &fakeTokens{}
	return New(tokens, Options{BaseURL: srv.URL, HTTPClient: srv.Client()}), tokens
}

func TestClient_RetriesOnceOnAuthFailure(t *testing.T) {
	var auths []string
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		if len(auths) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"ok":true}`)
	})

	resp, err := client.Post(context.Background(), PathChatCompletions, map[string]string{"model": "gpt-4.1"}, RequestOptions{})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, []string{"Bearer tok-0", "Bearer tok-1"}, auths)
	assert.Equal(t, 1, tokens.cleared)
}

func TestClient_RetryStatuses(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		calls    int
		cleared  int
		final    int
	}{
		{"always unauthorized", []int{401, 401, 401}, 2, 1, http.StatusUnauthorized},
		{"forbidden then ok", []int{403, 200}, 2, 1, http.StatusOK},
		{"server error not retried", []int{500, 200}, 1, 0, http.StatusInternalServerError},
		{"rate limited not retried", []int{429}, 1, 0, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statuses[calls])
				fmt.Fprintf(w, `{"call":%d}`, calls)
				calls++
			})

			resp, err := client.Do(context.Background(), http.MethodPost, PathResponses, []byte(`{}`), RequestOptions{})
			assert.Equal(t, tt.calls, calls)
			assert.Equal(t, tt.cleared, tokens.cleared)

			if tt.final == http.StatusOK {
				require.NoError(t, err)
				resp.Body.Close()
				return
			}
			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.final, httpErr.Status)
			assert.Contains(t, httpErr.Error(), fmt.Sprintf("status %d", tt.final))
			assert.JSONEq(t, fmt.Sprintf(`{"call":%d}`, tt.calls-1), string(httpErr.Body))
		})
	}
}

func TestClient_TokenFailure(t *testing.T) {
	called := false
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	tokens.err = errors.New("no credential")

	_, err := client.Post(context.Background(), PathMessages, []byte(`{}`), RequestOptions{})
	assert.EqualError(t, err, "no credential")
	assert.False(t, called)
}

func TestClient_Headers(t *testing.T) {
	var got http.Header
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.Equal(t, PathMessages, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"raw":true}`, string(body))
	})

	resp, err := client.Post(context.Background(), PathMessages, []byte(`{"raw":true}`), RequestOptions{
		Vision:        true,
		Initiator:     InitiatorAgent,
		AnthropicBeta: "interleaved-thinking-2025-05-14",
		Stream:        true,
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok-0", got.Get("Authorization"))
	assert.Equal(t, "vscode-chat", got.Get("Copilot-Integration-Id"))
	assert.Equal(t, "true", got.Get("Copilot-Vision-Request"))
	assert.Equal(t, "agent", got.Get("X-Initiator"))
	assert.Equal(t, "interleaved-thinking-2025-05-14", got.Get("Anthropic-Beta"))
	assert.Equal(t, "text/event-stream", got.Get("Accept"))
	assert.Equal(t, "vscode/"+DefaultVSCodeVersion, got.Get("Editor-Version"))
	assert.Len(t, got.Get("X-Request-Id"), 36)
}

func TestClient_OptionalHeadersOmitted(t *testing.T) {
	var got http.Header
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	})

	resp, err := client.Post(context.Background(), PathChatCompletions, []byte(`{}`), RequestOptions{})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, got.Get("Copilot-Vision-Request"))
	assert.Empty(t, got.Get("X-Initiator"))
	assert.Empty(t, got.Get("Anthropic-Beta"))
	assert.Equal(t, "application/json", got.Get("Accept"))
}

func TestClient_DecodesCompressedBodies(t *testing.T) {
	const payload = `{"id":"compressed"}`

	tests := []struct {
		encoding string
		write    func(w io.Writer)
	}{
		{"gzip", func(w io.Writer) {
			gz := gzip.NewWriter(w)
			io.WriteString(gz, payload)
			gz.Close()
		}},
		{"br", func(w io.Writer) {
			br := brotli.NewWriter(w)
			io.WriteString(br, payload)
			br.Close()
		}},
		{"", func(w io.Writer) {
			io.WriteString(w, payload)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				tt.write(w)
			})

			resp, err := client.Post(context.Background(), PathResponses, []byte(`{}`), RequestOptions{})
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, string(body))
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
		})
	}
}

func TestClient_CompressedErrorBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusBadRequest)
		gz := gzip.NewWriter(w)
		io.WriteString(gz, `{"error":{"message":"bad model"}}`)
		gz.Close()
	})

	_, err := client.Post(context.Background(), PathChatCompletions, []byte(`{}`), RequestOptions{})

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	assert.JSONEq(t, `{"error":{"message":"bad model"}}`, string(httpErr.Body))
}

func TestClient_Models(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, PathModels, r.URL.Path)
		io.WriteString(w, `{"object":"list","data":[
			{"id":"gpt-4.1","capabilities":{"family":"gpt-4.1","limits":{"max_output_tokens":16384}},"supported_endpoints":["/chat/completions"]},
			{"id":"claude-sonnet-4.5","capabilities":{"family":"claude-sonnet-4.5"},"supported_endpoints":["/v1/messages","/chat/completions"]}
		]}`)
	})

	list, err := client.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "gpt-4.1", list.Data[0].ID)
	assert.Equal(t, 16384, list.Data[0].Capabilities.Limits.MaxOutputTokens)
	assert.Equal(t, "messages", list.Data[1].Route().String())
}

func TestBaseURLFor(t *testing.T) {
	assert.Equal(t, "https://api.githubcopilot.com", BaseURLFor(""))
	assert.Equal(t, "https://api.githubcopilot.com", BaseURLFor("individual"))
	assert.Equal(t, "https://api.business.githubcopilot.com", BaseURLFor("business"))
	assert.Equal(t, "https://api.enterprise.githubcopilot.com", BaseURLFor("enterprise"))
}

func TestGitHubHeaders(t *testing.T) {
	h := GitHubHeaders("1.90.0")
	assert.Equal(t, "vscode/1.90.0", h.Get("Editor-Version"))
	assert.Equal(t, githubAPIVersion, h.Get("X-GitHub-Api-Version"))
	assert.Empty(t, h.Get("Authorization"))
}
