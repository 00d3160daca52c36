package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitHubFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token gho_secret", r.Header.Get("Authorization"))
		assert.Equal(t, "vscode/1.99.3", r.Header.Get("Editor-Version"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tid=abc","expires_at":1700001800,"refresh_in":1500}`))
	}))
	defer server.Close()

	headers := http.Header{}
	headers.Set("Editor-Version", "vscode/1.99.3")
	fetcher := NewGitHubFetcher("gho_secret", server.URL, server.Client(), headers)

	cred, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tid=abc", cred.Token)
	assert.Equal(t, time.Unix(1700001800, 0), cred.ExpiresAt)
	assert.Equal(t, 1500*time.Second, cred.RefreshIn)
}

func TestGitHubFetcher_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	fetcher := NewGitHubFetcher("gho_wrong", server.URL, server.Client(), nil)
	_, err := fetcher.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestGitHubFetcher_EmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expires_at":1700001800}`))
	}))
	defer server.Close()

	_, err := NewGitHubFetcher("gho", server.URL, server.Client(), nil).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}
