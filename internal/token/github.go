package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is the Copilot credential exchange endpoint.
const DefaultTokenURL = "https://api.github.com/copilot_internal/v2/token"

type copilotTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	RefreshIn int64  `json:"refresh_in"`
}

// GitHubFetcher exchanges a GitHub OAuth token for a Copilot API token.
type GitHubFetcher struct {
	client  *http.Client
	url     string
	headers http.Header
}

// NewGitHubFetcher returns a fetcher authenticated as "token <githubToken>".
// base may be nil; extra headers are sent with every exchange.
func NewGitHubFetcher(githubToken, url string, base *http.Client, headers http.Header) *GitHubFetcher {
	if url == "" {
		url = DefaultTokenURL
	}
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: githubToken, TokenType: "token"})
	return &GitHubFetcher{
		client:  oauth2.NewClient(ctx, src),
		url:     url,
		headers: headers,
	}
}

func (f *GitHubFetcher) Fetch(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("create token request: %w", err)
	}
	for k, vs := range f.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("request copilot token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("copilot token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr copilotTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credential{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.Token == "" {
		return Credential{}, ErrNoToken
	}

	return Credential{
		Token:     tr.Token,
		ExpiresAt: time.Unix(tr.ExpiresAt, 0),
		RefreshIn: time.Duration(tr.RefreshIn) * time.Second,
	}, nil
}
