package token

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// GitHubClientID is the OAuth app the Copilot editor integrations use.
const GitHubClientID = "Iv1.b507a08c87ecfe98"

// DeviceLogin runs the GitHub device authorization flow. show is called
// once with the code the user has to enter; the call then blocks until the
// user approves, the code expires or ctx is cancelled.
type DeviceLogin struct {
	Config     *oauth2.Config
	HTTPClient *http.Client
}

func NewDeviceLogin() *DeviceLogin {
	return &DeviceLogin{
		Config: &oauth2.Config{
			ClientID: GitHubClientID,
			Scopes:   []string{"read:user"},
			Endpoint: github.Endpoint,
		},
	}
}

func (d *DeviceLogin) Run(ctx context.Context, show func(*oauth2.DeviceAuthResponse)) (string, error) {
	if d.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, d.HTTPClient)
	}

	auth, err := d.Config.DeviceAuth(ctx)
	if err != nil {
		return "", fmt.Errorf("request device code: %w", err)
	}
	show(auth)

	tok, err := d.Config.DeviceAccessToken(ctx, auth)
	if err != nil {
		return "", fmt.Errorf("wait for device authorization: %w", err)
	}
	return tok.AccessToken, nil
}
