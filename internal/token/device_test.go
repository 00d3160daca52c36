package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newDeviceServer(t *testing.T, pending int32, final string) *httptest.Server {
	t.Helper()
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/device/code", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_code":"dev","user_code":"ABCD-1234","verification_uri":"https://github.com/login/device","expires_in":60,"interval":1}`))
	})
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dev", r.PostForm.Get("device_code"))
		w.Header().Set("Content-Type", "application/json")
		if polls.Add(1) <= pending {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"authorization_pending"}`))
			return
		}
		_, _ = w.Write([]byte(final))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testDeviceLogin(srv *httptest.Server) *DeviceLogin {
	return &DeviceLogin{
		Config: &oauth2.Config{
			ClientID: "client",
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: srv.URL + "/login/device/code",
				TokenURL:      srv.URL + "/login/oauth/access_token",
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		HTTPClient: srv.Client(),
	}
}

func TestDeviceLogin(t *testing.T) {
	srv := newDeviceServer(t, 0, `{"access_token":"gho_abc","token_type":"bearer","scope":"read:user"}`)

	var shown *oauth2.DeviceAuthResponse
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tok, err := testDeviceLogin(srv).Run(ctx, func(auth *oauth2.DeviceAuthResponse) { shown = auth })
	require.NoError(t, err)
	assert.Equal(t, "gho_abc", tok)

	require.NotNil(t, shown)
	assert.Equal(t, "ABCD-1234", shown.UserCode)
	assert.Equal(t, "https://github.com/login/device", shown.VerificationURI)
}

func TestDeviceLogin_Denied(t *testing.T) {
	srv := newDeviceServer(t, 0, `{"error":"access_denied"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := testDeviceLogin(srv).Run(ctx, func(*oauth2.DeviceAuthResponse) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait for device authorization")
}

func TestDeviceLogin_Cancelled(t *testing.T) {
	srv := newDeviceServer(t, 1000, "")

	ctx, cancel := context.WithCancel(context.Background())
	_, err := testDeviceLogin(srv).Run(ctx, func(*oauth2.DeviceAuthResponse) { cancel() })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewDeviceLogin(t *testing.T) {
	d := NewDeviceLogin()
	assert.Equal(t, GitHubClientID, d.Config.ClientID)
	assert.Equal(t, []string{"read:user"}, d.Config.Scopes)
	assert.NotEmpty(t, d.Config.Endpoint.DeviceAuthURL)
}
