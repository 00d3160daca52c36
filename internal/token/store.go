package token

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	KeyringService = "copilot-gateway"
	KeyringUser    = "github-oauth-token"
)

// ErrNotStored means no GitHub token has been saved.
var ErrNotStored = errors.New("no github token stored")

// KeyringStore keeps the long-lived GitHub OAuth token in the OS keychain.
type KeyringStore struct {
	Service string
	User    string
}

func NewKeyringStore() KeyringStore {
	return KeyringStore{Service: KeyringService, User: KeyringUser}
}

func (s KeyringStore) Load() (string, error) {
	secret, err := keyring.Get(s.Service, s.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotStored
	}
	if err != nil {
		return "", fmt.Errorf("read keyring: %w", err)
	}
	return secret, nil
}

func (s KeyringStore) Save(githubToken string) error {
	if err := keyring.Set(s.Service, s.User, githubToken); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

// Delete removes the stored token. Deleting a missing token is not an error.
func (s KeyringStore) Delete() error {
	err := keyring.Delete(s.Service, s.User)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete keyring entry: %w", err)
	}
	return nil
}

// ResolveGitHubToken prefers an explicitly configured token and falls back
// to the keyring.
func ResolveGitHubToken(configured string, store KeyringStore) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return store.Load()
}
