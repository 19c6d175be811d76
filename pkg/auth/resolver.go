package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"repowatch/pkg/platform"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for OS keychain entries.
const KeyringService = "repowatch"

// TokenStore is the credential store consulted before configuration.
type TokenStore interface {
	Get(p platform.Platform) (string, error)
	Set(p platform.Platform, token string) error
	Delete(p platform.Platform) error
}

// KeyringStore keeps one token per platform in the OS keychain.
type KeyringStore struct {
	Service string
}

// NewKeyringStore returns a store under KeyringService.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{Service: KeyringService}
}

// Get returns an empty token without error when nothing is stored.
func (k *KeyringStore) Get(p platform.Platform) (string, error) {
	token, err := keyring.Get(k.service(), itemName(p))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s token from keychain: %w", p, err)
	}
	return token, nil
}

func (k *KeyringStore) Set(p platform.Platform, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%s token cannot be empty", p)
	}
	if err := keyring.Set(k.service(), itemName(p), token); err != nil {
		return fmt.Errorf("save %s token to keychain: %w", p, err)
	}
	return nil
}

// Delete is a no-op when nothing is stored.
func (k *KeyringStore) Delete(p platform.Platform) error {
	err := keyring.Delete(k.service(), itemName(p))
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("delete %s token from keychain: %w", p, err)
}

func (k *KeyringStore) service() string {
	if k.Service == "" {
		return KeyringService
	}
	return k.Service
}

func itemName(p platform.Platform) string {
	return string(p) + "-token"
}

// Resolver looks up the access token of a platform.
type Resolver interface {
	Token(p platform.Platform) (string, error)
}

// DefaultResolver tries the token store, then configuration, then environment.
type DefaultResolver struct {
	cfg    Config
	store  TokenStore
	getenv func(string) string
}

// NewResolver constructs a DefaultResolver. store may be nil.
func NewResolver(cfg Config, store TokenStore) *DefaultResolver {
	return &DefaultResolver{cfg: cfg, store: store, getenv: os.Getenv}
}

// Token returns an empty string without error when no credential is known.
// Keychain failures are returned alongside whatever fallback was found.
func (r *DefaultResolver) Token(p platform.Platform) (string, error) {
	var storeErr error
	if r.store != nil {
		token, err := r.store.Get(p)
		if err == nil && token != "" {
			return token, nil
		}
		storeErr = err
	}
	pc := r.cfg.For(p)
	if pc.Token != "" {
		return pc.Token, nil
	}
	for _, name := range envNames(p, pc) {
		if token := strings.TrimSpace(r.getenv(name)); token != "" {
			return token, nil
		}
	}
	return "", storeErr
}

func envNames(p platform.Platform, pc ProviderConfig) []string {
	names := make([]string, 0, 3)
	if pc.TokenEnv != "" {
		names = append(names, pc.TokenEnv)
	}
	upper := strings.ToUpper(string(p))
	return append(names, "REPOWATCH_"+upper+"_TOKEN", upper+"_TOKEN")
}
