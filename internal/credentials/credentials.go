// Package credentials keeps the model API key in the OS keyring, with a
// settings-store fallback for systems without a usable keyring.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zalando/go-keyring"
)

// Keyring identifiers.
const (
	Service = "com.dvloznov.order-intake"
	User    = "model_api_key"
)

// FallbackKey is the settings key used when the keyring is unavailable.
const FallbackKey = "apiKey"

// envKeys are consulted, in order, when nothing is stored.
var envKeys = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// Fallback is the subset of the settings store used as a secondary vault.
type Fallback interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Vault stores and retrieves the API key.
type Vault struct {
	fallback Fallback
	log      zerolog.Logger
}

// NewVault creates a Vault. fallback may be nil.
func NewVault(fallback Fallback, log zerolog.Logger) *Vault {
	return &Vault{fallback: fallback, log: log}
}

// SaveAPIKey stores key. An empty key deletes the stored one. When the
// keyring write fails the key goes to the fallback store; on success any
// fallback copy is cleared.
func (v *Vault) SaveAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)

	if key == "" {
		if err := keyring.Delete(Service, User); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			v.log.Warn().Err(err).Msg("Failed to delete API key from keyring")
		}
		return v.clearFallback(ctx)
	}

	if err := keyring.Set(Service, User, key); err != nil {
		v.log.Warn().Err(err).Msg("Keyring unavailable, storing API key in settings")
		if v.fallback == nil {
			return fmt.Errorf("SaveAPIKey: keyring: %w", err)
		}
		if err := v.fallback.Set(ctx, FallbackKey, key); err != nil {
			return fmt.Errorf("SaveAPIKey: fallback: %w", err)
		}
		return nil
	}
	return v.clearFallback(ctx)
}

// GetAPIKey returns the stored key from the keyring, the fallback store or
// the environment, in that order. Failures yield "".
func (v *Vault) GetAPIKey() string {
	if key, err := keyring.Get(Service, User); err == nil && strings.TrimSpace(key) != "" {
		return key
	} else if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		v.log.Debug().Err(err).Msg("Keyring read failed")
	}

	if v.fallback != nil {
		key, ok, err := v.fallback.Get(context.Background(), FallbackKey)
		if err != nil {
			v.log.Warn().Err(err).Msg("Failed to read API key from settings")
		} else if ok && strings.TrimSpace(key) != "" {
			return key
		}
	}

	for _, name := range envKeys {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key
		}
	}
	return ""
}

// HasAPIKey reports whether any source provides a key.
func (v *Vault) HasAPIKey() bool {
	return v.GetAPIKey() != ""
}

func (v *Vault) clearFallback(ctx context.Context) error {
	if v.fallback == nil {
		return nil
	}
	if err := v.fallback.Delete(ctx, FallbackKey); err != nil {
		return fmt.Errorf("clear fallback API key: %w", err)
	}
	return nil
}
