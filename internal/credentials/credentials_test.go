package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// memFallback is an in-memory Fallback.
type memFallback struct {
	values map[string]string
	err    error
}

func newMemFallback() *memFallback { return &memFallback{values: map[string]string{}} }

func (m *memFallback) Get(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memFallback) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memFallback) Delete(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestVault_Keyring(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	fb := newMemFallback()
	fb.values[FallbackKey] = "stale"
	v := NewVault(fb, zerolog.Nop())

	require.NoError(t, v.SaveAPIKey(context.Background(), "  abc123 "))
	assert.Equal(t, "abc123", v.GetAPIKey())
	assert.NotContains(t, fb.values, FallbackKey, "fallback copy is cleared")

	require.NoError(t, v.SaveAPIKey(context.Background(), ""))
	assert.Equal(t, "", v.GetAPIKey())
	assert.False(t, v.HasAPIKey())
}

func TestVault_FallbackWhenKeyringFails(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	clearEnv(t)
	fb := newMemFallback()
	v := NewVault(fb, zerolog.Nop())

	require.NoError(t, v.SaveAPIKey(context.Background(), "xyz"))
	assert.Equal(t, "xyz", fb.values[FallbackKey])
	assert.Equal(t, "xyz", v.GetAPIKey())
}

func TestVault_NoFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	clearEnv(t)
	v := NewVault(nil, zerolog.Nop())

	assert.Error(t, v.SaveAPIKey(context.Background(), "xyz"))
	assert.Equal(t, "", v.GetAPIKey())
}

func TestVault_Environment(t *testing.T) {
	keyring.MockInit()
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "from-env")

	fb := newMemFallback()
	fb.err = errors.New("db closed")
	v := NewVault(fb, zerolog.Nop())

	assert.Equal(t, "from-env", v.GetAPIKey())

	t.Setenv("GEMINI_API_KEY", "gemini-first")
	assert.Equal(t, "gemini-first", v.GetAPIKey())
}
