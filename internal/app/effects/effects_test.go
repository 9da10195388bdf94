package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groovebox/internal/infra/config"
)

func TestProvider_SetAndActive(t *testing.T) {
	p := New(config.EffectsConfig{Enabled: true})

	require.NoError(t, p.Set("u1", "nightcore"))
	assert.Equal(t, "nightcore", p.Active("u1"))
	assert.Empty(t, p.Active("u2"))

	p.Clear("u1")
	assert.Empty(t, p.Active("u1"))
}

func TestProvider_SetRejectsUnknown(t *testing.T) {
	p := New(config.EffectsConfig{Enabled: true})
	assert.ErrorIs(t, p.Set("u1", "megabass"), ErrUnknownEffect)
}

func TestProvider_SetNoneClears(t *testing.T) {
	p := New(config.EffectsConfig{Enabled: true})
	require.NoError(t, p.Set("u1", "echo"))

	for _, name := range []string{"none", "off", ""} {
		require.NoError(t, p.Set("u1", "echo"))
		require.NoError(t, p.Set("u1", name))
		assert.Empty(t, p.Active("u1"))
	}
}

func TestProvider_Disabled(t *testing.T) {
	p := New(config.EffectsConfig{Enabled: false})

	assert.ErrorIs(t, p.Set("u1", "nightcore"), ErrEffectsDisabled)
	assert.Equal(t, "volume=0.50", p.FilterChain("u1", 50))
}

func TestProvider_AvailableSubset(t *testing.T) {
	p := New(config.EffectsConfig{Enabled: true, Available: []string{"echo", "nightcore"}})

	assert.Equal(t, []string{"echo", "nightcore"}, p.Available())
	assert.NoError(t, p.Set("u1", "echo"))
	assert.ErrorIs(t, p.Set("u1", "bassboost"), ErrUnknownEffect)
}

func TestProvider_FilterChain(t *testing.T) {
	p := New(config.EffectsConfig{Enabled: true})

	assert.Equal(t, "volume=1.00", p.FilterChain("u1", 100))

	require.NoError(t, p.Set("u1", "bassboost"))
	assert.Equal(t, "bass=g=15:f=110:w=0.6,volume=0.75", p.FilterChain("u1", 75))

	// Other users keep the plain volume chain.
	assert.Equal(t, "volume=0.75", p.FilterChain("u2", 75))
}
