package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groovebox/internal/infra/config"
)

func newTestLimiter(cfg config.RateLimitConfig) *Limiter {
	cfg.Enabled = true
	if cfg.CommandsPerMinute == 0 {
		cfg.CommandsPerMinute = 10
	}
	if cfg.PlaysPerMinute == 0 {
		cfg.PlaysPerMinute = 5
	}
	return New(cfg)
}

func TestLimiter_AllowsWithinBudget(t *testing.T) {
	l := newTestLimiter(config.RateLimitConfig{CommandsPerMinute: 3})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.NoError(t, l.Allow("g1", "u1", ActionCommand), "command %d", i+1)
	}
	assert.ErrorIs(t, l.Allow("g1", "u1", ActionCommand), ErrRateLimited)
}

func TestLimiter_PlayBudgetIsTighter(t *testing.T) {
	l := newTestLimiter(config.RateLimitConfig{CommandsPerMinute: 10, PlaysPerMinute: 2})
	defer l.Stop()

	require.NoError(t, l.Allow("g1", "u1", ActionPlay))
	require.NoError(t, l.Allow("g1", "u1", ActionPlay))
	assert.ErrorIs(t, l.Allow("g1", "u1", ActionPlay), ErrRateLimited)

	// Ordinary commands still pass.
	assert.NoError(t, l.Allow("g1", "u1", ActionCommand))
}

func TestLimiter_RejectionsAreNotRecorded(t *testing.T) {
	l := newTestLimiter(config.RateLimitConfig{CommandsPerMinute: 2})
	defer l.Stop()

	require.NoError(t, l.Allow("g1", "u1", ActionCommand))
	require.NoError(t, l.Allow("g1", "u1", ActionCommand))

	// Hammering while throttled must not extend the penalty.
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, l.Allow("g1", "u1", ActionCommand), ErrRateLimited)
	}

	l.mu.Lock()
	assert.Len(t, l.entries["g1:u1"].commands, 2)
	l.mu.Unlock()
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l := newTestLimiter(config.RateLimitConfig{CommandsPerMinute: 2})
	defer l.Stop()

	require.NoError(t, l.Allow("g1", "u1", ActionCommand))
	require.NoError(t, l.Allow("g1", "u1", ActionCommand))
	require.ErrorIs(t, l.Allow("g1", "u1", ActionCommand), ErrRateLimited)

	// Backdate the recorded admissions past the window.
	l.mu.Lock()
	entry := l.entries["g1:u1"]
	for i := range entry.commands {
		entry.commands[i] = time.Now().Add(-61 * time.Second)
	}
	l.mu.Unlock()

	assert.NoError(t, l.Allow("g1", "u1", ActionCommand))
}

func TestLimiter_UsersAndGuildsAreIndependent(t *testing.T) {
	l := newTestLimiter(config.RateLimitConfig{CommandsPerMinute: 1})
	defer l.Stop()

	require.NoError(t, l.Allow("g1", "u1", ActionCommand))
	assert.ErrorIs(t, l.Allow("g1", "u1", ActionCommand), ErrRateLimited)

	assert.NoError(t, l.Allow("g1", "u2", ActionCommand))
	assert.NoError(t, l.Allow("g2", "u1", ActionCommand))
}

func TestLimiter_Exemptions(t *testing.T) {
	l := newTestLimiter(config.RateLimitConfig{
		CommandsPerMinute: 1,
		ExemptUsers:       []string{"admin_user"},
		ExemptRoles:       []string{"dj_role"},
	})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		assert.NoError(t, l.Allow("g1", "admin_user", ActionCommand))
		assert.NoError(t, l.Allow("g1", "u1", ActionPlay, "dj_role"))
	}

	// Exempt actions are never recorded.
	assert.Equal(t, 0, l.Stats().ActiveUsers)
}

func TestLimiter_DisabledAllowsEverything(t *testing.T) {
	l := New(config.RateLimitConfig{Enabled: false, CommandsPerMinute: 1})
	defer l.Stop()

	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Allow("g1", "u1", ActionPlay))
	}
}

func TestLimiter_UserAndReset(t *testing.T) {
	l := newTestLimiter(config.RateLimitConfig{CommandsPerMinute: 5, PlaysPerMinute: 2})
	defer l.Stop()

	require.NoError(t, l.Allow("g1", "u1", ActionCommand))
	require.NoError(t, l.Allow("g1", "u1", ActionPlay))

	stats := l.User("g1", "u1")
	assert.Equal(t, 2, stats.Commands)
	assert.Equal(t, 1, stats.Plays)
	assert.Equal(t, 3, stats.CommandsRemaining)
	assert.Equal(t, 1, stats.PlaysRemaining)

	l.Reset("g1", "u1")
	stats = l.User("g1", "u1")
	assert.Equal(t, 0, stats.Commands)
	assert.Equal(t, 5, stats.CommandsRemaining)
}

func TestLimiter_RemoveIdle(t *testing.T) {
	l := newTestLimiter(config.RateLimitConfig{})
	defer l.Stop()

	require.NoError(t, l.Allow("g1", "u1", ActionCommand))
	require.NoError(t, l.Allow("g1", "u2", ActionCommand))

	// u1 has been idle past the five minute window, u2 has not.
	l.mu.Lock()
	l.entries["g1:u1"].lastSeen = time.Now().Add(-6 * time.Minute)
	l.entries["g1:u2"].lastSeen = time.Now().Add(-4 * time.Minute)
	l.mu.Unlock()

	l.removeIdle()
	assert.Equal(t, 1, l.Stats().ActiveUsers)
}
