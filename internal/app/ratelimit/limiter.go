// Package ratelimit provides per-user sliding window rate limiting for
// commands and playback requests.
package ratelimit

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"groovebox/internal/infra/config"
)

const (
	// windowDuration is the sliding window for admission counting.
	windowDuration = 60 * time.Second
	// sweepInterval is how often idle user entries are removed.
	sweepInterval = 5 * time.Minute
	// idleTimeout is how long before an idle user entry is dropped.
	idleTimeout = 5 * time.Minute
)

// Action classifies what the user is trying to do. Playback requests have a
// separate, tighter budget than ordinary commands.
type Action int

const (
	ActionCommand Action = iota
	ActionPlay
)

// ErrRateLimited is returned when a user has exhausted their window budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// userEntry tracks admission timestamps for one user in one guild.
type userEntry struct {
	commands []time.Time
	plays    []time.Time
	lastSeen time.Time
}

// Stats contains limiter state for monitoring.
type Stats struct {
	ActiveUsers       int `json:"active_users"`
	CommandsPerMinute int `json:"commands_per_minute"`
	PlaysPerMinute    int `json:"plays_per_minute"`
}

// Limiter applies per-user sliding window limits. Only admitted actions
// count against the window, so a throttled user hammering commands does not
// extend their own penalty.
type Limiter struct {
	cfg     config.RateLimitConfig
	mu      sync.RWMutex
	entries map[string]*userEntry // key: "guildID:userID"
	stop    chan struct{}
}

// New creates a Limiter and starts its background sweeper.
func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		entries: make(map[string]*userEntry),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Stop terminates the background sweeper.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow checks and records an action for the user. It returns ErrRateLimited
// (wrapped with a retry hint) when the window budget is spent. Exempt users
// and roles always pass and are never recorded.
func (l *Limiter) Allow(guildID, userID string, action Action, roleIDs ...string) error {
	if !l.cfg.Enabled {
		return nil
	}
	if l.isExempt(userID, roleIDs) {
		return nil
	}

	key := guildID + ":" + userID
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &userEntry{}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-windowDuration)
	entry.commands = pruneWindow(entry.commands, windowStart)
	entry.plays = pruneWindow(entry.plays, windowStart)

	// Every action counts against the command budget; plays additionally
	// count against their own.
	if len(entry.commands) >= l.cfg.CommandsPerMinute {
		return limitErr(entry.commands[0], now)
	}
	if action == ActionPlay && len(entry.plays) >= l.cfg.PlaysPerMinute {
		return limitErr(entry.plays[0], now)
	}

	entry.commands = append(entry.commands, now)
	if action == ActionPlay {
		entry.plays = append(entry.plays, now)
	}
	return nil
}

func limitErr(oldest, now time.Time) error {
	retryAfter := oldest.Add(windowDuration).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return errors.Wrapf(ErrRateLimited, "try again in %s", retryAfter.Round(time.Second))
}

func (l *Limiter) isExempt(userID string, roleIDs []string) bool {
	for _, id := range l.cfg.ExemptUsers {
		if id == userID {
			return true
		}
	}
	for _, role := range roleIDs {
		for _, exempt := range l.cfg.ExemptRoles {
			if role == exempt {
				return true
			}
		}
	}
	return false
}

// pruneWindow drops timestamps before windowStart, reusing slice capacity.
func pruneWindow(ts []time.Time, windowStart time.Time) []time.Time {
	valid := ts[:0]
	for _, t := range ts {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}

// UserStats contains one user's window usage.
type UserStats struct {
	Commands          int `json:"commands"`
	Plays             int `json:"plays"`
	CommandsRemaining int `json:"commands_remaining"`
	PlaysRemaining    int `json:"plays_remaining"`
}

// User returns the user's current window usage.
func (l *Limiter) User(guildID, userID string) UserStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := UserStats{
		CommandsRemaining: l.cfg.CommandsPerMinute,
		PlaysRemaining:    l.cfg.PlaysPerMinute,
	}
	entry, ok := l.entries[guildID+":"+userID]
	if !ok {
		return stats
	}
	windowStart := time.Now().Add(-windowDuration)
	entry.commands = pruneWindow(entry.commands, windowStart)
	entry.plays = pruneWindow(entry.plays, windowStart)
	stats.Commands = len(entry.commands)
	stats.Plays = len(entry.plays)
	stats.CommandsRemaining = max(0, l.cfg.CommandsPerMinute-stats.Commands)
	stats.PlaysRemaining = max(0, l.cfg.PlaysPerMinute-stats.Plays)
	return stats
}

// Reset clears the user's window, typically after an admin pardon.
func (l *Limiter) Reset(guildID, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, guildID+":"+userID)
}

// Stats returns limiter state for monitoring.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		ActiveUsers:       len(l.entries),
		CommandsPerMinute: l.cfg.CommandsPerMinute,
		PlaysPerMinute:    l.cfg.PlaysPerMinute,
	}
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) removeIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-idleTimeout)
	for key, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
