// Package registry tracks one playback session per guild.
package registry

import (
	"context"
	"sync"

	"groovebox/internal/app/session"
)

// Factory builds a new session for a guild.
type Factory func(guildID string) *session.Session

// Registry maps guild IDs to their playback sessions. At most one session
// exists per guild at any time.
type Registry struct {
	mu       sync.Mutex
	factory  Factory
	sessions map[string]*session.Session
}

// New creates a registry using the given session factory.
func New(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		sessions: make(map[string]*session.Session),
	}
}

// GetOrCreate returns the guild's session, creating it on first use. A
// terminated session is replaced by a fresh one.
func (r *Registry) GetOrCreate(guildID string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok && s.State() != session.StateTerminated {
		return s
	}
	s := r.factory(guildID)
	r.sessions[guildID] = s
	return s
}

// Get returns the guild's session if one exists.
func (r *Registry) Get(guildID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Remove terminates and drops the guild's session.
func (r *Registry) Remove(ctx context.Context, guildID string) {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()

	if ok {
		s.Terminate(ctx)
	}
}

// All returns every live session.
func (r *Registry) All() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll terminates every session. Used during shutdown so each session
// persists its queue before the process exits.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Terminate(ctx)
	}
}
