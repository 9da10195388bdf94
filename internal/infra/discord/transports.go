package discord

import "sync"

// TransportSet tracks the live voice transport of each guild so gateway
// voice state events can be routed to the right one.
type TransportSet struct {
	mu         sync.RWMutex
	transports map[string]*VoiceTransport
}

// NewTransportSet creates an empty transport set.
func NewTransportSet() *TransportSet {
	return &TransportSet{transports: make(map[string]*VoiceTransport)}
}

// Put registers a guild's transport.
func (s *TransportSet) Put(guildID string, t *VoiceTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports[guildID] = t
}

// Get returns the guild's transport if one is registered.
func (s *TransportSet) Get(guildID string) (*VoiceTransport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transports[guildID]
	return t, ok
}

// Remove drops the guild's transport.
func (s *TransportSet) Remove(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transports, guildID)
}
