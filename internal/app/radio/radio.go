// Package radio keeps per-guild auto-refill stations that top up the queue
// with tracks related to a seed.
package radio

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/domain/track"
	"groovebox/internal/infra/config"
)

const (
	// seenCapacity bounds how many suggested IDs a station remembers.
	seenCapacity = 500
	// seenFalsePositiveRate for the bloom front-end.
	seenFalsePositiveRate = 0.01
)

// TrackSource finds candidate tracks for a station.
type TrackSource interface {
	// Related returns tracks related to the seed track.
	Related(ctx context.Context, seedID string, limit int) ([]track.Track, error)
	// Search returns tracks matching a free-text query.
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
}

// Typed errors for radio operations.
var (
	ErrNotActive     = errors.New("radio is not active for this guild")
	ErrAlreadyActive = errors.New("radio is already active for this guild")
	ErrRadioDisabled = errors.New("radio mode is disabled")
	ErrNoCandidates  = errors.New("no fresh radio candidates found")
)

// station is one guild's active radio state.
type station struct {
	seed track.Track
	seen *seenSet
}

// Manager tracks active radio stations per guild.
type Manager struct {
	cfg    config.RadioConfig
	source TrackSource

	mu     sync.Mutex
	active map[string]*station
}

// NewManager creates a radio Manager backed by the given track source.
func NewManager(cfg config.RadioConfig, source TrackSource) *Manager {
	return &Manager{
		cfg:    cfg,
		source: source,
		active: make(map[string]*station),
	}
}

// Start activates radio for the guild, seeded by the given track. The seed
// itself is marked as seen so refills never suggest it back.
func (m *Manager) Start(guildID string, seed track.Track) error {
	if !m.cfg.Enabled {
		return ErrRadioDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[guildID]; ok {
		return ErrAlreadyActive
	}

	st := &station{
		seed: seed,
		seen: newSeenSet(seenCapacity, seenFalsePositiveRate),
	}
	st.seen.Add(seed.ID)
	m.active[guildID] = st

	zlog.Info().Str("guild_id", guildID).Str("seed", seed.ID).Msg("radio started")
	return nil
}

// Stop deactivates radio for the guild.
func (m *Manager) Stop(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[guildID]; ok {
		delete(m.active, guildID)
		zlog.Info().Str("guild_id", guildID).Msg("radio stopped")
	}
}

// IsActive reports whether radio is running for the guild.
func (m *Manager) IsActive(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[guildID]
	return ok
}

// Seed returns the guild's seed track.
func (m *Manager) Seed(guildID string) (track.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.active[guildID]
	if !ok {
		return track.Track{}, false
	}
	return st.seed, true
}

// UpdateSeed moves the station's seed to the given track so future refills
// follow what is actually playing. The new seed is marked seen.
func (m *Manager) UpdateSeed(guildID string, seed track.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.active[guildID]
	if !ok {
		return
	}
	st.seed = seed
	st.seen.Add(seed.ID)
}

// ShouldRefill reports whether the queue has drained to the refill mark.
func (m *Manager) ShouldRefill(guildID string, queueLen int) bool {
	if !m.IsActive(guildID) {
		return false
	}
	return queueLen <= m.cfg.RefillAt
}

// MarkSeen records externally queued tracks so refills skip them.
func (m *Manager) MarkSeen(guildID string, ids ...string) {
	m.mu.Lock()
	st, ok := m.active[guildID]
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, id := range ids {
		st.seen.Add(id)
	}
}

// NextTracks fetches fresh tracks for the guild's station. Related tracks
// are preferred; a title search fills in when the related feed runs dry.
// Returned tracks are marked seen and carry the radio requester.
func (m *Manager) NextTracks(ctx context.Context, guildID string) ([]track.Track, error) {
	m.mu.Lock()
	st, ok := m.active[guildID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotActive
	}

	candidates, err := m.source.Related(ctx, st.seed.ID, m.cfg.FetchCount)
	if err != nil {
		zlog.Warn().Err(err).Str("guild_id", guildID).Msg("related lookup failed, falling back to search")
		candidates = nil
	}

	fresh := m.takeFresh(st, candidates)
	if len(fresh) == 0 {
		candidates, err = m.source.Search(ctx, seedQuery(st.seed), m.cfg.FetchCount)
		if err != nil {
			return nil, errors.Wrap(err, "radio search fallback failed")
		}
		fresh = m.takeFresh(st, candidates)
	}

	if len(fresh) == 0 {
		return nil, ErrNoCandidates
	}

	for i := range fresh {
		fresh[i].Requester = track.Requester{Name: "Radio"}
	}
	return fresh, nil
}

// seedQuery builds the fallback search text from the seed's artist and
// title. Tracks without artist metadata search by title alone.
func seedQuery(seed track.Track) string {
	if seed.Artist == "" {
		return seed.Title
	}
	return seed.Artist + " " + seed.Title
}

// takeFresh filters out already-seen candidates and marks the rest seen.
func (m *Manager) takeFresh(st *station, candidates []track.Track) []track.Track {
	var fresh []track.Track
	for _, c := range candidates {
		if c.ID == "" || st.seen.Has(c.ID) {
			continue
		}
		st.seen.Add(c.ID)
		fresh = append(fresh, c)
	}
	return fresh
}
