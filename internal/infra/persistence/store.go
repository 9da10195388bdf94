// Package persistence saves and restores per-guild playback snapshots so a
// restart can pick up where it left off.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/renameio/v2"
	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/domain/track"
)

// Snapshot is the persisted playback state for one guild.
type Snapshot struct {
	NowPlaying *track.Track         `json:"now_playing,omitempty"`
	Queue      []track.Track        `json:"queue"`
	Loop       bool                 `json:"loop"`
	History    []track.HistoryEntry `json:"history,omitempty"`
	PlayCounts map[string]int       `json:"play_counts,omitempty"`
	VoiceID    string               `json:"voice_id"`
	TextID     string               `json:"text_id"`
	SavedAt    time.Time            `json:"saved_at"`
}

// Stats summarizes the persisted state.
type Stats struct {
	Guilds int
	Tracks int
	Oldest time.Time
}

// Store persists guild snapshots to a single JSON file, written atomically.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates the parent directory for the snapshot file if needed.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create persistence directory")
		}
	}
	return &Store{path: path}, nil
}

// Save writes the snapshot for the guild, stamping SavedAt.
func (s *Store) Save(guildID string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return err
	}
	snap.SavedAt = time.Now()
	all[guildID] = snap
	return s.writeLocked(all)
}

// Load returns the snapshot for the guild and removes it from disk, so a
// crash during restore cannot replay the same queue twice. The second return
// is false when no snapshot exists.
func (s *Store) Load(guildID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return Snapshot{}, false, err
	}
	snap, ok := all[guildID]
	if !ok {
		return Snapshot{}, false, nil
	}
	delete(all, guildID)
	if err := s.writeLocked(all); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// GuildIDs returns the IDs of all guilds with a persisted snapshot.
func (s *Store) GuildIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes the guild's snapshot if present.
func (s *Store) Delete(guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := all[guildID]; !ok {
		return nil
	}
	delete(all, guildID)
	return s.writeLocked(all)
}

// CleanupOlderThan drops snapshots saved before the given age and returns how
// many were removed.
func (s *Store) CleanupOlderThan(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, snap := range all {
		if snap.SavedAt.Before(cutoff) {
			delete(all, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.writeLocked(all); err != nil {
		return 0, err
	}
	zlog.Info().Int("removed", removed).Msg("removed stale playback snapshots")
	return removed, nil
}

// ClearAll removes every snapshot.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(map[string]Snapshot{})
}

// Stats returns a summary of persisted state.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocked()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Guilds: len(all)}
	for _, snap := range all {
		st.Tracks += len(snap.Queue)
		if snap.NowPlaying != nil {
			st.Tracks++
		}
		if st.Oldest.IsZero() || snap.SavedAt.Before(st.Oldest) {
			st.Oldest = snap.SavedAt
		}
	}
	return st, nil
}

func (s *Store) loadLocked() (map[string]Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Snapshot{}, nil
		}
		return nil, errors.Wrap(err, "failed to read snapshot file")
	}
	var all map[string]Snapshot
	if err := json.Unmarshal(data, &all); err != nil {
		// A corrupt file should not brick startup. Keep it for forensics.
		zlog.Warn().Err(err).Str("path", s.path).Msg("snapshot file is corrupt, ignoring")
		return map[string]Snapshot{}, nil
	}
	if all == nil {
		all = map[string]Snapshot{}
	}
	return all, nil
}

func (s *Store) writeLocked(all map[string]Snapshot) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal snapshots")
	}

	pf, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0644))
	if err != nil {
		return errors.Wrap(err, "failed to stage snapshot file")
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return errors.Wrap(err, "failed to write snapshot file")
	}
	return errors.Wrap(pf.CloseAtomicallyReplace(), "failed to replace snapshot file")
}
