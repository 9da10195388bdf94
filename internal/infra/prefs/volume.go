// Package prefs holds per-user preference stores backed by JSON files.
package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/renameio/v2"
	zlog "github.com/rs/zerolog/log"
)

// volumeEntry is one user's persisted volume.
type volumeEntry struct {
	Volume    int       `json:"volume"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VolumeStats summarizes stored volume preferences.
type VolumeStats struct {
	Users   int
	Average int
}

// VolumeStore persists per-user playback volume (0..100).
type VolumeStore struct {
	mu   sync.Mutex
	path string
	def  int

	users map[string]volumeEntry
}

// ErrVolumeOutOfRange is returned for volumes outside 0..100.
var ErrVolumeOutOfRange = errors.New("volume must be between 0 and 100")

// NewVolumeStore loads persisted volumes, falling back to an empty store when
// the file does not exist yet.
func NewVolumeStore(path string, defaultVolume int) (*VolumeStore, error) {
	s := &VolumeStore{
		path:  path,
		def:   defaultVolume,
		users: make(map[string]volumeEntry),
	}
	if err := loadJSON(path, &s.users); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the user's volume, or the default when unset.
func (s *VolumeStore) Get(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.users[userID]; ok {
		return e.Volume
	}
	return s.def
}

// Set stores the user's volume.
func (s *VolumeStore) Set(userID string, volume int) error {
	if volume < 0 || volume > 100 {
		return ErrVolumeOutOfRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = volumeEntry{Volume: volume, UpdatedAt: time.Now()}
	return saveJSON(s.path, s.users)
}

// Reset removes the user's stored volume so Get falls back to the default.
func (s *VolumeStore) Reset(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil
	}
	delete(s.users, userID)
	return saveJSON(s.path, s.users)
}

// CleanupOlderThan drops entries not updated within the given age.
func (s *VolumeStore) CleanupOlderThan(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, e := range s.users {
		if e.UpdatedAt.Before(cutoff) {
			delete(s.users, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, saveJSON(s.path, s.users)
}

// Stats returns a summary of stored volumes.
func (s *VolumeStore) Stats() VolumeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := VolumeStats{Users: len(s.users)}
	if st.Users == 0 {
		return st
	}
	sum := 0
	for _, e := range s.users {
		sum += e.Volume
	}
	st.Average = sum / st.Users
	return st
}

// loadJSON reads a JSON file into dst, treating a missing file as empty and
// a corrupt file as empty with a warning.
func loadJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		zlog.Warn().Err(err).Str("path", path).Msg("preference file is corrupt, starting fresh")
	}
	return nil
}

// saveJSON writes dst to path atomically, creating parent directories.
func saveJSON(path string, src any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory for %s", path)
		}
	}
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal preferences")
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return errors.Wrapf(err, "failed to stage %s", path)
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return errors.Wrapf(pf.CloseAtomicallyReplace(), "failed to replace %s", path)
}
