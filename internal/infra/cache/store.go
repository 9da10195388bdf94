// Package cache provides an on-disk audio cache with popularity-aware eviction.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/renameio/v2"
	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/infra/config"
)

const statsFileName = ".cache_stats.json"

// fileStat tracks usage for a single cached file.
type fileStat struct {
	PlayCount  int       `json:"play_count"`
	LastAccess time.Time `json:"last_access"`
}

// statsFile is the persisted shape of the cache bookkeeping sidecar.
type statsFile struct {
	Hits   int                 `json:"hits"`
	Misses int                 `json:"misses"`
	Files  map[string]fileStat `json:"files"`
}

// Stats summarizes cache state and effectiveness.
type Stats struct {
	Hits       int
	Misses     int
	FileCount  int
	TotalBytes int64
	Popular    int
}

// FileInfo describes one cached file.
type FileInfo struct {
	ID         string
	Path       string
	Size       int64
	PlayCount  int
	LastAccess time.Time
	Popular    bool
}

// Store is an on-disk cache keyed by track ID. Files with a play count at or
// above the popularity threshold are never removed by Clean or Evict.
type Store struct {
	mu  sync.Mutex
	cfg config.CacheConfig

	hits   int
	misses int
	files  map[string]fileStat
}

// New creates the cache directory if needed and loads persisted bookkeeping.
func New(cfg config.CacheConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}

	s := &Store{
		cfg:   cfg,
		files: make(map[string]fileStat),
	}

	data, err := os.ReadFile(filepath.Join(cfg.Dir, statsFileName))
	if err == nil {
		var sf statsFile
		if jerr := json.Unmarshal(data, &sf); jerr != nil {
			zlog.Warn().Err(jerr).Msg("cache stats file is corrupt, starting fresh")
		} else {
			s.hits = sf.Hits
			s.misses = sf.Misses
			if sf.Files != nil {
				s.files = sf.Files
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to read cache stats")
	}

	// Drop bookkeeping for files that disappeared while the process was down.
	for id := range s.files {
		if _, err := os.Stat(s.pathLocked(id)); os.IsNotExist(err) {
			delete(s.files, id)
		}
	}

	return s, nil
}

// Path returns the on-disk path a track with the given ID is (or would be)
// cached at.
func (s *Store) Path(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pathLocked(id)
}

func (s *Store) pathLocked(id string) string {
	return filepath.Join(s.cfg.Dir, sanitizeID(id)+".opus")
}

// sanitizeID strips path separators so an ID cannot escape the cache dir.
func sanitizeID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(id)
}

// CheckHit reports whether the track is already cached. A hit bumps the play
// count and access time; both hits and misses update the persisted counters.
func (s *Store) CheckHit(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathLocked(id)
	if _, err := os.Stat(path); err != nil {
		s.misses++
		s.persistLocked()
		return "", false
	}

	s.hits++
	st := s.files[id]
	st.PlayCount++
	st.LastAccess = time.Now()
	s.files[id] = st
	s.persistLocked()

	return path, true
}

// Has reports whether the track is cached without recording a hit or a
// play. Prefetch and polling use it so queue position never inflates a
// file's popularity.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.pathLocked(id))
	return err == nil
}

// Touch records a play for a freshly downloaded file.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.files[id]
	st.PlayCount++
	st.LastAccess = time.Now()
	s.files[id] = st
	s.persistLocked()
}

// IsPopular reports whether the track's play count has reached the
// popularity threshold.
func (s *Store) IsPopular(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[id].PlayCount >= s.cfg.PopularThreshold
}

// Evict removes the cached file unless it is popular. It reports whether the
// file was removed.
func (s *Store) Evict(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.files[id].PlayCount >= s.cfg.PopularThreshold {
		return false
	}

	path := s.pathLocked(id)
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			zlog.Warn().Err(err).Str("path", path).Msg("failed to evict cached file")
			return false
		}
	}
	delete(s.files, id)
	s.persistLocked()
	return true
}

// Stats returns a snapshot of cache counters and disk usage.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Hits: s.hits, Misses: s.misses}
	for _, f := range s.listLocked() {
		st.FileCount++
		st.TotalBytes += f.Size
		if f.Popular {
			st.Popular++
		}
	}
	return st
}

// List returns all cached files with their bookkeeping, most played first.
func (s *Store) List() []FileInfo {
	s.mu.Lock()
	files := s.listLocked()
	s.mu.Unlock()

	sort.Slice(files, func(i, j int) bool {
		return files[i].PlayCount > files[j].PlayCount
	})
	return files
}

func (s *Store) listLocked() []FileInfo {
	var out []FileInfo
	for id, st := range s.files {
		path := s.pathLocked(id)
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			ID:         id,
			Path:       path,
			Size:       fi.Size(),
			PlayCount:  st.PlayCount,
			LastAccess: st.LastAccess,
			Popular:    st.PlayCount >= s.cfg.PopularThreshold,
		})
	}
	return out
}

// Clean applies the retention policy. Under budget it removes unpopular files
// older than the retention window. Over budget it additionally removes
// unpopular files, least valuable first, until usage drops to 80% of the
// budget. Popular files are never removed.
func (s *Store) Clean() (removed int, freed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := s.listLocked()
	var total int64
	for _, f := range files {
		total += f.Size
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	for _, f := range files {
		if f.Popular {
			continue
		}
		if f.LastAccess.After(cutoff) {
			continue
		}
		if s.removeLocked(f) {
			removed++
			freed += f.Size
			total -= f.Size
		}
	}

	budget := int64(s.cfg.MaxSizeMB) * 1024 * 1024
	if total > budget {
		target := budget * 8 / 10

		candidates := make([]FileInfo, 0, len(files))
		for _, f := range files {
			if f.Popular {
				continue
			}
			if _, ok := s.files[f.ID]; !ok {
				continue
			}
			candidates = append(candidates, f)
		}
		// Oldest access goes first, ties broken by lower play count.
		sort.Slice(candidates, func(i, j int) bool {
			if !candidates[i].LastAccess.Equal(candidates[j].LastAccess) {
				return candidates[i].LastAccess.Before(candidates[j].LastAccess)
			}
			return candidates[i].PlayCount < candidates[j].PlayCount
		})

		for _, f := range candidates {
			if total <= target {
				break
			}
			if s.removeLocked(f) {
				removed++
				freed += f.Size
				total -= f.Size
			}
		}

		if total > target {
			zlog.Warn().
				Int64("total_bytes", total).
				Int64("budget_bytes", budget).
				Msg("cache over budget but remaining files are all popular")
		}
	}

	s.persistLocked()

	if removed > 0 {
		zlog.Info().Int("removed", removed).Int64("freed_bytes", freed).Msg("cache clean complete")
	}
	return removed, freed
}

func (s *Store) removeLocked(f FileInfo) bool {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		zlog.Warn().Err(err).Str("path", f.Path).Msg("failed to remove cached file")
		return false
	}
	delete(s.files, f.ID)
	return true
}

// ClearAll removes every cached file and resets counters.
func (s *Store) ClearAll() (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.listLocked() {
		if rerr := os.Remove(f.Path); rerr != nil && !os.IsNotExist(rerr) {
			err = errors.CombineErrors(err, rerr)
			continue
		}
		removed++
	}
	s.files = make(map[string]fileStat)
	s.hits = 0
	s.misses = 0
	s.persistLocked()
	return removed, err
}

// persistLocked writes the bookkeeping sidecar atomically. Failures are
// logged, not returned; the cache stays usable with in-memory state.
func (s *Store) persistLocked() {
	sf := statsFile{Hits: s.hits, Misses: s.misses, Files: s.files}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		zlog.Warn().Err(err).Msg("failed to marshal cache stats")
		return
	}

	path := filepath.Join(s.cfg.Dir, statsFileName)
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		zlog.Warn().Err(err).Msg("failed to stage cache stats")
		return
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		zlog.Warn().Err(err).Msg("failed to write cache stats")
		return
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		zlog.Warn().Err(err).Msg("failed to replace cache stats")
	}
}
