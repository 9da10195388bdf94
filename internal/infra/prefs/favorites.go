package prefs

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"groovebox/internal/domain/track"
)

// Typed errors for favorites operations.
var (
	ErrAlreadyFavorite  = errors.New("track is already a favorite")
	ErrNotFavorite      = errors.New("track is not a favorite")
	ErrPlaylistExists   = errors.New("playlist already exists")
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrPlaylistLimit    = errors.New("playlist limit reached")
	ErrSongLimit        = errors.New("playlist song limit reached")
	ErrDuplicateSong    = errors.New("track is already in the playlist")
	ErrSongNotFound     = errors.New("track is not in the playlist")
)

// Playlist is a named ordered list of tracks.
type Playlist struct {
	Name      string        `json:"name"`
	Tracks    []track.Track `json:"tracks"`
	CreatedAt time.Time     `json:"created_at"`
}

// userFavorites is one user's persisted favorites and playlists.
type userFavorites struct {
	Favorites []track.Track `json:"favorites"`
	Playlists []Playlist    `json:"playlists"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// FavoritesStats summarizes stored favorites.
type FavoritesStats struct {
	Users     int
	Favorites int
	Playlists int
}

// FavoritesStore persists per-user favorite tracks and named playlists with
// configurable caps.
type FavoritesStore struct {
	mu              sync.Mutex
	path            string
	maxPlaylists    int
	maxSongsPerList int

	users map[string]*userFavorites
}

// NewFavoritesStore loads persisted favorites from path.
func NewFavoritesStore(path string, maxPlaylists, maxSongsPerPlaylist int) (*FavoritesStore, error) {
	s := &FavoritesStore{
		path:            path,
		maxPlaylists:    maxPlaylists,
		maxSongsPerList: maxSongsPerPlaylist,
		users:           make(map[string]*userFavorites),
	}
	if err := loadJSON(path, &s.users); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FavoritesStore) userLocked(userID string) *userFavorites {
	u, ok := s.users[userID]
	if !ok {
		u = &userFavorites{}
		s.users[userID] = u
	}
	return u
}

// AddFavorite appends the track to the user's favorites.
func (s *FavoritesStore) AddFavorite(userID string, t track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)
	for _, f := range u.Favorites {
		if f.Same(t) {
			return ErrAlreadyFavorite
		}
	}
	u.Favorites = append(u.Favorites, t)
	u.UpdatedAt = time.Now()
	return saveJSON(s.path, s.users)
}

// RemoveFavorite removes the track with the given ID from the user's favorites.
func (s *FavoritesStore) RemoveFavorite(userID, trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)
	for i, f := range u.Favorites {
		if f.ID == trackID {
			u.Favorites = append(u.Favorites[:i], u.Favorites[i+1:]...)
			u.UpdatedAt = time.Now()
			return saveJSON(s.path, s.users)
		}
	}
	return ErrNotFavorite
}

// Favorites returns a copy of the user's favorites.
func (s *FavoritesStore) Favorites(userID string) []track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	out := make([]track.Track, len(u.Favorites))
	copy(out, u.Favorites)
	return out
}

// CreatePlaylist creates an empty named playlist for the user.
func (s *FavoritesStore) CreatePlaylist(userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)
	if len(u.Playlists) >= s.maxPlaylists {
		return ErrPlaylistLimit
	}
	if s.findPlaylistLocked(u, name) != nil {
		return ErrPlaylistExists
	}
	u.Playlists = append(u.Playlists, Playlist{Name: name, CreatedAt: time.Now()})
	u.UpdatedAt = time.Now()
	return saveJSON(s.path, s.users)
}

// DeletePlaylist removes the named playlist.
func (s *FavoritesStore) DeletePlaylist(userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)
	for i, p := range u.Playlists {
		if p.Name == name {
			u.Playlists = append(u.Playlists[:i], u.Playlists[i+1:]...)
			u.UpdatedAt = time.Now()
			return saveJSON(s.path, s.users)
		}
	}
	return ErrPlaylistNotFound
}

// RenamePlaylist changes a playlist's name, keeping names unique per user.
func (s *FavoritesStore) RenamePlaylist(userID, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)
	if s.findPlaylistLocked(u, newName) != nil {
		return ErrPlaylistExists
	}
	p := s.findPlaylistLocked(u, oldName)
	if p == nil {
		return ErrPlaylistNotFound
	}
	p.Name = newName
	u.UpdatedAt = time.Now()
	return saveJSON(s.path, s.users)
}

// AddToPlaylist appends the track to the named playlist.
func (s *FavoritesStore) AddToPlaylist(userID, name string, t track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)
	p := s.findPlaylistLocked(u, name)
	if p == nil {
		return ErrPlaylistNotFound
	}
	if len(p.Tracks) >= s.maxSongsPerList {
		return ErrSongLimit
	}
	for _, existing := range p.Tracks {
		if existing.Same(t) {
			return ErrDuplicateSong
		}
	}
	p.Tracks = append(p.Tracks, t)
	u.UpdatedAt = time.Now()
	return saveJSON(s.path, s.users)
}

// RemoveFromPlaylist removes the track with the given ID from the playlist.
func (s *FavoritesStore) RemoveFromPlaylist(userID, name, trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)
	p := s.findPlaylistLocked(u, name)
	if p == nil {
		return ErrPlaylistNotFound
	}
	for i, t := range p.Tracks {
		if t.ID == trackID {
			p.Tracks = append(p.Tracks[:i], p.Tracks[i+1:]...)
			u.UpdatedAt = time.Now()
			return saveJSON(s.path, s.users)
		}
	}
	return ErrSongNotFound
}

// Playlist returns a copy of the named playlist.
func (s *FavoritesStore) Playlist(userID, name string) (Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return Playlist{}, ErrPlaylistNotFound
	}
	p := s.findPlaylistLocked(u, name)
	if p == nil {
		return Playlist{}, ErrPlaylistNotFound
	}
	out := *p
	out.Tracks = make([]track.Track, len(p.Tracks))
	copy(out.Tracks, p.Tracks)
	return out, nil
}

// Playlists returns the names of the user's playlists.
func (s *FavoritesStore) Playlists(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	names := make([]string, len(u.Playlists))
	for i, p := range u.Playlists {
		names[i] = p.Name
	}
	return names
}

// CleanupOlderThan drops users whose favorites have not changed within the
// given age.
func (s *FavoritesStore) CleanupOlderThan(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, u := range s.users {
		if u.UpdatedAt.Before(cutoff) {
			delete(s.users, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, saveJSON(s.path, s.users)
}

// Stats returns a summary of stored favorites.
func (s *FavoritesStore) Stats() FavoritesStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := FavoritesStats{Users: len(s.users)}
	for _, u := range s.users {
		st.Favorites += len(u.Favorites)
		st.Playlists += len(u.Playlists)
	}
	return st
}

func (s *FavoritesStore) findPlaylistLocked(u *userFavorites, name string) *Playlist {
	for i := range u.Playlists {
		if u.Playlists[i].Name == name {
			return &u.Playlists[i]
		}
	}
	return nil
}
