// Package track provides the Track domain entity.
package track

import "time"

// Track represents a playable media item resolved from an external source.
// ID is the source's stable media identifier; cached files, play counts and
// history entries are all keyed by it.
type Track struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Artist    string        `json:"artist,omitempty"`
	URL       string        `json:"url"`
	Duration  time.Duration `json:"duration"`
	FileSize  int64         `json:"file_size,omitempty"`
	Requester Requester     `json:"requester"`
}

// Requester identifies who asked for a track. UserID may be empty for tracks
// added by the system (radio refills, restored snapshots).
type Requester struct {
	Name   string `json:"name"`
	UserID string `json:"user_id,omitempty"`
}

// Source identifies how a track entered the queue.
type Source int

const (
	// SourceUser is a track requested directly by a user.
	SourceUser Source = iota
	// SourceRadio is a track added by the radio auto-refill.
	SourceRadio
	// SourceRestore is a track restored from a persisted snapshot.
	SourceRestore
)

// HistoryEntry is an append-only snapshot of a completed playback.
type HistoryEntry struct {
	Track    Track     `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

// Same reports whether two tracks refer to the same media item.
func (t Track) Same(other Track) bool {
	return t.ID == other.ID
}
