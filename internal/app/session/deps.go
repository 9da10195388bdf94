package session

import (
	"context"
	"time"

	"groovebox/internal/app/notification"
	"groovebox/internal/app/ratelimit"
	"groovebox/internal/domain/track"
	"groovebox/internal/infra/persistence"
)

// Transport plays audio into a voice channel.
type Transport interface {
	Connect(ctx context.Context, channelID string) error
	ChannelID() string
	Play(ctx context.Context, path, filterChain string, start time.Duration) error
	Pause()
	Resume()
	Paused() bool
	Stop()
	Reconnect(ctx context.Context, channelID string) error
	Close(ctx context.Context)
	OnIdle(fn func())
	OnDisconnected(fn func())
}

// Resolver turns user input into tracks.
type Resolver interface {
	ResolveTrack(ctx context.Context, input string) (track.Track, error)
}

// Fetcher downloads a track's audio to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, mediaURL, destPath string) error
}

// Cache is the on-disk audio cache. CheckHit counts toward popularity and
// hit rate; Has checks existence without recording anything.
type Cache interface {
	CheckHit(id string) (string, bool)
	Has(id string) bool
	Path(id string) string
	Touch(id string)
	IsPopular(id string) bool
	Evict(id string) bool
}

// SnapshotStore persists queue snapshots across restarts.
type SnapshotStore interface {
	Save(guildID string, snap persistence.Snapshot) error
	Delete(guildID string) error
}

// Effects builds the ffmpeg filter chain for a user and volume.
type Effects interface {
	FilterChain(userID string, volume int) string
}

// Volumes stores per-user playback volume.
type Volumes interface {
	Get(userID string) int
	Set(userID string, volume int) error
}

// Limiter throttles user actions.
type Limiter interface {
	Allow(guildID, userID string, action ratelimit.Action, roleIDs ...string) error
}

// Radio manages the guild's auto-refill station.
type Radio interface {
	Start(guildID string, seed track.Track) error
	Stop(guildID string)
	IsActive(guildID string) bool
	ShouldRefill(guildID string, queueLen int) bool
	MarkSeen(guildID string, ids ...string)
	UpdateSeed(guildID string, seed track.Track)
	NextTracks(ctx context.Context, guildID string) ([]track.Track, error)
}

// Expander resolves external playlist links into search queries.
type Expander interface {
	Expand(ctx context.Context, input string, limit int) ([]string, error)
}

// Notifier broadcasts session events.
type Notifier interface {
	Broadcast(event notification.Event)
}

// Deps bundles everything a session needs. Transport is per-session; the
// rest is shared across guilds. The admission chain is built per session
// because queue-aware filters need the session's own queue view.
type Deps struct {
	Transport Transport
	Resolver  Resolver
	Fetcher   Fetcher
	Cache     Cache
	Store     SnapshotStore
	Effects   Effects
	Volumes   Volumes
	Limiter   Limiter
	Radio     Radio
	Expander  Expander // nil when Spotify is not configured
	Notifier  Notifier
}
