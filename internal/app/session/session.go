package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/app/filter"
	"groovebox/internal/app/notification"
	"groovebox/internal/app/radio"
	"groovebox/internal/app/ratelimit"
	"groovebox/internal/domain/track"
	"groovebox/internal/infra/config"
	"groovebox/internal/infra/persistence"
	"groovebox/internal/infra/resolver"
	"groovebox/internal/infra/spotify"
)

// Errors
var (
	ErrTerminated     = errors.New("session is terminated")
	ErrNoTrack        = errors.New("no track playing")
	ErrQueueEmpty     = errors.New("queue is empty")
	ErrNotPlaying     = errors.New("not playing")
	ErrNotPaused      = errors.New("not paused")
	ErrRejected       = errors.New("track rejected")
	ErrSeekOutOfRange = errors.New("seek position is outside the track")
)

// reconnectTimeout bounds a single voice reconnect attempt.
const reconnectTimeout = 10 * time.Second

// PlayRequest carries a user's play command.
type PlayRequest struct {
	Input          string
	UserID         string
	UserName       string
	RoleIDs        []string
	VoiceChannelID string
	TextChannelID  string
}

// PlayResult reports what happened to each requested track.
type PlayResult struct {
	Queued   []track.Track
	Warnings []string
	Rejected map[string]string // title (or input) -> rejection code
}

// Session is one guild's playback session. All mutations go through the
// session mutex; transport callbacks re-check liveness before acting.
type Session struct {
	guildID string
	cfg     config.Config
	deps    Deps
	chain   *filter.Chain

	mu             sync.Mutex
	state          State
	queue          []track.Track
	nowPlaying     *track.Track
	loop           bool
	history        []track.HistoryEntry
	playCounts     map[string]int
	voiceChannelID string
	textChannelID  string
	failures       int
	dispatching    bool
	redispatch     bool

	downloading  map[string]struct{}
	deleteTimers map[string]func()
}

// New creates a session for the guild and wires the transport callbacks.
// buildChain constructs the admission chain against this session's queue.
func New(guildID string, cfg config.Config, deps Deps, buildChain func(filter.QueueView) *filter.Chain) *Session {
	s := &Session{
		guildID:      guildID,
		cfg:          cfg,
		deps:         deps,
		state:        StateIdle,
		playCounts:   make(map[string]int),
		downloading:  make(map[string]struct{}),
		deleteTimers: make(map[string]func()),
	}
	if buildChain != nil {
		s.chain = buildChain(s)
	} else {
		s.chain = filter.NewChain()
	}

	deps.Transport.OnIdle(s.handleTrackEnd)
	deps.Transport.OnDisconnected(s.handleDisconnect)
	return s
}

// GuildID returns the guild this session belongs to.
func (s *Session) GuildID() string {
	return s.guildID
}

// Tracks returns a copy of the pending queue. It also serves the admission
// filters as their queue view.
func (s *Session) Tracks() []track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]track.Track, len(s.queue))
	copy(out, s.queue)
	return out
}

// State returns the current playback state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Play resolves the input, runs admission, enqueues and starts playback if
// the session is idle. Spotify links are expanded into one search query per
// track first.
func (s *Session) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if s.State() == StateTerminated {
		return PlayResult{}, ErrTerminated
	}

	if err := s.deps.Limiter.Allow(s.guildID, req.UserID, ratelimit.ActionPlay, req.RoleIDs...); err != nil {
		return PlayResult{}, err
	}

	inputs := []string{req.Input}
	if spotify.IsSpotifyURL(req.Input) {
		if s.deps.Expander == nil {
			return PlayResult{}, spotify.ErrNotConfigured
		}
		queries, err := s.deps.Expander.Expand(ctx, req.Input, s.cfg.Queue.MaxSize)
		if err != nil {
			return PlayResult{}, errors.Wrap(err, "failed to expand spotify link")
		}
		inputs = queries
	}

	requester := track.Requester{Name: req.UserName, UserID: req.UserID}
	freq := filter.Request{GuildID: s.guildID, UserID: req.UserID, RoleIDs: req.RoleIDs}
	single := len(inputs) == 1

	result := PlayResult{Rejected: make(map[string]string)}
	for _, input := range inputs {
		t, err := s.deps.Resolver.ResolveTrack(ctx, input)
		if err != nil {
			if single {
				return result, err
			}
			result.Rejected[input] = "resolve_failed"
			continue
		}
		t.Requester = requester

		fres := s.chain.Execute(ctx, freq, t, track.SourceUser)
		if !fres.Accepted {
			if single {
				return result, errors.Wrapf(ErrRejected, "%s", fres.Code)
			}
			result.Rejected[t.Title] = fres.Code
			continue
		}
		result.Warnings = append(result.Warnings, fres.Warnings...)

		s.mu.Lock()
		if s.state == StateTerminated {
			s.mu.Unlock()
			return result, ErrTerminated
		}
		s.queue = append(s.queue, t)
		position := len(s.queue)
		if req.VoiceChannelID != "" {
			s.voiceChannelID = req.VoiceChannelID
		}
		if req.TextChannelID != "" {
			s.textChannelID = req.TextChannelID
		}
		s.mu.Unlock()

		s.deps.Radio.MarkSeen(s.guildID, t.ID)
		queued := t
		s.deps.Notifier.Broadcast(notification.Event{
			Type:     notification.EventQueued,
			GuildID:  s.guildID,
			Track:    &queued,
			Position: position,
			Warnings: fres.Warnings,
		})
		result.Queued = append(result.Queued, t)
	}

	if len(result.Queued) == 0 {
		return result, ErrRejected
	}
	s.persist()

	s.mu.Lock()
	idle := s.state == StateIdle && s.nowPlaying == nil
	channelID := s.voiceChannelID
	s.mu.Unlock()

	if idle {
		if channelID != "" {
			if err := s.deps.Transport.Connect(ctx, channelID); err != nil {
				return result, errors.Wrap(err, "failed to join voice channel")
			}
		}
		s.dispatch(ctx)
	}
	return result, nil
}

// dispatch claims the single dispatch slot and runs the dispatch loop.
// Concurrent callers collapse into one running loop; a caller that loses
// the claim leaves its track waiting in the queue and flags a re-run in
// case the loop already passed its pop.
func (s *Session) dispatch(ctx context.Context) {
	s.mu.Lock()
	if s.dispatching {
		s.redispatch = true
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	s.mu.Unlock()

	for {
		s.dispatchLoop(ctx)

		s.mu.Lock()
		again := s.redispatch && s.nowPlaying == nil &&
			s.state != StateTerminated && s.state != StateReconnecting
		s.redispatch = false
		if !again {
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// dispatchLoop pops and plays the next playable track. Fetch failures skip
// forward up to the consecutive-skip cap; an empty queue triggers a radio
// refill before the session goes idle.
func (s *Session) dispatchLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.state == StateTerminated || s.state == StateReconnecting || s.nowPlaying != nil {
			s.mu.Unlock()
			return
		}

		if len(s.queue) == 0 {
			refill := s.deps.Radio.ShouldRefill(s.guildID, 0)
			s.mu.Unlock()
			if refill && s.radioRefill(ctx) {
				continue
			}

			s.mu.Lock()
			s.nowPlaying = nil
			s.state = StateIdle
			s.mu.Unlock()

			s.deps.Notifier.Broadcast(notification.Event{Type: notification.EventQueueEnd, GuildID: s.guildID})
			if err := s.deps.Store.Delete(s.guildID); err != nil {
				zlog.Warn().Err(err).Str("guild_id", s.guildID).Msg("failed to drop empty snapshot")
			}
			if s.cfg.Playback.DisconnectOnEmptyQueue {
				s.deps.Transport.Close(ctx)
			}
			return
		}

		t := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		path, hit := s.deps.Cache.CheckHit(t.ID)
		if !hit {
			bcast := t
			s.deps.Notifier.Broadcast(notification.Event{
				Type:    notification.EventDownloading,
				GuildID: s.guildID,
				Track:   &bcast,
			})

			path = s.deps.Cache.Path(t.ID)
			if err := s.fetchTrack(ctx, t, path); err != nil {
				s.deps.Notifier.Broadcast(notification.Event{
					Type:    notification.EventDownloadError,
					GuildID: s.guildID,
					Track:   &bcast,
					Message: rejectionReason(err),
				})
				if s.abortDispatch(err) {
					return
				}
				continue
			}
			s.deps.Cache.Touch(t.ID)
		}

		volume := s.deps.Volumes.Get(t.Requester.UserID)
		filterChain := s.deps.Effects.FilterChain(t.Requester.UserID, volume)
		if err := s.deps.Transport.Play(ctx, path, filterChain, 0); err != nil {
			zlog.Error().Err(err).Str("guild_id", s.guildID).Str("track", t.ID).Msg("transport rejected track")
			if s.abortDispatch(err) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.failures = 0
		playing := t
		s.nowPlaying = &playing
		s.state = StatePlaying
		s.mu.Unlock()

		s.cancelEviction(t.ID)
		s.deps.Radio.UpdateSeed(s.guildID, playing)
		s.deps.Notifier.Broadcast(notification.Event{
			Type:    notification.EventNowPlaying,
			GuildID: s.guildID,
			Track:   &playing,
		})
		s.persist()
		s.maybeRefill(ctx)
		s.preemptiveFetch()
		return
	}
}

// maybeRefill tops up from the radio when the queue reaches its low-water
// mark.
func (s *Session) maybeRefill(ctx context.Context) {
	s.mu.Lock()
	queueLen := len(s.queue)
	s.mu.Unlock()

	if !s.deps.Radio.ShouldRefill(s.guildID, queueLen) {
		return
	}
	s.radioRefill(ctx)
}

// abortDispatch counts a dispatch failure and reports whether the loop
// should give up. Age-restricted and unavailable tracks only abort when
// skipping them is disabled.
func (s *Session) abortDispatch(err error) bool {
	if errors.Is(err, resolver.ErrAgeRestricted) && !s.cfg.Playback.SkipAgeRestricted {
		s.goIdle()
		return true
	}
	if errors.Is(err, resolver.ErrUnavailable) && !s.cfg.Playback.SkipUnavailable {
		s.goIdle()
		return true
	}

	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	if failures >= s.cfg.Playback.MaxConsecutiveSkips {
		zlog.Error().Str("guild_id", s.guildID).Int("failures", failures).
			Msg("too many consecutive fetch failures, going idle")
		s.goIdle()
		return true
	}
	return false
}

func (s *Session) goIdle() {
	s.mu.Lock()
	s.failures = 0
	s.nowPlaying = nil
	if s.state != StateTerminated {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// rejectionReason renders a fetch error for user-facing messages.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, resolver.ErrAgeRestricted):
		return "age restricted"
	case errors.Is(err, resolver.ErrUnavailable):
		return "unavailable"
	default:
		return "download failed"
	}
}

// fetchTrack downloads a track, deduplicating concurrent fetches of the
// same ID.
func (s *Session) fetchTrack(ctx context.Context, t track.Track, path string) error {
	s.mu.Lock()
	if _, busy := s.downloading[t.ID]; busy {
		s.mu.Unlock()
		// A preemptive fetch is already on it; poll for completion.
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			s.mu.Lock()
			_, busy := s.downloading[t.ID]
			s.mu.Unlock()
			if !busy {
				if s.deps.Cache.Has(t.ID) {
					return nil
				}
				return errors.New("concurrent fetch failed")
			}
		}
	}
	s.downloading[t.ID] = struct{}{}
	s.mu.Unlock()

	var err error
	for attempt := 0; attempt <= s.cfg.Playback.MaxRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			if err != nil {
				break
			}
		}
		err = s.deps.Fetcher.Fetch(ctx, t.URL, path)
		if err == nil || errors.Is(err, resolver.ErrAgeRestricted) || errors.Is(err, resolver.ErrUnavailable) {
			break
		}
		zlog.Warn().Err(err).Str("track", t.ID).Int("attempt", attempt+1).Msg("fetch failed, retrying")
	}

	s.mu.Lock()
	delete(s.downloading, t.ID)
	s.mu.Unlock()
	return err
}

// preemptiveFetch downloads upcoming queue entries in the background so the
// next dispatch hits the cache. Failures stay silent; dispatch will retry
// and report properly.
func (s *Session) preemptiveFetch() {
	if !s.cfg.Playback.PreemptiveDownload {
		return
	}

	s.mu.Lock()
	count := s.cfg.Playback.PreemptiveDownloadCount
	if count > len(s.queue) {
		count = len(s.queue)
	}
	upcoming := make([]track.Track, count)
	copy(upcoming, s.queue[:count])
	s.mu.Unlock()

	for _, t := range upcoming {
		if s.deps.Cache.Has(t.ID) {
			continue
		}
		s.mu.Lock()
		if _, busy := s.downloading[t.ID]; busy {
			s.mu.Unlock()
			continue
		}
		s.downloading[t.ID] = struct{}{}
		s.mu.Unlock()

		go func(t track.Track) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			err := s.deps.Fetcher.Fetch(ctx, t.URL, s.deps.Cache.Path(t.ID))
			s.mu.Lock()
			delete(s.downloading, t.ID)
			s.mu.Unlock()
			if err != nil {
				zlog.Debug().Err(err).Str("track", t.ID).Msg("preemptive fetch failed")
			}
		}(t)
	}
}

// radioRefill tops up the queue from the radio station. It reports whether
// any tracks were added.
func (s *Session) radioRefill(ctx context.Context) bool {
	tracks, err := s.deps.Radio.NextTracks(ctx, s.guildID)
	if err != nil {
		if errors.Is(err, radio.ErrNoCandidates) {
			zlog.Debug().Str("guild_id", s.guildID).Msg("radio has no fresh candidates")
		} else if !errors.Is(err, radio.ErrNotActive) {
			zlog.Warn().Err(err).Str("guild_id", s.guildID).Msg("radio refill failed")
		}
		return false
	}

	freq := filter.Request{GuildID: s.guildID}
	added := 0
	s.mu.Lock()
	for _, t := range tracks {
		s.mu.Unlock()
		fres := s.chain.Execute(ctx, freq, t, track.SourceRadio)
		s.mu.Lock()
		if !fres.Accepted {
			continue
		}
		s.queue = append(s.queue, t)
		added++
	}
	s.mu.Unlock()

	if added == 0 {
		return false
	}
	s.deps.Notifier.Broadcast(notification.Event{
		Type:    notification.EventRadioRefill,
		GuildID: s.guildID,
		Count:   added,
	})
	s.persist()
	return true
}

// handleTrackEnd runs when a track plays to completion. Loop mode reinserts
// the finished track at the head before anything else can cut in line.
func (s *Session) handleTrackEnd() {
	s.mu.Lock()
	if s.state == StateTerminated || s.nowPlaying == nil {
		s.mu.Unlock()
		return
	}
	finished := *s.nowPlaying
	s.nowPlaying = nil

	if s.loop {
		s.queue = append([]track.Track{finished}, s.queue...)
	}
	if s.cfg.History.Enabled {
		s.history = append(s.history, track.HistoryEntry{Track: finished, PlayedAt: time.Now()})
		if max := s.cfg.History.MaxEntries; max > 0 && len(s.history) > max {
			s.history = s.history[len(s.history)-max:]
		}
	}
	s.playCounts[finished.ID]++
	loop := s.loop
	s.mu.Unlock()

	if !loop {
		s.scheduleEviction(finished.ID)
	}
	s.dispatch(context.Background())
}

// scheduleEviction arms a cancellable timer that evicts the cached file
// after the post-play window, unless the track is queued or playing again.
func (s *Session) scheduleEviction(id string) {
	delay := s.cfg.PostPlayDeleteDelay()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.deleteTimers[id]; ok {
		cancel()
	}
	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.deleteTimers, id)
		inUse := s.state == StateTerminated ||
			(s.nowPlaying != nil && s.nowPlaying.ID == id) ||
			s.queuedLocked(id)
		s.mu.Unlock()
		if inUse {
			return
		}
		s.deps.Cache.Evict(id)
	})
	s.deleteTimers[id] = func() { timer.Stop() }
}

func (s *Session) cancelEviction(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.deleteTimers[id]; ok {
		cancel()
		delete(s.deleteTimers, id)
	}
}

func (s *Session) queuedLocked(id string) bool {
	for _, t := range s.queue {
		if t.ID == id {
			return true
		}
	}
	return false
}

// handleDisconnect runs when the voice connection drops. With auto
// reconnect enabled it retries with a bounded budget, resuming the
// interrupted track from its cached file on success.
func (s *Session) handleDisconnect() {
	s.mu.Lock()
	if s.state == StateTerminated || s.state == StateReconnecting {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Playback.AutoReconnect {
		s.nowPlaying = nil
		s.state = StateIdle
		s.mu.Unlock()
		s.persist()
		return
	}
	s.state = StateReconnecting
	channelID := s.voiceChannelID
	s.mu.Unlock()

	go s.reconnectLoop(channelID)
}

func (s *Session) reconnectLoop(channelID string) {
	attempts := s.cfg.Playback.ReconnectAttempts

	for attempt := 1; attempt <= attempts; attempt++ {
		if s.State() == StateTerminated {
			return
		}
		s.deps.Notifier.Broadcast(notification.Event{
			Type:     notification.EventReconnecting,
			GuildID:  s.guildID,
			Attempt:  attempt,
			Attempts: attempts,
		})

		ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
		err := s.deps.Transport.Reconnect(ctx, channelID)
		cancel()
		if err == nil {
			s.deps.Notifier.Broadcast(notification.Event{Type: notification.EventReconnected, GuildID: s.guildID})

			s.mu.Lock()
			if s.state == StateTerminated {
				s.mu.Unlock()
				return
			}
			// Resume the interrupted track from the front of the queue.
			if s.nowPlaying != nil {
				s.queue = append([]track.Track{*s.nowPlaying}, s.queue...)
				s.nowPlaying = nil
			}
			s.state = StateIdle
			s.mu.Unlock()

			s.dispatch(context.Background())
			return
		}

		zlog.Warn().Err(err).Str("guild_id", s.guildID).
			Int("attempt", attempt).Msg("voice reconnect failed")
		if attempt < attempts {
			time.Sleep(s.cfg.ReconnectDelay())
		}
	}

	// Budget exhausted. Terminate permanently; the snapshot survives so a
	// later session can restore the queue.
	s.deps.Notifier.Broadcast(notification.Event{Type: notification.EventReconnectFailed, GuildID: s.guildID})
	s.Terminate(context.Background())
}

// Skip stops the current track and plays the next one. Skipped tracks do
// not count as plays and are not reinserted by loop mode.
func (s *Session) Skip() error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	if s.nowPlaying == nil {
		s.mu.Unlock()
		return ErrNoTrack
	}
	skipped := *s.nowPlaying
	s.nowPlaying = nil
	s.mu.Unlock()

	s.deps.Transport.Stop()
	s.scheduleEviction(skipped.ID)
	s.dispatch(context.Background())
	return nil
}

// Seek restarts the current track at the given position. The transport
// re-streams from the cached file, so the track must still be on disk.
func (s *Session) Seek(ctx context.Context, pos time.Duration) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	if s.nowPlaying == nil {
		s.mu.Unlock()
		return ErrNoTrack
	}
	current := *s.nowPlaying
	s.mu.Unlock()

	if pos < 0 || (current.Duration > 0 && pos >= current.Duration) {
		return ErrSeekOutOfRange
	}
	if !s.deps.Cache.Has(current.ID) {
		return errors.Wrap(ErrNoTrack, "cached audio is gone")
	}

	volume := s.deps.Volumes.Get(current.Requester.UserID)
	filterChain := s.deps.Effects.FilterChain(current.Requester.UserID, volume)
	if err := s.deps.Transport.Play(ctx, s.deps.Cache.Path(current.ID), filterChain, pos); err != nil {
		return errors.Wrap(err, "failed to restart playback")
	}

	s.mu.Lock()
	if s.state == StatePaused {
		s.state = StatePlaying
	}
	s.mu.Unlock()

	s.deps.Notifier.Broadcast(notification.Event{
		Type:    notification.EventSeeked,
		GuildID: s.guildID,
		Track:   &current,
		Elapsed: pos,
	})
	return nil
}

// SaveQueue snapshots the session to disk on demand, independent of the
// automatic persistence setting.
func (s *Session) SaveQueue() error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	if s.nowPlaying == nil && len(s.queue) == 0 {
		s.mu.Unlock()
		return ErrQueueEmpty
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return s.deps.Store.Save(s.guildID, snap)
}

// Stop halts playback, clears the queue and deactivates radio.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	stopped := s.nowPlaying
	s.nowPlaying = nil
	s.queue = nil
	s.state = StateIdle
	s.failures = 0
	s.mu.Unlock()

	s.deps.Transport.Stop()
	s.deps.Radio.Stop(s.guildID)
	if stopped != nil {
		s.scheduleEviction(stopped.ID)
	}
	if err := s.deps.Store.Delete(s.guildID); err != nil {
		zlog.Warn().Err(err).Str("guild_id", s.guildID).Msg("failed to drop snapshot")
	}
	s.deps.Notifier.Broadcast(notification.Event{Type: notification.EventStopped, GuildID: s.guildID})
	return nil
}

// Pause pauses the current track.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return ErrTerminated
	}
	if s.nowPlaying == nil {
		return ErrNoTrack
	}
	if s.state != StatePlaying {
		return ErrNotPlaying
	}
	s.deps.Transport.Pause()
	s.state = StatePaused
	return nil
}

// Resume resumes paused playback.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return ErrTerminated
	}
	if s.nowPlaying == nil {
		return ErrNoTrack
	}
	if s.state != StatePaused {
		return ErrNotPaused
	}
	s.deps.Transport.Resume()
	s.state = StatePlaying
	return nil
}

// Shuffle randomizes the pending queue.
func (s *Session) Shuffle() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return ErrTerminated
	}
	if len(s.queue) == 0 {
		return ErrQueueEmpty
	}
	rand.Shuffle(len(s.queue), func(i, j int) {
		s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
	})
	return nil
}

// ToggleLoop flips loop mode and returns the new value.
func (s *Session) ToggleLoop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = !s.loop
	return s.loop
}

// Loop reports whether loop mode is active.
func (s *Session) Loop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// Clear empties the pending queue, leaving the current track playing. It
// returns how many tracks were removed.
func (s *Session) Clear() int {
	s.mu.Lock()
	removed := len(s.queue)
	s.queue = nil
	s.mu.Unlock()

	s.persist()
	return removed
}

// SetVolume stores the user's volume. It applies from the next track the
// user plays.
func (s *Session) SetVolume(userID string, volume int) error {
	return s.deps.Volumes.Set(userID, volume)
}

// NowPlaying returns the current track.
func (s *Session) NowPlaying() (track.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nowPlaying == nil {
		return track.Track{}, false
	}
	return *s.nowPlaying, true
}

// History returns the most recent completed plays, newest last. A limit of
// zero returns everything retained.
func (s *Session) History(limit int) []track.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]track.HistoryEntry, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// PlayCount returns how many times the track completed in this session.
func (s *Session) PlayCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playCounts[id]
}

// StartRadio activates the radio seeded by the current track, or the most
// recent history entry when nothing is playing.
func (s *Session) StartRadio(ctx context.Context) error {
	s.mu.Lock()
	var seed *track.Track
	if s.nowPlaying != nil {
		cp := *s.nowPlaying
		seed = &cp
	} else if len(s.history) > 0 {
		cp := s.history[len(s.history)-1].Track
		seed = &cp
	}
	idle := s.state == StateIdle && s.nowPlaying == nil
	s.mu.Unlock()

	if seed == nil {
		return ErrNoTrack
	}
	if err := s.deps.Radio.Start(s.guildID, *seed); err != nil {
		return err
	}
	if idle {
		s.dispatch(ctx)
	}
	return nil
}

// StopRadio deactivates the radio.
func (s *Session) StopRadio() {
	s.deps.Radio.Stop(s.guildID)
}

// RadioActive reports whether the radio is running.
func (s *Session) RadioActive() bool {
	return s.deps.Radio.IsActive(s.guildID)
}

// Restore loads a persisted snapshot and resumes playback. The interrupted
// track goes back to the head of the queue; restored tracks skip admission.
func (s *Session) Restore(ctx context.Context, snap persistence.Snapshot) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	s.loop = snap.Loop
	if snap.NowPlaying != nil {
		s.queue = append(s.queue, *snap.NowPlaying)
	}
	s.queue = append(s.queue, snap.Queue...)
	s.history = append(s.history, snap.History...)
	for id, n := range snap.PlayCounts {
		s.playCounts[id] += n
	}
	s.voiceChannelID = snap.VoiceID
	s.textChannelID = snap.TextID
	empty := len(s.queue) == 0
	channelID := s.voiceChannelID
	s.mu.Unlock()

	if empty {
		return ErrQueueEmpty
	}
	if channelID != "" {
		if err := s.deps.Transport.Connect(ctx, channelID); err != nil {
			return errors.Wrap(err, "failed to rejoin voice channel")
		}
	}
	s.dispatch(ctx)
	return nil
}

// TextChannelID returns the text channel bound to this session.
func (s *Session) TextChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textChannelID
}

// Terminate persists pending state, cancels timers and tears down the
// voice connection. The session accepts no operations afterwards.
func (s *Session) Terminate(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	hasWork := s.nowPlaying != nil || len(s.queue) > 0
	s.mu.Unlock()

	if hasWork {
		s.persist()
	}

	s.mu.Lock()
	s.state = StateTerminated
	for id, cancel := range s.deleteTimers {
		cancel()
		delete(s.deleteTimers, id)
	}
	s.mu.Unlock()

	s.deps.Radio.Stop(s.guildID)
	s.deps.Transport.Close(ctx)
}

// snapshotLocked builds the persistence snapshot from current state. The
// caller holds the session mutex.
func (s *Session) snapshotLocked() persistence.Snapshot {
	snap := persistence.Snapshot{
		Queue:   make([]track.Track, len(s.queue)),
		Loop:    s.loop,
		VoiceID: s.voiceChannelID,
		TextID:  s.textChannelID,
	}
	copy(snap.Queue, s.queue)
	if s.nowPlaying != nil {
		cp := *s.nowPlaying
		snap.NowPlaying = &cp
	}
	if len(s.history) > 0 {
		snap.History = make([]track.HistoryEntry, len(s.history))
		copy(snap.History, s.history)
	}
	if len(s.playCounts) > 0 {
		snap.PlayCounts = make(map[string]int, len(s.playCounts))
		for id, n := range s.playCounts {
			snap.PlayCounts[id] = n
		}
	}
	return snap
}

// persist saves the session's queue snapshot. Write failures are logged,
// not returned; playback keeps going on in-memory state.
func (s *Session) persist() {
	if !s.cfg.Persistence.Enabled {
		return
	}

	s.mu.Lock()
	snap := s.snapshotLocked()
	empty := snap.NowPlaying == nil && len(snap.Queue) == 0
	s.mu.Unlock()

	var err error
	if empty {
		err = s.deps.Store.Delete(s.guildID)
	} else {
		err = s.deps.Store.Save(s.guildID, snap)
	}
	if err != nil {
		zlog.Warn().Err(err).Str("guild_id", s.guildID).Msg("failed to persist queue snapshot")
	}
}
