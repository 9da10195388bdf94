package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groovebox/internal/app/filter"
	"groovebox/internal/app/notification"
	"groovebox/internal/app/ratelimit"
	"groovebox/internal/domain/track"
	"groovebox/internal/infra/config"
	"groovebox/internal/infra/persistence"
	"groovebox/internal/infra/resolver"
)

type fakeTransport struct {
	mu           sync.Mutex
	played       []string
	starts       []time.Duration
	playErr      error
	connectErr   error
	reconnectErr error
	reconnects   int
	stops        int
	closes       int
	paused       bool
	channelID    string
	onIdle       func()
	onDisc       func()
}

func (f *fakeTransport) Connect(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.channelID = channelID
	return nil
}

func (f *fakeTransport) ChannelID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelID
}

func (f *fakeTransport) Play(_ context.Context, path, _ string, start time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.played = append(f.played, path)
	f.starts = append(f.starts, start)
	return nil
}

func (f *fakeTransport) Pause()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeTransport) Resume() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }

func (f *fakeTransport) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeTransport) Stop() { f.mu.Lock(); f.stops++; f.mu.Unlock() }

func (f *fakeTransport) Reconnect(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.channelID = channelID
	return nil
}

func (f *fakeTransport) Close(context.Context) { f.mu.Lock(); f.closes++; f.mu.Unlock() }
func (f *fakeTransport) OnIdle(fn func())      { f.onIdle = fn }
func (f *fakeTransport) OnDisconnected(fn func()) {
	f.onDisc = fn
}

func (f *fakeTransport) playedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.played))
	copy(out, f.played)
	return out
}

func (f *fakeTransport) startOffsets() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.starts))
	copy(out, f.starts)
	return out
}

type fakeResolver struct {
	tracks map[string]track.Track
	err    error
}

func (f *fakeResolver) ResolveTrack(_ context.Context, input string) (track.Track, error) {
	if f.err != nil {
		return track.Track{}, f.err
	}
	t, ok := f.tracks[input]
	if !ok {
		return track.Track{}, errors.New("no results")
	}
	return t, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	fetched []string
	errs    map[string]error // keyed by media URL
	delay   time.Duration
}

func (f *fakeFetcher) Fetch(_ context.Context, mediaURL, _ string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[mediaURL]; ok {
		return err
	}
	f.fetched = append(f.fetched, mediaURL)
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	cached  map[string]bool
	evicted []string
}

func (f *fakeCache) CheckHit(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached[id] {
		return f.Path(id), true
	}
	return "", false
}

func (f *fakeCache) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached[id]
}

func (f *fakeCache) Path(id string) string { return "tmp/" + id + ".opus" }
func (f *fakeCache) Touch(string)          {}
func (f *fakeCache) IsPopular(string) bool { return false }

func (f *fakeCache) Evict(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, id)
	return true
}

type fakeStore struct {
	mu    sync.Mutex
	saved map[string]persistence.Snapshot
}

func (f *fakeStore) Save(guildID string, snap persistence.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]persistence.Snapshot)
	}
	f.saved[guildID] = snap
	return nil
}

func (f *fakeStore) Delete(guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, guildID)
	return nil
}

func (f *fakeStore) snapshot(guildID string) (persistence.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.saved[guildID]
	return snap, ok
}

type fakeEffects struct{}

func (fakeEffects) FilterChain(string, int) string { return "volume=0.50" }

type fakeVolumes struct{ volumes map[string]int }

func (f *fakeVolumes) Get(userID string) int {
	if v, ok := f.volumes[userID]; ok {
		return v
	}
	return 50
}

func (f *fakeVolumes) Set(userID string, volume int) error {
	f.volumes[userID] = volume
	return nil
}

type fakeLimiter struct{ err error }

func (f *fakeLimiter) Allow(string, string, ratelimit.Action, ...string) error { return f.err }

type fakeRadio struct {
	mu      sync.Mutex
	active  bool
	next    []track.Track
	nextErr error
	seed    track.Track
	seen    []string
	stopped bool
}

func (f *fakeRadio) Start(string, track.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	return nil
}

func (f *fakeRadio) Stop(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.stopped = true
}

func (f *fakeRadio) IsActive(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeRadio) ShouldRefill(_ string, queueLen int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active && queueLen == 0
}

func (f *fakeRadio) UpdateSeed(_ string, seed track.Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seed = seed
}

func (f *fakeRadio) MarkSeen(_ string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, ids...)
}

func (f *fakeRadio) NextTracks(context.Context, string) ([]track.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	next := f.next
	f.next = nil
	if len(next) == 0 {
		return nil, errors.New("station dried up")
	}
	return next, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (f *fakeNotifier) Broadcast(event notification.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) types() []notification.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notification.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

func (f *fakeNotifier) has(t notification.EventType) bool {
	for _, et := range f.types() {
		if et == t {
			return true
		}
	}
	return false
}

type fixture struct {
	session   *Session
	transport *fakeTransport
	resolver  *fakeResolver
	fetcher   *fakeFetcher
	cache     *fakeCache
	store     *fakeStore
	radio     *fakeRadio
	limiter   *fakeLimiter
	notifier  *fakeNotifier
	cfg       config.Config
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Playback.MaxConsecutiveSkips = 3
	cfg.Playback.SkipAgeRestricted = true
	cfg.Playback.SkipUnavailable = true
	cfg.Playback.PostPlayDeleteDelayMins = 1
	cfg.Playback.AutoReconnect = true
	cfg.Playback.ReconnectAttempts = 2
	cfg.Queue.MaxSize = 100
	cfg.History.Enabled = true
	cfg.History.MaxEntries = 50
	cfg.Persistence.Enabled = true
	return cfg
}

func newFixture(t *testing.T, mutate func(*fixture)) *fixture {
	t.Helper()

	f := &fixture{
		transport: &fakeTransport{},
		resolver:  &fakeResolver{tracks: make(map[string]track.Track)},
		fetcher:   &fakeFetcher{errs: make(map[string]error)},
		cache:     &fakeCache{cached: make(map[string]bool)},
		store:     &fakeStore{},
		radio:     &fakeRadio{},
		limiter:   &fakeLimiter{},
		notifier:  &fakeNotifier{},
		cfg:       testConfig(),
	}
	if mutate != nil {
		mutate(f)
	}

	deps := Deps{
		Transport: f.transport,
		Resolver:  f.resolver,
		Fetcher:   f.fetcher,
		Cache:     f.cache,
		Store:     f.store,
		Effects:   fakeEffects{},
		Volumes:   &fakeVolumes{volumes: make(map[string]int)},
		Limiter:   f.limiter,
		Radio:     f.radio,
		Notifier:  f.notifier,
	}
	f.session = New("g1", f.cfg, deps, nil)
	return f
}

func mkTrack(id string) track.Track {
	return track.Track{
		ID:    id,
		Title: "Track " + id,
		URL:   "https://youtu.be/" + id,
		Requester: track.Requester{
			Name:   "alice",
			UserID: "u1",
		},
	}
}

func playReq(input string) PlayRequest {
	return PlayRequest{
		Input:          input,
		UserID:         "u1",
		UserName:       "alice",
		VoiceChannelID: "vc1",
		TextChannelID:  "tc1",
	}
}

func TestPlay_QueuesAndStartsPlayback(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["song"] = mkTrack("a")
	})

	res, err := f.session.Play(context.Background(), playReq("song"))
	require.NoError(t, err)
	require.Len(t, res.Queued, 1)

	assert.Equal(t, []string{"tmp/a.opus"}, f.transport.playedPaths())
	assert.Equal(t, StatePlaying, f.session.State())
	assert.Equal(t, "vc1", f.transport.ChannelID())

	now, ok := f.session.NowPlaying()
	require.True(t, ok)
	assert.Equal(t, "a", now.ID)

	assert.True(t, f.notifier.has(notification.EventQueued))
	assert.True(t, f.notifier.has(notification.EventDownloading))
	assert.True(t, f.notifier.has(notification.EventNowPlaying))

	snap, ok := f.store.snapshot("g1")
	require.True(t, ok)
	require.NotNil(t, snap.NowPlaying)
	assert.Equal(t, "a", snap.NowPlaying.ID)
}

func TestPlay_SecondTrackOnlyQueues(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.resolver.tracks["two"] = mkTrack("b")
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)
	_, err = f.session.Play(context.Background(), playReq("two"))
	require.NoError(t, err)

	assert.Len(t, f.transport.playedPaths(), 1)
	queue := f.session.Tracks()
	require.Len(t, queue, 1)
	assert.Equal(t, "b", queue[0].ID)
}

func TestPlay_ConcurrentRequestsDispatchOnce(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.resolver.tracks["two"] = mkTrack("b")
		// The fetch delay keeps the first dispatch in flight while the
		// second play command arrives.
		f.fetcher.delay = 100 * time.Millisecond
	})

	var wg sync.WaitGroup
	for _, input := range []string{"one", "two"} {
		wg.Add(1)
		go func(input string) {
			defer wg.Done()
			_, err := f.session.Play(context.Background(), playReq(input))
			assert.NoError(t, err)
		}(input)
	}
	wg.Wait()

	played := f.transport.playedPaths()
	require.Len(t, played, 1, "both plays dispatched, expected one")
	assert.Equal(t, StatePlaying, f.session.State())
	assert.Len(t, f.session.Tracks(), 1)

	now, ok := f.session.NowPlaying()
	require.True(t, ok)
	assert.Equal(t, "tmp/"+now.ID+".opus", played[0])
}

func TestPlay_RateLimited(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.limiter.err = ratelimit.ErrRateLimited
	})

	_, err := f.session.Play(context.Background(), playReq("song"))
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
	assert.Empty(t, f.transport.playedPaths())
}

type rejectAllFilter struct{}

func (rejectAllFilter) Name() string        { return "reject_all" }
func (rejectAllFilter) Description() string { return "rejects everything" }
func (rejectAllFilter) ReturnCodes() []string {
	return []string{"nope"}
}
func (rejectAllFilter) ValidateConfig(map[string]any) error { return nil }
func (rejectAllFilter) AppliesTo(track.Source) bool         { return true }
func (rejectAllFilter) Check(context.Context, filter.Request, track.Track) filter.Result {
	return filter.Reject("nope")
}

func TestPlay_RejectedByChain(t *testing.T) {
	f := &fixture{
		transport: &fakeTransport{},
		resolver:  &fakeResolver{tracks: map[string]track.Track{"song": mkTrack("a")}},
		fetcher:   &fakeFetcher{},
		cache:     &fakeCache{cached: make(map[string]bool)},
		store:     &fakeStore{},
		radio:     &fakeRadio{},
		limiter:   &fakeLimiter{},
		notifier:  &fakeNotifier{},
		cfg:       testConfig(),
	}
	deps := Deps{
		Transport: f.transport, Resolver: f.resolver, Fetcher: f.fetcher,
		Cache: f.cache, Store: f.store, Effects: fakeEffects{},
		Volumes: &fakeVolumes{volumes: make(map[string]int)},
		Limiter: f.limiter, Radio: f.radio, Notifier: f.notifier,
	}
	s := New("g1", f.cfg, deps, func(filter.QueueView) *filter.Chain {
		c := filter.NewChain()
		c.Add(rejectAllFilter{})
		return c
	})

	_, err := s.Play(context.Background(), playReq("song"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Empty(t, f.transport.playedPaths())
}

func TestTrackEnd_AdvancesQueue(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.resolver.tracks["two"] = mkTrack("b")
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)
	_, err = f.session.Play(context.Background(), playReq("two"))
	require.NoError(t, err)

	f.session.handleTrackEnd()

	assert.Equal(t, []string{"tmp/a.opus", "tmp/b.opus"}, f.transport.playedPaths())
	assert.Equal(t, 1, f.session.PlayCount("a"))
	assert.Equal(t, 0, f.session.PlayCount("b"))

	history := f.session.History(0)
	require.Len(t, history, 1)
	assert.Equal(t, "a", history[0].Track.ID)
}

func TestLoop_ReinsertsFinishedTrack(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.cache.cached["a"] = true
	})

	require.True(t, f.session.ToggleLoop())
	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)

	f.session.handleTrackEnd()
	f.session.handleTrackEnd()

	assert.Equal(t, []string{"tmp/a.opus", "tmp/a.opus", "tmp/a.opus"}, f.transport.playedPaths())
	assert.Equal(t, 2, f.session.PlayCount("a"))
	assert.Equal(t, StatePlaying, f.session.State())
}

func TestSkip_DoesNotCountAsPlay(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.resolver.tracks["two"] = mkTrack("b")
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)
	_, err = f.session.Play(context.Background(), playReq("two"))
	require.NoError(t, err)

	require.NoError(t, f.session.Skip())

	assert.Equal(t, []string{"tmp/a.opus", "tmp/b.opus"}, f.transport.playedPaths())
	assert.Equal(t, 0, f.session.PlayCount("a"))
	assert.Empty(t, f.session.History(0))
}

func TestSkip_NothingPlaying(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.session.Skip(), ErrNoTrack)
}

func TestSeek_RestartsAtPosition(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		tr := mkTrack("a")
		tr.Duration = 4 * time.Minute
		f.resolver.tracks["song"] = tr
		f.cache.cached["a"] = true
	})

	_, err := f.session.Play(context.Background(), playReq("song"))
	require.NoError(t, err)

	require.NoError(t, f.session.Seek(context.Background(), 90*time.Second))

	assert.Equal(t, []string{"tmp/a.opus", "tmp/a.opus"}, f.transport.playedPaths())
	assert.Equal(t, []time.Duration{0, 90 * time.Second}, f.transport.startOffsets())
	assert.True(t, f.notifier.has(notification.EventSeeked))
}

func TestSeek_OutOfRange(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		tr := mkTrack("a")
		tr.Duration = 2 * time.Minute
		f.resolver.tracks["song"] = tr
		f.cache.cached["a"] = true
	})

	_, err := f.session.Play(context.Background(), playReq("song"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.session.Seek(context.Background(), 2*time.Minute), ErrSeekOutOfRange)
	assert.ErrorIs(t, f.session.Seek(context.Background(), -time.Second), ErrSeekOutOfRange)
	assert.Equal(t, []time.Duration{0}, f.transport.startOffsets())
}

func TestSeek_NothingPlaying(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.session.Seek(context.Background(), time.Second), ErrNoTrack)
}

func TestSaveQueue_WritesSnapshot(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.Persistence.Enabled = false
		f.resolver.tracks["one"] = mkTrack("a")
		f.resolver.tracks["two"] = mkTrack("b")
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)
	_, err = f.session.Play(context.Background(), playReq("two"))
	require.NoError(t, err)

	_, ok := f.store.snapshot("g1")
	require.False(t, ok, "automatic persistence is off")

	require.NoError(t, f.session.SaveQueue())

	snap, ok := f.store.snapshot("g1")
	require.True(t, ok)
	require.NotNil(t, snap.NowPlaying)
	assert.Equal(t, "a", snap.NowPlaying.ID)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, "b", snap.Queue[0].ID)
}

func TestSaveQueue_Empty(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.session.SaveQueue(), ErrQueueEmpty)
}

func TestDispatch_FetchFailureSkipsForward(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.fetcher.errs["https://youtu.be/a"] = errors.New("network down")
		f.cfg.Playback.MaxRetryAttempts = 0
	})

	f.session.queue = []track.Track{mkTrack("a"), mkTrack("b")}
	f.session.dispatch(context.Background())

	assert.Equal(t, []string{"tmp/b.opus"}, f.transport.playedPaths())
	assert.True(t, f.notifier.has(notification.EventDownloadError))
	assert.Equal(t, StatePlaying, f.session.State())
}

func TestDispatch_TooManyFailuresGoesIdle(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.Playback.MaxRetryAttempts = 0
		for _, id := range []string{"a", "b", "c", "d"} {
			f.fetcher.errs["https://youtu.be/"+id] = errors.New("network down")
		}
	})

	f.session.queue = []track.Track{mkTrack("a"), mkTrack("b"), mkTrack("c"), mkTrack("d")}
	f.session.dispatch(context.Background())

	assert.Empty(t, f.transport.playedPaths())
	assert.Equal(t, StateIdle, f.session.State())
	assert.Len(t, f.session.Tracks(), 1)
}

func TestDispatch_AgeRestrictedStopsWhenSkippingDisabled(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.Playback.SkipAgeRestricted = false
		f.fetcher.errs["https://youtu.be/a"] = resolver.ErrAgeRestricted
	})

	f.session.queue = []track.Track{mkTrack("a"), mkTrack("b")}
	f.session.dispatch(context.Background())

	assert.Empty(t, f.transport.playedPaths())
	assert.Equal(t, StateIdle, f.session.State())
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.cache.cached["a"] = true
	})

	assert.ErrorIs(t, f.session.Pause(), ErrNoTrack)

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.session.Resume(), ErrNotPaused)
	require.NoError(t, f.session.Pause())
	assert.Equal(t, StatePaused, f.session.State())
	assert.True(t, f.transport.Paused())

	assert.ErrorIs(t, f.session.Pause(), ErrNotPlaying)
	require.NoError(t, f.session.Resume())
	assert.Equal(t, StatePlaying, f.session.State())
}

func TestStop_ClearsEverything(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.resolver.tracks["two"] = mkTrack("b")
		f.cache.cached["a"] = true
		f.radio.active = true
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)
	_, err = f.session.Play(context.Background(), playReq("two"))
	require.NoError(t, err)

	require.NoError(t, f.session.Stop())

	assert.Equal(t, StateIdle, f.session.State())
	assert.Empty(t, f.session.Tracks())
	assert.True(t, f.radio.stopped)
	assert.True(t, f.notifier.has(notification.EventStopped))

	_, ok := f.store.snapshot("g1")
	assert.False(t, ok)
}

func TestShuffle_EmptyQueue(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.session.Shuffle(), ErrQueueEmpty)
}

func TestClear(t *testing.T) {
	f := newFixture(t, nil)
	f.session.queue = []track.Track{mkTrack("a"), mkTrack("b")}

	assert.Equal(t, 2, f.session.Clear())
	assert.Empty(t, f.session.Tracks())
}

func TestRestore_ResumesInterruptedTrack(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cache.cached["x"] = true
	})

	interrupted := mkTrack("x")
	snap := persistence.Snapshot{
		NowPlaying: &interrupted,
		Queue:      []track.Track{mkTrack("y")},
		Loop:       true,
		VoiceID:    "vc9",
		TextID:     "tc9",
	}

	require.NoError(t, f.session.Restore(context.Background(), snap))

	assert.Equal(t, []string{"tmp/x.opus"}, f.transport.playedPaths())
	assert.Equal(t, "vc9", f.transport.ChannelID())
	assert.True(t, f.session.Loop())
	assert.Equal(t, "tc9", f.session.TextChannelID())

	queue := f.session.Tracks()
	require.Len(t, queue, 1)
	assert.Equal(t, "y", queue[0].ID)
}

func TestRestore_EmptySnapshot(t *testing.T) {
	f := newFixture(t, nil)
	err := f.session.Restore(context.Background(), persistence.Snapshot{})
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRadioRefill_OnQueueEnd(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.cache.cached["a"] = true
		f.cache.cached["r"] = true
		f.radio.active = true
		f.radio.next = []track.Track{mkTrack("r")}
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)

	f.session.handleTrackEnd()

	assert.Equal(t, []string{"tmp/a.opus", "tmp/r.opus"}, f.transport.playedPaths())
	assert.True(t, f.notifier.has(notification.EventRadioRefill))
	assert.Equal(t, StatePlaying, f.session.State())
}

func TestStartRadio_RequiresSeed(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.session.StartRadio(context.Background()), ErrNoTrack)
}

func TestReconnect_ResumesCurrentTrack(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.cache.cached["a"] = true
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)

	f.session.handleDisconnect()

	require.Eventually(t, func() bool {
		return len(f.transport.playedPaths()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"tmp/a.opus", "tmp/a.opus"}, f.transport.playedPaths())
	assert.Equal(t, StatePlaying, f.session.State())
	assert.True(t, f.notifier.has(notification.EventReconnected))
}

func TestReconnect_BudgetExhausted(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.cache.cached["a"] = true
		f.transport.reconnectErr = errors.New("gateway unreachable")
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)

	f.session.handleDisconnect()

	require.Eventually(t, func() bool {
		return f.notifier.has(notification.EventReconnectFailed)
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return f.session.State() == StateTerminated
	}, 2*time.Second, 10*time.Millisecond)

	f.transport.mu.Lock()
	attempts := f.transport.reconnects
	f.transport.mu.Unlock()
	assert.Equal(t, 2, attempts)

	snap, ok := f.store.snapshot("g1")
	require.True(t, ok)
	require.NotNil(t, snap.NowPlaying)
	assert.Equal(t, "a", snap.NowPlaying.ID)
}

func TestTerminate_RefusesFurtherOperations(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.cache.cached["a"] = true
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)

	f.session.Terminate(context.Background())

	assert.Equal(t, StateTerminated, f.session.State())
	assert.ErrorIs(t, f.session.Skip(), ErrTerminated)
	assert.ErrorIs(t, f.session.Stop(), ErrTerminated)
	_, err = f.session.Play(context.Background(), playReq("one"))
	assert.ErrorIs(t, err, ErrTerminated)

	snap, ok := f.store.snapshot("g1")
	require.True(t, ok)
	assert.NotNil(t, snap.NowPlaying)
}

func TestHistory_Trimmed(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.History.MaxEntries = 2
	})

	for _, id := range []string{"a", "b", "c"} {
		f.cache.cached[id] = true
		f.session.queue = append(f.session.queue, mkTrack(id))
	}
	f.session.dispatch(context.Background())
	f.session.handleTrackEnd()
	f.session.handleTrackEnd()
	f.session.handleTrackEnd()

	history := f.session.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].Track.ID)
	assert.Equal(t, "c", history[1].Track.ID)
}

func TestCompletion_SchedulesEviction(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.resolver.tracks["one"] = mkTrack("a")
		f.cache.cached["a"] = true
	})

	_, err := f.session.Play(context.Background(), playReq("one"))
	require.NoError(t, err)

	f.session.handleTrackEnd()

	f.session.mu.Lock()
	_, armed := f.session.deleteTimers["a"]
	f.session.mu.Unlock()
	assert.True(t, armed)
}

func TestPlay_SpotifyWithoutCredentials(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.session.Play(context.Background(), playReq("https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC"))
	assert.Error(t, err)
}
