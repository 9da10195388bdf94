package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groovebox/internal/app/session"
	"groovebox/internal/domain/track"
	"groovebox/internal/infra/config"
)

type nopTransport struct{}

func (nopTransport) Connect(context.Context, string) error     { return nil }
func (nopTransport) ChannelID() string                         { return "" }
func (nopTransport) Play(context.Context, string, string, time.Duration) error { return nil }
func (nopTransport) Pause()                                    {}
func (nopTransport) Resume()                                   {}
func (nopTransport) Paused() bool                              { return false }
func (nopTransport) Stop()                                     {}
func (nopTransport) Reconnect(context.Context, string) error   { return nil }
func (nopTransport) Close(context.Context)                     {}
func (nopTransport) OnIdle(func())                             {}
func (nopTransport) OnDisconnected(func())                     {}

type nopRadio struct{}

func (nopRadio) Start(string, track.Track) error { return nil }
func (nopRadio) Stop(string)                     {}
func (nopRadio) IsActive(string) bool            { return false }
func (nopRadio) ShouldRefill(string, int) bool   { return false }
func (nopRadio) MarkSeen(string, ...string)      {}
func (nopRadio) UpdateSeed(string, track.Track)  {}
func (nopRadio) NextTracks(context.Context, string) ([]track.Track, error) {
	return nil, nil
}

func newTestRegistry() *Registry {
	return New(func(guildID string) *session.Session {
		deps := session.Deps{Transport: nopTransport{}, Radio: nopRadio{}}
		return session.New(guildID, config.Config{}, deps, nil)
	})
}

func TestGetOrCreate_ReturnsSameSession(t *testing.T) {
	r := newTestRegistry()

	a := r.GetOrCreate("g1")
	b := r.GetOrCreate("g1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, r.Count())
}

func TestGetOrCreate_SeparateGuilds(t *testing.T) {
	r := newTestRegistry()

	a := r.GetOrCreate("g1")
	b := r.GetOrCreate("g2")
	assert.NotSame(t, a, b)
	assert.Equal(t, "g1", a.GuildID())
	assert.Equal(t, "g2", b.GuildID())
	assert.Equal(t, 2, r.Count())
}

func TestGet_Missing(t *testing.T) {
	r := newTestRegistry()

	_, ok := r.Get("g1")
	assert.False(t, ok)

	r.GetOrCreate("g1")
	s, ok := r.Get("g1")
	require.True(t, ok)
	assert.Equal(t, "g1", s.GuildID())
}

func TestRemove_TerminatesSession(t *testing.T) {
	r := newTestRegistry()

	s := r.GetOrCreate("g1")
	r.Remove(context.Background(), "g1")

	assert.Equal(t, 0, r.Count())
	assert.Equal(t, session.StateTerminated, s.State())
}

func TestGetOrCreate_ReplacesTerminatedSession(t *testing.T) {
	r := newTestRegistry()

	a := r.GetOrCreate("g1")
	a.Terminate(context.Background())

	b := r.GetOrCreate("g1")
	assert.NotSame(t, a, b)
	assert.Equal(t, session.StateIdle, b.State())
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry()

	a := r.GetOrCreate("g1")
	b := r.GetOrCreate("g2")
	r.CloseAll(context.Background())

	assert.Equal(t, 0, r.Count())
	assert.Equal(t, session.StateTerminated, a.State())
	assert.Equal(t, session.StateTerminated, b.State())
}
