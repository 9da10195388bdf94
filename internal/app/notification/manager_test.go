package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groovebox/internal/domain/track"
)

// collectSink records every event it receives.
type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *collectSink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// blockingSink never completes a send.
type blockingSink struct{}

func (s *blockingSink) Send(e Event) error {
	select {}
}

func TestManager_SubscribeAndBroadcast(t *testing.T) {
	m := NewManager()
	defer m.Close()

	s1 := &collectSink{}
	s2 := &collectSink{}
	m.Subscribe(s1)
	m.Subscribe(s2)
	assert.Equal(t, 2, m.SubscriberCount())

	m.Broadcast(Event{Type: EventNowPlaying, GuildID: "g1", Track: &track.Track{ID: "v1"}})

	for _, s := range []*collectSink{s1, s2} {
		events := s.received()
		require.Len(t, events, 1)
		assert.Equal(t, EventNowPlaying, events[0].Type)
		assert.Equal(t, "g1", events[0].GuildID)
		assert.False(t, events[0].At.IsZero())
	}
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager()
	defer m.Close()

	s := &collectSink{}
	id := m.Subscribe(s)
	m.Unsubscribe(id)

	m.Broadcast(Event{Type: EventStopped})
	assert.Empty(t, s.received())
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestManager_SequenceNumbersAreMonotonic(t *testing.T) {
	m := NewManager()
	defer m.Close()

	s := &collectSink{}
	m.Subscribe(s)

	for i := 0; i < 5; i++ {
		m.Broadcast(Event{Type: EventQueued})
	}

	events := s.received()
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.SequenceNo)
	}
}

func TestManager_SlowSinkDoesNotStallBroadcast(t *testing.T) {
	m := NewManager()
	defer m.Close()

	fast := &collectSink{}
	m.Subscribe(&blockingSink{})
	m.Subscribe(fast)

	start := time.Now()
	m.Broadcast(Event{Type: EventQueueEnd})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second)
	assert.Len(t, fast.received(), 1)
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "now_playing", EventNowPlaying.String())
	assert.Equal(t, "radio_refill", EventRadioRefill.String())
	assert.Equal(t, "unknown", EventType(99).String())
}
