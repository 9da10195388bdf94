// Package notification broadcasts session events to registered sinks.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sendTimeout bounds how long a single sink may block a broadcast.
const sendTimeout = 500 * time.Millisecond

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Send(Event) error
}

// subscription represents a registered sink.
type subscription struct {
	id   string
	sink Sink
}

// Manager manages sink subscriptions and event broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe registers a sink and returns its subscription ID.
func (m *Manager) Subscribe(sink Sink) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:   id,
		sink: sink,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast stamps the event with a sequence number and timestamp, then
// delivers it to every sink. Each delivery runs in its own goroutine with a
// timeout so one slow sink cannot stall the others.
func (m *Manager) Broadcast(event Event) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	event.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()

	if event.At.IsZero() {
		event.At = time.Now()
	}

	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.sink.Send(event)
			}()

			select {
			case <-done:
				// Delivery errors are dropped; a persistently failing sink
				// is the subscriber's problem to resolve.
			case <-ctx.Done():
			}
		}(sub)
	}
	wg.Wait()
}

// SubscriberCount returns the number of active sinks.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
