package radio

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// seenSet remembers which track IDs a radio station has already suggested.
// A Bloom filter front-ends the exact set so the common "never seen" case
// skips the map lookup; an LRU bounds memory for long-running stations.
type seenSet struct {
	mu       sync.RWMutex
	ids      map[string]struct{}
	bloom    *bloom.BloomFilter
	recency  *lru.Cache[string, struct{}]
	capacity int
	fpRate   float64
}

func newSeenSet(capacity int, fpRate float64) *seenSet {
	recency, _ := lru.New[string, struct{}](capacity)
	return &seenSet{
		ids:      make(map[string]struct{}),
		bloom:    bloom.NewWithEstimates(uint(capacity), fpRate),
		recency:  recency,
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// Has reports whether the track ID was already suggested.
func (s *seenSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.bloom.TestString(id) {
		return false
	}
	_, ok := s.ids[id]
	return ok
}

// Add records the track ID, evicting the least recently added entry when
// the set is at capacity.
func (s *seenSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return
	}

	s.ids[id] = struct{}{}
	s.bloom.AddString(id)
	s.recency.Add(id, struct{}{})

	if len(s.ids) > s.capacity {
		if oldest, _, ok := s.recency.GetOldest(); ok {
			delete(s.ids, oldest)
			s.recency.Remove(oldest)
			// The bloom filter cannot forget; stale positives just fall
			// through to the exact set.
		}
	}
}

// Size returns the number of remembered IDs.
func (s *seenSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
