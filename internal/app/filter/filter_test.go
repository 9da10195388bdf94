package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groovebox/internal/domain/track"
)

// stubQueue is a QueueView backed by a slice.
type stubQueue struct {
	tracks []track.Track
}

func (q *stubQueue) Tracks() []track.Track {
	return q.tracks
}

func TestQueueFullFilter(t *testing.T) {
	q := &stubQueue{}
	f := NewQueueFullFilter(q)
	require.NoError(t, f.ValidateConfig(map[string]any{"max_size": 2}))

	req := Request{GuildID: "g1", UserID: "u1"}

	result := f.Check(context.Background(), req, track.Track{ID: "a"})
	assert.True(t, result.Accepted)

	q.tracks = []track.Track{{ID: "x"}, {ID: "y"}}
	result = f.Check(context.Background(), req, track.Track{ID: "a"})
	assert.False(t, result.Accepted)
	assert.Equal(t, "queue_full", result.Code)
}

func TestQueueFullFilter_ValidateConfig(t *testing.T) {
	f := NewQueueFullFilter(&stubQueue{})

	assert.Error(t, f.ValidateConfig(map[string]any{"max_size": -1}))
	assert.NoError(t, f.ValidateConfig(map[string]any{}))
}

func TestDurationLimitFilter(t *testing.T) {
	f := NewDurationLimitFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{"max_minutes": 10}))

	tests := []struct {
		name     string
		duration time.Duration
		accepted bool
	}{
		{"within limit", 5 * time.Minute, true},
		{"at limit", 10 * time.Minute, true},
		{"over limit", 11 * time.Minute, false},
		{"unknown duration passes", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(context.Background(), Request{}, track.Track{Duration: tt.duration})
			assert.Equal(t, tt.accepted, result.Accepted)
		})
	}
}

func TestDurationLimitFilter_NoLimit(t *testing.T) {
	f := NewDurationLimitFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{"max_minutes": 0}))

	result := f.Check(context.Background(), Request{}, track.Track{Duration: 10 * time.Hour})
	assert.True(t, result.Accepted)
}

func TestFileSizeFilter(t *testing.T) {
	f := NewFileSizeFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{"max_size_mb": 10}))

	result := f.Check(context.Background(), Request{}, track.Track{FileSize: 5 * 1024 * 1024})
	assert.True(t, result.Accepted)

	result = f.Check(context.Background(), Request{}, track.Track{FileSize: 11 * 1024 * 1024})
	assert.False(t, result.Accepted)
	assert.Equal(t, "file_too_large", result.Code)

	// No metadata passes.
	result = f.Check(context.Background(), Request{}, track.Track{})
	assert.True(t, result.Accepted)
}

func TestDuplicateTrackFilter(t *testing.T) {
	q := &stubQueue{tracks: []track.Track{{ID: "dup"}}}
	f := NewDuplicateTrackFilter(q)
	require.NoError(t, f.ValidateConfig(map[string]any{}))

	result := f.Check(context.Background(), Request{}, track.Track{ID: "dup"})
	assert.False(t, result.Accepted)
	assert.Equal(t, "duplicate_track", result.Code)

	result = f.Check(context.Background(), Request{}, track.Track{ID: "fresh"})
	assert.True(t, result.Accepted)
}

func TestDuplicateTrackFilter_WarnOnly(t *testing.T) {
	q := &stubQueue{tracks: []track.Track{{ID: "dup"}}}
	f := NewDuplicateTrackFilter(q)
	require.NoError(t, f.ValidateConfig(map[string]any{"warn_only": true}))

	result := f.Check(context.Background(), Request{}, track.Track{ID: "dup"})
	assert.True(t, result.Accepted)
	assert.Equal(t, []string{"duplicate_track"}, result.Warnings)
}

func TestAccessFilter(t *testing.T) {
	f := NewAccessFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{
		"blacklist_roles": []string{"banned"},
		"whitelist_roles": []string{"dj"},
	}))

	tests := []struct {
		name     string
		roles    []string
		accepted bool
		code     string
	}{
		{"blacklisted role", []string{"banned", "dj"}, false, "blacklisted"},
		{"whitelisted role", []string{"dj"}, true, ""},
		{"no matching role", []string{"member"}, false, "not_whitelisted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(context.Background(), Request{RoleIDs: tt.roles}, track.Track{})
			assert.Equal(t, tt.accepted, result.Accepted)
			assert.Equal(t, tt.code, result.Code)
		})
	}
}

func TestAccessFilter_NoWhitelist(t *testing.T) {
	f := NewAccessFilter()
	require.NoError(t, f.ValidateConfig(map[string]any{}))

	result := f.Check(context.Background(), Request{RoleIDs: []string{"member"}}, track.Track{})
	assert.True(t, result.Accepted)
}
