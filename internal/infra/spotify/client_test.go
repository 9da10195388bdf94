package spotify

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/zmb3/spotify/v2"
)

func TestIsSpotifyURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{
			name:     "track URL",
			input:    "https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT",
			expected: true,
		},
		{
			name:     "playlist URL with query params",
			input:    "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc",
			expected: true,
		},
		{
			name:     "Spotify URI",
			input:    "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
			expected: true,
		},
		{
			name:     "YouTube URL",
			input:    "https://www.youtube.com/watch?v=abc123",
			expected: false,
		},
		{
			name:     "free text",
			input:    "never gonna give you up",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSpotifyURL(tt.input))
		})
	}
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		kind     string
		expected string
	}{
		{
			name:     "track URI",
			input:    "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
			kind:     "track",
			expected: "4cOdK2wGLETKBW3PvgPWqT",
		},
		{
			name:     "track URL",
			input:    "https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT",
			kind:     "track",
			expected: "4cOdK2wGLETKBW3PvgPWqT",
		},
		{
			name:     "playlist URL with query params",
			input:    "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc123",
			kind:     "playlist",
			expected: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "album URL with trailing slash",
			input:    "https://open.spotify.com/album/6dVIqQ8qmQ5GBnJ9shOYGE/",
			kind:     "album",
			expected: "6dVIqQ8qmQ5GBnJ9shOYGE",
		},
		{
			name:     "intl URL",
			input:    "https://open.spotify.com/intl-ja/track/4cOdK2wGLETKBW3PvgPWqT",
			kind:     "track",
			expected: "4cOdK2wGLETKBW3PvgPWqT",
		},
		{
			name:     "plain ID",
			input:    "4cOdK2wGLETKBW3PvgPWqT",
			kind:     "track",
			expected: "4cOdK2wGLETKBW3PvgPWqT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractID(tt.input, tt.kind))
		})
	}
}

func TestSearchQuery(t *testing.T) {
	artists := []spotify.SimpleArtist{{Name: "Rick Astley"}, {Name: "Someone Else"}}
	assert.Equal(t, "Never Gonna Give You Up Rick Astley", searchQuery("Never Gonna Give You Up", artists))
	assert.Equal(t, "Instrumental", searchQuery("Instrumental", nil))
}

func TestNew_NotConfigured(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(context.Background(), Config{ClientID: "id"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("API rate limit exceeded")))
	assert.True(t, isRetryable(errors.New("spotify: HTTP 503 service unavailable")))
	assert.False(t, isRetryable(errors.New("invalid id")))
	assert.False(t, isRetryable(nil))
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	c := &Client{maxRetries: 3, retryDelay: 0}

	calls := 0
	err := c.retry(func() error {
		calls++
		return errors.New("invalid id")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesServerErrors(t *testing.T) {
	c := &Client{maxRetries: 3, retryDelay: 0}

	calls := 0
	err := c.retry(func() error {
		calls++
		if calls < 3 {
			return errors.New("HTTP 502 bad gateway")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}
