// Package spotify expands Spotify links into search queries for the resolver.
package spotify

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNotConfigured is returned when no Spotify credentials are set.
var ErrNotConfigured = errors.New("spotify credentials are not configured")

// Client resolves Spotify track, album and playlist links into
// "title artist" search queries. Playback itself never touches Spotify.
type Client struct {
	client     *spotify.Client
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
}

// New creates a Spotify client using the client credentials flow.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get spotify token")
	}

	httpClient := spotifyauth.New().Client(ctx, token)

	return &Client{
		client:     spotify.New(httpClient),
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// IsSpotifyURL reports whether the input is a Spotify link or URI.
func IsSpotifyURL(input string) bool {
	input = strings.TrimSpace(input)
	return strings.Contains(input, "open.spotify.com") || strings.HasPrefix(input, "spotify:")
}

// Expand resolves a Spotify link into search queries, one per track. Album
// and playlist links are capped at limit queries.
func (c *Client) Expand(ctx context.Context, input string, limit int) ([]string, error) {
	switch {
	case strings.Contains(input, "/track/") || strings.HasPrefix(input, "spotify:track:"):
		q, err := c.trackQuery(ctx, input)
		if err != nil {
			return nil, err
		}
		return []string{q}, nil
	case strings.Contains(input, "/playlist/") || strings.HasPrefix(input, "spotify:playlist:"):
		return c.playlistQueries(ctx, input, limit)
	case strings.Contains(input, "/album/") || strings.HasPrefix(input, "spotify:album:"):
		return c.albumQueries(ctx, input, limit)
	default:
		return nil, errors.Newf("unsupported spotify link: %s", input)
	}
}

func (c *Client) trackQuery(ctx context.Context, input string) (string, error) {
	id := extractID(input, "track")

	var result *spotify.FullTrack
	err := c.retry(func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to get track")
	}
	return searchQuery(result.Name, result.Artists), nil
}

func (c *Client) playlistQueries(ctx context.Context, input string, limit int) ([]string, error) {
	id := extractID(input, "playlist")

	var page *spotify.PlaylistItemPage
	err := c.retry(func() error {
		p, err := c.client.GetPlaylistItems(ctx, spotify.ID(id), spotify.Limit(limit))
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist")
	}

	var queries []string
	for _, item := range page.Items {
		if item.Track.Track == nil {
			continue
		}
		queries = append(queries, searchQuery(item.Track.Track.Name, item.Track.Track.Artists))
		if len(queries) >= limit {
			break
		}
	}
	if len(queries) == 0 {
		return nil, errors.New("playlist has no playable tracks")
	}
	return queries, nil
}

func (c *Client) albumQueries(ctx context.Context, input string, limit int) ([]string, error) {
	id := extractID(input, "album")

	var album *spotify.FullAlbum
	err := c.retry(func() error {
		a, err := c.client.GetAlbum(ctx, spotify.ID(id))
		if err != nil {
			return err
		}
		album = a
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get album")
	}

	var queries []string
	for _, t := range album.Tracks.Tracks {
		queries = append(queries, searchQuery(t.Name, t.Artists))
		if len(queries) >= limit {
			break
		}
	}
	if len(queries) == 0 {
		return nil, errors.New("album has no tracks")
	}
	return queries, nil
}

// searchQuery builds a "title artist" query from track metadata.
func searchQuery(name string, artists []spotify.SimpleArtist) string {
	if len(artists) == 0 {
		return name
	}
	return name + " " + artists[0].Name
}

// extractID pulls the raw ID out of a Spotify URL or URI. Inputs that are
// already bare IDs pass through unchanged.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)

	if prefix := "spotify:" + kind + ":"; strings.HasPrefix(input, prefix) {
		return strings.TrimPrefix(input, prefix)
	}

	if marker := "/" + kind + "/"; strings.Contains(input, "open.spotify.com") && strings.Contains(input, marker) {
		parts := strings.Split(input, marker)
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	return input
}

func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable reports whether the error is a rate limit or server error.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}
