// Package resolver turns user input into playable tracks and downloads audio
// via yt-dlp.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	zlog "github.com/rs/zerolog/log"
)

// Typed errors for track resolution. Fetch failures are classified from
// yt-dlp's stderr so the session can decide whether to skip or surface them.
var (
	ErrAgeRestricted = errors.New("track is age restricted")
	ErrUnavailable   = errors.New("track is unavailable")
	ErrNoResults     = errors.New("no results found")
)

// Metadata is the resolved description of a single media item.
type Metadata struct {
	ID       string
	Title    string
	Artist   string
	URL      string
	Duration time.Duration
	FileSize int64
}

// Resolver wraps yt-dlp and the search API.
type Resolver struct {
	searchCount int
	maxRetries  int

	lookup func(ctx context.Context, mediaURL string) (Metadata, error)
}

// New creates a Resolver. searchCount bounds how many candidates a free-text
// search returns; maxRetries bounds how many further candidates are tried
// when the top hit is age restricted or unavailable.
func New(searchCount, maxRetries int) *Resolver {
	r := &Resolver{searchCount: searchCount, maxRetries: maxRetries}
	r.lookup = r.Lookup
	return r
}

// newCommand returns a yt-dlp command with the baseline flags every
// invocation shares.
func newCommand() *ytdlp.Command {
	return ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoCheckCertificates()
}

// IsURL reports whether the input parses as an http(s) URL.
func IsURL(input string) bool {
	u, err := url.Parse(input)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Resolve turns user input into metadata. URLs are resolved directly; free
// text searches multiple candidates and falls through age-restricted or
// unavailable hits to the next result, bounded by the retry budget.
func (r *Resolver) Resolve(ctx context.Context, input string) (Metadata, error) {
	if IsURL(input) {
		return r.lookup(ctx, input)
	}

	limit := r.maxRetries + 1
	if limit < r.searchCount {
		limit = r.searchCount
	}
	results, err := r.Search(ctx, input, limit)
	if err != nil {
		return Metadata{}, err
	}
	return r.pickPlayable(ctx, results)
}

// pickPlayable resolves candidates in order until one is playable. Only age
// restriction and unavailability advance to the next candidate; other
// failures surface immediately.
func (r *Resolver) pickPlayable(ctx context.Context, candidates []Metadata) (Metadata, error) {
	if len(candidates) == 0 {
		return Metadata{}, ErrNoResults
	}

	attempts := r.maxRetries + 1
	if attempts > len(candidates) {
		attempts = len(candidates)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		m, err := r.lookup(ctx, candidates[i].URL)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrAgeRestricted) && !errors.Is(err, ErrUnavailable) {
			return Metadata{}, err
		}
		zlog.Debug().Str("url", candidates[i].URL).Int("candidate", i+1).
			Msg("candidate not playable, trying next")
		lastErr = err
	}
	return Metadata{}, lastErr
}

// Lookup fetches full metadata for a single URL without downloading.
func (r *Resolver) Lookup(ctx context.Context, mediaURL string) (Metadata, error) {
	res, err := newCommand().
		Print("%(id)s\t%(title)s\t%(webpage_url)s\t%(duration)s\t%(filesize,filesize_approx)s\t%(artist,uploader)s").
		NoPlaylist().
		Run(ctx, "--skip-download", mediaURL)
	if err != nil {
		return Metadata{}, classify(err, res)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			continue
		}
		dur, _ := time.ParseDuration(parts[3] + "s")
		var size int64
		if len(parts) >= 5 {
			fmt.Sscanf(parts[4], "%d", &size)
		}
		m := Metadata{
			ID:       parts[0],
			Title:    parts[1],
			URL:      parts[2],
			Duration: dur,
			FileSize: size,
		}
		if len(parts) >= 6 && parts[5] != "NA" {
			m.Artist = parts[5]
		}
		return m, nil
	}
	return Metadata{}, ErrNoResults
}

// Search returns lightweight candidates for a free-text query. The search
// API is tried first; yt-dlp's ytsearch extractor is the fallback.
func (r *Resolver) Search(ctx context.Context, query string, limit int) ([]Metadata, error) {
	if limit <= 0 {
		limit = r.searchCount
	}

	client := ytsearch.NewClient(nil)
	res, err := client.Search(ctx, query)
	if err == nil && len(res.Results) > 0 {
		out := make([]Metadata, 0, limit)
		for _, v := range res.Results {
			if v.VideoID == "" {
				continue
			}
			out = append(out, Metadata{
				ID:    v.VideoID,
				Title: v.Title,
				URL:   "https://www.youtube.com/watch?v=" + v.VideoID,
			})
			if len(out) >= limit {
				break
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	if err != nil {
		zlog.Debug().Err(err).Str("query", query).Msg("search API failed, falling back to yt-dlp")
	}

	return r.searchViaYtdlp(ctx, query, limit)
}

func (r *Resolver) searchViaYtdlp(ctx context.Context, query string, limit int) ([]Metadata, error) {
	res, err := newCommand().
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(url)s\t%(duration)s\t%(channel,uploader)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		Run(ctx, fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		return nil, classify(err, res)
	}

	out := parseFlatLines(res.Stdout)
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

// Related returns tracks from the auto-generated mix playlist for a seed.
func (r *Resolver) Related(ctx context.Context, seedID string, limit int) ([]Metadata, error) {
	mixURL := fmt.Sprintf("https://www.youtube.com/watch?v=%s&list=RD%s", seedID, seedID)
	res, err := newCommand().
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(url)s\t%(duration)s\t%(channel,uploader)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit+1)).
		Run(ctx, mixURL)
	if err != nil {
		return nil, classify(err, res)
	}

	var out []Metadata
	for _, m := range parseFlatLines(res.Stdout) {
		if m.ID == seedID {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

// Fetch downloads the best audio stream for the URL to destPath.
func (r *Resolver) Fetch(ctx context.Context, mediaURL, destPath string) error {
	res, err := newCommand().
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Output(destPath).
		NoPlaylist().
		NoPart().
		Run(ctx, mediaURL)
	if err != nil {
		return classify(err, res)
	}
	return nil
}

// parseFlatLines parses tab-separated flat playlist output.
func parseFlatLines(stdout string) []Metadata {
	var out []Metadata
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 || parts[0] == "" || parts[0] == "NA" {
			continue
		}
		m := Metadata{ID: parts[0], Title: parts[1], URL: parts[2]}
		if len(parts) >= 4 {
			m.Duration, _ = time.ParseDuration(parts[3] + "s")
		}
		if len(parts) >= 5 && parts[4] != "NA" {
			m.Artist = parts[4]
		}
		out = append(out, m)
	}
	return out
}

// classify maps yt-dlp failures onto typed errors using its stderr.
func classify(err error, res *ytdlp.Result) error {
	stderr := ""
	if res != nil {
		stderr = strings.ToLower(res.Stderr)
	}
	switch {
	case strings.Contains(stderr, "sign in to confirm your age"),
		strings.Contains(stderr, "age-restricted"),
		strings.Contains(stderr, "age restricted"):
		return errors.WithSecondaryError(ErrAgeRestricted, err)
	case strings.Contains(stderr, "video unavailable"),
		strings.Contains(stderr, "private video"),
		strings.Contains(stderr, "has been removed"),
		strings.Contains(stderr, "copyright"),
		strings.Contains(stderr, "drm"):
		return errors.WithSecondaryError(ErrUnavailable, err)
	default:
		return err
	}
}
