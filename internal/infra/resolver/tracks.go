package resolver

import (
	"context"

	"groovebox/internal/domain/track"
)

// ResolveTrack resolves user input into a domain track.
func (r *Resolver) ResolveTrack(ctx context.Context, input string) (track.Track, error) {
	m, err := r.Resolve(ctx, input)
	if err != nil {
		return track.Track{}, err
	}
	return m.toTrack(), nil
}

// SearchTracks returns candidate domain tracks for a free-text query.
func (r *Resolver) SearchTracks(ctx context.Context, query string, limit int) ([]track.Track, error) {
	ms, err := r.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return toTracks(ms), nil
}

// RelatedTracks returns domain tracks related to a seed track.
func (r *Resolver) RelatedTracks(ctx context.Context, seedID string, limit int) ([]track.Track, error) {
	ms, err := r.Related(ctx, seedID, limit)
	if err != nil {
		return nil, err
	}
	return toTracks(ms), nil
}

func (m Metadata) toTrack() track.Track {
	return track.Track{
		ID:       m.ID,
		Title:    m.Title,
		Artist:   m.Artist,
		URL:      m.URL,
		Duration: m.Duration,
		FileSize: m.FileSize,
	}
}

func toTracks(ms []Metadata) []track.Track {
	out := make([]track.Track, len(ms))
	for i, m := range ms {
		out[i] = m.toTrack()
	}
	return out
}
