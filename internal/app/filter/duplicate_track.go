package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/domain/track"
)

// DuplicateTrackConfig represents the configuration for DuplicateTrackFilter.
type DuplicateTrackConfig struct {
	// WarnOnly accepts duplicates but flags them with a warning.
	WarnOnly bool `yaml:"warn_only" mapstructure:"warn_only"`
}

// DuplicateTrackFilter detects tracks already waiting in the queue.
type DuplicateTrackFilter struct {
	config *DuplicateTrackConfig
	queue  QueueView
}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter(queue QueueView) *DuplicateTrackFilter {
	return &DuplicateTrackFilter{queue: queue}
}

func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

func (f *DuplicateTrackFilter) Description() string {
	return "Detects tracks already waiting in the queue"
}

func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

func (f *DuplicateTrackFilter) ValidateConfig(settings map[string]any) error {
	var config DuplicateTrackConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("duplicate track filter config: %+v", config)
	return nil
}

func (f *DuplicateTrackFilter) AppliesTo(source track.Source) bool {
	// Radio refills run their own dedup against the session's history.
	return source == track.SourceUser
}

func (f *DuplicateTrackFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	for _, queued := range f.queue.Tracks() {
		if queued.Same(t) {
			if f.config != nil && f.config.WarnOnly {
				return Warn("duplicate_track")
			}
			return Reject("duplicate_track")
		}
	}
	return Accept()
}
