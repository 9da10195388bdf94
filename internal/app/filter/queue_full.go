package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/domain/track"
)

// QueueFullConfig represents the configuration for QueueFullFilter.
type QueueFullConfig struct {
	MaxSize int `yaml:"max_size" mapstructure:"max_size" default:"100" validate:"gte=1"`
}

// QueueFullFilter rejects requests when the pending queue is at capacity.
type QueueFullFilter struct {
	config *QueueFullConfig
	queue  QueueView
}

// NewQueueFullFilter creates a new queue capacity filter.
func NewQueueFullFilter(queue QueueView) *QueueFullFilter {
	return &QueueFullFilter{queue: queue}
}

func (f *QueueFullFilter) Name() string {
	return "queue_full_filter"
}

func (f *QueueFullFilter) Description() string {
	return "Rejects requests when the queue is at capacity"
}

func (f *QueueFullFilter) ReturnCodes() []string {
	return []string{"queue_full"}
}

func (f *QueueFullFilter) ValidateConfig(settings map[string]any) error {
	var config QueueFullConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("queue full filter config: %+v", config)
	return nil
}

func (f *QueueFullFilter) AppliesTo(source track.Source) bool {
	// Capacity applies to everything, including radio refills.
	return true
}

func (f *QueueFullFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	if f.config == nil {
		return Accept()
	}
	if len(f.queue.Tracks()) >= f.config.MaxSize {
		return Reject("queue_full")
	}
	return Accept()
}

// decodeSettings decodes a settings map into a config struct, applies
// defaults, then validates it.
func decodeSettings(settings map[string]any, dst any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  dst,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(dst); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	validate := validator.New()
	if err := validate.Struct(dst); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
