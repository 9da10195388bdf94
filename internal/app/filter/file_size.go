package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/domain/track"
)

// FileSizeConfig represents the configuration for FileSizeFilter.
type FileSizeConfig struct {
	MaxSizeMB int `yaml:"max_size_mb" mapstructure:"max_size_mb" default:"100" validate:"gte=0"`
}

// FileSizeFilter rejects tracks whose reported download size exceeds the
// limit. Tracks with no size metadata pass through.
type FileSizeFilter struct {
	config *FileSizeConfig
}

// NewFileSizeFilter creates a new file size filter.
func NewFileSizeFilter() *FileSizeFilter {
	return &FileSizeFilter{}
}

func (f *FileSizeFilter) Name() string {
	return "file_size_filter"
}

func (f *FileSizeFilter) Description() string {
	return "Rejects tracks whose download size exceeds the limit"
}

func (f *FileSizeFilter) ReturnCodes() []string {
	return []string{"file_too_large"}
}

func (f *FileSizeFilter) ValidateConfig(settings map[string]any) error {
	var config FileSizeConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("file size filter config: %+v", config)
	return nil
}

func (f *FileSizeFilter) AppliesTo(source track.Source) bool {
	return source != track.SourceRestore
}

func (f *FileSizeFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	if f.config == nil || f.config.MaxSizeMB <= 0 {
		return Accept()
	}
	if t.FileSize <= 0 {
		return Accept()
	}
	if t.FileSize > int64(f.config.MaxSizeMB)*1024*1024 {
		return Reject("file_too_large")
	}
	return Accept()
}

func init() {
	Register("file_size_filter", func() Filter {
		return NewFileSizeFilter()
	})
}
