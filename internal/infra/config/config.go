// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration. It is loaded once at
// startup and passed into component constructors; components never read
// configuration from anywhere else.
type Config struct {
	Discord     DiscordConfig           `yaml:"discord"`
	Spotify     SpotifyConfig           `yaml:"spotify"`
	Playback    PlaybackConfig          `yaml:"playback"`
	Queue       QueueConfig             `yaml:"queue"`
	Cache       CacheConfig             `yaml:"cache"`
	Persistence PersistenceConfig       `yaml:"persistence"`
	History     HistoryConfig           `yaml:"history"`
	RateLimit   RateLimitConfig         `yaml:"rate_limit"`
	Radio       RadioConfig             `yaml:"radio"`
	Effects     EffectsConfig           `yaml:"effects"`
	Volume      VolumeConfig            `yaml:"volume"`
	Favorites   FavoritesConfig         `yaml:"favorites"`
	Access      AccessConfig            `yaml:"access"`
	Filters     map[string]FilterConfig `yaml:"filters"`
}

// DiscordConfig represents Discord connection configuration.
type DiscordConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// SpotifyConfig represents Spotify API configuration. Optional: when the
// credentials are missing, Spotify URL expansion is disabled.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// PlaybackConfig represents playback behaviour configuration.
type PlaybackConfig struct {
	DisconnectOnEmptyQueue  bool `yaml:"disconnect_on_empty_queue" default:"true"`
	MaxRetryAttempts        int  `yaml:"max_retry_attempts" default:"3" validate:"gte=0,lte=10"`
	SkipAgeRestricted       bool `yaml:"skip_age_restricted" default:"true"`
	SkipUnavailable         bool `yaml:"skip_unavailable" default:"true"`
	MaxConsecutiveSkips     int  `yaml:"max_consecutive_skips" default:"5" validate:"gte=1"`
	PostPlayDeleteDelayMins int  `yaml:"post_play_delete_delay_minutes" default:"5" validate:"gte=0"`
	PreemptiveDownload      bool `yaml:"preemptive_download" default:"true"`
	PreemptiveDownloadCount int  `yaml:"preemptive_download_count" default:"2" validate:"gte=0,lte=10"`
	AutoReconnect           bool `yaml:"auto_reconnect" default:"true"`
	ReconnectAttempts       int  `yaml:"reconnect_attempts" default:"3" validate:"gte=1,lte=10"`
	ReconnectDelaySecs      int  `yaml:"reconnect_delay_seconds" default:"5" validate:"gte=1"`
	SearchResultCount       int  `yaml:"search_result_count" default:"5" validate:"gte=1,lte=25"`
}

// QueueConfig represents queue admission configuration.
type QueueConfig struct {
	MaxSize             int  `yaml:"max_size" default:"100" validate:"gte=0"`
	MaxTrackDurationMin int  `yaml:"max_track_duration_minutes" validate:"gte=0"`
	MaxFileSizeMB       int  `yaml:"max_file_size_mb" default:"100" validate:"gte=0"`
	DuplicateDetection  bool `yaml:"duplicate_detection" default:"true"`
	DuplicateWarnOnly   bool `yaml:"duplicate_warn_only"`
}

// CacheConfig represents the local audio file cache configuration.
type CacheConfig struct {
	Dir              string `yaml:"dir" default:"tmp"`
	MaxSizeMB        int    `yaml:"max_size_mb" default:"1000" validate:"gte=1"`
	PopularThreshold int    `yaml:"popular_threshold" default:"3" validate:"gte=1"`
	RetentionDays    int    `yaml:"retention_days" default:"7" validate:"gte=1"`
	CleanIntervalMin int    `yaml:"clean_interval_minutes" default:"60" validate:"gte=1"`
	CleanOnStart     bool   `yaml:"clean_on_start"`
}

// PersistenceConfig represents queue snapshot persistence configuration.
type PersistenceConfig struct {
	Enabled    bool   `yaml:"enabled" default:"true"`
	File       string `yaml:"file" default:"data/queues.json"`
	MaxAgeDays int    `yaml:"max_age_days" default:"7" validate:"gte=1"`
}

// HistoryConfig represents playback history configuration.
type HistoryConfig struct {
	Enabled    bool `yaml:"enabled" default:"true"`
	MaxEntries int  `yaml:"max_entries" default:"50" validate:"gte=1"`
}

// RateLimitConfig represents command rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled" default:"true"`
	CommandsPerMinute int      `yaml:"commands_per_minute" default:"10" validate:"gte=1"`
	PlaysPerMinute    int      `yaml:"plays_per_minute" default:"5" validate:"gte=1"`
	ExemptRoles       []string `yaml:"exempt_roles"`
	ExemptUsers       []string `yaml:"exempt_users"`
}

// RadioConfig represents radio (auto-refill) mode configuration.
type RadioConfig struct {
	Enabled    bool `yaml:"enabled" default:"true"`
	RefillAt   int  `yaml:"refill_at" default:"5" validate:"gte=1"`
	FetchCount int  `yaml:"fetch_count" default:"10" validate:"gte=1,lte=25"`
}

// EffectsConfig represents audio effect configuration.
type EffectsConfig struct {
	Enabled   bool     `yaml:"enabled" default:"true"`
	Available []string `yaml:"available"`
}

// VolumeConfig represents per-user volume preference configuration.
type VolumeConfig struct {
	Default int    `yaml:"default" default:"50" validate:"gte=0,lte=100"`
	File    string `yaml:"file" default:"data/volumes.json"`
}

// FavoritesConfig represents the favorites/playlists store configuration.
type FavoritesConfig struct {
	File                string `yaml:"file" default:"data/favorites.json"`
	MaxPlaylists        int    `yaml:"max_playlists" default:"10" validate:"gte=1"`
	MaxSongsPerPlaylist int    `yaml:"max_songs_per_playlist" default:"100" validate:"gte=1"`
}

// AccessConfig represents user access control lists.
type AccessConfig struct {
	BlacklistedUsers []string `yaml:"blacklisted_users"`
	BlacklistedRoles []string `yaml:"blacklisted_roles"`
	WhitelistEnabled bool     `yaml:"whitelist_enabled"`
	WhitelistedUsers []string `yaml:"whitelisted_users"`
	WhitelistedRoles []string `yaml:"whitelisted_roles"`
	AdminRoles       []string `yaml:"admin_roles"`
}

// FilterConfig represents an admission filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// IsFilterEnabled checks if a named admission filter is enabled. Filters not
// mentioned in the config are enabled by default.
func (c *Config) IsFilterEnabled(name string) bool {
	fc, ok := c.Filters[name]
	if !ok {
		return true
	}
	return fc.Enabled
}

// PostPlayDeleteDelay returns the deferred cache deletion delay.
func (c *Config) PostPlayDeleteDelay() time.Duration {
	return time.Duration(c.Playback.PostPlayDeleteDelayMins) * time.Minute
}

// ReconnectDelay returns the delay between reconnection attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Playback.ReconnectDelaySecs) * time.Second
}

// MaxTrackDuration returns the per-track duration cap, zero meaning no limit.
func (c *Config) MaxTrackDuration() time.Duration {
	return time.Duration(c.Queue.MaxTrackDurationMin) * time.Minute
}

// IsAdminRole checks if any of the given role IDs is an admin role.
func (c *Config) IsAdminRole(roleIDs ...string) bool {
	for _, r := range c.Access.AdminRoles {
		for _, id := range roleIDs {
			if r == id {
				return true
			}
		}
	}
	return false
}
