// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/app/effects"
	"groovebox/internal/app/filter"
	"groovebox/internal/app/notification"
	"groovebox/internal/app/radio"
	"groovebox/internal/app/ratelimit"
	"groovebox/internal/app/session"
	"groovebox/internal/app/session/registry"
	"groovebox/internal/domain/track"
	audiocache "groovebox/internal/infra/cache"
	"groovebox/internal/infra/config"
	"groovebox/internal/infra/discord"
	"groovebox/internal/infra/logger"
	"groovebox/internal/infra/persistence"
	"groovebox/internal/infra/prefs"
	"groovebox/internal/infra/resolver"
	"groovebox/internal/infra/spotify"
)

var (
	app        = kingpin.New("groovebox", "groovebox music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/groovebox.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	listFiltersCmd = app.Command("list-filters", "List available admission filters and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		os.Exit(1)
	}
}

// run executes the main bot logic. Using a separate function ensures defer
// statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	if err := validateFilterConfig(cfg); err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	ctx := context.Background()

	cacheStore, err := audiocache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open audio cache: %w", err)
	}
	if cfg.Cache.CleanOnStart {
		removed, freed := cacheStore.Clean()
		zlog.Info().Int("removed", removed).Int64("freed_bytes", freed).Msg("Startup cache clean complete")
	}

	snapshots, err := persistence.New(cfg.Persistence.File)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}

	volumes, err := prefs.NewVolumeStore(cfg.Volume.File, cfg.Volume.Default)
	if err != nil {
		return fmt.Errorf("failed to open volume store: %w", err)
	}
	favorites, err := prefs.NewFavoritesStore(cfg.Favorites.File, cfg.Favorites.MaxPlaylists, cfg.Favorites.MaxSongsPerPlaylist)
	if err != nil {
		return fmt.Errorf("failed to open favorites store: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	defer limiter.Stop()

	effectsProvider := effects.New(cfg.Effects)
	res := resolver.New(cfg.Playback.SearchResultCount, cfg.Playback.MaxRetryAttempts)
	radioMgr := radio.NewManager(cfg.Radio, radioSource{res})

	var expander session.Expander
	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
	})
	switch {
	case err == nil:
		expander = spotifyClient
		zlog.Info().Msg("Spotify link expansion enabled")
	case errors.Is(err, spotify.ErrNotConfigured):
		zlog.Info().Msg("Spotify credentials not set, link expansion disabled")
	default:
		return fmt.Errorf("failed to create Spotify client: %w", err)
	}

	notifier := notification.NewManager()
	defer notifier.Close()

	// The command handler and the client reference each other, so the
	// gateway listeners go through this pointer.
	var cmds *discord.Commands
	transports := discord.NewTransportSet()

	client, err := disgo.New(cfg.Discord.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildVoiceStates,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagRoles, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(func(event *events.ApplicationCommandInteractionCreate) {
			if cmds != nil {
				cmds.OnInteraction(event)
			}
		}),
		bot.WithEventListenerFunc(func(event *events.GuildVoiceStateUpdate) {
			if cmds != nil {
				cmds.OnVoiceStateUpdate(event, transports)
			}
		}),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(ctx)

	sink := discord.NewChannelSink(client)
	notifier.Subscribe(sink)

	sessions := registry.New(func(guildID string) *session.Session {
		transport, err := discord.NewVoiceTransport(client, guildID)
		if err != nil {
			zlog.Panic().Err(err).Str("guild_id", guildID).Msg("invalid guild id")
		}
		transports.Put(guildID, transport)

		deps := session.Deps{
			Transport: transport,
			Resolver:  res,
			Fetcher:   res,
			Cache:     cacheStore,
			Store:     snapshots,
			Effects:   effectsProvider,
			Volumes:   volumes,
			Limiter:   limiter,
			Radio:     radioMgr,
			Expander:  expander,
			Notifier:  notifier,
		}
		return session.New(guildID, *cfg, deps, func(q filter.QueueView) *filter.Chain {
			return buildChain(cfg, q)
		})
	})

	cmds = discord.NewCommands(cfg, sessions, sink, limiter, effectsProvider, volumes, favorites, cacheStore, snapshots)
	if err := cmds.Register(client); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}
	zlog.Info().Msg("Connected to Discord gateway")

	if cfg.Persistence.Enabled {
		go restoreSessions(ctx, snapshots, sessions, sink)
	}

	stopMaintenance := startMaintenance(cfg, cacheStore, snapshots)
	defer close(stopMaintenance)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Each session persists its queue before the connections go down.
	sessions.CloseAll(shutdownCtx)
	zlog.Info().Msg("Bot stopped")

	return nil
}

// radioSource feeds the radio station from the media resolver.
type radioSource struct {
	resolver *resolver.Resolver
}

func (s radioSource) Related(ctx context.Context, seedID string, limit int) ([]track.Track, error) {
	return s.resolver.RelatedTracks(ctx, seedID, limit)
}

func (s radioSource) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	return s.resolver.SearchTracks(ctx, query, limit)
}

// buildChain assembles a session's admission chain from the config. The
// queue-aware filters get the session's own queue view; the rest come from
// the filter registry.
func buildChain(cfg *config.Config, q filter.QueueView) *filter.Chain {
	chain := filter.NewChain()

	if cfg.IsFilterEnabled("queue_full_filter") {
		f := filter.NewQueueFullFilter(q)
		settings := filterSettings(cfg, f.Name())
		if _, ok := settings["max_size"]; !ok && cfg.Queue.MaxSize > 0 {
			settings["max_size"] = cfg.Queue.MaxSize
		}
		addFilter(chain, f, settings)
	}

	if cfg.Queue.DuplicateDetection && cfg.IsFilterEnabled("duplicate_track_filter") {
		f := filter.NewDuplicateTrackFilter(q)
		settings := filterSettings(cfg, f.Name())
		if _, ok := settings["warn_only"]; !ok {
			settings["warn_only"] = cfg.Queue.DuplicateWarnOnly
		}
		addFilter(chain, f, settings)
	}

	for name, factory := range filter.GetRegistered() {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		f := factory()
		addFilter(chain, f, filterSettings(cfg, name))
	}

	return chain
}

// filterSettings returns the filter's configured settings, falling back to
// the top-level queue and access config for the well-known keys.
func filterSettings(cfg *config.Config, name string) map[string]any {
	settings := make(map[string]any)
	if fc, ok := cfg.Filters[name]; ok {
		for k, v := range fc.Settings {
			settings[k] = v
		}
	}

	switch name {
	case "duration_limit_filter":
		if _, ok := settings["max_minutes"]; !ok && cfg.Queue.MaxTrackDurationMin > 0 {
			settings["max_minutes"] = float64(cfg.Queue.MaxTrackDurationMin)
		}
	case "file_size_filter":
		if _, ok := settings["max_size_mb"]; !ok && cfg.Queue.MaxFileSizeMB > 0 {
			settings["max_size_mb"] = cfg.Queue.MaxFileSizeMB
		}
	case "access_filter":
		if _, ok := settings["blacklist_roles"]; !ok && len(cfg.Access.BlacklistedRoles) > 0 {
			settings["blacklist_roles"] = cfg.Access.BlacklistedRoles
		}
		if _, ok := settings["whitelist_roles"]; !ok && cfg.Access.WhitelistEnabled {
			settings["whitelist_roles"] = cfg.Access.WhitelistedRoles
		}
	}
	return settings
}

func addFilter(chain *filter.Chain, f filter.Filter, settings map[string]any) {
	if err := f.ValidateConfig(settings); err != nil {
		zlog.Error().Err(err).Str("filter", f.Name()).Msg("Skipping filter with invalid config")
		return
	}
	chain.Add(f)
}

// restoreSessions replays persisted queue snapshots after a restart.
func restoreSessions(ctx context.Context, snapshots *persistence.Store, sessions *registry.Registry, sink *discord.ChannelSink) {
	guildIDs, err := snapshots.GuildIDs()
	if err != nil {
		zlog.Warn().Err(err).Msg("Failed to list persisted queues")
		return
	}

	for _, guildID := range guildIDs {
		snap, ok, err := snapshots.Load(guildID)
		if err != nil || !ok {
			continue
		}
		if snap.TextID != "" {
			if err := sink.Bind(guildID, snap.TextID); err != nil {
				zlog.Warn().Err(err).Str("guild_id", guildID).Msg("Failed to rebind notification channel")
			}
		}

		sess := sessions.GetOrCreate(guildID)
		if err := sess.Restore(ctx, snap); err != nil {
			zlog.Warn().Err(err).Str("guild_id", guildID).Msg("Failed to restore queue")
			continue
		}
		zlog.Info().Str("guild_id", guildID).Int("tracks", len(snap.Queue)).Msg("Restored queue")
	}
}

// startMaintenance runs the periodic cache clean and snapshot expiry. The
// returned channel stops both when closed.
func startMaintenance(cfg *config.Config, cacheStore *audiocache.Store, snapshots *persistence.Store) chan struct{} {
	stop := make(chan struct{})

	go func() {
		cleanTicker := time.NewTicker(time.Duration(cfg.Cache.CleanIntervalMin) * time.Minute)
		expireTicker := time.NewTicker(24 * time.Hour)
		defer cleanTicker.Stop()
		defer expireTicker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-cleanTicker.C:
				removed, freed := cacheStore.Clean()
				if removed > 0 {
					zlog.Info().Int("removed", removed).Int64("freed_bytes", freed).Msg("Cache clean complete")
				}
			case <-expireTicker.C:
				maxAge := time.Duration(cfg.Persistence.MaxAgeDays) * 24 * time.Hour
				if n, err := snapshots.CleanupOlderThan(maxAge); err != nil {
					zlog.Warn().Err(err).Msg("Snapshot expiry failed")
				} else if n > 0 {
					zlog.Info().Int("expired", n).Msg("Dropped stale queue snapshots")
				}
			}
		}
	}()

	return stop
}

// printFilters prints available admission filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// validateFilterConfig validates filter configurations.
func validateFilterConfig(cfg *config.Config) error {
	registered := filter.GetRegistered()

	for filterName, filterCfg := range cfg.Filters {
		if !filterCfg.Enabled {
			continue
		}

		factory, exists := registered[filterName]
		if !exists {
			// Some filters are created with dependencies, skip validation
			continue
		}

		f := factory()
		if err := f.ValidateConfig(filterCfg.Settings); err != nil {
			return fmt.Errorf("filter %s: %w", filterName, err)
		}
	}

	return nil
}
