package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/app/effects"
	"groovebox/internal/app/radio"
	"groovebox/internal/app/ratelimit"
	"groovebox/internal/app/session"
	"groovebox/internal/app/session/registry"
	"groovebox/internal/domain/track"
	"groovebox/internal/infra/cache"
	"groovebox/internal/infra/config"
	"groovebox/internal/infra/persistence"
	"groovebox/internal/infra/prefs"
)

// playTimeout bounds resolution plus the first download of a play command.
const playTimeout = 5 * time.Minute

// Commands bridges slash commands to playback sessions.
type Commands struct {
	cfg       *config.Config
	sessions  *registry.Registry
	sink      *ChannelSink
	limiter   *ratelimit.Limiter
	effects   *effects.Provider
	volumes   *prefs.VolumeStore
	favorites *prefs.FavoritesStore
	cache     *cache.Store
	snapshots *persistence.Store
}

// NewCommands creates the command handler.
func NewCommands(
	cfg *config.Config,
	sessions *registry.Registry,
	sink *ChannelSink,
	limiter *ratelimit.Limiter,
	effectsProvider *effects.Provider,
	volumes *prefs.VolumeStore,
	favorites *prefs.FavoritesStore,
	cacheStore *cache.Store,
	snapshots *persistence.Store,
) *Commands {
	return &Commands{
		cfg:       cfg,
		sessions:  sessions,
		sink:      sink,
		limiter:   limiter,
		effects:   effectsProvider,
		volumes:   volumes,
		favorites: favorites,
		cache:     cacheStore,
		snapshots: snapshots,
	}
}

// Definitions returns the slash command set to register with Discord.
func (c *Commands) Definitions() []discord.ApplicationCommandCreate {
	return []discord.ApplicationCommandCreate{
		discord.SlashCommandCreate{
			Name:        "play",
			Description: "Play a track or add it to the queue",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "query",
					Description: "URL, Spotify link or search terms",
					Required:    true,
				},
			},
		},
		discord.SlashCommandCreate{Name: "skip", Description: "Skip the current track"},
		discord.SlashCommandCreate{
			Name:        "seek",
			Description: "Jump to a position in the current track",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "position",
					Description: "Position like 1:30, 1:02:30 or plain seconds",
					Required:    true,
				},
			},
		},
		discord.SlashCommandCreate{Name: "stop", Description: "Stop playback and clear the queue"},
		discord.SlashCommandCreate{Name: "pause", Description: "Pause the current track"},
		discord.SlashCommandCreate{Name: "resume", Description: "Resume paused playback"},
		discord.SlashCommandCreate{Name: "queue", Description: "Show the queue"},
		discord.SlashCommandCreate{Name: "nowplaying", Description: "Show the current track"},
		discord.SlashCommandCreate{Name: "shuffle", Description: "Shuffle the queue"},
		discord.SlashCommandCreate{Name: "loop", Description: "Toggle loop mode for the current track"},
		discord.SlashCommandCreate{Name: "clear", Description: "Clear the queue without stopping playback"},
		discord.SlashCommandCreate{
			Name:        "volume",
			Description: "Show or set your playback volume",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionInt{
					Name:        "level",
					Description: "Volume from 0 to 100",
					Required:    false,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        "effect",
			Description: "Show or set your audio effect",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "name",
					Description: "Effect name, or 'none' to clear",
					Required:    false,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        "radio",
			Description: "Radio mode",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionSubCommand{Name: "on", Description: "Keep the queue topped up with similar tracks"},
				discord.ApplicationCommandOptionSubCommand{Name: "off", Description: "Turn radio mode off"},
			},
		},
		discord.SlashCommandCreate{
			Name:        "history",
			Description: "Show recently played tracks",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionInt{
					Name:        "count",
					Description: "Number of entries to show",
					Required:    false,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        "favorite",
			Description: "Your favorite tracks",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionSubCommand{Name: "add", Description: "Favorite the current track"},
				discord.ApplicationCommandOptionSubCommand{Name: "list", Description: "List your favorites"},
				discord.ApplicationCommandOptionSubCommand{
					Name:        "remove",
					Description: "Remove a favorite",
					Options: []discord.ApplicationCommandOption{
						discord.ApplicationCommandOptionString{
							Name:        "id",
							Description: "Track ID to remove",
							Required:    true,
						},
					},
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        "playlist",
			Description: "Your personal playlists",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionSubCommand{
					Name:        "create",
					Description: "Create a playlist",
					Options:     []discord.ApplicationCommandOption{playlistNameOption()},
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        "delete",
					Description: "Delete a playlist",
					Options:     []discord.ApplicationCommandOption{playlistNameOption()},
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        "add",
					Description: "Add the current track to a playlist",
					Options:     []discord.ApplicationCommandOption{playlistNameOption()},
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        "show",
					Description: "Show a playlist's tracks",
					Options:     []discord.ApplicationCommandOption{playlistNameOption()},
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        "play",
					Description: "Queue every track of a playlist",
					Options:     []discord.ApplicationCommandOption{playlistNameOption()},
				},
				discord.ApplicationCommandOptionSubCommand{Name: "list", Description: "List your playlists"},
			},
		},
		discord.SlashCommandCreate{Name: "savequeue", Description: "Save the current queue for later"},
		discord.SlashCommandCreate{Name: "restorequeue", Description: "Restore the last saved queue"},
		discord.SlashCommandCreate{
			Name:        "stats",
			Description: "Show cache and rate limiter statistics (admin)",
		},
	}
}

func playlistNameOption() discord.ApplicationCommandOptionString {
	return discord.ApplicationCommandOptionString{
		Name:        "name",
		Description: "Playlist name",
		Required:    true,
	}
}

// Register pushes the command set to Discord.
func (c *Commands) Register(client *bot.Client) error {
	if _, err := client.Rest.SetGlobalCommands(client.ApplicationID, c.Definitions()); err != nil {
		return errors.Wrap(err, "failed to register commands")
	}
	return nil
}

// OnInteraction dispatches a slash command to its handler.
func (c *Commands) OnInteraction(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		replyError(event, "Commands only work in a server.")
		return
	}
	guildID := event.GuildID().String()
	userID := event.User().ID.String()
	roles := memberRoles(event)

	if !c.allowed(userID, roles) {
		replyError(event, "You are not allowed to use this bot here.")
		return
	}
	if err := c.limiter.Allow(guildID, userID, ratelimit.ActionCommand, roles...); err != nil {
		replyError(event, errorMessage(err))
		return
	}

	data := event.SlashCommandInteractionData()
	switch data.CommandName() {
	case "play":
		c.handlePlay(event, data)
	case "skip":
		c.handleSkip(event)
	case "seek":
		c.handleSeek(event, data)
	case "stop":
		c.handleStop(event)
	case "pause":
		c.handlePause(event)
	case "resume":
		c.handleResume(event)
	case "queue":
		c.handleQueue(event)
	case "nowplaying":
		c.handleNowPlaying(event)
	case "shuffle":
		c.handleShuffle(event)
	case "loop":
		c.handleLoop(event)
	case "clear":
		c.handleClear(event)
	case "volume":
		c.handleVolume(event, data)
	case "effect":
		c.handleEffect(event, data)
	case "radio":
		c.handleRadio(event, data)
	case "history":
		c.handleHistory(event, data)
	case "favorite":
		c.handleFavorite(event, data)
	case "playlist":
		c.handlePlaylist(event, data)
	case "savequeue":
		c.handleSaveQueue(event)
	case "restorequeue":
		c.handleRestoreQueue(event)
	case "stats":
		c.handleStats(event, roles)
	}
}

// OnVoiceStateUpdate notices the bot being moved or kicked out of a voice
// channel and hands the event to that guild's transport.
func (c *Commands) OnVoiceStateUpdate(event *events.GuildVoiceStateUpdate, transports *TransportSet) {
	if event.VoiceState.UserID != event.Client().ApplicationID {
		return
	}
	if event.VoiceState.ChannelID != nil {
		return
	}
	if t, ok := transports.Get(event.VoiceState.GuildID.String()); ok {
		t.HandleDisconnect()
	}
}

func (c *Commands) handlePlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := data.String("query")
	guildID := event.GuildID().String()

	voiceChannelID := c.userVoiceChannel(event)
	if voiceChannelID == "" {
		replyError(event, "Join a voice channel first.")
		return
	}

	if err := c.sink.Bind(guildID, event.Channel().ID().String()); err != nil {
		zlog.Warn().Err(err).Str("guild_id", guildID).Msg("failed to bind notification channel")
	}

	sess := c.sessions.GetOrCreate(guildID)
	req := session.PlayRequest{
		Input:          query,
		UserID:         event.User().ID.String(),
		UserName:       event.User().Username,
		RoleIDs:        memberRoles(event),
		VoiceChannelID: voiceChannelID,
		TextChannelID:  event.Channel().ID().String(),
	}

	_ = event.DeferCreateMessage(false)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()

		res, err := sess.Play(ctx, req)
		content := playSummary(res, err)
		if _, err := event.Client().Rest.UpdateInteractionResponse(
			event.ApplicationID(), event.Token(),
			discord.MessageUpdate{Content: &content},
		); err != nil {
			zlog.Warn().Err(err).Str("guild_id", guildID).Msg("failed to update play response")
		}
	}()
}

// playSummary renders the outcome of a play command.
func playSummary(res session.PlayResult, err error) string {
	if err != nil {
		return errorMessage(err)
	}

	var sb strings.Builder
	switch len(res.Queued) {
	case 1:
		fmt.Fprintf(&sb, "Queued **%s**", res.Queued[0].Title)
	default:
		fmt.Fprintf(&sb, "Queued **%d** tracks", len(res.Queued))
	}
	if len(res.Rejected) > 0 {
		fmt.Fprintf(&sb, " (%d not added)", len(res.Rejected))
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&sb, "\n:warning: %s", warningMessage(w))
	}
	return sb.String()
}

func (c *Commands) handleSkip(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyError(event, "Nothing is playing.")
		return
	}
	if err := sess.Skip(); err != nil {
		replyError(event, errorMessage(err))
		return
	}
	reply(event, "Skipped.")
}

func (c *Commands) handleSeek(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyError(event, "Nothing is playing.")
		return
	}
	pos, err := parsePosition(data.String("position"))
	if err != nil {
		replyError(event, "Give a position like `1:30`, `1:02:30` or plain seconds.")
		return
	}
	if err := sess.Seek(context.Background(), pos); err != nil {
		replyError(event, errorMessage(err))
		return
	}
	reply(event, fmt.Sprintf("Jumped to %s.", fmtDuration(pos)))
}

// parsePosition parses h:mm:ss, m:ss or a bare seconds count.
func parsePosition(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 3 {
		return 0, errors.Newf("invalid position %q", s)
	}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, errors.Newf("invalid position %q", s)
		}
		if i > 0 && n > 59 {
			return 0, errors.Newf("invalid position %q", s)
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, nil
}

func (c *Commands) handleSaveQueue(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyError(event, "The queue is empty.")
		return
	}
	if err := sess.SaveQueue(); err != nil {
		replyError(event, errorMessage(err))
		return
	}
	reply(event, "Queue saved. Bring it back anytime with /restorequeue.")
}

func (c *Commands) handleRestoreQueue(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID().String()

	snap, ok, err := c.snapshots.Load(guildID)
	if err != nil {
		replyError(event, errorMessage(err))
		return
	}
	if !ok || (snap.NowPlaying == nil && len(snap.Queue) == 0) {
		replyError(event, "No saved queue for this server.")
		return
	}

	voiceChannelID := c.userVoiceChannel(event)
	if voiceChannelID == "" {
		replyError(event, "Join a voice channel first.")
		return
	}
	snap.VoiceID = voiceChannelID
	snap.TextID = event.Channel().ID().String()
	if err := c.sink.Bind(guildID, snap.TextID); err != nil {
		zlog.Warn().Err(err).Str("guild_id", guildID).Msg("failed to bind notification channel")
	}

	count := len(snap.Queue)
	if snap.NowPlaying != nil {
		count++
	}

	sess := c.sessions.GetOrCreate(guildID)
	_ = event.DeferCreateMessage(false)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()

		content := fmt.Sprintf("Restored **%d** tracks from the saved queue.", count)
		if err := sess.Restore(ctx, snap); err != nil {
			content = errorMessage(err)
		}
		if _, err := event.Client().Rest.UpdateInteractionResponse(
			event.ApplicationID(), event.Token(),
			discord.MessageUpdate{Content: &content},
		); err != nil {
			zlog.Warn().Err(err).Str("guild_id", guildID).Msg("failed to update restore response")
		}
	}()
}

func (c *Commands) handleStop(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyError(event, "Nothing is playing.")
		return
	}
	if err := sess.Stop(); err != nil {
		replyError(event, errorMessage(err))
		return
	}
	reply(event, "Stopped and cleared the queue.")
}

func (c *Commands) handlePause(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyError(event, "Nothing is playing.")
		return
	}
	if err := sess.Pause(); err != nil {
		replyError(event, errorMessage(err))
		return
	}
	reply(event, "Paused.")
}

func (c *Commands) handleResume(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyError(event, "Nothing is playing.")
		return
	}
	if err := sess.Resume(); err != nil {
		replyError(event, errorMessage(err))
		return
	}
	reply(event, "Resumed.")
}

func (c *Commands) handleQueue(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyEphemeral(event, "The queue is empty.")
		return
	}

	var sb strings.Builder
	if now, playing := sess.NowPlaying(); playing {
		fmt.Fprintf(&sb, "**Now playing:** [%s](%s)\n\n", now.Title, now.URL)
	}

	queue := sess.Tracks()
	if len(queue) == 0 {
		sb.WriteString("The queue is empty.")
	} else {
		sb.WriteString("**Up next:**\n")
		for i, t := range queue {
			if i >= 10 {
				fmt.Fprintf(&sb, "*...and %d more*\n", len(queue)-10)
				break
			}
			fmt.Fprintf(&sb, "`%d.` [%s](%s) (%s)\n", i+1, t.Title, t.URL, t.Requester.Name)
		}
	}
	if sess.Loop() {
		sb.WriteString("\nLoop is on.")
	}
	if sess.RadioActive() {
		sb.WriteString("\nRadio is on.")
	}
	replyEphemeral(event, sb.String())
}

func (c *Commands) handleNowPlaying(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyEphemeral(event, "Nothing is playing.")
		return
	}
	now, playing := sess.NowPlaying()
	if !playing {
		replyEphemeral(event, "Nothing is playing.")
		return
	}
	replyEphemeral(event, fmt.Sprintf("**Now playing:** [%s](%s) (%s), requested by %s",
		now.Title, now.URL, fmtDuration(now.Duration), now.Requester.Name))
}

func (c *Commands) handleShuffle(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyError(event, "The queue is empty.")
		return
	}
	if err := sess.Shuffle(); err != nil {
		replyError(event, errorMessage(err))
		return
	}
	reply(event, "Queue shuffled.")
}

func (c *Commands) handleLoop(event *events.ApplicationCommandInteractionCreate) {
	sess := c.sessions.GetOrCreate(event.GuildID().String())
	if sess.ToggleLoop() {
		reply(event, "Loop is on.")
	} else {
		reply(event, "Loop is off.")
	}
}

func (c *Commands) handleClear(event *events.ApplicationCommandInteractionCreate) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyEphemeral(event, "The queue is already empty.")
		return
	}
	removed := sess.Clear()
	reply(event, fmt.Sprintf("Removed %d tracks from the queue.", removed))
}

func (c *Commands) handleVolume(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	userID := event.User().ID.String()

	level, ok := data.OptInt("level")
	if !ok {
		replyEphemeral(event, fmt.Sprintf("Your volume is %d%%. It applies from your next track.", c.volumes.Get(userID)))
		return
	}
	if err := c.volumes.Set(userID, level); err != nil {
		replyError(event, errorMessage(err))
		return
	}
	replyEphemeral(event, fmt.Sprintf("Volume set to %d%%. It applies from your next track.", level))
}

func (c *Commands) handleEffect(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	userID := event.User().ID.String()

	name, ok := data.OptString("name")
	if !ok {
		active := c.effects.Active(userID)
		if active == "" {
			active = "none"
		}
		replyEphemeral(event, fmt.Sprintf("Active effect: **%s**\nAvailable: %s",
			active, strings.Join(c.effects.Available(), ", ")))
		return
	}
	if err := c.effects.Set(userID, name); err != nil {
		replyError(event, errorMessage(err))
		return
	}
	if active := c.effects.Active(userID); active != "" {
		replyEphemeral(event, fmt.Sprintf("Effect set to **%s**. It applies from your next track.", active))
	} else {
		replyEphemeral(event, "Effect cleared.")
	}
}

func (c *Commands) handleRadio(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if data.SubCommandName == nil {
		return
	}
	guildID := event.GuildID().String()

	switch *data.SubCommandName {
	case "on":
		sess, ok := c.sessions.Get(guildID)
		if !ok {
			replyError(event, "Play something first to seed the radio.")
			return
		}
		if err := sess.StartRadio(context.Background()); err != nil {
			replyError(event, errorMessage(err))
			return
		}
		reply(event, "Radio is on. The queue stays topped up with similar tracks.")
	case "off":
		if sess, ok := c.sessions.Get(guildID); ok {
			sess.StopRadio()
		}
		reply(event, "Radio is off.")
	}
}

func (c *Commands) handleHistory(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		replyEphemeral(event, "No playback history yet.")
		return
	}

	count, ok := data.OptInt("count")
	if !ok || count <= 0 {
		count = 10
	}
	entries := sess.History(count)
	if len(entries) == 0 {
		replyEphemeral(event, "No playback history yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("**Recently played:**\n")
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(&sb, "- [%s](%s) at %s\n", e.Track.Title, e.Track.URL, e.PlayedAt.Format("15:04"))
	}
	replyEphemeral(event, sb.String())
}

func (c *Commands) handleFavorite(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if data.SubCommandName == nil {
		return
	}
	userID := event.User().ID.String()

	switch *data.SubCommandName {
	case "add":
		now, ok := c.currentTrack(event)
		if !ok {
			replyError(event, "Nothing is playing.")
			return
		}
		if err := c.favorites.AddFavorite(userID, now); err != nil {
			replyError(event, errorMessage(err))
			return
		}
		replyEphemeral(event, fmt.Sprintf("Added **%s** to your favorites.", now.Title))
	case "remove":
		id := data.String("id")
		if err := c.favorites.RemoveFavorite(userID, id); err != nil {
			replyError(event, errorMessage(err))
			return
		}
		replyEphemeral(event, "Removed from your favorites.")
	case "list":
		favs := c.favorites.Favorites(userID)
		if len(favs) == 0 {
			replyEphemeral(event, "You have no favorites yet.")
			return
		}
		var sb strings.Builder
		sb.WriteString("**Your favorites:**\n")
		for _, t := range favs {
			fmt.Fprintf(&sb, "- [%s](%s) `%s`\n", t.Title, t.URL, t.ID)
		}
		replyEphemeral(event, sb.String())
	}
}

func (c *Commands) handlePlaylist(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	if data.SubCommandName == nil {
		return
	}
	userID := event.User().ID.String()

	switch *data.SubCommandName {
	case "create":
		name := data.String("name")
		if err := c.favorites.CreatePlaylist(userID, name); err != nil {
			replyError(event, errorMessage(err))
			return
		}
		replyEphemeral(event, fmt.Sprintf("Created playlist **%s**.", name))
	case "delete":
		name := data.String("name")
		if err := c.favorites.DeletePlaylist(userID, name); err != nil {
			replyError(event, errorMessage(err))
			return
		}
		replyEphemeral(event, fmt.Sprintf("Deleted playlist **%s**.", name))
	case "add":
		name := data.String("name")
		now, ok := c.currentTrack(event)
		if !ok {
			replyError(event, "Nothing is playing.")
			return
		}
		if err := c.favorites.AddToPlaylist(userID, name, now); err != nil {
			replyError(event, errorMessage(err))
			return
		}
		replyEphemeral(event, fmt.Sprintf("Added **%s** to **%s**.", now.Title, name))
	case "show":
		name := data.String("name")
		pl, err := c.favorites.Playlist(userID, name)
		if err != nil {
			replyError(event, errorMessage(err))
			return
		}
		if len(pl.Tracks) == 0 {
			replyEphemeral(event, fmt.Sprintf("Playlist **%s** is empty.", name))
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "**%s:**\n", pl.Name)
		for i, t := range pl.Tracks {
			fmt.Fprintf(&sb, "`%d.` [%s](%s)\n", i+1, t.Title, t.URL)
		}
		replyEphemeral(event, sb.String())
	case "play":
		c.handlePlaylistPlay(event, data.String("name"))
	case "list":
		names := c.favorites.Playlists(userID)
		if len(names) == 0 {
			replyEphemeral(event, "You have no playlists yet.")
			return
		}
		replyEphemeral(event, "**Your playlists:** "+strings.Join(names, ", "))
	}
}

// handlePlaylistPlay queues every track of a stored playlist. Stored tracks
// are already resolved, so they go straight through admission.
func (c *Commands) handlePlaylistPlay(event *events.ApplicationCommandInteractionCreate, name string) {
	userID := event.User().ID.String()
	guildID := event.GuildID().String()

	pl, err := c.favorites.Playlist(userID, name)
	if err != nil {
		replyError(event, errorMessage(err))
		return
	}
	if len(pl.Tracks) == 0 {
		replyError(event, fmt.Sprintf("Playlist **%s** is empty.", name))
		return
	}

	voiceChannelID := c.userVoiceChannel(event)
	if voiceChannelID == "" {
		replyError(event, "Join a voice channel first.")
		return
	}
	if err := c.sink.Bind(guildID, event.Channel().ID().String()); err != nil {
		zlog.Warn().Err(err).Str("guild_id", guildID).Msg("failed to bind notification channel")
	}

	sess := c.sessions.GetOrCreate(guildID)
	req := session.PlayRequest{
		UserID:         userID,
		UserName:       event.User().Username,
		RoleIDs:        memberRoles(event),
		VoiceChannelID: voiceChannelID,
		TextChannelID:  event.Channel().ID().String(),
	}

	_ = event.DeferCreateMessage(false)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()

		queued := 0
		for _, t := range pl.Tracks {
			r := req
			r.Input = t.URL
			res, err := sess.Play(ctx, r)
			if err != nil {
				continue
			}
			queued += len(res.Queued)
		}

		content := fmt.Sprintf("Queued **%d** tracks from **%s**.", queued, name)
		if queued == 0 {
			content = fmt.Sprintf("Could not queue anything from **%s**.", name)
		}
		if _, err := event.Client().Rest.UpdateInteractionResponse(
			event.ApplicationID(), event.Token(),
			discord.MessageUpdate{Content: &content},
		); err != nil {
			zlog.Warn().Err(err).Str("guild_id", guildID).Msg("failed to update playlist response")
		}
	}()
}

func (c *Commands) handleStats(event *events.ApplicationCommandInteractionCreate, roles []string) {
	if !c.cfg.IsAdminRole(roles...) {
		replyError(event, "Admin only.")
		return
	}

	cs := c.cache.Stats()
	ls := c.limiter.Stats()
	vs := c.volumes.Stats()

	replyEphemeral(event, fmt.Sprintf(
		"**Cache:** %d files (%d popular), %.1f MB, %d hits / %d misses\n**Rate limiter:** %d active users\n**Volumes:** %d users, avg %d%%",
		cs.FileCount, cs.Popular, float64(cs.TotalBytes)/(1024*1024), cs.Hits, cs.Misses, ls.ActiveUsers, vs.Users, vs.Average))
}

// currentTrack returns the guild's now-playing track.
func (c *Commands) currentTrack(event *events.ApplicationCommandInteractionCreate) (track.Track, bool) {
	sess, ok := c.sessions.Get(event.GuildID().String())
	if !ok {
		return track.Track{}, false
	}
	return sess.NowPlaying()
}

// userVoiceChannel returns the voice channel the invoking user sits in.
func (c *Commands) userVoiceChannel(event *events.ApplicationCommandInteractionCreate) string {
	vs, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || vs.ChannelID == nil {
		return ""
	}
	return vs.ChannelID.String()
}

// allowed applies the guild access lists to the invoking user.
func (c *Commands) allowed(userID string, roleIDs []string) bool {
	for _, id := range c.cfg.Access.BlacklistedUsers {
		if id == userID {
			return false
		}
	}
	for _, blocked := range c.cfg.Access.BlacklistedRoles {
		for _, id := range roleIDs {
			if blocked == id {
				return false
			}
		}
	}
	if !c.cfg.Access.WhitelistEnabled {
		return true
	}
	for _, id := range c.cfg.Access.WhitelistedUsers {
		if id == userID {
			return true
		}
	}
	for _, allowed := range c.cfg.Access.WhitelistedRoles {
		for _, id := range roleIDs {
			if allowed == id {
				return true
			}
		}
	}
	return false
}

func memberRoles(event *events.ApplicationCommandInteractionCreate) []string {
	member := event.Member()
	if member == nil {
		return nil
	}
	roles := make([]string, 0, len(member.RoleIDs))
	for _, id := range member.RoleIDs {
		roles = append(roles, id.String())
	}
	return roles
}

func reply(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.MessageCreate{Content: content})
}

func replyEphemeral(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.MessageCreate{Content: content, Flags: discord.MessageFlagEphemeral})
}

func replyError(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.MessageCreate{Content: ":x: " + content, Flags: discord.MessageFlagEphemeral})
}

// errorMessage maps well-known errors to user-facing text.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return "You are doing that too fast. " + firstLine(err.Error())
	case errors.Is(err, session.ErrNoTrack):
		return "Nothing is playing."
	case errors.Is(err, session.ErrQueueEmpty):
		return "The queue is empty."
	case errors.Is(err, session.ErrNotPlaying):
		return "Playback is not running."
	case errors.Is(err, session.ErrNotPaused):
		return "Playback is not paused."
	case errors.Is(err, session.ErrSeekOutOfRange):
		return "That position is outside the track."
	case errors.Is(err, session.ErrTerminated):
		return "This session has ended. Run /play to start a new one."
	case errors.Is(err, session.ErrRejected):
		return "Track rejected: " + firstLine(err.Error())
	case errors.Is(err, radio.ErrRadioDisabled):
		return "Radio mode is disabled."
	case errors.Is(err, effects.ErrUnknownEffect):
		return "Unknown effect. See /effect for the available ones."
	case errors.Is(err, effects.ErrEffectsDisabled):
		return "Audio effects are disabled."
	case errors.Is(err, prefs.ErrVolumeOutOfRange):
		return "Volume must be between 0 and 100."
	case errors.Is(err, prefs.ErrAlreadyFavorite):
		return "That track is already in your favorites."
	case errors.Is(err, prefs.ErrNotFavorite):
		return "That track is not in your favorites."
	case errors.Is(err, prefs.ErrPlaylistExists):
		return "A playlist with that name already exists."
	case errors.Is(err, prefs.ErrPlaylistNotFound):
		return "No playlist with that name."
	case errors.Is(err, prefs.ErrPlaylistLimit):
		return "You have reached your playlist limit."
	case errors.Is(err, prefs.ErrSongLimit):
		return "That playlist is full."
	case errors.Is(err, prefs.ErrDuplicateSong):
		return "That track is already in the playlist."
	default:
		return firstLine(err.Error())
	}
}

// warningMessage maps admission warning codes to user-facing text.
func warningMessage(code string) string {
	switch code {
	case "duplicate_track":
		return "This track is already in the queue."
	default:
		return code
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
