package discord

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"groovebox/internal/app/notification"
	"groovebox/internal/domain/track"
)

// Embed colors per event kind.
const (
	colorInfo    = 0x3498db
	colorPlaying = 0x2ecc71
	colorWarn    = 0xe67e22
	colorError   = 0xe74c3c
)

// statusUpdateInterval is how often the now-playing message's progress bar
// is refreshed.
const statusUpdateInterval = 15 * time.Second

// playingStatus tracks the live now-playing message for one guild. Elapsed
// time is offset plus wall time since baseline, so a seek only has to move
// the two anchors.
type playingStatus struct {
	channelID snowflake.ID
	messageID snowflake.ID
	track     track.Track
	baseline  time.Time
	offset    time.Duration
	done      chan struct{}
}

// ChannelSink renders session events as embeds into each guild's bound text
// channel. Guilds without a binding are skipped. The now-playing embed is
// kept live with a progress bar until the track ends or playback stops.
type ChannelSink struct {
	client *bot.Client

	mu       sync.RWMutex
	channels map[string]snowflake.ID
	statuses map[string]*playingStatus
}

// NewChannelSink creates a sink that posts through the given client.
func NewChannelSink(client *bot.Client) *ChannelSink {
	return &ChannelSink{
		client:   client,
		channels: make(map[string]snowflake.ID),
		statuses: make(map[string]*playingStatus),
	}
}

// Bind routes a guild's events to the given text channel.
func (s *ChannelSink) Bind(guildID, textChannelID string) error {
	chID, err := snowflake.Parse(textChannelID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[guildID] = chID
	return nil
}

// Unbind removes a guild's routing.
func (s *ChannelSink) Unbind(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, guildID)
}

// Channel returns the bound text channel for a guild.
func (s *ChannelSink) Channel(guildID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chID, ok := s.channels[guildID]
	if !ok {
		return "", false
	}
	return chID.String(), true
}

// Send implements notification.Sink.
func (s *ChannelSink) Send(e notification.Event) error {
	s.mu.RLock()
	chID, ok := s.channels[e.GuildID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	switch e.Type {
	case notification.EventNowPlaying:
		return s.startStatus(e.GuildID, chID, e)
	case notification.EventSeeked:
		s.rebase(e.GuildID, e.Elapsed)
		return nil
	case notification.EventQueueEnd, notification.EventStopped, notification.EventReconnectFailed:
		s.stopStatus(e.GuildID)
	}

	embed, ok := renderEmbed(e)
	if !ok {
		return nil
	}

	_, err := s.client.Rest.CreateMessage(chID, discord.MessageCreate{Embeds: []discord.Embed{embed}})
	if err != nil {
		zlog.Warn().Err(err).Str("guild_id", e.GuildID).Msg("failed to post event embed")
	}
	return err
}

// startStatus posts a fresh now-playing message and begins refreshing its
// progress bar. Any previous status message for the guild stops updating.
func (s *ChannelSink) startStatus(guildID string, chID snowflake.ID, e notification.Event) error {
	s.stopStatus(guildID)
	if e.Track == nil {
		return nil
	}
	tr := *e.Track

	msg, err := s.client.Rest.CreateMessage(chID, discord.MessageCreate{Embeds: []discord.Embed{nowPlayingEmbed(tr, 0)}})
	if err != nil {
		zlog.Warn().Err(err).Str("guild_id", guildID).Msg("failed to post now-playing embed")
		return err
	}
	if tr.Duration <= 0 {
		// Live streams and unknown lengths get a static message.
		return nil
	}

	st := &playingStatus{
		channelID: chID,
		messageID: msg.ID,
		track:     tr,
		baseline:  time.Now(),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.statuses[guildID] = st
	s.mu.Unlock()

	go s.updateLoop(guildID, st)
	return nil
}

// stopStatus halts the refresh loop for a guild, if one is running.
func (s *ChannelSink) stopStatus(guildID string) {
	s.mu.Lock()
	st, ok := s.statuses[guildID]
	if ok {
		delete(s.statuses, guildID)
	}
	s.mu.Unlock()
	if ok {
		close(st.done)
	}
}

// rebase moves the elapsed anchors after a seek so the next refresh shows
// the new position.
func (s *ChannelSink) rebase(guildID string, elapsed time.Duration) {
	s.mu.Lock()
	if st, ok := s.statuses[guildID]; ok {
		st.offset = elapsed
		st.baseline = time.Now()
	}
	s.mu.Unlock()
}

func (s *ChannelSink) updateLoop(guildID string, st *playingStatus) {
	ticker := time.NewTicker(statusUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			elapsed := st.offset + time.Since(st.baseline)
			s.mu.RUnlock()
			if elapsed >= st.track.Duration {
				s.stopStatus(guildID)
				return
			}
			_, err := s.client.Rest.UpdateMessage(st.channelID, st.messageID,
				discord.MessageUpdate{Embeds: &[]discord.Embed{nowPlayingEmbed(st.track, elapsed)}})
			if err != nil {
				// The message was likely deleted; stop touching it.
				zlog.Debug().Err(err).Str("guild_id", guildID).Msg("now-playing update failed")
				s.stopStatus(guildID)
				return
			}
		}
	}
}

// nowPlayingEmbed renders the live now-playing card at the given position.
func nowPlayingEmbed(t track.Track, elapsed time.Duration) discord.Embed {
	desc := fmt.Sprintf("**%s**", t.Title)
	if t.Artist != "" {
		desc += "\nby " + t.Artist
	}
	if t.Duration > 0 {
		desc += "\n" + progressBar(elapsed, t.Duration, 12) +
			" `" + fmtDuration(elapsed) + " / " + fmtDuration(t.Duration) + "`"
	}
	if t.Requester.Name != "" {
		desc += "\nRequested by " + t.Requester.Name
	}
	return discord.Embed{Title: "Now Playing", Description: desc, Color: colorPlaying}
}

// progressBar renders a fixed-width position indicator for the embed.
func progressBar(elapsed, total time.Duration, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	pos := int(float64(width) * float64(elapsed) / float64(total))
	if pos >= width {
		pos = width - 1
	}
	if pos < 0 {
		pos = 0
	}
	var b strings.Builder
	for i := 0; i < width; i++ {
		if i == pos {
			b.WriteString("🔘")
		} else {
			b.WriteString("▬")
		}
	}
	return b.String()
}

// renderEmbed builds the embed for an event. The second return is false for
// events that have no channel representation.
func renderEmbed(e notification.Event) (discord.Embed, bool) {
	title := ""
	if e.Track != nil {
		title = e.Track.Title
	}

	switch e.Type {
	case notification.EventQueued:
		desc := fmt.Sprintf("**%s** added to the queue (position %d)", title, e.Position)
		if len(e.Warnings) > 0 {
			desc += fmt.Sprintf("\n⚠️ %v", e.Warnings)
		}
		return discord.Embed{Title: "Queued", Description: desc, Color: colorInfo}, true
	case notification.EventNowPlaying:
		if e.Track == nil {
			return discord.Embed{}, false
		}
		return nowPlayingEmbed(*e.Track, 0), true
	case notification.EventDownloading:
		return discord.Embed{Description: fmt.Sprintf("Fetching **%s**...", title), Color: colorInfo}, true
	case notification.EventDownloadError:
		desc := fmt.Sprintf("Could not fetch **%s**, skipping", title)
		if e.Message != "" {
			desc += ": " + e.Message
		}
		return discord.Embed{Title: "Download failed", Description: desc, Color: colorError}, true
	case notification.EventReconnecting:
		return discord.Embed{
			Description: fmt.Sprintf("Voice connection lost, reconnecting (%d/%d)...", e.Attempt, e.Attempts),
			Color:       colorWarn,
		}, true
	case notification.EventReconnected:
		return discord.Embed{Description: "Reconnected, resuming playback", Color: colorPlaying}, true
	case notification.EventReconnectFailed:
		return discord.Embed{
			Title:       "Disconnected",
			Description: "Could not re-establish the voice connection. Queue saved for later.",
			Color:       colorError,
		}, true
	case notification.EventQueueEnd:
		return discord.Embed{Description: "Queue finished", Color: colorInfo}, true
	case notification.EventStopped:
		return discord.Embed{Description: "Playback stopped", Color: colorInfo}, true
	case notification.EventRadioRefill:
		return discord.Embed{
			Description: fmt.Sprintf("📻 Radio added %d tracks to the queue", e.Count),
			Color:       colorInfo,
		}, true
	default:
		return discord.Embed{}, false
	}
}

// fmtDuration renders m:ss, or h:mm:ss for long tracks.
func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
