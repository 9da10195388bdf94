// Package discord implements voice playback and notification delivery over
// the Discord gateway.
package discord

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"
)

// VoiceTransport plays audio files into one guild's voice channel. Audio is
// transcoded by an ffmpeg subprocess into ogg/opus and fed to the gateway
// frame by frame.
type VoiceTransport struct {
	client  *bot.Client
	guildID snowflake.ID

	mu         sync.Mutex
	conn       voice.Conn
	channelID  snowflake.ID
	cmd        *exec.Cmd
	provider   *opusProvider
	generation uint64

	onIdle         func()
	onDisconnected func()
}

// NewVoiceTransport creates a transport for the guild.
func NewVoiceTransport(client *bot.Client, guildID string) (*VoiceTransport, error) {
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid guild id")
	}
	return &VoiceTransport{client: client, guildID: id}, nil
}

// OnIdle registers the callback fired when a track plays to completion.
func (t *VoiceTransport) OnIdle(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onIdle = fn
}

// OnDisconnected registers the callback fired when the voice connection is
// lost unexpectedly.
func (t *VoiceTransport) OnDisconnected(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnected = fn
}

// Connect opens the voice connection to the channel.
func (t *VoiceTransport) Connect(ctx context.Context, channelID string) error {
	chID, err := snowflake.Parse(channelID)
	if err != nil {
		return errors.Wrap(err, "invalid channel id")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		t.conn = t.client.VoiceManager.CreateConn(t.guildID)
	}
	if err := t.conn.Open(ctx, chID, false, true); err != nil {
		return errors.Wrap(err, "failed to open voice connection")
	}
	t.channelID = chID
	return nil
}

// ChannelID returns the connected voice channel ID, empty when disconnected.
func (t *VoiceTransport) ChannelID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.channelID == 0 {
		return ""
	}
	return t.channelID.String()
}

// Play starts streaming the audio file through ffmpeg with the given -af
// filter chain, starting at the given offset into the file. Any current
// playback is stopped first without firing the idle callback.
func (t *VoiceTransport) Play(ctx context.Context, path, filterChain string, start time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return errors.New("not connected to a voice channel")
	}

	t.stopLocked()

	var args []string
	if start > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", start.Seconds()))
	}
	args = append(args,
		"-i", path,
		"-map", "0:a",
		"-acodec", "libopus",
		"-b:a", "128k",
		"-vbr", "on",
		"-compression_level", "10",
		"-analyzeduration", "0",
		"-probesize", "32",
	)
	if filterChain != "" {
		args = append(args, "-af", filterChain)
	}
	args = append(args, "-f", "opus", "pipe:1")

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open ffmpeg stdout")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start ffmpeg")
	}

	t.generation++
	gen := t.generation
	provider := newOpusProvider(stdout, func() {
		t.handleFinish(gen)
	})

	t.cmd = cmd
	t.provider = provider
	t.conn.SetOpusFrameProvider(provider)
	if err := t.conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone); err != nil {
		zlog.Warn().Err(err).Msg("failed to set speaking flag")
	}
	return nil
}

// handleFinish fires the idle callback unless this playback was superseded
// or stopped in the meantime.
func (t *VoiceTransport) handleFinish(gen uint64) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	cmd := t.cmd
	t.cmd = nil
	t.provider = nil
	if t.conn != nil {
		t.conn.SetOpusFrameProvider(nil)
	}
	onIdle := t.onIdle
	t.mu.Unlock()

	if cmd != nil {
		_ = cmd.Wait()
	}
	if onIdle != nil {
		onIdle()
	}
}

// Pause makes the stream emit silence without consuming it.
func (t *VoiceTransport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.provider != nil {
		t.provider.SetPaused(true)
	}
}

// Resume continues a paused stream.
func (t *VoiceTransport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.provider != nil {
		t.provider.SetPaused(false)
	}
}

// Paused reports whether the current stream is paused.
func (t *VoiceTransport) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.provider != nil && t.provider.Paused()
}

// Stop terminates the current playback without firing the idle callback.
func (t *VoiceTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *VoiceTransport) stopLocked() {
	t.generation++
	if t.cmd != nil {
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		cmd := t.cmd
		go func() { _ = cmd.Wait() }()
		t.cmd = nil
	}
	t.provider = nil
	if t.conn != nil {
		t.conn.SetOpusFrameProvider(nil)
	}
}

// HandleDisconnect is called by the gateway listener when the bot is dropped
// from the channel. It stops playback and fires the disconnect callback.
func (t *VoiceTransport) HandleDisconnect() {
	t.mu.Lock()
	t.stopLocked()
	t.channelID = 0
	fn := t.onDisconnected
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Reconnect reopens the voice connection to the last channel.
func (t *VoiceTransport) Reconnect(ctx context.Context, channelID string) error {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close(ctx)
		t.conn = nil
	}
	t.mu.Unlock()

	return t.Connect(ctx, channelID)
}

// Close stops playback and tears down the voice connection.
func (t *VoiceTransport) Close(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	if t.conn != nil {
		t.conn.Close(ctx)
		t.conn = nil
	}
	t.channelID = 0
}
