package notification

import (
	"time"

	"groovebox/internal/domain/track"
)

// EventType identifies what happened in a playback session.
type EventType int

const (
	// EventQueued fires when a track is accepted into the queue.
	EventQueued EventType = iota
	// EventNowPlaying fires when playback of a track starts.
	EventNowPlaying
	// EventDownloading fires when a track fetch begins.
	EventDownloading
	// EventDownloadError fires when a track fetch fails and the entry is skipped.
	EventDownloadError
	// EventReconnecting fires on each voice reconnect attempt.
	EventReconnecting
	// EventReconnected fires when a voice reconnect succeeds.
	EventReconnected
	// EventReconnectFailed fires when reconnect attempts are exhausted.
	EventReconnectFailed
	// EventQueueEnd fires when the queue drains with nothing left to play.
	EventQueueEnd
	// EventStopped fires when playback is stopped explicitly.
	EventStopped
	// EventRadioRefill fires when the radio tops up the queue.
	EventRadioRefill
	// EventSeeked fires when playback jumps to a new position in the
	// current track.
	EventSeeked
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventQueued:
		return "queued"
	case EventNowPlaying:
		return "now_playing"
	case EventDownloading:
		return "downloading"
	case EventDownloadError:
		return "download_error"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	case EventReconnectFailed:
		return "reconnect_failed"
	case EventQueueEnd:
		return "queue_end"
	case EventStopped:
		return "stopped"
	case EventRadioRefill:
		return "radio_refill"
	case EventSeeked:
		return "seeked"
	default:
		return "unknown"
	}
}

// Event is a session notification delivered to sinks.
type Event struct {
	Type       EventType
	GuildID    string
	Track      *track.Track
	Position   int      // queue position for EventQueued
	Count      int      // tracks added for EventRadioRefill
	Attempt    int      // current attempt for EventReconnecting
	Attempts   int      // attempt budget for EventReconnecting
	Warnings   []string      // admission warnings for EventQueued
	Elapsed    time.Duration // playback position for EventSeeked
	Message    string
	SequenceNo uint64
	At         time.Time
}
