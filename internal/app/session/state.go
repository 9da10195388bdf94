// Package session provides per-guild playback sessions with integrated
// queue management.
package session

// State represents the playback state of a session.
type State int

const (
	StateIdle         State = iota // No track playing (queue empty or stopped)
	StatePlaying                   // Track is playing
	StatePaused                    // Track is paused
	StateReconnecting              // Voice connection lost, reconnect in progress
	StateTerminated                // Session closed, no further operations
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
