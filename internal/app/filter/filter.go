// Package filter provides the admission chain for track requests.
package filter

import (
	"context"

	"groovebox/internal/domain/track"
)

// Request carries requester context for a track admission check.
type Request struct {
	GuildID string
	UserID  string
	RoleIDs []string
}

// QueueView exposes the pending queue to filters that need it.
type QueueView interface {
	Tracks() []track.Track
}

// Result represents the outcome of a filter check. A filter may accept with
// a warning code, which the chain collects without short-circuiting.
type Result struct {
	Accepted bool
	Code     string // e.g., "queue_full", "duration_limit_exceeded"
	Warnings []string
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Warn returns an accepted result carrying a warning code.
func Warn(code string) Result {
	return Result{Accepted: true, Warnings: []string{code}}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for admission filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should run for the given track source.
	AppliesTo(source track.Source) bool
	// Check performs the filter check.
	Check(ctx context.Context, req Request, t track.Track) Result
}

// registry holds registered filter factories for config-constructed filters.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
