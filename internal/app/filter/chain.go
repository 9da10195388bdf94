package filter

import (
	"context"

	"groovebox/internal/domain/track"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence. It returns immediately when a filter
// rejects; warnings from accepting filters are accumulated onto the final
// result. Filters only run when they declare they apply to the track source.
func (c *Chain) Execute(ctx context.Context, req Request, t track.Track, source track.Source) Result {
	var warnings []string
	for _, f := range c.filters {
		if !f.AppliesTo(source) {
			continue
		}

		result := f.Check(ctx, req, t)
		if !result.Accepted {
			return result
		}
		warnings = append(warnings, result.Warnings...)
	}
	return Result{Accepted: true, Warnings: warnings}
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
