// Package effects maps named audio effects to ffmpeg filter chains and
// remembers each user's active effect.
package effects

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"groovebox/internal/infra/config"
)

// filters maps effect names to ffmpeg -af filter chains.
var filters = map[string]string{
	"nightcore":  "asetrate=48000*1.25,aresample=48000,atempo=1.06",
	"bassboost":  "bass=g=15:f=110:w=0.6",
	"8d":         "apulsator=hz=0.09",
	"vaporwave":  "asetrate=48000*0.8,aresample=48000,atempo=1.1",
	"treble":     "treble=g=5",
	"echo":       "aecho=0.8:0.9:1000:0.3",
	"reverb":     "aecho=0.8:0.88:60:0.4",
	"chipmunk":   "asetrate=48000*1.5,aresample=48000",
	"deepvoice":  "asetrate=48000*0.75,aresample=48000",
	"distortion": "acrusher=level_in=8:level_out=18:bits=8:mode=log:aa=1",
	"tremolo":    "tremolo=f=6:d=0.8",
	"vibrato":    "vibrato=f=6.5:d=0.5",
}

// Typed errors for effect selection.
var (
	ErrUnknownEffect   = errors.New("unknown audio effect")
	ErrEffectsDisabled = errors.New("audio effects are disabled")
)

// Provider tracks the active effect per user. Selections are in-memory only
// and reset on restart.
type Provider struct {
	cfg config.EffectsConfig

	mu     sync.RWMutex
	active map[string]string // userID -> effect name
}

// New creates a Provider. When cfg.Available is non-empty it restricts the
// selectable effects to that subset.
func New(cfg config.EffectsConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		active: make(map[string]string),
	}
}

// Available returns the selectable effect names, sorted.
func (p *Provider) Available() []string {
	var names []string
	if len(p.cfg.Available) > 0 {
		for _, name := range p.cfg.Available {
			if _, ok := filters[name]; ok {
				names = append(names, name)
			}
		}
	} else {
		for name := range filters {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Set activates the named effect for the user. An empty name, "none" or
// "off" clears the selection.
func (p *Provider) Set(userID, name string) error {
	if name == "" || name == "none" || name == "off" {
		p.Clear(userID)
		return nil
	}
	if !p.cfg.Enabled {
		return ErrEffectsDisabled
	}
	if !p.selectable(name) {
		return errors.Wrapf(ErrUnknownEffect, "%q", name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[userID] = name
	return nil
}

func (p *Provider) selectable(name string) bool {
	if _, ok := filters[name]; !ok {
		return false
	}
	if len(p.cfg.Available) == 0 {
		return true
	}
	for _, n := range p.cfg.Available {
		if n == name {
			return true
		}
	}
	return false
}

// Clear removes the user's effect selection.
func (p *Provider) Clear(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, userID)
}

// Active returns the user's active effect name, or empty when none is set.
func (p *Provider) Active(userID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active[userID]
}

// FilterChain builds the full ffmpeg -af argument for the user, combining
// the active effect with a volume scaler. Volume is a percentage 0..100.
func (p *Provider) FilterChain(userID string, volume int) string {
	vol := fmt.Sprintf("volume=%.2f", float64(volume)/100)

	if !p.cfg.Enabled {
		return vol
	}

	p.mu.RLock()
	name := p.active[userID]
	p.mu.RUnlock()

	chain, ok := filters[name]
	if !ok {
		return vol
	}
	return chain + "," + vol
}
