// Package preset applies named target tuples through the bridge facade.
package preset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"loopctl/internal/bridge"
	"loopctl/internal/config"
)

// ErrUnknownPreset reports a preset name with no configured tuple.
var ErrUnknownPreset = errors.New("unknown preset")

// Applier is the bridge surface presets drive.
type Applier interface {
	ApplyDelta(ctx context.Context, delta bridge.Delta) (bridge.State, error)
}

// Engine resolves preset names against the configured tuple map.
type Engine struct {
	applier Applier
	presets map[string]config.Preset
}

// New builds an Engine over the configured presets.
func New(applier Applier, presets map[string]config.Preset) *Engine {
	return &Engine{applier: applier, presets: presets}
}

// Names returns the configured preset names, sorted.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.presets))
	for name := range e.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply looks up name and applies its tuple in the fixed field order
// (input, output, loopback, latency). The read-back state is returned.
// Unknown names fail without touching the bridge.
func (e *Engine) Apply(ctx context.Context, name string) (bridge.State, error) {
	preset, ok := e.lookup(name)
	if !ok {
		return bridge.State{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}

	return e.applier.ApplyDelta(ctx, bridge.Delta{
		Input:    preset.Input,
		Output:   preset.Output,
		Loopback: preset.Loopback,
		Latency:  preset.Latency,
	})
}

// lookup matches exact names first, then falls back to a case-insensitive
// match so chat-derived names like "Movie" still resolve.
func (e *Engine) lookup(name string) (config.Preset, bool) {
	name = strings.TrimSpace(name)
	if preset, ok := e.presets[name]; ok {
		return preset, true
	}

	lower := strings.ToLower(name)
	for candidate, preset := range e.presets {
		if strings.ToLower(candidate) == lower {
			return preset, true
		}
	}
	return config.Preset{}, false
}
