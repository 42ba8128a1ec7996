// Package bridge is the control facade for the TV to speaker loopback
// bridge. It owns the last-known audio state and drives every change
// through pactl, so callers never touch the tool directly.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"loopctl/internal/pactl"
)

var (
	// ErrDeviceUnavailable reports that a configured source or sink is not
	// present on the audio server.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrToolFailed reports any other audio control failure.
	ErrToolFailed = errors.New("audio control command failed")
)

// commandTimeout bounds each facade operation's pactl round-trips.
const commandTimeout = 5 * time.Second

// State is the last-known bridge tuple.
type State struct {
	Input    int  `json:"input"`
	Output   int  `json:"output"`
	Latency  int  `json:"latency"`
	Loopback bool `json:"loopback"`
}

// Delta is a partial target state. Nil fields are left untouched. Fields
// are applied in a fixed order: input, output, loopback, latency.
type Delta struct {
	Input    *int  `json:"input"`
	Output   *int  `json:"output"`
	Loopback *bool `json:"loopback"`
	Latency  *int  `json:"latency"`
}

// Limits bounds the values accepted by the setters. Setters clamp rather
// than reject.
type Limits struct {
	InputMax   int
	OutputMax  int
	LatencyMin int
	LatencyMax int
}

// Options wires a Controller to its PulseAudio endpoints.
type Options struct {
	Source           string
	Sink             string
	DefaultLatencyMS int
	Limits           Limits
}

// Controller serializes all bridge changes behind one mutex so at most one
// apply is in flight at a time.
type Controller struct {
	client *pactl.Client
	source string
	sink   string
	limits Limits

	mu       sync.Mutex
	state    State
	ready    bool
	latency  int
	moduleID int
}

// New builds a Controller. The audio server is not contacted until the
// first operation runs.
func New(client *pactl.Client, opts Options) (*Controller, error) {
	if client == nil {
		return nil, errors.New("pactl client must not be nil")
	}
	if opts.Source == "" {
		return nil, errors.New("source name must not be empty")
	}
	if opts.Sink == "" {
		return nil, errors.New("sink name must not be empty")
	}

	limits := opts.Limits
	latency := clamp(opts.DefaultLatencyMS, limits.LatencyMin, limits.LatencyMax)
	return &Controller{
		client:   client,
		source:   opts.Source,
		sink:     opts.Sink,
		limits:   limits,
		latency:  latency,
		moduleID: -1,
	}, nil
}

// GetState queries the audio server and returns the refreshed snapshot.
func (c *Controller) GetState(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// Last returns the cached snapshot without touching the audio server.
// ok is false until the first successful query.
func (c *Controller) Last() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.ready
}

// SetInputVolume clamps, applies, and reads back the source volume.
func (c *Controller) SetInputVolume(ctx context.Context, pct int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureReadyLocked(ctx); err != nil {
		return 0, err
	}
	return c.setInputLocked(ctx, pct)
}

// SetOutputVolume clamps, applies, and reads back the sink volume.
func (c *Controller) SetOutputVolume(ctx context.Context, pct int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureReadyLocked(ctx); err != nil {
		return 0, err
	}
	return c.setOutputLocked(ctx, pct)
}

// SetLoopback enables or disables the loopback module. Enabling when
// already active and disabling when already inactive are no-ops.
func (c *Controller) SetLoopback(ctx context.Context, enable bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureReadyLocked(ctx); err != nil {
		return false, err
	}
	if err := c.setLoopbackLocked(ctx, enable); err != nil {
		return c.state.Loopback, err
	}
	return c.state.Loopback, nil
}

// SetLatency clamps and applies the loopback latency. While the loopback
// is live the module is recreated; otherwise the value is stored and used
// on the next enable.
func (c *Controller) SetLatency(ctx context.Context, ms int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureReadyLocked(ctx); err != nil {
		return 0, err
	}
	return c.setLatencyLocked(ctx, ms)
}

// ApplyDelta applies the non-nil fields of delta in the fixed order
// input, output, loopback, latency. On error the snapshot reached so far
// is returned alongside it.
func (c *Controller) ApplyDelta(ctx context.Context, delta Delta) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureReadyLocked(ctx); err != nil {
		return c.state, err
	}

	if delta.Input != nil {
		if _, err := c.setInputLocked(ctx, *delta.Input); err != nil {
			return c.state, err
		}
	}
	if delta.Output != nil {
		if _, err := c.setOutputLocked(ctx, *delta.Output); err != nil {
			return c.state, err
		}
	}
	if delta.Loopback != nil {
		if err := c.setLoopbackLocked(ctx, *delta.Loopback); err != nil {
			return c.state, err
		}
	}
	if delta.Latency != nil {
		if _, err := c.setLatencyLocked(ctx, *delta.Latency); err != nil {
			return c.state, err
		}
	}
	return c.state, nil
}

func (c *Controller) ensureReadyLocked(ctx context.Context) error {
	if c.ready {
		return nil
	}
	_, err := c.refreshLocked(ctx)
	return err
}

func (c *Controller) refreshLocked(ctx context.Context) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	input, err := c.client.GetSourceVolume(ctx, c.source)
	if err != nil {
		return State{}, wrapToolError(err)
	}
	output, err := c.client.GetSinkVolume(ctx, c.sink)
	if err != nil {
		return State{}, wrapToolError(err)
	}
	modules, err := c.client.ListModules(ctx)
	if err != nil {
		return State{}, wrapToolError(err)
	}

	id, latency, active := c.findLoopback(modules)
	if active {
		c.moduleID = id
		if latency > 0 {
			c.latency = latency
		}
	} else {
		c.moduleID = -1
	}

	c.state = State{Input: input, Output: output, Latency: c.latency, Loopback: active}
	c.ready = true
	return c.state, nil
}

func (c *Controller) setInputLocked(ctx context.Context, pct int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	clamped := clamp(pct, 0, c.limits.InputMax)
	if err := c.client.SetSourceVolume(ctx, c.source, clamped); err != nil {
		return 0, wrapToolError(err)
	}
	applied, err := c.client.GetSourceVolume(ctx, c.source)
	if err != nil {
		return 0, wrapToolError(err)
	}
	c.state.Input = applied
	return applied, nil
}

func (c *Controller) setOutputLocked(ctx context.Context, pct int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	clamped := clamp(pct, 0, c.limits.OutputMax)
	if err := c.client.SetSinkVolume(ctx, c.sink, clamped); err != nil {
		return 0, wrapToolError(err)
	}
	applied, err := c.client.GetSinkVolume(ctx, c.sink)
	if err != nil {
		return 0, wrapToolError(err)
	}
	c.state.Output = applied
	return applied, nil
}

func (c *Controller) setLoopbackLocked(ctx context.Context, enable bool) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if enable {
		if c.state.Loopback {
			return nil
		}
		id, err := c.client.LoadLoopback(ctx, c.source, c.sink, c.latency)
		if err != nil {
			return wrapToolError(err)
		}
		c.moduleID = id
		c.state.Loopback = true
		c.state.Latency = c.latency
		return nil
	}

	if !c.state.Loopback {
		return nil
	}
	if err := c.client.UnloadModule(ctx, c.moduleID); err != nil {
		return wrapToolError(err)
	}
	c.moduleID = -1
	c.state.Loopback = false
	return nil
}

func (c *Controller) setLatencyLocked(ctx context.Context, ms int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	clamped := clamp(ms, c.limits.LatencyMin, c.limits.LatencyMax)
	if !c.state.Loopback {
		c.latency = clamped
		c.state.Latency = clamped
		return clamped, nil
	}

	// The module latency is fixed at load time, so a live bridge is torn
	// down and reloaded with the new value.
	if err := c.client.UnloadModule(ctx, c.moduleID); err != nil {
		return 0, wrapToolError(err)
	}
	c.latency = clamped
	id, err := c.client.LoadLoopback(ctx, c.source, c.sink, clamped)
	if err != nil {
		// The old module is already gone; record the bridge as down.
		c.moduleID = -1
		c.state.Loopback = false
		c.state.Latency = clamped
		return 0, wrapToolError(err)
	}
	c.moduleID = id
	c.state.Latency = clamped
	return clamped, nil
}

func (c *Controller) findLoopback(modules []pactl.Module) (int, int, bool) {
	for _, module := range modules {
		if module.Name != "module-loopback" {
			continue
		}
		args := pactl.ParseModuleArgs(module.Args)
		if args["source"] != c.source {
			continue
		}
		latency := 0
		if raw, ok := args["latency_msec"]; ok {
			if parsed, err := strconv.Atoi(raw); err == nil {
				latency = parsed
			}
		}
		return module.ID, latency, true
	}
	return 0, 0, false
}

func wrapToolError(err error) error {
	if errors.Is(err, pactl.ErrNoSuchEntity) {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrToolFailed, err)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
