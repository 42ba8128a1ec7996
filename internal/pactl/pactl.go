// Package pactl wraps the PulseAudio command-line controller used to drive
// the loopback bridge.
package pactl

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoSuchEntity reports that pactl rejected a source or sink name.
var ErrNoSuchEntity = errors.New("no such entity")

// Module is one row of `pactl list short modules`.
type Module struct {
	ID   int
	Name string
	Args string
}

// Client shells out to pactl. The command prefix comes from configuration so
// remote servers (`pactl --server …`) and wrappers keep working.
type Client struct {
	bin  string
	args []string
}

// New builds a client from a parsed command prefix, e.g. ["pactl"] or
// ["pactl", "--server", "tcp:htpc.lan"].
func New(argv []string) (*Client, error) {
	if len(argv) == 0 {
		return nil, errors.New("pactl command must not be empty")
	}
	return &Client{bin: argv[0], args: argv[1:]}, nil
}

var volumePattern = regexp.MustCompile(`(\d+)%`)

// GetSourceVolume reads the current source volume percentage.
func (c *Client) GetSourceVolume(ctx context.Context, source string) (int, error) {
	out, err := c.run(ctx, "get-source-volume", source)
	if err != nil {
		return 0, err
	}
	return parseVolume(string(out))
}

// GetSinkVolume reads the current sink volume percentage.
func (c *Client) GetSinkVolume(ctx context.Context, sink string) (int, error) {
	out, err := c.run(ctx, "get-sink-volume", sink)
	if err != nil {
		return 0, err
	}
	return parseVolume(string(out))
}

// SetSourceVolume sets the source volume percentage.
func (c *Client) SetSourceVolume(ctx context.Context, source string, pct int) error {
	_, err := c.run(ctx, "set-source-volume", source, strconv.Itoa(pct)+"%")
	return err
}

// SetSinkVolume sets the sink volume percentage.
func (c *Client) SetSinkVolume(ctx context.Context, sink string, pct int) error {
	_, err := c.run(ctx, "set-sink-volume", sink, strconv.Itoa(pct)+"%")
	return err
}

// LoadLoopback loads a module-loopback pinned to the given endpoints and
// returns the new module index.
func (c *Client) LoadLoopback(ctx context.Context, source, sink string, latencyMS int) (int, error) {
	out, err := c.run(ctx,
		"load-module", "module-loopback",
		"source="+source,
		"sink="+sink,
		fmt.Sprintf("latency_msec=%d", latencyMS),
		"source_dont_move=true",
		"sink_dont_move=true",
	)
	if err != nil {
		return 0, err
	}

	id, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("load-module returned %q instead of a module index", strings.TrimSpace(string(out)))
	}
	return id, nil
}

// UnloadModule unloads a module by index.
func (c *Client) UnloadModule(ctx context.Context, id int) error {
	_, err := c.run(ctx, "unload-module", strconv.Itoa(id))
	return err
}

// ListModules returns the loaded modules. Rows that do not parse are skipped.
func (c *Client) ListModules(ctx context.Context) ([]Module, error) {
	out, err := c.run(ctx, "list", "short", "modules")
	if err != nil {
		return nil, err
	}

	var modules []Module
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		module := Module{ID: id, Name: strings.TrimSpace(fields[1])}
		if len(fields) == 3 {
			module.Args = strings.TrimSpace(fields[2])
		}
		modules = append(modules, module)
	}
	return modules, nil
}

// ParseModuleArgs splits a module argument string into key/value pairs.
// Bare tokens without '=' are ignored.
func ParseModuleArgs(args string) map[string]string {
	out := make(map[string]string)
	for _, token := range strings.Fields(args) {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

func parseVolume(output string) (int, error) {
	match := volumePattern.FindStringSubmatch(output)
	if match == nil {
		return 0, fmt.Errorf("no volume percentage in pactl output %q", strings.TrimSpace(output))
	}
	pct, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("parse volume %q: %w", match[1], err)
	}
	return pct, nil
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	full := append(append([]string{}, c.args...), args...)
	cmd := exec.CommandContext(ctx, c.bin, full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if strings.Contains(trimmed, "No such entity") {
			return nil, fmt.Errorf("pactl %v: %w (%s)", args, ErrNoSuchEntity, trimmed)
		}
		if trimmed == "" {
			return nil, fmt.Errorf("pactl %v failed: %w", args, err)
		}
		return nil, fmt.Errorf("pactl %v failed: %w (%s)", args, err, trimmed)
	}
	return out, nil
}
