// Package doctor runs runtime readiness diagnostics for config, tools,
// Pulse devices, and the assistant.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"loopctl/internal/config"
	"loopctl/internal/pulse"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	if cfg.Exists {
		checks = append(checks, Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", cfg.Path)})
	} else {
		checks = append(checks, Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", cfg.Path)})
	}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for the control socket", "XDG_RUNTIME_DIR is empty"))

	checks = append(checks, checkCommand(cfg.Config.Audio.PactlCmd.Argv, "audio.pactl_cmd"))

	checks = append(checks, checkSource(ctx, cfg.Config))
	checks = append(checks, checkSink(ctx, cfg.Config))

	checks = append(checks, checkAPIKey(cfg.Config))
	checks = append(checks, checkRelayURL(cfg.Config))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	if strings.ContainsRune(bin, os.PathSeparator) {
		if _, err := os.Stat(bin); err != nil {
			return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found: %s", bin)}
		}
		return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", bin, okMsg)}
	}

	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkSource verifies the configured source against live Pulse devices.
func checkSource(ctx context.Context, cfg config.Config) Check {
	name := strings.TrimSpace(cfg.Audio.Source)
	if name == "" {
		return Check{Name: "audio.source", Pass: false, Message: "audio.source is not configured"}
	}

	devices, err := pulse.ListSources(ctx)
	if err != nil {
		return Check{Name: "audio.source", Pass: false, Message: err.Error()}
	}

	dev, ok := pulse.Find(devices, name)
	if !ok {
		return Check{Name: "audio.source", Pass: false, Message: fmt.Sprintf("%q did not match any source", name)}
	}
	return Check{Name: "audio.source", Pass: true, Message: fmt.Sprintf("matched %q (%s)", dev.ID, dev.State)}
}

// checkSink verifies the configured sink against live Pulse devices.
func checkSink(ctx context.Context, cfg config.Config) Check {
	name := strings.TrimSpace(cfg.Audio.Sink)
	if name == "" {
		return Check{Name: "audio.sink", Pass: false, Message: "audio.sink is not configured"}
	}

	devices, err := pulse.ListSinks(ctx)
	if err != nil {
		return Check{Name: "audio.sink", Pass: false, Message: err.Error()}
	}

	dev, ok := pulse.Find(devices, name)
	if !ok {
		return Check{Name: "audio.sink", Pass: false, Message: fmt.Sprintf("%q did not match any sink", name)}
	}
	return Check{Name: "audio.sink", Pass: true, Message: fmt.Sprintf("matched %q (%s)", dev.ID, dev.State)}
}

// checkAPIKey reports whether the assistant can be enabled.
func checkAPIKey(cfg config.Config) Check {
	if strings.TrimSpace(cfg.API.Key) == "" {
		return Check{Name: "api.key", Pass: false, Message: "api.key is not set; ask is disabled"}
	}
	return Check{Name: "api.key", Pass: true, Message: fmt.Sprintf("set (model %s)", cfg.API.Model)}
}

// checkRelayURL validates the tunnel target scheme when one is configured.
func checkRelayURL(cfg config.Config) Check {
	url := strings.TrimSpace(cfg.Tunnel.RelayURL)
	if url == "" {
		return Check{Name: "tunnel.relay_url", Pass: true, Message: "not set (tunnel disabled)"}
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return Check{Name: "tunnel.relay_url", Pass: false, Message: fmt.Sprintf("must use ws:// or wss://, got %q", url)}
	}
	return Check{Name: "tunnel.relay_url", Pass: true, Message: url}
}
