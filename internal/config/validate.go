package config

import (
	"fmt"
	"sort"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.API.Model) == "" {
		return nil, fmt.Errorf("api.model must not be empty")
	}
	baseURL := strings.TrimSpace(cfg.API.BaseURL)
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("api.base_url must start with http:// or https://")
	}
	if cfg.API.TimeoutMS <= 0 {
		return nil, fmt.Errorf("api.timeout_ms must be > 0")
	}
	if cfg.API.MaxTokens <= 0 {
		return nil, fmt.Errorf("api.max_tokens must be > 0")
	}

	if len(cfg.Audio.PactlCmd.Argv) == 0 {
		return nil, fmt.Errorf("audio.pactl_cmd must not be empty")
	}

	if cfg.Limits.InputMax <= 0 {
		return nil, fmt.Errorf("limits.input_max must be > 0")
	}
	if cfg.Limits.OutputMax <= 0 {
		return nil, fmt.Errorf("limits.output_max must be > 0")
	}
	if cfg.Limits.LatencyMin <= 0 {
		return nil, fmt.Errorf("limits.latency_min must be > 0")
	}
	if cfg.Limits.LatencyMax < cfg.Limits.LatencyMin {
		return nil, fmt.Errorf("limits.latency_max must be >= limits.latency_min")
	}
	if cfg.Audio.DefaultLatencyMS < cfg.Limits.LatencyMin || cfg.Audio.DefaultLatencyMS > cfg.Limits.LatencyMax {
		return nil, fmt.Errorf("audio.default_latency_ms must be within limits.latency_min..limits.latency_max")
	}

	if !strings.Contains(cfg.Serve.Bind, ":") {
		return nil, fmt.Errorf("serve.bind must be a host:port address")
	}

	localAPI := strings.TrimSpace(cfg.Tunnel.LocalAPI)
	if !strings.HasPrefix(localAPI, "http://") && !strings.HasPrefix(localAPI, "https://") {
		return nil, fmt.Errorf("tunnel.local_api must start with http:// or https://")
	}
	if relayURL := strings.TrimSpace(cfg.Tunnel.RelayURL); relayURL != "" {
		if !strings.HasPrefix(relayURL, "ws://") && !strings.HasPrefix(relayURL, "wss://") {
			return nil, fmt.Errorf("tunnel.relay_url must start with ws:// or wss://")
		}
	}
	if cfg.Tunnel.ReconnectMS <= 0 {
		return nil, fmt.Errorf("tunnel.reconnect_ms must be > 0")
	}
	if cfg.Tunnel.PingIntervalMS <= 0 {
		return nil, fmt.Errorf("tunnel.ping_interval_ms must be > 0")
	}
	if cfg.Tunnel.PongTimeoutMS <= 0 {
		return nil, fmt.Errorf("tunnel.pong_timeout_ms must be > 0")
	}
	if cfg.Tunnel.PongTimeoutMS >= cfg.Tunnel.PingIntervalMS {
		warnings = append(warnings, Warning{Message: "tunnel.pong_timeout_ms should be below tunnel.ping_interval_ms"})
	}

	if !strings.Contains(cfg.Relay.Bind, ":") {
		return nil, fmt.Errorf("relay.bind must be a host:port address")
	}
	if cfg.Relay.RequestTimeoutMS <= 0 {
		return nil, fmt.Errorf("relay.request_timeout_ms must be > 0")
	}

	presetWarnings, err := validatePresets(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, presetWarnings...)

	if strings.TrimSpace(cfg.Audio.Source) == "" {
		warnings = append(warnings, Warning{Message: "audio.source is not set; bridge commands need a PulseAudio source name"})
	}
	if strings.TrimSpace(cfg.Audio.Sink) == "" {
		warnings = append(warnings, Warning{Message: "audio.sink is not set; bridge commands need a PulseAudio sink name"})
	}
	if strings.TrimSpace(cfg.API.Key) == "" {
		warnings = append(warnings, Warning{Message: "api.key is not set; natural-language commands are disabled"})
	}

	return warnings, nil
}

func validatePresets(cfg Config) ([]Warning, error) {
	names := make([]string, 0, len(cfg.Presets))
	for name := range cfg.Presets {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("presets contains an empty preset name")
		}
		names = append(names, name)
	}
	sort.Strings(names)

	warnings := make([]Warning, 0)
	for _, name := range names {
		preset := cfg.Presets[name]
		if preset.Input == nil && preset.Output == nil && preset.Latency == nil && preset.Loopback == nil {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("preset %q sets no fields", name)})
			continue
		}
		if preset.Input != nil && (*preset.Input < 0 || *preset.Input > cfg.Limits.InputMax) {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("preset %q input %d is outside 0..%d and will be clamped", name, *preset.Input, cfg.Limits.InputMax)})
		}
		if preset.Output != nil && (*preset.Output < 0 || *preset.Output > cfg.Limits.OutputMax) {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("preset %q output %d is outside 0..%d and will be clamped", name, *preset.Output, cfg.Limits.OutputMax)})
		}
		if preset.Latency != nil && (*preset.Latency < cfg.Limits.LatencyMin || *preset.Latency > cfg.Limits.LatencyMax) {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("preset %q latency %d is outside %d..%d and will be clamped", name, *preset.Latency, cfg.Limits.LatencyMin, cfg.Limits.LatencyMax)})
		}
	}

	return warnings, nil
}
