package config

import (
	"fmt"
	"strconv"
	"strings"
)

// parseLegacy reads the flat key=value format that predates JSONC.
//
// Preset tuples use a block form:
//
//	preset movie {
//	  input = 120
//	  output = 85
//	  latency = 30
//	}
func parseLegacy(content string, base Config) (Config, []Warning, error) {
	cfg := base
	lines := strings.Split(content, "\n")

	i := 0
	for i < len(lines) {
		lineNo := i + 1
		line := strings.TrimSpace(lines[i])
		i++

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "preset "); ok {
			next, err := parsePresetBlock(&cfg, lines, i, lineNo, rest)
			if err != nil {
				return Config{}, nil, err
			}
			i = next
			continue
		}

		key, value, err := splitKeyValue(line, lineNo)
		if err != nil {
			return Config{}, nil, err
		}
		if err := assignLegacyKey(&cfg, key, value, lineNo); err != nil {
			return Config{}, nil, err
		}
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func parsePresetBlock(cfg *Config, lines []string, start int, headerLine int, header string) (int, error) {
	name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(header), "{"))
	if !strings.HasSuffix(strings.TrimSpace(header), "{") {
		return 0, fmt.Errorf("line %d: preset header must end with '{'", headerLine)
	}
	if name == "" {
		return 0, fmt.Errorf("line %d: preset header is missing a name", headerLine)
	}

	entry := Preset{Name: name}
	for i := start; i < len(lines); i++ {
		lineNo := i + 1
		line := strings.TrimSpace(lines[i])

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "}" {
			if cfg.Presets == nil {
				cfg.Presets = make(map[string]Preset)
			}
			cfg.Presets[name] = entry
			return i + 1, nil
		}

		key, value, err := splitKeyValue(line, lineNo)
		if err != nil {
			return 0, err
		}

		switch key {
		case "input":
			v, err := parseLegacyInt(key, value, lineNo)
			if err != nil {
				return 0, err
			}
			entry.Input = &v
		case "output":
			v, err := parseLegacyInt(key, value, lineNo)
			if err != nil {
				return 0, err
			}
			entry.Output = &v
		case "latency":
			v, err := parseLegacyInt(key, value, lineNo)
			if err != nil {
				return 0, err
			}
			entry.Latency = &v
		case "loopback":
			v, err := parseLegacyBool(key, value, lineNo)
			if err != nil {
				return 0, err
			}
			entry.Loopback = &v
		default:
			return 0, fmt.Errorf("line %d: unknown preset key %q", lineNo, key)
		}
	}

	return 0, fmt.Errorf("line %d: preset %q block is never closed", headerLine, name)
}

func splitKeyValue(line string, lineNo int) (string, string, error) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", fmt.Errorf("line %d: expected key = value", lineNo)
	}

	key := strings.ToLower(strings.TrimSpace(line[:idx]))
	if key == "" {
		return "", "", fmt.Errorf("line %d: empty key", lineNo)
	}

	value, err := unquoteValue(strings.TrimSpace(line[idx+1:]), lineNo)
	if err != nil {
		return "", "", err
	}
	return key, value, nil
}

func unquoteValue(value string, lineNo int) (string, error) {
	if strings.HasPrefix(value, `"`) {
		if len(value) < 2 || !strings.HasSuffix(value, `"`) {
			return "", fmt.Errorf("line %d: missing closing double quote", lineNo)
		}
		return value[1 : len(value)-1], nil
	}
	if strings.HasPrefix(value, "'") {
		if len(value) < 2 || !strings.HasSuffix(value, "'") {
			return "", fmt.Errorf("line %d: missing closing single quote", lineNo)
		}
		return value[1 : len(value)-1], nil
	}
	return value, nil
}

func assignLegacyKey(cfg *Config, key, value string, lineNo int) error {
	switch key {
	case "api.key":
		cfg.API.Key = value
	case "api.model":
		cfg.API.Model = value
	case "api.base_url":
		cfg.API.BaseURL = value
	case "api.timeout_ms":
		return assignLegacyInt(&cfg.API.TimeoutMS, key, value, lineNo)
	case "api.max_tokens":
		return assignLegacyInt(&cfg.API.MaxTokens, key, value, lineNo)
	case "audio.source":
		cfg.Audio.Source = value
	case "audio.sink":
		cfg.Audio.Sink = value
	case "audio.default_latency_ms":
		return assignLegacyInt(&cfg.Audio.DefaultLatencyMS, key, value, lineNo)
	case "audio.pactl_cmd":
		argv, err := parseArgv(value)
		if err != nil {
			return fmt.Errorf("line %d: invalid audio.pactl_cmd: %w", lineNo, err)
		}
		cfg.Audio.PactlCmd = CommandConfig{Raw: value, Argv: argv}
	case "limits.input_max":
		return assignLegacyInt(&cfg.Limits.InputMax, key, value, lineNo)
	case "limits.output_max":
		return assignLegacyInt(&cfg.Limits.OutputMax, key, value, lineNo)
	case "limits.latency_min":
		return assignLegacyInt(&cfg.Limits.LatencyMin, key, value, lineNo)
	case "limits.latency_max":
		return assignLegacyInt(&cfg.Limits.LatencyMax, key, value, lineNo)
	case "serve.bind":
		cfg.Serve.Bind = value
	case "tunnel.relay_url":
		cfg.Tunnel.RelayURL = value
	case "tunnel.local_api":
		cfg.Tunnel.LocalAPI = value
	case "tunnel.reconnect_ms":
		return assignLegacyInt(&cfg.Tunnel.ReconnectMS, key, value, lineNo)
	case "tunnel.ping_interval_ms":
		return assignLegacyInt(&cfg.Tunnel.PingIntervalMS, key, value, lineNo)
	case "tunnel.pong_timeout_ms":
		return assignLegacyInt(&cfg.Tunnel.PongTimeoutMS, key, value, lineNo)
	case "relay.bind":
		cfg.Relay.Bind = value
	case "relay.request_timeout_ms":
		return assignLegacyInt(&cfg.Relay.RequestTimeoutMS, key, value, lineNo)
	default:
		return fmt.Errorf("line %d: unknown key %q", lineNo, key)
	}
	return nil
}

func assignLegacyInt(dst *int, key, value string, lineNo int) error {
	v, err := parseLegacyInt(key, value, lineNo)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func parseLegacyInt(key, value string, lineNo int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("line %d: %s expects an integer, got %q", lineNo, key, value)
	}
	return v, nil
}

func parseLegacyBool(key, value string, lineNo int) (bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("line %d: %s expects true or false, got %q", lineNo, key, value)
	}
	return v, nil
}
