package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

type jsoncConfig struct {
	API     *jsoncAPI              `json:"api"`
	Audio   *jsoncAudio            `json:"audio"`
	Limits  *jsoncLimits           `json:"limits"`
	Presets map[string]jsoncPreset `json:"presets"`
	Serve   *jsoncServe            `json:"serve"`
	Tunnel  *jsoncTunnel           `json:"tunnel"`
	Relay   *jsoncRelay            `json:"relay"`
}

type jsoncAPI struct {
	Key       *string `json:"key"`
	Model     *string `json:"model"`
	BaseURL   *string `json:"base_url"`
	TimeoutMS *int    `json:"timeout_ms"`
	MaxTokens *int    `json:"max_tokens"`
}

type jsoncAudio struct {
	Source           *string `json:"source"`
	Sink             *string `json:"sink"`
	DefaultLatencyMS *int    `json:"default_latency_ms"`
	PactlCmd         *string `json:"pactl_cmd"`
}

type jsoncLimits struct {
	InputMax   *int `json:"input_max"`
	OutputMax  *int `json:"output_max"`
	LatencyMin *int `json:"latency_min"`
	LatencyMax *int `json:"latency_max"`
}

type jsoncPreset struct {
	Input    *int  `json:"input"`
	Output   *int  `json:"output"`
	Latency  *int  `json:"latency"`
	Loopback *bool `json:"loopback"`
}

type jsoncServe struct {
	Bind *string `json:"bind"`
}

type jsoncTunnel struct {
	RelayURL       *string `json:"relay_url"`
	LocalAPI       *string `json:"local_api"`
	ReconnectMS    *int    `json:"reconnect_ms"`
	PingIntervalMS *int    `json:"ping_interval_ms"`
	PongTimeoutMS  *int    `json:"pong_timeout_ms"`
}

type jsoncRelay struct {
	Bind             *string `json:"bind"`
	RequestTimeoutMS *int    `json:"request_timeout_ms"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if payload.API != nil {
		if payload.API.Key != nil {
			cfg.API.Key = strings.TrimSpace(*payload.API.Key)
		}
		if payload.API.Model != nil {
			cfg.API.Model = strings.TrimSpace(*payload.API.Model)
		}
		if payload.API.BaseURL != nil {
			cfg.API.BaseURL = strings.TrimSpace(*payload.API.BaseURL)
		}
		if payload.API.TimeoutMS != nil {
			cfg.API.TimeoutMS = *payload.API.TimeoutMS
		}
		if payload.API.MaxTokens != nil {
			cfg.API.MaxTokens = *payload.API.MaxTokens
		}
	}

	if payload.Audio != nil {
		if payload.Audio.Source != nil {
			cfg.Audio.Source = strings.TrimSpace(*payload.Audio.Source)
		}
		if payload.Audio.Sink != nil {
			cfg.Audio.Sink = strings.TrimSpace(*payload.Audio.Sink)
		}
		if payload.Audio.DefaultLatencyMS != nil {
			cfg.Audio.DefaultLatencyMS = *payload.Audio.DefaultLatencyMS
		}
		if payload.Audio.PactlCmd != nil {
			raw := *payload.Audio.PactlCmd
			argv, err := parseArgv(raw)
			if err != nil {
				return fmt.Errorf("invalid audio.pactl_cmd: %w", err)
			}
			cfg.Audio.PactlCmd = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if payload.Limits != nil {
		if payload.Limits.InputMax != nil {
			cfg.Limits.InputMax = *payload.Limits.InputMax
		}
		if payload.Limits.OutputMax != nil {
			cfg.Limits.OutputMax = *payload.Limits.OutputMax
		}
		if payload.Limits.LatencyMin != nil {
			cfg.Limits.LatencyMin = *payload.Limits.LatencyMin
		}
		if payload.Limits.LatencyMax != nil {
			cfg.Limits.LatencyMax = *payload.Limits.LatencyMax
		}
	}

	if payload.Presets != nil {
		if cfg.Presets == nil {
			cfg.Presets = make(map[string]Preset)
		}
		for name, preset := range payload.Presets {
			trimmedName := strings.TrimSpace(name)
			if trimmedName == "" {
				return fmt.Errorf("presets contains an empty preset name")
			}
			cfg.Presets[trimmedName] = Preset{
				Name:     trimmedName,
				Input:    preset.Input,
				Output:   preset.Output,
				Latency:  preset.Latency,
				Loopback: preset.Loopback,
			}
		}
	}

	if payload.Serve != nil && payload.Serve.Bind != nil {
		cfg.Serve.Bind = strings.TrimSpace(*payload.Serve.Bind)
	}

	if payload.Tunnel != nil {
		if payload.Tunnel.RelayURL != nil {
			cfg.Tunnel.RelayURL = strings.TrimSpace(*payload.Tunnel.RelayURL)
		}
		if payload.Tunnel.LocalAPI != nil {
			cfg.Tunnel.LocalAPI = strings.TrimSpace(*payload.Tunnel.LocalAPI)
		}
		if payload.Tunnel.ReconnectMS != nil {
			cfg.Tunnel.ReconnectMS = *payload.Tunnel.ReconnectMS
		}
		if payload.Tunnel.PingIntervalMS != nil {
			cfg.Tunnel.PingIntervalMS = *payload.Tunnel.PingIntervalMS
		}
		if payload.Tunnel.PongTimeoutMS != nil {
			cfg.Tunnel.PongTimeoutMS = *payload.Tunnel.PongTimeoutMS
		}
	}

	if payload.Relay != nil {
		if payload.Relay.Bind != nil {
			cfg.Relay.Bind = strings.TrimSpace(*payload.Relay.Bind)
		}
		if payload.Relay.RequestTimeoutMS != nil {
			cfg.Relay.RequestTimeoutMS = *payload.Relay.RequestTimeoutMS
		}
	}

	return nil
}
