package config

func intPtr(v int) *int { return &v }

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	pactl := "pactl"

	return Config{
		API: APIConfig{
			Key:       "",
			Model:     "claude-sonnet-4-20250514",
			BaseURL:   "https://api.anthropic.com",
			TimeoutMS: 30000,
			MaxTokens: 256,
		},
		Audio: AudioConfig{
			Source:           "",
			Sink:             "",
			DefaultLatencyMS: 30,
			PactlCmd:         CommandConfig{Raw: pactl, Argv: mustParseArgv(pactl)},
		},
		Limits: LimitsConfig{
			InputMax:   150,
			OutputMax:  150,
			LatencyMin: 10,
			LatencyMax: 100,
		},
		Presets: map[string]Preset{
			"movie": {Name: "movie", Input: intPtr(120), Output: intPtr(85), Latency: intPtr(30)},
			"music": {Name: "music", Input: intPtr(100), Output: intPtr(80), Latency: intPtr(20)},
			"voice": {Name: "voice", Input: intPtr(140), Output: intPtr(70), Latency: intPtr(25)},
			"night": {Name: "night", Input: intPtr(80), Output: intPtr(50), Latency: intPtr(30)},
		},
		Serve: ServeConfig{Bind: "0.0.0.0:5000"},
		Tunnel: TunnelConfig{
			RelayURL:       "",
			LocalAPI:       "http://127.0.0.1:5000",
			ReconnectMS:    5000,
			PingIntervalMS: 30000,
			PongTimeoutMS:  10000,
		},
		Relay: RelayConfig{
			Bind:             "0.0.0.0:8090",
			RequestTimeoutMS: 10000,
		},
	}
}
