// Package config resolves, parses, validates, and defaults loopctl configuration.
package config

// Config is the fully materialized runtime configuration used by loopctl.
type Config struct {
	API     APIConfig
	Audio   AudioConfig
	Limits  LimitsConfig
	Presets map[string]Preset
	Serve   ServeConfig
	Tunnel  TunnelConfig
	Relay   RelayConfig
}

// APIConfig controls the Anthropic messages endpoint used for chat commands.
type APIConfig struct {
	Key       string
	Model     string
	BaseURL   string
	TimeoutMS int
	MaxTokens int
}

// AudioConfig names the PulseAudio endpoints of the bridge and the control binary.
type AudioConfig struct {
	Source           string
	Sink             string
	DefaultLatencyMS int
	PactlCmd         CommandConfig
}

// LimitsConfig bounds the values accepted by volume and latency setters.
type LimitsConfig struct {
	InputMax   int
	OutputMax  int
	LatencyMin int
	LatencyMax int
}

// Preset is a named partial target tuple. Nil fields are left untouched
// when the preset is applied.
type Preset struct {
	Name     string
	Input    *int
	Output   *int
	Latency  *int
	Loopback *bool
}

// ServeConfig controls the local HTTP control API.
type ServeConfig struct {
	Bind string
}

// TunnelConfig controls the outbound relay connection.
type TunnelConfig struct {
	RelayURL       string
	LocalAPI       string
	ReconnectMS    int
	PingIntervalMS int
	PongTimeoutMS  int
}

// RelayConfig controls the public relay endpoint.
type RelayConfig struct {
	Bind             string
	RequestTimeoutMS int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
