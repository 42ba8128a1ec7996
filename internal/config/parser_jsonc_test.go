package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJSONCAppliesAllSections(t *testing.T) {
	cfg, warnings, err := parseJSONC(`{
  // bridge endpoints
  "api": {
    "key": "sk-ant-test",
    "model": "claude-sonnet-4-20250514",
    "timeout_ms": 15000,
  },
  "audio": {
    "source": "alsa_output.pci-0000_00_1f.3.hdmi-stereo.monitor",
    "sink": "bluez_sink.AA_BB_CC_DD_EE_FF.a2dp_sink",
    "default_latency_ms": 25,
  },
  "limits": {"output_max": 120},
  "serve": {"bind": "127.0.0.1:5000"},
  "tunnel": {
    "relay_url": "wss://relay.example.net/tunnel",
    "reconnect_ms": 2000,
  },
  "relay": {"request_timeout_ms": 8000},
}`, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)

	require.Equal(t, "sk-ant-test", cfg.API.Key)
	require.Equal(t, 15000, cfg.API.TimeoutMS)
	require.Equal(t, 256, cfg.API.MaxTokens)
	require.Equal(t, "bluez_sink.AA_BB_CC_DD_EE_FF.a2dp_sink", cfg.Audio.Sink)
	require.Equal(t, 25, cfg.Audio.DefaultLatencyMS)
	require.Equal(t, 120, cfg.Limits.OutputMax)
	require.Equal(t, 150, cfg.Limits.InputMax)
	require.Equal(t, "127.0.0.1:5000", cfg.Serve.Bind)
	require.Equal(t, "wss://relay.example.net/tunnel", cfg.Tunnel.RelayURL)
	require.Equal(t, 2000, cfg.Tunnel.ReconnectMS)
	require.Equal(t, 8000, cfg.Relay.RequestTimeoutMS)
}

func TestParseJSONCPresetsMergePerName(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "audio": {"source": "tv", "sink": "speaker"},
  "api": {"key": "sk-ant-test"},
  "presets": {
    "movie": {"output": 60},
    "gaming": {"input": 110, "latency": 15, "loopback": true}
  }
}`, Default())
	require.NoError(t, err)

	movie := cfg.Presets["movie"]
	require.Nil(t, movie.Input, "redefined tuple drops default fields")
	require.NotNil(t, movie.Output)
	require.Equal(t, 60, *movie.Output)

	gaming := cfg.Presets["gaming"]
	require.Equal(t, "gaming", gaming.Name)
	require.NotNil(t, gaming.Loopback)
	require.True(t, *gaming.Loopback)

	require.Contains(t, cfg.Presets, "night", "untouched defaults survive")
}

func TestParseJSONCRejectsUnknownField(t *testing.T) {
	_, _, err := parseJSONC(`{"volume": 90}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseJSONCRejectsInvalidPactlCmd(t *testing.T) {
	_, _, err := parseJSONC(`{"audio":{"pactl_cmd":"unterminated ' quote"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid audio.pactl_cmd")
}

func TestParseJSONCRejectsEmptyPresetName(t *testing.T) {
	_, _, err := parseJSONC(`{"presets":{" ":{"input":100}}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty preset name")
}

func TestParseJSONCTrimsNamesAndURLs(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "audio": {"source": "  tv-monitor  ", "sink": " speaker "},
  "tunnel": {"relay_url": " wss://relay.example.net/tunnel "}
}`, Default())
	require.NoError(t, err)
	require.Equal(t, "tv-monitor", cfg.Audio.Source)
	require.Equal(t, "speaker", cfg.Audio.Sink)
	require.Equal(t, "wss://relay.example.net/tunnel", cfg.Tunnel.RelayURL)
}

func TestParseJSONCRejectsMultipleTopLevelValues(t *testing.T) {
	_, _, err := parseJSONC(`{"serve":{"bind":"0.0.0.0:5000"}}{"serve":{"bind":"0.0.0.0:5001"}}`, Default())
	require.Error(t, err)
	require.True(
		t,
		strings.Contains(err.Error(), "multiple JSON values") || strings.Contains(err.Error(), "unknown field"),
		"unexpected error: %v",
		err,
	)
}

func TestParseJSONCTypeErrorIncludesLocation(t *testing.T) {
	_, _, err := parseJSONC(`{
  "audio": {"source": 123}
}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line")
	require.Contains(t, err.Error(), "column")
}
