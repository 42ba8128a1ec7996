package config

import (
	"strings"
	"testing"
)

func TestParseValidConfig(t *testing.T) {
	input := `
# comment
audio.source = alsa_output.pci-0000_00_1f.3.hdmi-stereo.monitor
audio.sink = "bluez_sink.AA_BB_CC_DD_EE_FF.a2dp_sink"
limits.input_max = 140
serve.bind = 127.0.0.1:5000

preset cinema {
  input = 120
  output = 85
  latency = 30
}

preset quiet {
  output = 40
  loopback = true
}
`

	cfg, warnings, err := Parse(input, Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Audio.Source != "alsa_output.pci-0000_00_1f.3.hdmi-stereo.monitor" {
		t.Fatalf("unexpected audio.source: %s", cfg.Audio.Source)
	}
	if cfg.Audio.Sink != "bluez_sink.AA_BB_CC_DD_EE_FF.a2dp_sink" {
		t.Fatalf("unexpected audio.sink: %s", cfg.Audio.Sink)
	}
	if cfg.Limits.InputMax != 140 {
		t.Fatalf("unexpected limits.input_max: %d", cfg.Limits.InputMax)
	}
	if len(warnings) == 0 || !strings.Contains(warnings[0].Message, "legacy") {
		t.Fatalf("expected legacy format warning first, got %#v", warnings)
	}

	cinema, ok := cfg.Presets["cinema"]
	if !ok {
		t.Fatal("expected cinema preset")
	}
	if cinema.Input == nil || *cinema.Input != 120 {
		t.Fatalf("unexpected cinema input: %#v", cinema.Input)
	}
	if cinema.Latency == nil || *cinema.Latency != 30 {
		t.Fatalf("unexpected cinema latency: %#v", cinema.Latency)
	}
	if cinema.Loopback != nil {
		t.Fatalf("cinema loopback should be unset, got %#v", cinema.Loopback)
	}

	quiet := cfg.Presets["quiet"]
	if quiet.Input != nil {
		t.Fatalf("quiet input should be unset, got %#v", quiet.Input)
	}
	if quiet.Loopback == nil || !*quiet.Loopback {
		t.Fatalf("unexpected quiet loopback: %#v", quiet.Loopback)
	}

	if _, ok := cfg.Presets["movie"]; !ok {
		t.Fatal("default presets should survive a partial override")
	}
}

func TestParsePresetOverrideReplacesDefaultTuple(t *testing.T) {
	cfg, _, err := Parse(`
preset movie {
  output = 60
}
`, Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	movie := cfg.Presets["movie"]
	if movie.Input != nil {
		t.Fatalf("redefined movie preset should drop the default input, got %#v", movie.Input)
	}
	if movie.Output == nil || *movie.Output != 60 {
		t.Fatalf("unexpected movie output: %#v", movie.Output)
	}
}

func TestParseUnknownKeyFails(t *testing.T) {
	_, _, err := Parse(`foo.bar = 1`, Default())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown key") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseLineNumberOnError(t *testing.T) {
	_, _, err := Parse("\n\nthis is bad", Default())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("expected line number in error, got %v", err)
	}
}

func TestParseCommandArgvQuoted(t *testing.T) {
	cfg, _, err := Parse(`audio.pactl_cmd = "pactl --server 'tcp:htpc.lan:4713'"`, Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got := strings.Join(cfg.Audio.PactlCmd.Argv, "|")
	want := "pactl|--server|tcp:htpc.lan:4713"
	if got != want {
		t.Fatalf("unexpected argv parse: got %q want %q", got, want)
	}
}

func TestParseSingleQuotedStrings(t *testing.T) {
	cfg, _, err := Parse(`
audio.source = 'tv monitor source'
tunnel.relay_url = 'wss://relay.example.net/tunnel'
`, Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Audio.Source != "tv monitor source" {
		t.Fatalf("unexpected audio.source: %q", cfg.Audio.Source)
	}
	if cfg.Tunnel.RelayURL != "wss://relay.example.net/tunnel" {
		t.Fatalf("unexpected tunnel.relay_url: %q", cfg.Tunnel.RelayURL)
	}
}

func TestParseRejectsUnterminatedSingleQuotedString(t *testing.T) {
	_, _, err := Parse(`audio.source = 'tv monitor`, Default())
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "closing single quote") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseIntegerValueError(t *testing.T) {
	_, _, err := Parse(`limits.input_max = loud`, Default())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "expects an integer") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseUnknownPresetKeyFails(t *testing.T) {
	_, _, err := Parse(`
preset movie {
  volume = 120
}
`, Default())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown preset key") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseUnterminatedPresetReportsStartLine(t *testing.T) {
	_, _, err := Parse(`
preset cinema {
  input = 120
`, Default())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected preset start line in error, got %v", err)
	}
}

func TestParseEmptyContentValidatesBase(t *testing.T) {
	cfg, _, err := Parse("   \n\t", Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Serve.Bind != "0.0.0.0:5000" {
		t.Fatalf("unexpected serve.bind: %s", cfg.Serve.Bind)
	}
}
