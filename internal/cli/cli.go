// Package cli parses loopctl command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"loopctl/internal/bridge"
)

type Command string

const (
	CommandStatus  Command = "status"
	CommandSet     Command = "set"
	CommandPreset  Command = "preset"
	CommandAsk     Command = "ask"
	CommandServe   Command = "serve"
	CommandTunnel  Command = "tunnel"
	CommandRelay   Command = "relay"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandStatus:  {},
	CommandSet:     {},
	CommandPreset:  {},
	CommandAsk:     {},
	CommandServe:   {},
	CommandTunnel:  {},
	CommandRelay:   {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool

	Delta  *bridge.Delta // set
	Preset string        // preset
	Text   string        // ask
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	i := 0
flags:
	for i < len(args) {
		switch arg := args[i]; arg {
		case "-h", "--help":
			parsed.Command = CommandHelp
			parsed.ShowHelp = true
			i++
		case "--version":
			parsed.Command = CommandVersion
			parsed.ShowHelp = false
			i++
		case "--config":
			if i+1 >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i+1]
			i += 2
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}
			break flags
		}
	}

	if i >= len(args) {
		return parsed, nil
	}

	cmd := Command(args[i])
	if _, ok := validCommands[cmd]; !ok {
		return Parsed{}, fmt.Errorf("unknown command: %s", args[i])
	}
	parsed.Command = cmd
	parsed.ShowHelp = cmd == CommandHelp
	rest := args[i+1:]

	switch cmd {
	case CommandSet:
		if len(rest) != 2 {
			return Parsed{}, errors.New("set requires a field and a value, e.g. set input 120")
		}
		delta, err := parseSet(rest[0], rest[1])
		if err != nil {
			return Parsed{}, err
		}
		parsed.Delta = delta
	case CommandPreset:
		if len(rest) != 1 {
			return Parsed{}, errors.New("preset requires a name, e.g. preset movie")
		}
		parsed.Preset = rest[0]
	case CommandAsk:
		if len(rest) == 0 {
			return Parsed{}, errors.New(`ask requires text, e.g. ask "make it louder"`)
		}
		parsed.Text = strings.Join(rest, " ")
	default:
		if len(rest) > 0 {
			return Parsed{}, fmt.Errorf("unexpected arguments after command %q", cmd)
		}
	}

	return parsed, nil
}

// parseSet maps a field/value pair onto a single-field delta.
func parseSet(field, value string) (*bridge.Delta, error) {
	delta := &bridge.Delta{}
	switch field {
	case "input", "output", "latency":
		v, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("set %s expects an integer, got %q", field, value)
		}
		switch field {
		case "input":
			delta.Input = &v
		case "output":
			delta.Output = &v
		case "latency":
			delta.Latency = &v
		}
	case "loopback":
		switch value {
		case "on":
			on := true
			delta.Loopback = &on
		case "off":
			off := false
			delta.Loopback = &off
		default:
			return nil, fmt.Errorf("set loopback expects on or off, got %q", value)
		}
	default:
		return nil, fmt.Errorf("unknown set field %q (input, output, latency, loopback)", field)
	}
	return delta, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  status                Print input/output volumes, latency, and loopback state
  set <field> <value>   Set input, output, latency, or loopback (on|off)
  preset <name>         Apply a named preset (movie, music, voice, night)
  ask <text>            Ask the assistant to adjust the audio
  serve                 Run the control daemon with the HTTP API
  tunnel                Forward relay requests to the local API
  relay                 Run the public relay server
  devices               List Pulse sources and sinks
  doctor                Run configuration and environment checks
  version               Print version information
  help                  Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/loopctl/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
