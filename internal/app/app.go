// Package app dispatches parsed CLI invocations. One-shot commands are
// forwarded to a running daemon when one owns the control socket and run
// in-process otherwise.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"loopctl/internal/assistant"
	"loopctl/internal/bridge"
	"loopctl/internal/cli"
	"loopctl/internal/config"
	"loopctl/internal/doctor"
	"loopctl/internal/ipc"
	"loopctl/internal/logging"
	"loopctl/internal/pactl"
	"loopctl/internal/preset"
	"loopctl/internal/pulse"
	"loopctl/internal/relay"
	"loopctl/internal/server"
	"loopctl/internal/tunnel"
	"loopctl/internal/version"
)

// Forward deadlines are generous because the daemon may proxy a remote
// pactl or the Anthropic API; dialing an absent socket still fails fast.
const (
	forwardTimeout    = 15 * time.Second
	forwardAskTimeout = 2 * time.Minute
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("loopctl"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("loopctl"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx, cfgLoaded.Config)
	case cli.CommandSet:
		return r.commandSet(ctx, cfgLoaded.Config, parsed.Delta)
	case cli.CommandPreset:
		return r.commandPreset(ctx, cfgLoaded.Config, parsed.Preset)
	case cli.CommandAsk:
		return r.commandAsk(ctx, cfgLoaded.Config, parsed.Text)
	case cli.CommandServe:
		return r.commandServe(ctx, cfgLoaded.Config, logger)
	case cli.CommandTunnel:
		return r.commandTunnel(ctx, cfgLoaded.Config, logger)
	case cli.CommandRelay:
		return r.commandRelay(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	sources, err := pulse.ListSources(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	sinks, err := pulse.ListSinks(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintln(r.Stdout, "sources:")
	r.printDevices(sources)
	fmt.Fprintln(r.Stdout, "sinks:")
	r.printDevices(sinks)
	return 0
}

func (r Runner) printDevices(devices []pulse.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "  none found")
		return
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}
}

func (r Runner) commandStatus(ctx context.Context, cfg config.Config) int {
	if resp, handled, err := r.forward(ctx, ipc.Request{Command: "status"}, forwardTimeout); handled {
		return r.finish(resp, err)
	}

	ctrl, _, err := buildBridge(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	state, err := ctrl.GetState(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, formatState(state))
	return 0
}

func (r Runner) commandSet(ctx context.Context, cfg config.Config, delta *bridge.Delta) int {
	if resp, handled, err := r.forward(ctx, ipc.Request{Command: "set", Delta: delta}, forwardTimeout); handled {
		return r.finish(resp, err)
	}

	ctrl, _, err := buildBridge(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	state, err := ctrl.ApplyDelta(ctx, *delta)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, formatState(state))
	return 0
}

func (r Runner) commandPreset(ctx context.Context, cfg config.Config, name string) int {
	if resp, handled, err := r.forward(ctx, ipc.Request{Command: "preset", Name: name}, forwardTimeout); handled {
		return r.finish(resp, err)
	}

	_, engine, err := buildBridge(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	state, err := engine.Apply(ctx, name)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "preset %q applied\n", name)
	fmt.Fprintln(r.Stdout, formatState(state))
	return 0
}

func (r Runner) commandAsk(ctx context.Context, cfg config.Config, text string) int {
	if resp, handled, err := r.forward(ctx, ipc.Request{Command: "ask", Text: text}, forwardAskTimeout); handled {
		return r.finish(resp, err)
	}

	ctrl, engine, err := buildBridge(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	interp, err := buildInterpreter(cfg, ctrl, engine)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	res, err := interp.Interpret(ctx, text)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if res.Explanation != "" {
		fmt.Fprintln(r.Stdout, res.Explanation)
	}
	fmt.Fprintln(r.Stdout, formatState(res.State))
	return 0
}

func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	ctrl, engine, err := buildBridge(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var interp server.Interpreter
	if cfg.API.Key != "" {
		built, err := buildInterpreter(cfg, ctrl, engine)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		interp = built
	} else {
		logger.Warn("api.key is not set; chat commands are disabled")
	}

	srv := server.New(ctrl, engine, interp, logger)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- ipc.Serve(serveCtx, listener, ipc.HandlerFunc(srv.HandleIPC)) }()
	go func() { errCh <- srv.ListenAndServe(serveCtx, cfg.Serve.Bind) }()

	err = <-errCh
	cancel()
	if second := <-errCh; err == nil {
		err = second
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (r Runner) commandTunnel(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	if strings.TrimSpace(cfg.Tunnel.RelayURL) == "" {
		fmt.Fprintln(r.Stderr, "error: tunnel.relay_url is not configured")
		return 1
	}

	client, err := tunnel.New(tunnel.Options{
		RelayURL:     cfg.Tunnel.RelayURL,
		LocalAPI:     cfg.Tunnel.LocalAPI,
		Reconnect:    time.Duration(cfg.Tunnel.ReconnectMS) * time.Millisecond,
		PingInterval: time.Duration(cfg.Tunnel.PingIntervalMS) * time.Millisecond,
		PongTimeout:  time.Duration(cfg.Tunnel.PongTimeoutMS) * time.Millisecond,
	}, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if err := client.Run(ctx); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (r Runner) commandRelay(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	srv := relay.New(relay.Options{
		Bind:           cfg.Relay.Bind,
		RequestTimeout: time.Duration(cfg.Relay.RequestTimeoutMS) * time.Millisecond,
	}, logger)

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// forward relays req to a running daemon. handled is false when nothing
// owns the control socket, in which case the command runs in-process.
func (r Runner) forward(ctx context.Context, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return ipc.Response{}, false, nil
	}
	return tryForward(ctx, socketPath, req, timeout)
}

func (r Runner) finish(resp ipc.Response, err error) int {
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	if resp.Snapshot != nil {
		fmt.Fprintln(r.Stdout, formatState(*resp.Snapshot))
	}
	return 0
}

func buildBridge(cfg config.Config) (*bridge.Controller, *preset.Engine, error) {
	if strings.TrimSpace(cfg.Audio.Source) == "" {
		return nil, nil, errors.New("audio.source is not configured")
	}
	if strings.TrimSpace(cfg.Audio.Sink) == "" {
		return nil, nil, errors.New("audio.sink is not configured")
	}

	client, err := pactl.New(cfg.Audio.PactlCmd.Argv)
	if err != nil {
		return nil, nil, err
	}
	ctrl, err := bridge.New(client, bridge.Options{
		Source:           cfg.Audio.Source,
		Sink:             cfg.Audio.Sink,
		DefaultLatencyMS: cfg.Audio.DefaultLatencyMS,
		Limits:           bridgeLimits(cfg.Limits),
	})
	if err != nil {
		return nil, nil, err
	}
	return ctrl, preset.New(ctrl, cfg.Presets), nil
}

func buildInterpreter(cfg config.Config, ctrl *bridge.Controller, engine *preset.Engine) (*assistant.Interpreter, error) {
	client, err := assistant.NewClient(cfg.API)
	if err != nil {
		return nil, err
	}
	return assistant.New(client, ctrl, engine, bridgeLimits(cfg.Limits)), nil
}

func bridgeLimits(l config.LimitsConfig) bridge.Limits {
	return bridge.Limits{
		InputMax:   l.InputMax,
		OutputMax:  l.OutputMax,
		LatencyMin: l.LatencyMin,
		LatencyMax: l.LatencyMax,
	}
}

// formatState renders one status line, e.g.
// "input=80% output=70% latency=30ms loopback=on".
func formatState(s bridge.State) string {
	loopback := "off"
	if s.Loopback {
		loopback = "on"
	}
	return fmt.Sprintf("input=%d%% output=%d%% latency=%dms loopback=%s",
		s.Input, s.Output, s.Latency, loopback)
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, timeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
