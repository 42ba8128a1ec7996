package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loopctl/internal/bridge"
	"loopctl/internal/ipc"
)

// appStubScript answers the minimal pactl surface the direct command
// paths use. Volumes are static and the module list is empty, so no
// loopback module is adopted. Calls are appended to PACTL_LOG when set.
const appStubScript = `#!/usr/bin/env bash
set -euo pipefail
log="${PACTL_LOG:-}"
if [[ -n "${log}" ]]; then
  echo "$*" >> "${log}"
fi
case "${1:-}" in
  get-source-volume)
    echo 'Volume: front-left: 36045 / 55% / -15.60 dB'
    ;;
  get-sink-volume)
    echo 'Volume: front-left: 26214 / 40% / -23.87 dB'
    ;;
  set-source-volume|set-sink-volume)
    ;;
  list)
    ;;
esac
`

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "loopctl")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRunnerStatusRunsDirectlyWhenNoDaemon(t *testing.T) {
	paths := setupRunnerEnv(t)
	stub := writePactlStub(t)
	writeConfig(t, paths.configPath, fmt.Sprintf(`{
  "api": {"key": "sk-test"},
  "audio": {"source": "tv_source", "sink": "bt_speaker", "pactl_cmd": %q}
}`, stub))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "input=55% output=40% latency=30ms loopback=off\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerSetRunsDirectlyAndClamps(t *testing.T) {
	paths := setupRunnerEnv(t)
	stub := writePactlStub(t)
	logPath := filepath.Join(t.TempDir(), "pactl.log")
	t.Setenv("PACTL_LOG", logPath)
	writeConfig(t, paths.configPath, fmt.Sprintf(`{
  "api": {"key": "sk-test"},
  "audio": {"source": "tv_source", "sink": "bt_speaker", "pactl_cmd": %q}
}`, stub))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "set", "input", "170"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "input=55%")

	calls, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(calls), "set-source-volume tv_source 150%")
}

func TestRunnerStatusWithoutAudioConfigFails(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeConfig(t, paths.configPath, `{"api": {"key": "sk-test"}}`)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "audio.source is not configured")
}

func TestRunnerAskWithoutAPIKeyFails(t *testing.T) {
	paths := setupRunnerEnv(t)
	stub := writePactlStub(t)
	writeConfig(t, paths.configPath, fmt.Sprintf(`{
  "audio": {"source": "tv_source", "sink": "bt_speaker", "pactl_cmd": %q}
}`, stub))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "ask", "make", "it", "louder"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "api.key is not configured")
}

func TestRunnerTunnelRequiresRelayURL(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "tunnel"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "tunnel.relay_url is not configured")
}

func TestRunnerForwardsCommandsToDaemon(t *testing.T) {
	paths := setupRunnerEnv(t)
	requests := make(chan ipc.Request, 8)
	state := bridge.State{Input: 80, Output: 70, Latency: 30, Loopback: true}

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "loopctl.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		switch req.Command {
		case "status", "set":
			return ipc.Response{OK: true, Snapshot: &state}
		case "preset":
			return ipc.Response{OK: true, Snapshot: &state, Message: fmt.Sprintf("preset %q applied", req.Name)}
		case "ask":
			return ipc.Response{OK: true, Snapshot: &state, Message: "Raised the speaker volume."}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	runner := Runner{}
	run := func(args ...string) string {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner.Stdout = stdout
		runner.Stderr = stderr

		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, stderr.String())
		require.Empty(t, stderr.String())
		return stdout.String()
	}

	out := run("status")
	require.Equal(t, "input=80% output=70% latency=30ms loopback=on\n", out)
	req := <-requests
	require.Equal(t, "status", req.Command)

	out = run("set", "input", "120")
	require.Contains(t, out, "input=80%")
	req = <-requests
	require.Equal(t, "set", req.Command)
	require.NotNil(t, req.Delta)
	require.NotNil(t, req.Delta.Input)
	require.Equal(t, 120, *req.Delta.Input)
	require.Nil(t, req.Delta.Output)

	out = run("preset", "movie")
	require.Contains(t, out, `preset "movie" applied`)
	req = <-requests
	require.Equal(t, "preset", req.Command)
	require.Equal(t, "movie", req.Name)

	out = run("ask", "make", "it", "louder")
	require.Contains(t, out, "Raised the speaker volume.")
	req = <-requests
	require.Equal(t, "ask", req.Command)
	require.Equal(t, "make it louder", req.Text)
}

func TestRunnerReportsDaemonErrors(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "loopctl.sock"), func(_ context.Context, _ ipc.Request) ipc.Response {
		return ipc.Response{OK: false, Error: `unknown preset: "party"`}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "preset", "party"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), `unknown preset: "party"`)
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "audio.source")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerServeCleansUpSocketWhenBridgeSetupFails(t *testing.T) {
	paths := setupRunnerEnv(t)
	writeConfig(t, paths.configPath, `{"api": {"key": "sk-test"}}`)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "serve"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "audio.source is not configured")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "loopctl.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerServeOwnsSocketAndAnswersIPC(t *testing.T) {
	paths := setupRunnerEnv(t)
	stub := writePactlStub(t)
	writeConfig(t, paths.configPath, fmt.Sprintf(`{
  "api": {"key": "sk-test"},
  "audio": {"source": "tv_source", "sink": "bt_speaker", "pactl_cmd": %q},
  "serve": {"bind": "127.0.0.1:0"}
}`, stub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	done := make(chan int, 1)
	go func() {
		done <- runner.Execute(ctx, []string{"--config", paths.configPath, "serve"})
	}()

	socketPath := filepath.Join(paths.runtimeDir, "loopctl.sock")
	var resp ipc.Response
	require.Eventually(t, func() bool {
		got, err := ipc.Send(context.Background(), socketPath, ipc.Request{Command: "status"}, 500*time.Millisecond)
		if err != nil || !got.OK {
			return false
		}
		resp = got
		return true
	}, 5*time.Second, 50*time.Millisecond)

	require.NotNil(t, resp.Snapshot)
	require.Equal(t, 55, resp.Snapshot.Input)
	require.Equal(t, 40, resp.Snapshot.Output)

	cancel()
	select {
	case code := <-done:
		require.Equal(t, 0, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}

	_, statErr := os.Stat(socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "loopctl.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	serverCtx, cancelServer := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ipc.Serve(serverCtx, listener, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
			switch req.Command {
			case "status":
				return ipc.Response{OK: true, Snapshot: &bridge.State{Input: 80, Output: 70, Latency: 30, Loopback: true}}
			default:
				return ipc.Response{OK: false, Error: "unsupported"}
			}
		}))
	}()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"}, time.Second)
	require.True(t, handled)
	require.NoError(t, err)
	require.NotNil(t, resp.Snapshot)
	require.Equal(t, 80, resp.Snapshot.Input)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: "dance"}, time.Second)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")

	cancelServer()
	require.NoError(t, <-serverDone)
}

func TestTryForwardDoesNotRemoveSocketPathOnFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "loopctl.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"}, time.Second)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "loopctl.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"}, time.Second)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestSocketErrorHelpers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/loopctl.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

func TestFormatState(t *testing.T) {
	on := formatState(bridge.State{Input: 80, Output: 70, Latency: 30, Loopback: true})
	require.Equal(t, "input=80% output=70% latency=30ms loopback=on", on)

	off := formatState(bridge.State{Input: 0, Output: 0, Latency: 10})
	require.Equal(t, "input=0% output=0% latency=10ms loopback=off", off)
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

// setupRunnerEnv isolates XDG paths and writes a warning-free config.
func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	t.Setenv("XDG_STATE_HOME", t.TempDir())
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	writeConfig(t, configPath, `{
  "api": {"key": "sk-test"},
  "audio": {"source": "tv_source", "sink": "bt_speaker"}
}`)

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func writePactlStub(t *testing.T) string {
	t.Helper()
	stubPath := filepath.Join(t.TempDir(), "pactl-stub")
	require.NoError(t, os.WriteFile(stubPath, []byte(appStubScript), 0o755))
	return stubPath
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
