package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"loopctl/internal/bridge"
)

// Bridge is the slice of the audio facade the interpreter drives.
type Bridge interface {
	GetState(ctx context.Context) (bridge.State, error)
	ApplyDelta(ctx context.Context, delta bridge.Delta) (bridge.State, error)
}

// Presets applies named presets and reports which names exist.
type Presets interface {
	Apply(ctx context.Context, name string) (bridge.State, error)
	Names() []string
}

// CompletionClient is the model behind the interpreter.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Result is the outcome of one interpreted request.
type Result struct {
	State       bridge.State `json:"state"`
	Action      string       `json:"action"`
	Explanation string       `json:"explanation"`
}

// Interpreter resolves free-form text against the current audio state.
type Interpreter struct {
	client  CompletionClient
	bridge  Bridge
	presets Presets
	limits  bridge.Limits
}

// New builds an Interpreter over the given client, facade and presets.
func New(client CompletionClient, b Bridge, presets Presets, limits bridge.Limits) *Interpreter {
	return &Interpreter{client: client, bridge: b, presets: presets, limits: limits}
}

const systemPromptFormat = `You are the control assistant for a PulseAudio loopback that forwards a TV audio source to a Bluetooth speaker.

Current state: %s

Translate the user's request into exactly one action:
- "set_input_volume": value is the TV source volume percent (0-%d)
- "set_output_volume": value is the speaker volume percent (0-%d)
- "set_latency": value is the loopback latency in milliseconds (%d-%d)
- "toggle_loopback": value is true or false
- "apply_preset": value is one of: %s
- "auto_tune": value is an object with any of "input", "output", "latency" chosen to suit the user's situation
- "get_status": report the current state
- "info": answer a general question about the setup

Respond with ONLY a JSON object, no markdown, of the form:
{"action": "...", "value": ..., "explanation": "one short sentence for the user"}`

func (i *Interpreter) systemPrompt(state bridge.State) string {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		stateJSON = []byte("{}")
	}
	names := i.presets.Names()
	if len(names) == 0 {
		names = []string{"none configured"}
	}
	return fmt.Sprintf(systemPromptFormat,
		stateJSON,
		i.limits.InputMax, i.limits.OutputMax,
		i.limits.LatencyMin, i.limits.LatencyMax,
		strings.Join(names, ", "))
}

// Interpret resolves text into an action and applies it. The returned state
// reflects the devices after the action ran.
func (i *Interpreter) Interpret(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, errors.New("nothing to interpret")
	}

	state, err := i.bridge.GetState(ctx)
	if err != nil {
		return Result{}, err
	}

	answer, err := i.client.Complete(ctx, i.systemPrompt(state), text)
	if err != nil {
		return Result{}, err
	}

	cmd, err := parseReply(answer)
	if err != nil {
		return Result{}, err
	}

	res := Result{State: state, Action: cmd.Action, Explanation: cmd.Explanation}
	switch cmd.Action {
	case actionApplyPreset:
		res.State, err = i.presets.Apply(ctx, cmd.Preset)
	case actionGetStatus, actionInfo:
		// Read-only actions keep the pre-call snapshot.
	default:
		res.State, err = i.bridge.ApplyDelta(ctx, cmd.Delta)
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
