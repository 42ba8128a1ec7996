package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"loopctl/internal/bridge"
)

// ErrInterpretation reports that the model reply could not be mapped onto
// an action. The bridge is left untouched in that case.
var ErrInterpretation = errors.New("assistant reply not interpretable")

// Actions the model may answer with.
const (
	actionSetInputVolume  = "set_input_volume"
	actionSetOutputVolume = "set_output_volume"
	actionSetLatency      = "set_latency"
	actionToggleLoopback  = "toggle_loopback"
	actionApplyPreset     = "apply_preset"
	actionGetStatus       = "get_status"
	actionAutoTune        = "auto_tune"
	actionInfo            = "info"
)

// fencePattern matches a markdown code fence around the reply. Models add
// one now and then even when told not to.
var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

type reply struct {
	Action      string          `json:"action"`
	Value       json.RawMessage `json:"value"`
	Explanation string          `json:"explanation"`
}

// Command is one parsed model reply, normalized into bridge terms.
type Command struct {
	Action      string
	Delta       bridge.Delta
	Preset      string
	Explanation string
}

// parseReply decodes a model reply into a Command. Every failure wraps
// ErrInterpretation.
func parseReply(text string) (Command, error) {
	body := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	if body == "" {
		return Command{}, fmt.Errorf("%w: empty reply", ErrInterpretation)
	}

	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return Command{}, fmt.Errorf("%w: decode reply: %v", ErrInterpretation, err)
	}
	if r.Action == "" {
		return Command{}, fmt.Errorf("%w: reply has no action", ErrInterpretation)
	}

	cmd := Command{Action: r.Action, Explanation: strings.TrimSpace(r.Explanation)}
	switch r.Action {
	case actionSetInputVolume:
		v, err := intValue(r.Value)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %s: %v", ErrInterpretation, r.Action, err)
		}
		cmd.Delta.Input = &v
	case actionSetOutputVolume:
		v, err := intValue(r.Value)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %s: %v", ErrInterpretation, r.Action, err)
		}
		cmd.Delta.Output = &v
	case actionSetLatency:
		v, err := intValue(r.Value)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %s: %v", ErrInterpretation, r.Action, err)
		}
		cmd.Delta.Latency = &v
	case actionToggleLoopback:
		on, err := boolValue(r.Value)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %s: %v", ErrInterpretation, r.Action, err)
		}
		cmd.Delta.Loopback = &on
	case actionApplyPreset:
		name, err := stringValue(r.Value)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %s: %v", ErrInterpretation, r.Action, err)
		}
		cmd.Preset = name
	case actionAutoTune:
		if len(r.Value) == 0 {
			return Command{}, fmt.Errorf("%w: %s: missing value object", ErrInterpretation, r.Action)
		}
		if err := json.Unmarshal(r.Value, &cmd.Delta); err != nil {
			return Command{}, fmt.Errorf("%w: %s: decode value: %v", ErrInterpretation, r.Action, err)
		}
	case actionGetStatus, actionInfo:
		// No value. The reply's explanation carries the answer.
	default:
		return Command{}, fmt.Errorf("%w: unsupported action %q", ErrInterpretation, r.Action)
	}
	return cmd, nil
}

// intValue accepts a JSON number or a numeric string. Models alternate
// between the two.
func intValue(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing value")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", s)
		}
		return n, nil
	}
	return 0, fmt.Errorf("value %s is not an integer", string(raw))
}

// boolValue accepts a JSON bool or the usual textual spellings.
func boolValue(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, errors.New("missing value")
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "on", "true", "yes", "1":
			return true, nil
		case "off", "false", "no", "0":
			return false, nil
		}
		return false, fmt.Errorf("value %q is not a boolean", s)
	}
	return false, fmt.Errorf("value %s is not a boolean", string(raw))
}

func stringValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("missing value")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("value %s is not a string", string(raw))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("value is an empty string")
	}
	return s, nil
}
