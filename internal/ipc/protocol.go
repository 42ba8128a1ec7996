// Package ipc carries commands between loopctl invocations and the single
// process that owns the audio bridge.
package ipc

import "loopctl/internal/bridge"

// Request is one command sent to the owning loopctl process. Delta is set
// for "set", Name for "preset", Text for "ask".
type Request struct {
	Command string        `json:"command"`
	Delta   *bridge.Delta `json:"delta,omitempty"`
	Name    string        `json:"name,omitempty"`
	Text    string        `json:"text,omitempty"`
}

// Response reports the outcome plus the audio snapshot after the command.
type Response struct {
	OK       bool          `json:"ok"`
	Snapshot *bridge.State `json:"snapshot,omitempty"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
}
