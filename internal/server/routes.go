package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"loopctl/internal/assistant"
	"loopctl/internal/bridge"
	"loopctl/internal/preset"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.bridge.GetState(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	volume, ok := s.pathInt(w, r, "volume")
	if !ok {
		return
	}
	state, err := s.bridge.ApplyDelta(r.Context(), bridge.Delta{Input: &volume})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "value": state.Input})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	volume, ok := s.pathInt(w, r, "volume")
	if !ok {
		return
	}
	state, err := s.bridge.ApplyDelta(r.Context(), bridge.Delta{Output: &volume})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "value": state.Output})
}

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	ms, ok := s.pathInt(w, r, "ms")
	if !ok {
		return
	}
	state, err := s.bridge.ApplyDelta(r.Context(), bridge.Delta{Latency: &ms})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "value": state.Latency})
}

func (s *Server) handleLoopback(w http.ResponseWriter, r *http.Request) {
	var on bool
	switch r.PathValue("state") {
	case "on":
		on = true
	case "off":
		on = false
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("loopback state must be on or off, got %q", r.PathValue("state")),
		})
		return
	}

	state, err := s.bridge.ApplyDelta(r.Context(), bridge.Delta{Loopback: &on})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "active": state.Loopback})
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.presets.Apply(r.Context(), name); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "preset": name})
}

type askRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.interp == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"error":   "assistant is not configured; set api.key",
		})
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid json: " + err.Error(),
		})
		return
	}

	res, err := s.interp.Interpret(r.Context(), req.Text)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"action":      res.Action,
		"explanation": res.Explanation,
		"state":       res.State,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// fail maps backend errors to HTTP statuses and logs them once.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, preset.ErrUnknownPreset):
		status = http.StatusNotFound
	case errors.Is(err, bridge.ErrDeviceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, assistant.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, assistant.ErrInterpretation):
		status = http.StatusBadGateway
	}

	s.logger.Error("api request failed", "status", status, "error", err)
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func (s *Server) pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.PathValue(name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("%s must be an integer, got %q", name, raw),
		})
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
