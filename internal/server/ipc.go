package server

import (
	"context"
	"fmt"

	"loopctl/internal/ipc"
)

// HandleIPC serves control-socket requests with the same backends as HTTP.
func (s *Server) HandleIPC(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		state, err := s.bridge.GetState(ctx)
		if err != nil {
			return ipcError(err)
		}
		return ipc.Response{OK: true, Snapshot: &state}

	case "set":
		if req.Delta == nil {
			return ipc.Response{OK: false, Error: "set requires a delta"}
		}
		state, err := s.bridge.ApplyDelta(ctx, *req.Delta)
		if err != nil {
			return ipcError(err)
		}
		return ipc.Response{OK: true, Snapshot: &state}

	case "preset":
		state, err := s.presets.Apply(ctx, req.Name)
		if err != nil {
			return ipcError(err)
		}
		return ipc.Response{OK: true, Snapshot: &state, Message: fmt.Sprintf("preset %q applied", req.Name)}

	case "ask":
		if s.interp == nil {
			return ipc.Response{OK: false, Error: "assistant is not configured; set api.key"}
		}
		res, err := s.interp.Interpret(ctx, req.Text)
		if err != nil {
			return ipcError(err)
		}
		return ipc.Response{OK: true, Snapshot: &res.State, Message: res.Explanation}

	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func ipcError(err error) ipc.Response {
	return ipc.Response{OK: false, Error: err.Error()}
}
