package guidance

import (
	"log/slog"

	"github.com/sotto-voice/sotto/pkg/provider/live"
)

// AckFunc sends the correlated acknowledgement for a tool call back to the
// remote session.
type AckFunc func(id, name string, resp map[string]any) error

// Handler processes inbound tool calls: parse, dispatch, acknowledge.
//
// Invariants it upholds:
//
//   - Every received call is acknowledged exactly once, even when the
//     application callback panics — the ack is sent after recovery.
//   - Acknowledgement failures are logged and dropped, never propagated;
//     the stream is lossy by design and an ack is not worth stalling audio.
//   - The callback runs synchronously before the ack, so the application's
//     displayed state is updated by the time the model learns the call
//     landed. The callback must not block.
type Handler struct {
	dispatch func(Signal)
	ack      AckFunc
}

// NewHandler creates a Handler dispatching parsed signals to dispatch and
// acknowledging through ack. dispatch may be nil (calls are still acked).
func NewHandler(dispatch func(Signal), ack AckFunc) *Handler {
	return &Handler{dispatch: dispatch, ack: ack}
}

// HandleCall processes one tool call end to end. It never returns an error:
// all failure modes terminate locally per the engine's propagation policy.
func (h *Handler) HandleCall(call live.ToolCall) {
	sig := ParseSignal(call.Args)

	if h.dispatch != nil {
		h.safeDispatch(call, sig)
	}

	if err := h.ack(call.ID, call.Name, map[string]any{"status": "received"}); err != nil {
		slog.Warn("tool-call ack failed, dropping", "call_id", call.ID, "name", call.Name, "err", err)
	}
}

// safeDispatch runs the application callback with panic recovery so that a
// misbehaving callback cannot take the receive loop down or swallow the ack.
func (h *Handler) safeDispatch(call live.ToolCall, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("guidance callback panicked", "call_id", call.ID, "panic", r)
		}
	}()
	h.dispatch(sig)
}
