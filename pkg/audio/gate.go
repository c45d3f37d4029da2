package audio

import (
	"log/slog"
	"sync/atomic"
)

// Outcome classifies what the [Gate] did with one captured frame.
type Outcome int

const (
	// Sent: the frame was encoded and handed to the transport.
	Sent Outcome = iota

	// DroppedMuted: the mute flag was set.
	DroppedMuted

	// DroppedHalfDuplex: agent audio was still playing or queued.
	DroppedHalfDuplex

	// DroppedSendError: the transport rejected the frame.
	DroppedSendError
)

// String returns the attribute value used for metrics and logs.
func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case DroppedMuted:
		return "muted"
	case DroppedHalfDuplex:
		return "half_duplex"
	case DroppedSendError:
		return "send_error"
	default:
		return "unknown"
	}
}

// SendFunc delivers an encoded frame to the transport's realtime-input
// operation. It may fail; the gate logs and drops on failure.
type SendFunc func(WireBlob) error

// Gate decides, per capture tick, whether a microphone frame is transmitted.
//
// A frame is dropped when the mute flag is set (explicit user control — never
// transmit while muted, regardless of other state), or when half-duplex
// suppression is enabled and the playback cursor is ahead of the output
// device clock, meaning the agent is still speaking or has audio queued.
//
// The half-duplex check is a heuristic, not a guarantee: it reduces
// doubled-talk artifacts but the remote side may still report an
// interruption. Its timing threshold is not promised by the protocol.
//
// Transmission is fire-and-forget over a lossy real-time stream: a failed
// send is logged and dropped, never blocked on or retried, since the next
// tick's frame naturally supersedes it.
//
// All methods are safe for concurrent use.
type Gate struct {
	sched      *Scheduler
	clock      OutputStream
	send       SendFunc
	halfDuplex bool
	muted      atomic.Bool
}

// NewGate creates a Gate transmitting through send. When halfDuplex is true,
// frames are suppressed while sched's cursor is ahead of clock.
func NewGate(sched *Scheduler, clock OutputStream, send SendFunc, halfDuplex bool) *Gate {
	return &Gate{
		sched:      sched,
		clock:      clock,
		send:       send,
		halfDuplex: halfDuplex,
	}
}

// SetMuted sets the mute flag. Muting cancels all future capture until
// unmuted; the change takes effect on the next tick.
func (g *Gate) SetMuted(muted bool) {
	g.muted.Store(muted)
}

// Muted reports the current mute flag.
func (g *Gate) Muted() bool {
	return g.muted.Load()
}

// Offer runs the transmit decision for one captured frame and reports the
// outcome so the caller can account for it.
func (g *Gate) Offer(f Frame) Outcome {
	if g.muted.Load() {
		return DroppedMuted
	}
	if g.halfDuplex && g.sched.NextStart() > g.clock.Now() {
		return DroppedHalfDuplex
	}

	blob := Encode(f.Samples, f.SampleRate)
	if err := g.send(blob); err != nil {
		slog.Warn("frame send failed, dropping", "err", err, "samples", len(f.Samples))
		return DroppedSendError
	}
	return Sent
}
