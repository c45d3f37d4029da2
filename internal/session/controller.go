// Package session implements the lifecycle controller of one live duplex
// voice session.
//
// The Controller owns every piece of mutable session state — connection
// state, mute flag, explicit-stop flag, the playback cursor (via the
// scheduler), and the accumulated transcript — and exposes only commands
// (Start, Stop, SetMuted) and event callbacks. Three asynchronous activities
// cooperate per session: the capture pump (driven by the input device tick),
// the receive pump (driven by the transport's inbound stream), and
// device playback completions (handled inside the scheduler). Each event
// updates shared state atomically under a single lock, never across a
// suspension point.
//
// The central failure-handling invariant is the distinction between an
// explicit stop and an unexpected drop: a drop preserves the accumulated
// transcript and surfaces a terminal status, while only an explicit stop in
// conversational mode hands the transcript to the review collaborator.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/sotto-voice/sotto/internal/config"
	"github.com/sotto-voice/sotto/internal/guidance"
	"github.com/sotto-voice/sotto/internal/observe"
	"github.com/sotto-voice/sotto/internal/transcript"
	"github.com/sotto-voice/sotto/pkg/audio"
	"github.com/sotto-voice/sotto/pkg/provider/live"
)

// State is the connection state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateSpeaking   State = "speaking"

	// StateClosed is the terminal state after a user-initiated stop.
	StateClosed State = "closed"

	// StateDropped is the terminal state after the transport ended without a
	// preceding explicit stop, or failed to connect. The transcript and all
	// observable session data are preserved for inspection.
	StateDropped State = "dropped"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool { return s == StateClosed || s == StateDropped }

// Reviewer is the post-session feedback collaborator. It receives the
// accumulated transcript after an explicit stop of a conversational session.
// Feedback generation itself is outside this engine; implementations wrap a
// one-shot generative call.
type Reviewer interface {
	Review(ctx context.Context, messages []transcript.Message)
}

// Config assembles the collaborators and tunables of one Controller.
type Config struct {
	// Mode selects conversational or silent-monitor behaviour.
	Mode config.Mode

	// Provider supplies the duplex transport.
	Provider live.Provider

	// Device supplies the microphone and playback streams.
	Device audio.Device

	// Session is the transport-level session configuration. In
	// silent-monitor mode the caller is expected to include the guidance
	// tool declaration in Session.Tools.
	Session live.SessionConfig

	// FrameDuration is the capture tick. Zero means the device default.
	FrameDuration time.Duration

	// HalfDuplex enables the capture gate's playback backpressure.
	HalfDuplex bool

	// Reviewer receives the transcript after an explicit conversational
	// stop. Optional.
	Reviewer Reviewer

	// Metrics records engine metrics. Optional.
	Metrics *observe.Metrics

	// OnTranscript is invoked for every closed transcript message, outside
	// the controller's lock; it may read controller state. It runs on the
	// receive pump and must not block. Optional.
	OnTranscript func(transcript.Message)

	// OnSignal is invoked for every parsed guidance signal. Optional; only
	// meaningful in silent-monitor mode.
	OnSignal func(guidance.Signal)

	// OnStatus is invoked on every state change with a human-readable cause
	// (empty for routine transitions). Must not block. Optional.
	OnStatus func(state State, cause string)
}

// Controller drives one session from connect to teardown.
//
// A Controller is single-use: Start may be called once; after a terminal
// state is reached the accumulated transcript remains readable but the
// session cannot be restarted. Create a new Controller to reconnect — no
// ambient state survives across attempts. All exported methods are safe for
// concurrent use.
type Controller struct {
	cfg Config
	id  string

	mu        sync.Mutex
	state     State
	explicit  bool
	preMuted  bool
	messages  []transcript.Message
	pending   []transcript.Message
	handle    live.SessionHandle
	input     audio.InputStream
	output    audio.OutputStream
	sched     *audio.Scheduler
	gate      *audio.Gate
	assembler *transcript.Assembler

	stopOnce sync.Once
	done     chan struct{}
}

// New creates an idle Controller.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:   cfg,
		id:    uuid.NewString(),
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns a copy of the closed transcript messages accumulated so
// far. Valid in every state, including after a drop.
func (c *Controller) Transcript() []transcript.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transcript.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SetMuted sets the mute flag. While muted no frames are transmitted,
// regardless of any other state; capture resumes on the next tick after
// unmuting. Callable in any state.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	gate := c.gate
	c.preMuted = muted
	c.mu.Unlock()
	if gate != nil {
		gate.SetMuted(muted)
	}
}

// Muted reports the mute flag.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gate != nil {
		return c.gate.Muted()
	}
	return c.preMuted
}

// Start acquires the audio devices, connects the transport, and begins the
// capture and receive pumps.
//
// Resource acquisition is ordered so that a microphone denial aborts before
// any remote connection is attempted, returning the controller to idle. A
// transport connect failure releases the devices and terminates in
// StateDropped with the cause surfaced. On success the state is
// StateListening and Start returns nil; the session then runs until Stop or
// a transport-side end.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("session: already started (state %s)", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(StateConnecting, "")

	// Microphone first: echo cancellation, noise suppression and auto gain
	// are required to keep the agent's own output (and screen reader audio)
	// out of the uplink.
	inCfg := audio.DefaultInputConfig()
	if c.cfg.FrameDuration > 0 {
		inCfg.FrameDuration = c.cfg.FrameDuration
	}
	input, err := c.cfg.Device.OpenInput(ctx, inCfg)
	if err != nil {
		c.setState(StateIdle, "")
		return fmt.Errorf("session: acquire microphone: %w", err)
	}

	output, err := c.cfg.Device.OpenOutput(ctx, audio.OutputConfig{SampleRate: audio.PlaybackRate})
	if err != nil {
		_ = input.Close()
		c.setState(StateIdle, "")
		return fmt.Errorf("session: acquire output: %w", err)
	}

	connectStart := time.Now()
	handle, err := c.cfg.Provider.Connect(ctx, c.cfg.Session)
	if err != nil {
		_ = input.Close()
		_ = output.Close()
		c.setState(StateDropped, fmt.Sprintf("connection failed: %v", err))
		return fmt.Errorf("session: connect: %w", err)
	}
	if m := c.cfg.Metrics; m != nil {
		m.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds())
		m.ActiveSessions.Add(ctx, 1)
	}

	sched := audio.NewScheduler(output, audio.PlaybackRate, c.onSpeaking)
	gate := audio.NewGate(sched, output, handle.SendFrame, c.cfg.HalfDuplex)

	policy := transcript.FlushOnRoleSwitch
	if c.cfg.Mode == config.ModeSilentMonitor {
		policy = transcript.FlushOnTurnComplete
	}
	assembler := transcript.New(policy, c.recordMessage)

	c.mu.Lock()
	c.input = input
	c.output = output
	c.handle = handle
	c.sched = sched
	c.gate = gate
	c.assembler = assembler
	gate.SetMuted(c.preMuted)
	stopRequested := c.explicit
	if !stopRequested {
		c.state = StateListening
	}
	c.mu.Unlock()

	if stopRequested {
		// Stop arrived while the connect was in flight; shut the fresh
		// session straight down instead of letting it run on.
		c.stopOnce.Do(func() {
			_ = handle.Close()
			_ = input.Close()
		})
	} else {
		c.notify(StateListening, "")
		slog.Info("session open",
			"session_id", c.id,
			"mode", c.cfg.Mode,
			"half_duplex", c.cfg.HalfDuplex,
		)
	}

	go c.run(ctx, handle, input, gate, sched, assembler)
	return nil
}

// run drives the two pumps and performs teardown exactly once when both have
// exited, deciding between the explicit-stop and dropped terminal states.
func (c *Controller) run(ctx context.Context, handle live.SessionHandle, input audio.InputStream, gate *audio.Gate, sched *audio.Scheduler, assembler *transcript.Assembler) {
	var g errgroup.Group
	g.Go(func() error {
		c.capturePump(ctx, input, gate)
		return nil
	})
	g.Go(func() error {
		c.receivePump(ctx, handle, sched, assembler)
		// The transport ended; without this the capture pump would keep
		// draining microphone ticks forever and teardown would never run.
		_ = input.Close()
		return nil
	})
	_ = g.Wait()

	// Teardown: every exit path releases the microphone and the output
	// context. All closes are idempotent.
	_ = handle.Close()
	_ = input.Close()
	sched.Interrupt()
	_ = c.outputStream().Close()

	c.mu.Lock()
	assembler.Flush()
	explicit := c.explicit
	transcriptCopy := make([]transcript.Message, len(c.messages))
	copy(transcriptCopy, c.messages)
	var final State
	var cause string
	if explicit {
		final = StateClosed
	} else {
		final = StateDropped
		cause = "connection dropped, session data preserved"
		if err := handle.Err(); err != nil {
			cause = fmt.Sprintf("connection dropped (%v), session data preserved", err)
		}
	}
	c.state = final
	c.mu.Unlock()
	c.deliverPending()

	if m := c.cfg.Metrics; m != nil {
		m.ActiveSessions.Add(context.Background(), -1)
	}

	c.notify(final, cause)
	slog.Info("session ended", "session_id", c.id, "state", final, "messages", len(transcriptCopy))

	// Post-session hand-off: explicit conversational stops with a
	// non-trivial transcript go to the review collaborator.
	if explicit && c.cfg.Mode == config.ModeConversational && len(transcriptCopy) > 0 && c.cfg.Reviewer != nil {
		c.cfg.Reviewer.Review(context.Background(), transcriptCopy)
	}

	close(c.done)
}

// capturePump forwards each microphone tick through the gate until the input
// stream closes. Sending is fire-and-forget: the gate logs and drops
// failures, so one tick never blocks the next.
func (c *Controller) capturePump(ctx context.Context, input audio.InputStream, gate *audio.Gate) {
	for frame := range input.Frames() {
		outcome := gate.Offer(frame)
		if m := c.cfg.Metrics; m != nil {
			m.FramesCaptured.Add(ctx, 1)
			if outcome == audio.Sent {
				m.FramesSent.Add(ctx, 1)
			} else {
				m.FramesDropped.Add(ctx, 1,
					metric.WithAttributes(attribute.String("reason", outcome.String())))
			}
		}
	}
}

// receivePump dispatches inbound fragments until the transport's message
// stream closes. Within one message the interruption marker is handled
// before any audio it carries, so post-interruption fragments start fresh
// rather than behind stale scheduling.
func (c *Controller) receivePump(ctx context.Context, handle live.SessionHandle, sched *audio.Scheduler, assembler *transcript.Assembler) {
	guide := guidance.NewHandler(c.cfg.OnSignal, handle.SendToolResponse)

	for msg := range handle.Messages() {
		if msg.Interrupted {
			flushed := sched.Interrupt()
			if m := c.cfg.Metrics; m != nil && flushed > 0 {
				m.PlaybackFlushed.Add(ctx, int64(flushed))
			}
			slog.Debug("playback interrupted", "session_id", c.id, "flushed", flushed)
		}

		if msg.Audio != "" {
			samples := audio.Decode(msg.Audio, 1)
			if len(samples) > 0 {
				sched.Schedule(samples)
				if m := c.cfg.Metrics; m != nil {
					m.PlaybackScheduled.Add(ctx, 1)
				}
			}
		}

		if msg.InputText != "" || msg.OutputText != "" || msg.TurnComplete {
			c.mu.Lock()
			if msg.InputText != "" {
				assembler.AddFragment(transcript.RoleUser, msg.InputText)
			}
			if msg.OutputText != "" {
				assembler.AddFragment(transcript.RoleAgent, msg.OutputText)
			}
			if msg.TurnComplete {
				assembler.TurnComplete()
			}
			c.mu.Unlock()
			c.deliverPending()
		}

		for _, call := range msg.ToolCalls {
			guide.HandleCall(call)
			if m := c.cfg.Metrics; m != nil {
				m.ToolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "handled")))
			}
		}
	}
}

// recordMessage is the assembler's emit callback. The assembler only runs
// with c.mu held (receive pump and teardown both lock), so nothing here may
// call out: emitted messages queue up and deliverPending hands them to the
// application once the lock is released.
func (c *Controller) recordMessage(m transcript.Message) {
	c.messages = append(c.messages, m)
	c.pending = append(c.pending, m)
}

// deliverPending drains the queue filled by recordMessage and runs the
// transcript callback and metrics outside the lock, so the callback is free
// to call back into the Controller (State, Transcript, SetMuted).
func (c *Controller) deliverPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, m := range pending {
		if met := c.cfg.Metrics; met != nil {
			met.TranscriptMessages.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("role", string(m.Role))))
		}
		if c.cfg.OnTranscript != nil {
			c.cfg.OnTranscript(m)
		}
	}
}

// onSpeaking is the scheduler's speaking-flag callback. Speaking is an
// observational overlay on the open state: it never gates capture beyond the
// half-duplex heuristic inside the gate.
func (c *Controller) onSpeaking(speaking bool) {
	c.mu.Lock()
	var next State
	switch {
	case speaking && c.state == StateListening:
		next = StateSpeaking
	case !speaking && c.state == StateSpeaking:
		next = StateListening
	default:
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()
	c.notify(next, "")
}

// Stop performs a user-initiated close: it marks the stop explicit, closes
// the transport and the input stream (unblocking both pumps), and waits for
// teardown to finish. Stop is idempotent — stopping an already-stopped or
// never-started session is a no-op, not an error.
func (c *Controller) Stop() error {
	c.mu.Lock()
	c.explicit = true
	handle := c.handle
	input := c.input
	c.mu.Unlock()

	if handle == nil {
		return nil
	}

	c.stopOnce.Do(func() {
		_ = handle.Close()
		_ = input.Close()
	})
	<-c.done
	return nil
}

// Done is closed once the session has fully torn down.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) outputStream() audio.OutputStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// setState transitions under the lock, then notifies.
func (c *Controller) setState(s State, cause string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(s, cause)
}

func (c *Controller) notify(s State, cause string) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s, cause)
	}
}
