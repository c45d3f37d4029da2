package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sotto-voice/sotto/internal/config"
	"github.com/sotto-voice/sotto/internal/guidance"
	"github.com/sotto-voice/sotto/internal/transcript"
	"github.com/sotto-voice/sotto/pkg/audio"
	audiomock "github.com/sotto-voice/sotto/pkg/audio/mock"
	"github.com/sotto-voice/sotto/pkg/provider/live"
	providermock "github.com/sotto-voice/sotto/pkg/provider/live/mock"
)

type fixture struct {
	dev      *audiomock.Device
	provider *providermock.Provider
	ctrl     *Controller
}

type reviewRecorder struct {
	got chan []transcript.Message
}

func (r *reviewRecorder) Review(_ context.Context, msgs []transcript.Message) {
	r.got <- msgs
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		dev:      audiomock.NewDevice(),
		provider: &providermock.Provider{},
	}
	cfg := Config{
		Mode:       config.ModeConversational,
		Provider:   f.provider,
		Device:     f.dev,
		HalfDuplex: false,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.ctrl = New(cfg)
	return f
}

func start(t *testing.T, f *fixture) {
	t.Helper()
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { f.ctrl.Stop() })
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never tore down")
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", desc)
}

func captureFrame() audio.Frame {
	return audio.Frame{Samples: make([]float32, 4096), SampleRate: audio.CaptureRate}
}

func TestStartTransmitsCapturedFrames(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	if got := f.ctrl.State(); got != StateListening {
		t.Fatalf("state after Start = %s, want listening", got)
	}

	f.dev.LastInput().Push(captureFrame())
	f.dev.LastInput().Push(captureFrame())
	sess := f.provider.Last()
	eventually(t, func() bool { return len(sess.SentFrames()) == 2 }, "2 frames transmitted")
}

func TestStartFailsFastWhenMicBusy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	// Another session holds the microphone.
	if _, err := f.dev.OpenInput(context.Background(), audio.InputConfig{}); err != nil {
		t.Fatalf("pre-acquire input: %v", err)
	}

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, audio.ErrDeviceBusy) {
		t.Fatalf("Start error = %v, want ErrDeviceBusy", err)
	}
	if got := f.ctrl.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	// Device acquisition failed before any remote connection was attempted.
	if f.provider.Last() != nil {
		t.Error("transport connect attempted despite mic denial")
	}
}

func TestConnectFailureReleasesDevices(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.Provider.(*providermock.Provider).ConnectErr = errors.New("endpoint unreachable")
	})

	if err := f.ctrl.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with failing transport")
	}
	if got := f.ctrl.State(); got != StateDropped {
		t.Errorf("state = %s, want dropped", got)
	}
	if f.dev.InputBusy() || f.dev.OutputBusy() {
		t.Error("devices still held after connect failure")
	}
}

func TestExplicitStop(t *testing.T) {
	t.Parallel()

	rev := &reviewRecorder{got: make(chan []transcript.Message, 1)}
	f := newFixture(t, func(c *Config) { c.Reviewer = rev })
	start(t, f)

	sess := f.provider.Last()
	sess.Deliver(live.Message{InputText: "hello "})
	sess.Deliver(live.Message{InputText: "there"})
	sess.Deliver(live.Message{OutputText: "hi!", TurnComplete: true})

	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, f.ctrl)

	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if !sess.Closed() {
		t.Error("transport session not closed")
	}
	if f.dev.InputBusy() || f.dev.OutputBusy() {
		t.Error("devices still held after stop")
	}

	msgs := f.ctrl.Transcript()
	if len(msgs) != 2 {
		t.Fatalf("transcript = %+v, want 2 messages", msgs)
	}
	if msgs[0].Role != transcript.RoleUser || msgs[0].Text != "hello there" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != transcript.RoleAgent || msgs[1].Text != "hi!" {
		t.Errorf("second message = %+v", msgs[1])
	}

	// Explicit conversational stop hands the transcript to the reviewer.
	select {
	case reviewed := <-rev.got:
		if len(reviewed) != 2 {
			t.Errorf("reviewer got %d messages, want 2", len(reviewed))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reviewer never invoked")
	}
}

func TestTranscriptCallbackReentersController(t *testing.T) {
	t.Parallel()

	type observed struct {
		msg   transcript.Message
		state State
		count int
	}
	got := make(chan observed, 1)
	var f *fixture
	f = newFixture(t, func(c *Config) {
		c.OnTranscript = func(m transcript.Message) {
			// The callback is allowed to call back into the controller.
			got <- observed{
				msg:   m,
				state: f.ctrl.State(),
				count: len(f.ctrl.Transcript()),
			}
		}
	})
	start(t, f)

	sess := f.provider.Last()
	sess.Deliver(live.Message{InputText: "hello", TurnComplete: true})

	select {
	case o := <-got:
		if o.msg.Text != "hello" {
			t.Errorf("message text = %q, want %q", o.msg.Text, "hello")
		}
		if o.state.Terminal() {
			t.Errorf("state inside callback = %s", o.state)
		}
		if o.count != 1 {
			t.Errorf("transcript length inside callback = %d, want 1", o.count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript callback never completed")
	}
}

// gatedProvider holds Connect open until the test releases it, exposing the
// window between Start and the transport handle being stored.
type gatedProvider struct {
	inner   *providermock.Provider
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	close(p.entered)
	<-p.release
	return p.inner.Connect(ctx, cfg)
}

func TestStopDuringConnectAbortsSession(t *testing.T) {
	t.Parallel()

	gated := &gatedProvider{
		inner:   &providermock.Provider{},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, func(c *Config) { c.Provider = gated })

	startErr := make(chan error, 1)
	go func() { startErr <- f.ctrl.Start(context.Background()) }()
	<-gated.entered

	// The stop lands while the connect is still in flight.
	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(gated.release)

	if err := <-startErr; err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, f.ctrl)

	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if !gated.inner.Last().Closed() {
		t.Error("transport session left open after stop")
	}
	if f.dev.InputBusy() || f.dev.OutputBusy() {
		t.Error("devices still held after stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestStopBeforeStartIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("Stop on idle controller: %v", err)
	}
	if got := f.ctrl.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestUnexpectedDropPreservesTranscript(t *testing.T) {
	t.Parallel()

	rev := &reviewRecorder{got: make(chan []transcript.Message, 1)}
	f := newFixture(t, func(c *Config) { c.Reviewer = rev })
	start(t, f)

	sess := f.provider.Last()
	sess.Deliver(live.Message{InputText: "we were talking"})
	sess.Deliver(live.Message{TurnComplete: true})
	sess.Fail(errors.New("network reset"))
	waitDone(t, f.ctrl)

	if got := f.ctrl.State(); got != StateDropped {
		t.Errorf("state = %s, want dropped", got)
	}
	msgs := f.ctrl.Transcript()
	if len(msgs) != 1 || msgs[0].Text != "we were talking" {
		t.Errorf("transcript after drop = %+v", msgs)
	}
	if f.dev.InputBusy() || f.dev.OutputBusy() {
		t.Error("devices still held after drop")
	}

	// A drop is not an explicit stop: no reviewer hand-off.
	select {
	case <-rev.got:
		t.Fatal("reviewer invoked on unexpected drop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropFlushesTrailingFragments(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	sess := f.provider.Last()
	// No turn-complete before the connection dies mid-utterance.
	sess.Deliver(live.Message{InputText: "cut off mid sen"})
	sess.Fail(errors.New("gone"))
	waitDone(t, f.ctrl)

	msgs := f.ctrl.Transcript()
	if len(msgs) != 1 || msgs[0].Text != "cut off mid sen" {
		t.Errorf("trailing fragment lost: %+v", msgs)
	}
}

func TestMuteSuppressesTransmission(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)
	sess := f.provider.Last()

	f.ctrl.SetMuted(true)
	if !f.ctrl.Muted() {
		t.Fatal("Muted() = false after SetMuted(true)")
	}
	for range 3 {
		f.dev.LastInput().Push(captureFrame())
	}
	// Give the capture pump time to (not) transmit.
	time.Sleep(50 * time.Millisecond)
	if got := len(sess.SentFrames()); got != 0 {
		t.Fatalf("%d frames transmitted while muted, want 0", got)
	}

	// Unmuting resumes on the next tick.
	f.ctrl.SetMuted(false)
	f.dev.LastInput().Push(captureFrame())
	eventually(t, func() bool { return len(sess.SentFrames()) == 1 }, "frame after unmute")
}

func TestMuteBeforeStartIsApplied(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.ctrl.SetMuted(true)
	start(t, f)

	f.dev.LastInput().Push(captureFrame())
	time.Sleep(50 * time.Millisecond)
	if got := len(f.provider.Last().SentFrames()); got != 0 {
		t.Fatalf("%d frames transmitted, want 0 (muted before start)", got)
	}
}

func TestInterruptionFlushesAndResetsCursor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)
	sess := f.provider.Last()
	out := f.dev.LastOutput()

	oneSecond := audio.Encode(make([]float32, audio.PlaybackRate), audio.PlaybackRate).Data
	sess.Deliver(live.Message{Audio: oneSecond})
	eventually(t, func() bool { return len(out.ScheduledCalls()) == 1 }, "first buffer scheduled")

	// 400 ms into playback the user interrupts; the same message carries the
	// first post-interruption audio, which must start fresh at the clock, not
	// behind the stale one-second cursor.
	out.Advance(400 * time.Millisecond)
	sess.Deliver(live.Message{Interrupted: true, Audio: oneSecond})
	eventually(t, func() bool { return len(out.ScheduledCalls()) == 2 }, "post-interrupt buffer scheduled")

	calls := out.ScheduledCalls()
	if calls[0].Start != 0 {
		t.Errorf("first buffer start = %v, want 0", calls[0].Start)
	}
	if calls[1].Start != 400*time.Millisecond {
		t.Errorf("post-interrupt start = %v, want 400ms (device clock)", calls[1].Start)
	}
}

func TestMonitorModeToolCalls(t *testing.T) {
	t.Parallel()

	signals := make(chan guidance.Signal, 1)
	f := newFixture(t, func(c *Config) {
		c.Mode = config.ModeSilentMonitor
		c.OnSignal = func(s guidance.Signal) { signals <- s }
	})
	start(t, f)
	sess := f.provider.Last()

	sess.Deliver(live.Message{ToolCalls: []live.ToolCall{{
		ID:   "c1",
		Name: guidance.ToolName,
		Args: map[string]any{"level": "caution", "reason": "running long"},
	}}})

	select {
	case sig := <-signals:
		if sig.Level != guidance.LevelCaution || sig.Reason != "running long" {
			t.Errorf("signal = %+v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal never dispatched")
	}

	eventually(t, func() bool { return len(sess.ToolResponses()) == 1 }, "tool call acked")
	ack := sess.ToolResponses()[0]
	if ack.ID != "c1" || ack.Name != guidance.ToolName {
		t.Errorf("ack correlation = %+v", ack)
	}
}

func TestMonitorModeBatchesTurns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.Mode = config.ModeSilentMonitor })
	start(t, f)
	sess := f.provider.Last()

	sess.Deliver(live.Message{InputText: "part one "})
	sess.Deliver(live.Message{InputText: "part two"})
	// Nothing closes until the turn boundary.
	time.Sleep(50 * time.Millisecond)
	if msgs := f.ctrl.Transcript(); len(msgs) != 0 {
		t.Fatalf("turn-batch mode emitted mid-turn: %+v", msgs)
	}

	sess.Deliver(live.Message{TurnComplete: true})
	eventually(t, func() bool { return len(f.ctrl.Transcript()) == 1 }, "turn flushed")
	if got := f.ctrl.Transcript()[0].Text; got != "part one part two" {
		t.Errorf("batched text = %q", got)
	}
}

func TestSpeakingStateTransitions(t *testing.T) {
	t.Parallel()

	states := make(chan State, 16)
	f := newFixture(t, func(c *Config) {
		c.OnStatus = func(s State, _ string) { states <- s }
	})
	start(t, f)
	sess := f.provider.Last()
	out := f.dev.LastOutput()

	oneSecond := audio.Encode(make([]float32, audio.PlaybackRate), audio.PlaybackRate).Data
	sess.Deliver(live.Message{Audio: oneSecond})
	waitForState(t, states, StateSpeaking)

	out.Advance(1 * time.Second)
	waitForState(t, states, StateListening)
}

func TestStartTwiceFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)
	if err := f.ctrl.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func waitForState(t *testing.T, ch <-chan State, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s never reached", want)
		}
	}
}
