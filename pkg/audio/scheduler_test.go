package audio_test

import (
	"context"
	"testing"
	"time"

	"github.com/sotto-voice/sotto/pkg/audio"
	"github.com/sotto-voice/sotto/pkg/audio/mock"
)

// newOutput acquires a mock output stream at the playback rate.
func newOutput(t *testing.T) *mock.OutputStream {
	t.Helper()
	out, err := mock.NewDevice().OpenOutput(context.Background(), audio.OutputConfig{SampleRate: audio.PlaybackRate})
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	t.Cleanup(func() { out.Close() })
	return out.(*mock.OutputStream)
}

// second returns a buffer of n seconds of silence at the playback rate.
func seconds(n int) []float32 {
	return make([]float32, n*audio.PlaybackRate)
}

func TestSchedulerBackToBack(t *testing.T) {
	t.Parallel()

	out := newOutput(t)
	s := audio.NewScheduler(out, audio.PlaybackRate, nil)

	s.Schedule(seconds(1))
	s.Schedule(seconds(1))
	s.Schedule(seconds(2))

	calls := out.ScheduledCalls()
	if len(calls) != 3 {
		t.Fatalf("scheduled %d buffers, want 3", len(calls))
	}
	wantStarts := []time.Duration{0, 1 * time.Second, 2 * time.Second}
	for i, c := range calls {
		if c.Start != wantStarts[i] {
			t.Errorf("buffer %d starts at %v, want %v", i, c.Start, wantStarts[i])
		}
		if i > 0 && c.Start != calls[i-1].End {
			t.Errorf("buffer %d start %v does not abut previous end %v", i, c.Start, calls[i-1].End)
		}
	}
	if got, want := s.NextStart(), 4*time.Second; got != want {
		t.Errorf("NextStart = %v, want %v", got, want)
	}
}

func TestSchedulerLateDeliveryStartsAtClock(t *testing.T) {
	t.Parallel()

	out := newOutput(t)
	s := audio.NewScheduler(out, audio.PlaybackRate, nil)

	// The queue is empty and the device clock has moved on; a stale cursor
	// must not schedule into the past.
	out.Advance(500 * time.Millisecond)
	s.Schedule(seconds(1))

	calls := out.ScheduledCalls()
	if len(calls) != 1 {
		t.Fatalf("scheduled %d buffers, want 1", len(calls))
	}
	if calls[0].Start != 500*time.Millisecond {
		t.Errorf("start = %v, want 500ms (device clock)", calls[0].Start)
	}
}

func TestSchedulerInterrupt(t *testing.T) {
	t.Parallel()

	out := newOutput(t)
	s := audio.NewScheduler(out, audio.PlaybackRate, nil)

	s.Schedule(seconds(1))
	s.Schedule(seconds(1))

	if flushed := s.Interrupt(); flushed != 2 {
		t.Fatalf("Interrupt flushed %d units, want 2", flushed)
	}
	if got := s.NextStart(); got != 0 {
		t.Errorf("cursor after interrupt = %v, want 0", got)
	}
	if s.Speaking() {
		t.Error("still speaking after interrupt")
	}

	// Nothing left to flush.
	if flushed := s.Interrupt(); flushed != 0 {
		t.Errorf("second Interrupt flushed %d units, want 0", flushed)
	}
}

func TestSchedulerPostInterruptStartsAtClock(t *testing.T) {
	t.Parallel()

	out := newOutput(t)
	s := audio.NewScheduler(out, audio.PlaybackRate, nil)

	s.Schedule(seconds(2))
	out.Advance(1 * time.Second)
	s.Interrupt()

	// The reset cursor must not pull the next buffer behind the clock.
	s.Schedule(seconds(1))
	calls := out.ScheduledCalls()
	last := calls[len(calls)-1]
	if last.Start < out.Now() {
		t.Errorf("post-interrupt buffer starts at %v, before device clock %v", last.Start, out.Now())
	}
}

func TestSchedulerSpeakingTransitions(t *testing.T) {
	t.Parallel()

	out := newOutput(t)
	transitions := make(chan bool, 8)
	s := audio.NewScheduler(out, audio.PlaybackRate, func(v bool) { transitions <- v })

	s.Schedule(seconds(1))
	if got := waitBool(t, transitions); !got {
		t.Fatalf("first transition = %v, want true", got)
	}
	if !s.Speaking() {
		t.Fatal("Speaking() = false while audio queued")
	}

	// Finishing the buffer with the clock caught up ends speaking.
	out.Advance(1 * time.Second)
	if got := waitBool(t, transitions); got {
		t.Fatalf("second transition = %v, want false", got)
	}
	if s.Speaking() {
		t.Error("Speaking() = true after playback drained")
	}
}

func waitBool(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for speaking transition")
		return false
	}
}
