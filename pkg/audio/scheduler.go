package audio

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler renders received audio buffers back-to-back without gaps or
// overlaps on an [OutputStream], and supports immediate full-stop when the
// remote agent reports the user interrupted it.
//
// The scheduler owns two pieces of mutable state: the next-available start
// offset on the device clock and the set of in-flight playback units. Both
// are updated atomically per triggering event under a single mutex, so the
// three interleaving activities of a session (capture tick, inbound stream,
// playback completions) observe consistent values.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	out  OutputStream
	rate int

	mu       sync.Mutex
	next     time.Duration
	active   map[*unit]struct{}
	speaking bool

	// onSpeaking, when set, is invoked outside the lock after every
	// speaking-flag transition. Must not block.
	onSpeaking func(bool)
}

type unit struct {
	handle PlaybackHandle
	end    time.Duration
}

// NewScheduler creates a Scheduler that plays buffers on out at the given
// sample rate. onSpeaking may be nil.
func NewScheduler(out OutputStream, rate int, onSpeaking func(bool)) *Scheduler {
	if rate <= 0 {
		rate = PlaybackRate
	}
	return &Scheduler{
		out:        out,
		rate:       rate,
		active:     make(map[*unit]struct{}),
		onSpeaking: onSpeaking,
	}
}

// Schedule queues samples to begin at the later of the current cursor and the
// device clock, then advances the cursor by the buffer's duration. Buffers
// play in arrival order because the cursor is monotonically non-decreasing,
// and never start before the device clock, so late delivery cannot cause an
// audible stutter.
//
// Scheduling failures are absorbed: the buffer is dropped, logged, and the
// cursor left unchanged. Nothing at this level is surfaced to the user.
func (s *Scheduler) Schedule(samples []float32) {
	if len(samples) == 0 {
		return
	}
	dur := time.Duration(len(samples)) * time.Second / time.Duration(s.rate)

	s.mu.Lock()
	start := s.next
	if now := s.out.Now(); now > start {
		start = now
	}
	h, err := s.out.PlayAt(samples, start)
	if err != nil {
		s.mu.Unlock()
		slog.Warn("playback scheduling failed, dropping buffer", "err", err, "samples", len(samples))
		return
	}
	u := &unit{handle: h, end: start + dur}
	s.next = start + dur
	s.active[u] = struct{}{}
	transition := !s.speaking
	s.speaking = true
	s.mu.Unlock()

	if transition && s.onSpeaking != nil {
		s.onSpeaking(true)
	}

	go s.watch(u)
}

// watch waits for u to finish and retires it from the active set. When the
// set drains and the device clock has reached the cursor, the agent is no
// longer audibly speaking.
func (s *Scheduler) watch(u *unit) {
	<-u.handle.Done()

	s.mu.Lock()
	delete(s.active, u)
	transition := s.speaking && len(s.active) == 0 && s.out.Now() >= s.next
	if transition {
		s.speaking = false
	}
	s.mu.Unlock()

	if transition && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// Interrupt stops every in-flight unit, clears the active set, and resets the
// cursor to zero so the next fragment starts fresh rather than queued behind
// stale scheduling. This is the only path that drops already-scheduled audio;
// it exists to preserve conversational turn-taking when the remote agent
// reports the user spoke over it.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	stopped := make([]*unit, 0, len(s.active))
	for u := range s.active {
		stopped = append(stopped, u)
	}
	s.active = make(map[*unit]struct{})
	s.next = 0
	transition := s.speaking
	s.speaking = false
	s.mu.Unlock()

	for _, u := range stopped {
		u.handle.Stop()
	}
	if transition && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
	return len(stopped)
}

// NextStart returns the current cursor: the device-clock offset at which the
// next buffer would begin. The capture gate compares this against the device
// clock for half-duplex backpressure.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Speaking reports whether agent audio is currently playing or queued.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}
