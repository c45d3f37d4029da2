// Package mock provides in-memory implementations of the audio device
// interfaces for tests: a scripted input stream fed by the test, and an
// output stream with a manually advanced clock so playback timing can be
// asserted deterministically.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/sotto-voice/sotto/pkg/audio"
)

// Compile-time assertions that the mocks satisfy the audio interfaces.
var (
	_ audio.Device         = (*Device)(nil)
	_ audio.InputStream    = (*InputStream)(nil)
	_ audio.OutputStream   = (*OutputStream)(nil)
	_ audio.PlaybackHandle = (*Handle)(nil)
)

// Device is a mock audio.Device enforcing the exclusive-ownership policy:
// opening a stream that is already held returns [audio.ErrDeviceBusy].
type Device struct {
	mu      sync.Mutex
	inBusy  bool
	outBusy bool

	// LastInputConfig records the config passed to the most recent OpenInput,
	// so tests can assert on echo-cancellation flags and tick duration.
	LastInputConfig audio.InputConfig

	lastInput  *InputStream
	lastOutput *OutputStream
}

// NewDevice creates a mock device with both streams free.
func NewDevice() *Device {
	return &Device{}
}

// OpenInput acquires the mock microphone.
func (d *Device) OpenInput(_ context.Context, cfg audio.InputConfig) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inBusy {
		return nil, audio.ErrDeviceBusy
	}
	d.inBusy = true
	d.LastInputConfig = cfg
	d.lastInput = &InputStream{dev: d, frames: make(chan audio.Frame, 64)}
	return d.lastInput, nil
}

// OpenOutput acquires the mock playback sink.
func (d *Device) OpenOutput(_ context.Context, cfg audio.OutputConfig) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outBusy {
		return nil, audio.ErrDeviceBusy
	}
	d.outBusy = true
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.PlaybackRate
	}
	d.lastOutput = &OutputStream{dev: d, rate: rate}
	return d.lastOutput, nil
}

// LastInput returns the stream created by the most recent OpenInput, so tests
// can feed frames to a consumer that opened the device itself.
func (d *Device) LastInput() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastInput
}

// LastOutput returns the stream created by the most recent OpenOutput.
func (d *Device) LastOutput() *OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastOutput
}

// InputBusy reports whether the microphone is currently held.
func (d *Device) InputBusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inBusy
}

// OutputBusy reports whether the playback sink is currently held.
func (d *Device) OutputBusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outBusy
}

// InputStream is a scripted microphone stream. Tests feed frames with [Push].
type InputStream struct {
	dev    *Device
	frames chan audio.Frame

	mu     sync.Mutex
	closed bool
}

// Push delivers one captured frame to the consumer. Push after Close is a
// no-op, mirroring a real device that stops ticking once released.
func (s *InputStream) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- f
}

// Frames implements audio.InputStream.
func (s *InputStream) Frames() <-chan audio.Frame { return s.frames }

// Close releases the mock microphone and closes the frame channel. Idempotent.
func (s *InputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	s.dev.mu.Lock()
	s.dev.inBusy = false
	s.dev.mu.Unlock()
	return nil
}

// Scheduled records one PlayAt call for assertions.
type Scheduled struct {
	Start   time.Duration
	End     time.Duration
	Samples int
}

// OutputStream is a playback sink whose clock only moves when the test calls
// [OutputStream.Advance]. Handles complete when the clock passes their end.
type OutputStream struct {
	dev  *Device
	rate int

	mu        sync.Mutex
	now       time.Duration
	handles   []*Handle
	scheduled []Scheduled
	closed    bool
}

// Now implements audio.OutputStream.
func (o *OutputStream) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// PlayAt implements audio.OutputStream.
func (o *OutputStream) PlayAt(samples []float32, start time.Duration) (audio.PlaybackHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	end := start + time.Duration(len(samples))*time.Second/time.Duration(o.rate)
	h := &Handle{done: make(chan struct{}), end: end}
	o.handles = append(o.handles, h)
	o.scheduled = append(o.scheduled, Scheduled{Start: start, End: end, Samples: len(samples)})
	return h, nil
}

// Advance moves the device clock forward and completes every handle whose end
// time has been reached.
func (o *OutputStream) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	var finished []*Handle
	remaining := o.handles[:0]
	for _, h := range o.handles {
		if h.end <= o.now {
			finished = append(finished, h)
		} else {
			remaining = append(remaining, h)
		}
	}
	o.handles = remaining
	o.mu.Unlock()

	for _, h := range finished {
		h.finish()
	}
}

// ScheduledCalls returns a copy of all PlayAt calls seen so far.
func (o *OutputStream) ScheduledCalls() []Scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Scheduled, len(o.scheduled))
	copy(out, o.scheduled)
	return out
}

// Close releases the mock playback sink. Idempotent.
func (o *OutputStream) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	handles := o.handles
	o.handles = nil
	o.mu.Unlock()

	for _, h := range handles {
		h.finish()
	}

	o.dev.mu.Lock()
	o.dev.outBusy = false
	o.dev.mu.Unlock()
	return nil
}

// Handle is a mock playback handle.
type Handle struct {
	end time.Duration

	once    sync.Once
	done    chan struct{}
	stopped bool
	mu      sync.Mutex
}

// Stop implements audio.PlaybackHandle.
func (h *Handle) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.finish()
}

// Stopped reports whether Stop was called before natural completion.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Done implements audio.PlaybackHandle.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) finish() {
	h.once.Do(func() { close(h.done) })
}
