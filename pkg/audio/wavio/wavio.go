// Package wavio implements the audio device interfaces on top of WAV files:
// the input stream replays a recorded WAV at the capture tick cadence, and
// the output stream renders scheduled playback into a WAV written on Close.
//
// This adapter lets the engine run end-to-end without native audio bindings —
// offline processing of a recorded conversation, demos, and integration
// checks against a live session all use the same codepaths as a real device.
package wavio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sotto-voice/sotto/pkg/audio"
)

// Compile-time assertions that the adapter satisfies the audio interfaces.
var (
	_ audio.Device       = (*Device)(nil)
	_ audio.InputStream  = (*inputStream)(nil)
	_ audio.OutputStream = (*outputStream)(nil)
)

// Device is a WAV-file-backed audio.Device. It enforces the same
// exclusive-ownership policy as a hardware device: one input and one output
// stream at a time, [audio.ErrDeviceBusy] otherwise.
type Device struct {
	inputPath  string
	outputPath string

	mu      sync.Mutex
	inBusy  bool
	outBusy bool
}

// NewDevice creates a device that reads capture audio from inputPath and
// writes rendered playback to outputPath.
func NewDevice(inputPath, outputPath string) *Device {
	return &Device{inputPath: inputPath, outputPath: outputPath}
}

// OpenInput loads the input WAV, resamples it to the requested rate, and
// starts a goroutine that emits one frame per capture tick until the file is
// exhausted.
func (d *Device) OpenInput(_ context.Context, cfg audio.InputConfig) (audio.InputStream, error) {
	d.mu.Lock()
	if d.inBusy {
		d.mu.Unlock()
		return nil, audio.ErrDeviceBusy
	}
	d.inBusy = true
	d.mu.Unlock()

	release := func() {
		d.mu.Lock()
		d.inBusy = false
		d.mu.Unlock()
	}

	data, err := os.ReadFile(d.inputPath)
	if err != nil {
		release()
		return nil, fmt.Errorf("wavio: read input: %w", err)
	}
	samples, fileRate, err := DecodeWAV(data)
	if err != nil {
		release()
		return nil, err
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.CaptureRate
	}
	tick := cfg.FrameDuration
	if tick <= 0 {
		tick = audio.DefaultFrameDuration
	}
	samples = resampleMono(samples, fileRate, rate)

	s := &inputStream{
		frames:  make(chan audio.Frame, 4),
		done:    make(chan struct{}),
		release: release,
	}
	go s.run(samples, rate, tick)
	return s, nil
}

// OpenOutput opens the rendering sink. The device clock is wall time since
// open; the rendered file is written when the stream is closed.
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
	return &outputStream{
		dev:    d,
		path:   d.outputPath,
		rate:   rate,
		opened: time.Now(),
	}, nil
}

// ── input ─────────────────────────────────────────────────────────────────────

type inputStream struct {
	frames  chan audio.Frame
	done    chan struct{}
	once    sync.Once
	release func()
}

func (s *inputStream) run(samples []float32, rate int, tick time.Duration) {
	defer close(s.frames)

	frameLen := int(int64(rate) * int64(tick) / int64(time.Second))
	if frameLen <= 0 {
		return
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var offset int
	var elapsed time.Duration
	for offset < len(samples) {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		end := offset + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		f := audio.Frame{
			Samples:    samples[offset:end],
			SampleRate: rate,
			Timestamp:  elapsed,
		}
		select {
		case s.frames <- f:
		case <-s.done:
			return
		}
		offset = end
		elapsed += tick
	}
}

func (s *inputStream) Frames() <-chan audio.Frame { return s.frames }

func (s *inputStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.release()
	})
	return nil
}

// ── output ────────────────────────────────────────────────────────────────────

type outputStream struct {
	dev    *Device
	path   string
	rate   int
	opened time.Time

	mu      sync.Mutex
	render  []float32
	handles []*handle
	closed  bool
}

func (o *outputStream) Now() time.Duration {
	return time.Since(o.opened)
}

// PlayAt mixes samples into the render buffer at the start offset. Overlaps
// are summed and clamped; the scheduler never produces them outside of
// interruption races.
func (o *outputStream) PlayAt(samples []float32, start time.Duration) (audio.PlaybackHandle, error) {
	h := &handle{done: make(chan struct{})}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("wavio: output closed")
	}

	startIdx := int(int64(o.rate) * int64(start) / int64(time.Second))
	need := startIdx + len(samples)
	if need > len(o.render) {
		o.render = append(o.render, make([]float32, need-len(o.render))...)
	}
	for i, s := range samples {
		v := o.render[startIdx+i] + s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		o.render[startIdx+i] = v
	}
	o.handles = append(o.handles, h)
	o.mu.Unlock()

	end := start + time.Duration(len(samples))*time.Second/time.Duration(o.rate)
	delay := end - o.Now()
	if delay < 0 {
		delay = 0
	}
	h.arm(delay)
	return h, nil
}

// Close renders the buffer to the output WAV and releases the device.
// Idempotent; a render failure is returned once.
func (o *outputStream) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	render := o.render
	handles := o.handles
	o.handles = nil
	o.mu.Unlock()

	// Closing the stream ends playback: any handle still pending completes
	// now, so nobody waits on Done past the life of the stream.
	for _, h := range handles {
		h.Stop()
	}

	defer func() {
		o.dev.mu.Lock()
		o.dev.outBusy = false
		o.dev.mu.Unlock()
	}()

	if o.path == "" || len(render) == 0 {
		return nil
	}
	data, err := EncodeWAV(render, o.rate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(o.path, data, 0o644); err != nil {
		return fmt.Errorf("wavio: write output: %w", err)
	}
	return nil
}

type handle struct {
	once sync.Once
	done chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// arm starts the completion timer. A handle stopped before arming (a Close
// racing a PlayAt) is already done and gets no timer.
func (h *handle) arm(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
	default:
		h.timer = time.AfterFunc(d, h.finish)
	}
}

func (h *handle) Stop() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
	h.finish()
}

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) finish() {
	h.once.Do(func() { close(h.done) })
}
