// Package audio defines the frame model, the PCM wire codec, and the device
// and scheduling primitives of the duplex voice pipeline.
//
// The device abstractions are:
//
//   - [Device] — acquires input and output streams on the local audio hardware.
//   - [InputStream] — a microphone capture stream delivering one [Frame] per tick.
//   - [OutputStream] — a playback sink with a monotonic device clock against
//     which buffers are scheduled.
//
// Implementations are provided by adapter packages (audio/wavio for
// file-backed devices, audio/mock for tests). The interfaces are intentionally
// narrow so the session controller stays decoupled from device details.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement these interfaces.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceBusy is returned by [Device.OpenInput] and [Device.OpenOutput]
// when a previously acquired stream has not been released. The microphone and
// output context are exclusively owned by one session at a time; a new
// connect attempt must fail fast rather than share or steal the device.
var ErrDeviceBusy = errors.New("audio: device busy")

// InputConfig configures microphone acquisition.
type InputConfig struct {
	// SampleRate in Hz. Zero means [CaptureRate].
	SampleRate int

	// FrameDuration is the capture tick: the duration of each delivered
	// frame. Zero means [DefaultFrameDuration].
	FrameDuration time.Duration

	// EchoCancellation, NoiseSuppression and AutoGain request the
	// corresponding input processing from the device. All three are required
	// in practice to prevent feedback loops — in particular for users whose
	// screen reader output would otherwise be captured and re-transmitted.
	// Use [DefaultInputConfig] to get all three enabled.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// DefaultFrameDuration is the capture tick used when InputConfig does not
// override it: 256 ms, i.e. 4096 samples at 16 kHz.
const DefaultFrameDuration = 256 * time.Millisecond

// DefaultInputConfig returns the standard microphone configuration:
// 16 kHz mono with echo cancellation, noise suppression and auto gain.
func DefaultInputConfig() InputConfig {
	return InputConfig{
		SampleRate:       CaptureRate,
		FrameDuration:    DefaultFrameDuration,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGain:         true,
	}
}

// OutputConfig configures the playback stream.
type OutputConfig struct {
	// SampleRate in Hz. Zero means [PlaybackRate].
	SampleRate int
}

// InputStream is an active microphone capture stream.
//
// Implementations must be safe for concurrent use.
type InputStream interface {
	// Frames returns the channel on which captured frames arrive, one per
	// capture tick. The channel is closed when the stream ends or is closed.
	Frames() <-chan Frame

	// Close releases the microphone. Idempotent; subsequent calls return nil.
	Close() error
}

// PlaybackHandle refers to one scheduled-but-not-yet-finished output buffer.
type PlaybackHandle interface {
	// Stop cancels playback of this buffer immediately. Stopping an already
	// finished buffer is a no-op.
	Stop()

	// Done is closed when the buffer has finished playing or was stopped.
	Done() <-chan struct{}
}

// OutputStream is an active playback sink with its own monotonic clock.
//
// Implementations must be safe for concurrent use.
type OutputStream interface {
	// Now returns the current value of the output device clock. The clock
	// starts at zero when the stream is opened and never goes backwards.
	Now() time.Duration

	// PlayAt schedules samples (mono, at the stream's sample rate) to begin
	// playing at the given device-clock offset. Scheduling in the past is an
	// implementation-defined best effort; callers should clamp start to Now.
	PlayAt(samples []float32, start time.Duration) (PlaybackHandle, error)

	// Close stops all playback and releases the output device. Idempotent.
	Close() error
}

// Device acquires exclusive input and output streams on local audio hardware.
//
// Implementations must be safe for concurrent use and must return
// [ErrDeviceBusy] when asked to open a stream that is already held.
type Device interface {
	// OpenInput acquires the microphone. The ctx governs the acquisition
	// attempt only; the returned stream stays open until Close is called.
	OpenInput(ctx context.Context, cfg InputConfig) (InputStream, error)

	// OpenOutput acquires the playback sink. Lifetime semantics as OpenInput.
	OpenOutput(ctx context.Context, cfg OutputConfig) (OutputStream, error)
}
