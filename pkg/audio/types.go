package audio

import "time"

// Frame is a fixed-size block of linear PCM samples flowing through the
// pipeline. Samples are floating-point in [-1, 1]; the sample rate is fixed
// per direction (16 kHz capture, 24 kHz playback). Frames are transient:
// they exist for one encode or decode cycle and are not retained.
type Frame struct {
	// Samples holds mono PCM samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for playback).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// WireBlob is the encoded wire form of a Frame: 16-bit signed little-endian
// PCM, base64-encoded, tagged with a MIME-style descriptor. Produced by
// [Encode], consumed by the transport's realtime-input operation.
type WireBlob struct {
	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the base64-encoded s16le sample bytes.
	Data string
}

// Standard sample rates for the duplex session: the remote endpoint accepts
// 16 kHz input and produces 24 kHz output.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)
