package wavio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sotto-voice/sotto/pkg/audio"
)

func writeInputWAV(t *testing.T, dir string, samples []float32, rate int) string {
	t.Helper()
	data, err := EncodeWAV(samples, rate)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	path := filepath.Join(dir, "input.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write input wav: %v", err)
	}
	return path
}

func TestDeviceInputFraming(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// 4 frames of 10 ms at 16 kHz: 160 samples each.
	in := writeInputWAV(t, dir, make([]float32, 640), 16000)
	dev := NewDevice(in, "")

	stream, err := dev.OpenInput(context.Background(), audio.InputConfig{
		SampleRate:    16000,
		FrameDuration: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer stream.Close()

	var frames []audio.Frame
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-stream.Frames():
			if !ok {
				if len(frames) != 4 {
					t.Fatalf("got %d frames, want 4", len(frames))
				}
				for i, f := range frames {
					if len(f.Samples) != 160 {
						t.Errorf("frame %d has %d samples, want 160", i, len(f.Samples))
					}
				}
				return
			}
			frames = append(frames, f)
		case <-deadline:
			t.Fatalf("timed out after %d frames", len(frames))
		}
	}
}

func TestDeviceInputBusy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeInputWAV(t, dir, make([]float32, 160), 16000)
	dev := NewDevice(in, "")

	first, err := dev.OpenInput(context.Background(), audio.InputConfig{FrameDuration: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("first OpenInput: %v", err)
	}

	if _, err := dev.OpenInput(context.Background(), audio.InputConfig{}); !errors.Is(err, audio.ErrDeviceBusy) {
		t.Fatalf("second OpenInput error = %v, want ErrDeviceBusy", err)
	}

	// Releasing frees the device for the next session.
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	again, err := dev.OpenInput(context.Background(), audio.InputConfig{FrameDuration: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenInput after release: %v", err)
	}
	again.Close()
}

func TestDeviceOutputRendersWAV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.wav")
	dev := NewDevice("", outPath)

	out, err := dev.OpenOutput(context.Background(), audio.OutputConfig{SampleRate: 24000})
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}

	samples := make([]float32, 240)
	for i := range samples {
		samples[i] = 0.5
	}
	h, err := out.PlayAt(samples, 0)
	if err != nil {
		t.Fatalf("PlayAt: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never completed")
	}

	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read rendered wav: %v", err)
	}
	rendered, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 24000 {
		t.Errorf("rendered rate = %d, want 24000", rate)
	}
	if len(rendered) != len(samples) {
		t.Fatalf("rendered %d samples, want %d", len(rendered), len(samples))
	}
}

func TestDeviceOutputCloseCompletesPlayback(t *testing.T) {
	t.Parallel()

	dev := NewDevice("", "")
	out, err := dev.OpenOutput(context.Background(), audio.OutputConfig{SampleRate: 24000})
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}

	// Ten seconds of audio; the stream closes long before the timer fires.
	h, err := out.PlayAt(make([]float32, 24000*10), 0)
	if err != nil {
		t.Fatalf("PlayAt: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle still pending after Close")
	}
}

func TestDeviceOutputBusy(t *testing.T) {
	t.Parallel()

	dev := NewDevice("", "")
	out, err := dev.OpenOutput(context.Background(), audio.OutputConfig{})
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if _, err := dev.OpenOutput(context.Background(), audio.OutputConfig{}); !errors.Is(err, audio.ErrDeviceBusy) {
		t.Fatalf("second OpenOutput error = %v, want ErrDeviceBusy", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := dev.OpenOutput(context.Background(), audio.OutputConfig{}); err != nil {
		t.Fatalf("OpenOutput after release: %v", err)
	}
}
