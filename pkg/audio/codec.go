package audio

import (
	"encoding/base64"
	"fmt"
)

// Encode converts floating-point PCM samples in [-1, 1] to the wire format:
// 16-bit signed little-endian, base64-encoded, tagged with a PCM MIME type.
//
// Samples are clipped to [-1, 1] before scaling. Negative values are scaled
// by 32768 and non-negative values by 32767, matching the asymmetric range of
// int16 — this keeps -1.0 and +1.0 both representable without overflow.
//
// Encode is a pure transform and never fails.
func Encode(samples []float32, rate int) WireBlob {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(uint16(v) >> 8)
	}
	return WireBlob{
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", rate),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// Decode converts a base64-encoded s16le payload back to floating-point
// samples in [-1, 1), dividing by 32768.
//
// Decode never fails: malformed base64, an odd byte count, or a payload whose
// sample count does not divide evenly across channels all yield an empty
// (silent) buffer. An audible gap is preferable to tearing down the stream
// over one corrupt fragment.
func Decode(b64 string, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(pcm) < 2 || len(pcm)%2 != 0 {
		return nil
	}
	samples := len(pcm) / 2
	if samples%channels != 0 || samples/channels == 0 {
		return nil
	}

	out := make([]float32, samples)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768
	}
	return out
}
