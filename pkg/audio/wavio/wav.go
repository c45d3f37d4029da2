package wavio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// header is the canonical 44-byte RIFF/WAVE header for PCM data.
type header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV serialises mono float samples in [-1, 1] as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wavio: sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	h := header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("wavio: write header: %w", err)
	}
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			pcm[i] = int16(s * 32768)
		} else {
			pcm[i] = int16(s * 32767)
		}
	}
	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("wavio: write samples: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV parses a 16-bit PCM WAV file into mono float samples and the
// file's sample rate. Stereo input is downmixed by averaging the channels.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 44 {
		return nil, 0, fmt.Errorf("wavio: data too short: need at least 44 bytes, got %d", len(data))
	}

	var h header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, 0, fmt.Errorf("wavio: read header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("wavio: not a RIFF/WAVE file")
	}
	if h.AudioFormat != 1 || h.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("wavio: only 16-bit PCM supported, got format=%d bits=%d", h.AudioFormat, h.BitsPerSample)
	}
	if h.NumChannels != 1 && h.NumChannels != 2 {
		return nil, 0, fmt.Errorf("wavio: unsupported channel count %d", h.NumChannels)
	}

	pcm := data[44:]
	if n := int(h.Subchunk2Size); n < len(pcm) {
		pcm = pcm[:n]
	}
	samples := len(pcm) / 2

	if h.NumChannels == 2 {
		frames := samples / 2
		out := make([]float32, frames)
		for i := range frames {
			l := int16(pcm[i*4]) | int16(pcm[i*4+1])<<8
			r := int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8
			out[i] = float32(int32(l)+int32(r)) / 2 / 32768
		}
		return out, int(h.SampleRate), nil
	}

	out := make([]float32, samples)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768
	}
	return out, int(h.SampleRate), nil
}

// resampleMono linearly interpolates mono samples from srcRate to dstRate.
// Returns the input unchanged when the rates already match.
func resampleMono(in []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(in) < 2 {
		return in
	}
	dstLen := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
