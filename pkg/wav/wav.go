// Package wav encodes and decodes the canonical PCM container used across the
// pipeline: mono, 16-bit signed little-endian PCM in a 44-byte RIFF/WAVE header.
//
// Encoding always produces the canonical layout. Decoding accepts any payload a
// segment server or recorder is likely to hand back (WAV, MP3, Ogg Opus) and
// returns mono float32 samples in [-1, 1] together with the source sample rate.
package wav

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Canonical container parameters.
const (
	HeaderSize    = 44
	Channels      = 1
	BitsPerSample = 16

	// CanonicalRate is the sample rate used for transcription upload and
	// synthesized playback/download.
	CanonicalRate = 16000
)

// Audio is decoded mono audio.
type Audio struct {
	// Samples are normalized to [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}

// Duration returns the playback length of the audio.
func (a *Audio) Duration() time.Duration {
	if a == nil || a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

// Encode writes samples as a canonical mono PCM16 WAV container.
//
// Samples are clamped to [-1, 1]. Negative values scale by 32768 and
// non-negative values by 32767; existing consumers rely on this exact mapping.
func Encode(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, HeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(HeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*Channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], Channels*2)
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[HeaderSize+i*2:], uint16(quantize(s)))
	}
	return buf
}

// quantize maps a float sample onto int16 with the asymmetric full-scale
// mapping. NaN encodes as silence.
func quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7FFF)
}

// Header is the metadata of a WAV container.
type Header struct {
	AudioFormat   uint16  `json:"audio_format"`
	Channels      uint16  `json:"channels"`
	SampleRate    uint32  `json:"sample_rate"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
	Duration      float64 `json:"duration_seconds"`
}

// Info extracts header metadata from a WAV container without decoding samples.
func Info(data []byte) (*Header, error) {
	f, _, err := parseRIFF(data)
	if err != nil {
		return nil, err
	}
	h := &Header{
		AudioFormat:   f.format,
		Channels:      f.channels,
		SampleRate:    f.sampleRate,
		BitsPerSample: f.bitsPerSample,
		DataSize:      f.dataSize,
	}
	if frame := uint32(f.channels) * uint32(f.bitsPerSample/8); frame > 0 {
		h.NumSamples = f.dataSize / frame
	}
	if h.SampleRate > 0 {
		h.Duration = float64(h.NumSamples) / float64(h.SampleRate)
	}
	return h, nil
}

// String implements fmt.Stringer.
func (h *Header) String() string {
	return fmt.Sprintf("wav(format=%d channels=%d rate=%d bits=%d samples=%d)",
		h.AudioFormat, h.Channels, h.SampleRate, h.BitsPerSample, h.NumSamples)
}
