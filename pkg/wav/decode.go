package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAVE format tags understood by the RIFF decoder.
const (
	formatPCM        uint16 = 1
	formatIEEEFloat  uint16 = 3
	formatExtensible uint16 = 0xFFFE
)

var errEmptyPayload = errors.New("empty payload")

// DecodeError reports a payload that could not be turned into audio.
// It is never retried: the payload is assumed corrupt, not transient.
type DecodeError struct {
	// Format is the sniffed container ("wav", "mp3", "opus") or "unknown".
	Format string
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("wav: decode %s: %v", e.Format, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns an encoded audio payload into mono samples.
type Decoder interface {
	Decode(data []byte) (*Audio, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(data []byte) (*Audio, error)

// Decode calls f(data).
func (f DecoderFunc) Decode(data []byte) (*Audio, error) {
	return f(data)
}

// DefaultDecoder sniffs the container and dispatches to the matching decoder.
var DefaultDecoder Decoder = DecoderFunc(Decode)

// Decode decodes a WAV, MP3 or Ogg Opus payload into mono samples.
// Empty or unrecognized input fails with *DecodeError; it is never treated as
// silence.
func Decode(data []byte) (*Audio, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Format: "unknown", Err: errEmptyPayload}
	}

	format := Sniff(data)
	var (
		audio *Audio
		err   error
	)
	switch format {
	case "wav":
		audio, err = decodeRIFF(data)
	case "opus":
		audio, err = decodeOpus(data)
	case "mp3":
		audio, err = decodeMP3(data)
	default:
		err = errors.New("unrecognized container")
	}
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	return audio, nil
}

// Sniff identifies the container of an encoded payload.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return "opus"
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	default:
		return "unknown"
	}
}

type fmtChunk struct {
	format        uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
	dataSize      uint32
}

// parseRIFF walks the RIFF chunk list and returns the format and the data payload.
// Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped.
func parseRIFF(data []byte) (fmtChunk, []byte, error) {
	var f fmtChunk
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return f, nil, errors.New("missing RIFF/WAVE header")
	}

	var (
		haveFmt bool
		payload []byte
		found   bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		end := pos + size
		if size < 0 || end > len(data) {
			// Streaming writers leave the size unset; take what is there.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-pos < 16 {
				return f, nil, fmt.Errorf("fmt chunk too short: %d bytes", end-pos)
			}
			c := data[pos:end]
			f.format = binary.LittleEndian.Uint16(c[0:2])
			f.channels = binary.LittleEndian.Uint16(c[2:4])
			f.sampleRate = binary.LittleEndian.Uint32(c[4:8])
			f.bitsPerSample = binary.LittleEndian.Uint16(c[14:16])
			if f.format == formatExtensible && len(c) >= 26 {
				f.format = binary.LittleEndian.Uint16(c[24:26])
			}
			haveFmt = true
		case "data":
			payload = data[pos:end]
			f.dataSize = uint32(len(payload))
			found = true
		}

		if found && haveFmt {
			break
		}
		pos = end + size%2
	}

	if !haveFmt {
		return f, nil, errors.New("missing fmt chunk")
	}
	if !found {
		return f, nil, errors.New("missing data chunk")
	}
	if f.channels == 0 {
		return f, nil, errors.New("zero channels")
	}
	if f.sampleRate == 0 {
		return f, nil, errors.New("zero sample rate")
	}
	return f, payload, nil
}

func decodeRIFF(data []byte) (*Audio, error) {
	f, payload, err := parseRIFF(data)
	if err != nil {
		return nil, err
	}

	width := int(f.bitsPerSample / 8)
	var sample func(b []byte) float32
	switch {
	case f.format == formatPCM && f.bitsPerSample == 8:
		sample = func(b []byte) float32 { return (float32(b[0]) - 128) / 128 }
	case f.format == formatPCM && f.bitsPerSample == 16:
		sample = func(b []byte) float32 {
			return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
		}
	case f.format == formatPCM && f.bitsPerSample == 24:
		sample = func(b []byte) float32 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float32(v) / 8388608
		}
	case f.format == formatPCM && f.bitsPerSample == 32:
		sample = func(b []byte) float32 {
			return float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
		}
	case f.format == formatIEEEFloat && f.bitsPerSample == 32:
		sample = func(b []byte) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	default:
		return nil, fmt.Errorf("unsupported encoding: format=%d bits=%d", f.format, f.bitsPerSample)
	}

	channels := int(f.channels)
	frame := width * channels
	frames := len(payload) / frame
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * frame
		for ch := 0; ch < channels; ch++ {
			sum += sample(payload[base+ch*width:])
		}
		samples[i] = sum / float32(channels)
	}

	return &Audio{Samples: samples, SampleRate: int(f.sampleRate)}, nil
}

// opusChannels reads the channel count from the OpusHead identification packet.
func opusChannels(data []byte) (int, error) {
	idx := bytes.Index(data, []byte("OpusHead"))
	if idx < 0 || idx+10 > len(data) {
		return 0, errors.New("missing OpusHead packet")
	}
	ch := int(data[idx+9])
	if ch == 0 {
		return 0, errors.New("zero channels in OpusHead")
	}
	return ch, nil
}

// downmix averages interleaved frames into mono.
func downmix(interleaved []float32, channels int) []float32 {
	if channels == 1 {
		return interleaved
	}
	mono := make([]float32, len(interleaved)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
