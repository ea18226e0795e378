package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"gopkg.in/hraban/opus.v2"
)

// opusRate is the fixed output rate of libopusfile.
const opusRate = 48000

// maxOpusFrame is 120ms at 48kHz, the largest frame opusfile returns per channel.
const maxOpusFrame = 5760

func decodeOpus(data []byte) (*Audio, error) {
	channels, err := opusChannels(data)
	if err != nil {
		return nil, err
	}

	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open ogg stream: %w", err)
	}
	defer stream.Close()

	var interleaved []float32
	pcm := make([]float32, maxOpusFrame*channels)
	for {
		n, err := stream.ReadFloat32(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read opus: %w", err)
		}
		interleaved = append(interleaved, pcm[:n*channels]...)
	}

	return &Audio{Samples: downmix(interleaved, channels), SampleRate: opusRate}, nil
}

// decodeMP3 decodes through go-mp3, which always yields 16-bit stereo LE.
func decodeMP3(data []byte) (*Audio, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read mp3: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("unexpected decoded length %d", len(raw))
	}

	interleaved := make([]float32, len(raw)/2)
	for i := range interleaved {
		interleaved[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return &Audio{Samples: downmix(interleaved, 2), SampleRate: dec.SampleRate()}, nil
}
