package audioio

import (
	"context"
	"io"
	"time"
)

// AudioChunk is one buffer of captured PCM16 audio.
type AudioChunk struct {
	// Samples holds interleaved PCM16 frames.
	Samples    []int16
	SampleRate int
	Channels   int
}

// Bytes returns the chunk as little-endian PCM16.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// Mono returns the chunk averaged down to one channel. Only stereo input
// is downmixed; other layouts are returned as is.
func (c *AudioChunk) Mono() []int16 {
	if c.Channels == 2 {
		return StereoToMono(c.Samples)
	}
	return c.Samples
}

// Duration is the playback length of the chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Source produces captured audio for a Recorder.
//
// A Source is started once per recording. Chunks are delivered either by
// Read or by ranging over Stream, not both.
type Source interface {
	Start(ctx context.Context) error

	// Stop ends the capture and closes the stream. Calling it twice is a no-op.
	Stop() error

	// Read blocks for the next chunk and returns io.EOF once stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Stream is closed when the source stops.
	Stream() <-chan AudioChunk

	Config() Config

	// Name is the backend name, "ffmpeg" or "mock".
	Name() string

	io.Closer
}

// SourceStats are capture counters for one source.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats is a Source that reports capture counters. The Recorder
// logs them when a recording stops.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
