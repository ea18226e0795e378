// Package audioio provides audio capture, resampling and sample conversion.
//
// Capture backends:
//   - FFmpeg - microphone capture through an ffmpeg subprocess (pulse, alsa, avfoundation)
//   - Mock - CI/Testing without hardware
//
// The Recorder wraps any Source with start/stop semantics and returns a
// canonical WAV blob ready for transcription.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendFFmpeg captures through an ffmpeg subprocess.
	BackendFFmpeg Backend = "ffmpeg"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio capture configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (ffmpeg when available, mock otherwise)
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the capture sample rate in Hz.
	// Default: 16000 (canonical transcription rate)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is 1 or 2; stereo is averaged to mono by the Recorder.
	// Default: 1
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the length of one captured chunk.
	// Default: 20ms (320 frames at 16kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// InputFormat is the ffmpeg input format ("pulse", "alsa", "avfoundation").
	InputFormat string `yaml:"input_format" json:"input_format"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - pulse: "default"
	//   - alsa: "hw:0,0", "plughw:1,0"
	//   - avfoundation: ":0"
	Device string `yaml:"device" json:"device"`

	// Command is the ffmpeg executable. Default: "ffmpeg".
	Command string `yaml:"command" json:"command"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		InputFormat:    "pulse",
		Device:         "default",
		Command:        "ffmpeg",
	}
}

// Validate rejects configurations the Recorder cannot turn into canonical
// audio. Only mono and stereo capture is supported.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audioio: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("audioio: channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("audioio: buffer_duration must be positive, got %v", c.BufferDuration)
	}
	switch c.Backend {
	case BackendAuto, BackendMock:
	case BackendFFmpeg:
		if c.Command == "" {
			return fmt.Errorf("audioio: ffmpeg backend needs a command")
		}
	default:
		return fmt.Errorf("audioio: unknown backend %q", c.Backend)
	}
	return nil
}

// BufferSize is the number of frames per captured chunk.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes is the PCM16 byte size of one chunk across all channels.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
