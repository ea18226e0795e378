package audioio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

func TestRecorder_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	rec := NewRecorder(src, nil)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := rec.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	blob, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	h, err := wav.Info(blob)
	if err != nil {
		t.Fatalf("Recording is not a valid WAV: %v", err)
	}
	if h.SampleRate != wav.CanonicalRate {
		t.Errorf("Expected %d Hz, got %d", wav.CanonicalRate, h.SampleRate)
	}
	if h.Channels != 1 || h.BitsPerSample != 16 {
		t.Errorf("Expected mono 16-bit, got %d ch %d bit", h.Channels, h.BitsPerSample)
	}
	if h.NumSamples == 0 {
		t.Error("Expected captured samples")
	}
	if rec.Recording() {
		t.Error("Recorder should not be recording after Stop")
	}
}

func TestRecorder_ResamplesToCanonicalRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 48000
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	rec := NewRecorder(src, nil)
	blob, err := rec.Record(context.Background(), 60*time.Millisecond)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	audio, err := wav.Decode(blob)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if audio.SampleRate != wav.CanonicalRate {
		t.Errorf("Expected %d Hz, got %d", wav.CanonicalRate, audio.SampleRate)
	}
	// 480 samples per 48kHz chunk become 160 at 16kHz.
	if len(audio.Samples)%160 != 0 {
		t.Errorf("Expected whole resampled chunks, got %d samples", len(audio.Samples))
	}
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	rec := NewRecorder(NewMockSource(DefaultConfig(), nil), nil)
	if _, err := rec.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}
}

func TestRecorder_Empty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = time.Hour

	src := NewMockSource(cfg, nil)
	defer src.Close()

	rec := NewRecorder(src, nil)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := rec.Stop(); !errors.Is(err, ErrEmptyRecording) {
		t.Errorf("Expected ErrEmptyRecording, got %v", err)
	}
}
