package audioio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is in progress.
	ErrAlreadyRecording = errors.New("audioio: already recording")
	// ErrNotRecording is returned by Stop without a matching Start.
	ErrNotRecording = errors.New("audioio: not recording")
	// ErrEmptyRecording is returned when a recording captured no samples.
	ErrEmptyRecording = errors.New("audioio: recording captured no audio")
)

// Recorder captures from a Source between Start and Stop and produces a
// canonical mono 16-bit WAV at wav.CanonicalRate.
type Recorder struct {
	src    Source
	logger *slog.Logger

	mu        sync.Mutex
	recording bool
	samples   []int16
	rate      int
	done      chan struct{}
	started   time.Time
}

// NewRecorder wraps src.
func NewRecorder(src Source, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		src:    src,
		logger: logger.With("component", "recorder"),
	}
}

// Start begins capturing.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}
	if err := r.src.Start(ctx); err != nil {
		return err
	}

	r.recording = true
	r.samples = r.samples[:0]
	r.rate = r.src.Config().SampleRate
	r.done = make(chan struct{})
	r.started = time.Now()

	go r.collect(r.src.Stream(), r.done)

	r.logger.Info("recording started", "backend", r.src.Name(), "sample_rate", r.rate)
	return nil
}

func (r *Recorder) collect(stream <-chan AudioChunk, done chan struct{}) {
	defer close(done)
	for chunk := range stream {
		mono := chunk.Mono()
		r.mu.Lock()
		r.samples = append(r.samples, mono...)
		if chunk.SampleRate > 0 {
			r.rate = chunk.SampleRate
		}
		r.mu.Unlock()
	}
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Stop ends the capture and returns the recording as a canonical WAV blob.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.recording = false
	done := r.done
	r.mu.Unlock()

	stopErr := r.src.Stop()
	<-done

	r.mu.Lock()
	pcm := make([]int16, len(r.samples))
	copy(pcm, r.samples)
	rate := r.rate
	elapsed := time.Since(r.started)
	r.mu.Unlock()

	if stopErr != nil {
		r.logger.Warn("source stop failed", "error", stopErr)
	}
	if ws, ok := r.src.(SourceWithStats); ok {
		if st := ws.Stats(); st.Overruns > 0 {
			r.logger.Warn("capture dropped audio", "overruns", st.Overruns, "chunks", st.ChunksRead)
		}
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyRecording
	}

	samples := Resample(Int16ToFloat32(pcm), rate, wav.CanonicalRate)
	r.logger.Info("recording stopped",
		"captured", len(pcm),
		"samples", len(samples),
		"rms", CalculateRMS(samples),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return wav.Encode(samples, wav.CanonicalRate), nil
}

// Record captures for d, or until ctx is done, and returns the WAV blob.
func (r *Recorder) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return r.Stop()
}
