package tts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

// Mock implements Speaker for testing.
type Mock struct {
	// SpeakFunc is called when Speak is invoked.
	// If nil, returns silent audio of appropriate length.
	SpeakFunc func(ctx context.Context, text string) (*Result, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a new mock speaker that returns ~20ms of silence per character.
func NewMock() *Mock {
	return &Mock{
		SpeakFunc: func(ctx context.Context, text string) (*Result, error) {
			return SilentResult(text, time.Duration(len(text))*20*time.Millisecond), nil
		},
	}
}

// SilentResult builds a finalized result of silence at the canonical rate.
func SilentResult(text string, d time.Duration) *Result {
	n := int(d.Seconds() * wav.CanonicalRate)
	samples := make([]float32, n)
	return &Result{
		Handle:     uuid.NewString(),
		WAV:        wav.Encode(samples, wav.CanonicalRate),
		SampleRate: wav.CanonicalRate,
		Samples:    n,
		Duration:   d,
		Segments:   1,
		Text:       text,
	}
}

// Speak calls SpeakFunc and records the call.
func (m *Mock) Speak(ctx context.Context, text string) (*Result, error) {
	m.recordCall("Speak", text)
	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, text)
	}
	return nil, ErrNotReady
}

func (m *Mock) recordCall(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Text:   text,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SpeakFunc: func(ctx context.Context, text string) (*Result, error) {
			return nil, err
		},
	}
}

// WithLatency wraps a mock to add artificial latency.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	original := m.SpeakFunc
	m.SpeakFunc = func(ctx context.Context, text string) (*Result, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if original != nil {
			return original(ctx, text)
		}
		return nil, ErrNotReady
	}
	return m
}

var (
	_ Speaker = (*Mock)(nil)
	_ Speaker = (*Session)(nil)
)
