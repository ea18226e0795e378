package tts

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-voicepipe/internal/httpc"
	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoBaseURL is returned when the synthesis server URL is missing.
	ErrNoBaseURL = errors.New("tts: base URL required")

	// ErrEmptyText is returned when asked to synthesize nothing.
	ErrEmptyText = errors.New("tts: text required")

	// ErrEmptyAudio is returned when a segment decodes to zero samples.
	// It aborts the whole assembly.
	ErrEmptyAudio = errors.New("tts: segment decoded to no audio")

	// ErrEmptyResult is returned when an assembly finishes with no resolved segments.
	ErrEmptyResult = errors.New("tts: no segments resolved")

	// ErrNotReady is returned when a request is made while the channel is not open.
	// Callers should trigger a reconnect rather than drop the request.
	ErrNotReady = errors.New("tts: channel not open")

	// ErrChannelClosed is reported when the channel drops while work is in flight.
	ErrChannelClosed = errors.New("tts: channel closed")

	// ErrBusy is returned by Speak while another Speak is waiting for its result.
	ErrBusy = errors.New("tts: synthesis already in progress")
)

// FetchExhaustedError is returned when a segment could not be fetched
// within the retry bound.
type FetchExhaustedError = httpc.FetchExhaustedError

// DecodeError is returned when a segment payload cannot be decoded.
type DecodeError = wav.DecodeError

// ServerError carries the message of an "error" notification from the
// synthesis server.
type ServerError struct {
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("tts: server error: %s", e.Message)
}

// SegmentError ties a failure to the segment that caused it.
type SegmentError struct {
	Sequence int
	ID       string
	Err      error
}

// Error implements the error interface.
func (e *SegmentError) Error() string {
	return fmt.Sprintf("tts: segment %d (%s): %v", e.Sequence, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SegmentError) Unwrap() error {
	return e.Err
}
