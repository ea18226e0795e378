// Package tts drives a streaming speech synthesis server and assembles the
// segments it produces into one playable WAV.
//
// A Session keeps a persistent websocket channel to the server. Each text
// request yields a stream of "partial" notifications naming fetchable audio
// segments, followed by "complete". The Assembler fetches, decodes and
// resamples segments concurrently and concatenates them in the order their
// notifications arrived, whatever order the fetches finish in.
//
// Example usage:
//
//	session, _ := tts.NewSession(tts.WithBaseURL("http://localhost:8000"))
//	go session.Run(ctx)
//
//	result, err := session.Speak(ctx, "Hello world")
//	// result.WAV holds a mono 16-bit 16 kHz WAV
package tts

import (
	"context"
	"strings"
	"time"
)

// Speaker synthesizes text into a finished result.
type Speaker interface {
	Speak(ctx context.Context, text string) (*Result, error)
}

// Result is a finalized synthesis.
type Result struct {
	// Handle identifies this result for playback and download.
	Handle string

	// WAV is the encoded container.
	WAV []byte

	// SampleRate of the encoded audio.
	SampleRate int

	// Samples is the number of samples in the container.
	Samples int

	// Duration is the playback duration.
	Duration time.Duration

	// Segments is the number of segments included.
	Segments int

	// Dropped lists segment identifiers still pending when the grace period ran out.
	Dropped []string

	// Text is the partial texts of the included segments, in order.
	Text string
}

// ConnectionState is the state of the synthesis channel.
type ConnectionState int

const (
	// StateConnecting means the handshake is in progress.
	StateConnecting ConnectionState = iota
	// StateOpen means requests are accepted.
	StateOpen
	// StateClosed means the channel was lost; a reconnect is scheduled.
	StateClosed
)

// String returns the lower-case state name.
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connectionStates lists every state name for one-hot metrics.
var connectionStates = []string{
	StateConnecting.String(),
	StateOpen.String(),
	StateClosed.String(),
}

// Notification statuses sent by the server.
const (
	StatusPartial  = "partial"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Notification is an inbound channel message.
type Notification struct {
	Status    string `json:"status"`
	AudioPath string `json:"audioPath,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Request is an outbound channel message.
type Request struct {
	Text string `json:"text"`
}

// SegmentID returns the fetchable identifier named by an audio path: its
// final path element. Both '/' and '\' separate elements.
func SegmentID(audioPath string) string {
	p := strings.TrimSpace(audioPath)
	p = strings.TrimRight(p, `/\`)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return p
}
