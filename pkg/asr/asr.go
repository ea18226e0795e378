// Package asr normalizes captured or uploaded audio into canonical WAV and
// submits it for transcription.
//
// Any input the decoder understands (WAV at any rate or channel count, MP3,
// Ogg Opus) is downmixed, resampled to 16 kHz and re-encoded as 16-bit PCM
// before upload, so the server only ever sees one format.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/teslashibe/go-voicepipe/internal/httpc"
	"github.com/teslashibe/go-voicepipe/pkg/audioio"
	"github.com/teslashibe/go-voicepipe/pkg/events"
	"github.com/teslashibe/go-voicepipe/pkg/metrics"
	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

// Upload form layout expected by the server.
const (
	FormField = "file"
	FileName  = "recording.wav"
)

var (
	ErrNoBaseURL = errors.New("asr: base URL required")
	// ErrEmptyTranscriptInput is returned for input too short to hold audio.
	ErrEmptyTranscriptInput = errors.New("asr: input too short to contain audio")
)

// FetchExhaustedError is returned when every upload attempt failed.
type FetchExhaustedError = httpc.FetchExhaustedError

// ServerError is an error message returned by the transcription server.
// Err holds the transport failure that carried it, if any.
type ServerError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ServerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("asr: server error (status %d): %s", e.StatusCode, e.Message)
	}
	return "asr: server error: " + e.Message
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

type response struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Transcriber uploads normalized audio to the transcription endpoint.
type Transcriber struct {
	config  *Config
	fetcher *httpc.Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  *events.Publisher
}

// New creates a Transcriber.
func New(opts ...Option) (*Transcriber, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Decoder == nil {
		cfg.Decoder = wav.DefaultDecoder
	}

	client := cfg.HTTPClient
	if client == nil {
		client = httpc.Client
	}
	return &Transcriber{
		config: cfg,
		fetcher: httpc.NewFetcher(
			httpc.WithMaxAttempts(cfg.MaxAttempts),
			httpc.WithRetryDelay(cfg.RetryDelay),
			httpc.WithHTTPClient(client),
			httpc.WithLogger(cfg.Logger.With("component", "asr.upload")),
			httpc.WithObserver(cfg.Metrics),
		),
		logger:  cfg.Logger.With("component", "asr"),
		metrics: cfg.Metrics,
		events:  cfg.Events,
	}, nil
}

// Normalize converts blob into a canonical mono 16-bit WAV at the target rate.
func (t *Transcriber) Normalize(blob []byte) ([]byte, error) {
	return normalize(blob, t.config.Decoder, t.config.TargetRate)
}

func normalize(blob []byte, decoder wav.Decoder, rate int) ([]byte, error) {
	if len(blob) < wav.HeaderSize {
		return nil, ErrEmptyTranscriptInput
	}
	audio, err := decoder.Decode(blob)
	if err != nil {
		return nil, err
	}
	if audioio.ResampledLength(len(audio.Samples), audio.SampleRate, rate) == 0 {
		return nil, ErrEmptyTranscriptInput
	}
	samples := audioio.Resample(audio.Samples, audio.SampleRate, rate)
	return wav.Encode(samples, rate), nil
}

// Transcribe normalizes blob, uploads it and returns the recognized text.
func (t *Transcriber) Transcribe(ctx context.Context, blob []byte) (string, error) {
	start := time.Now()
	text, size, err := t.transcribe(ctx, blob)
	latency := time.Since(start)

	t.metrics.RecordTranscription(err, latency.Seconds())

	ev := events.TranscriptionEvent{
		Type:  events.TypeTranscriptionCompleted,
		Text:  text,
		Bytes: size,
	}
	if err != nil {
		ev.Type = events.TypeTranscriptionFailed
		ev.Error = err.Error()
		t.logger.Warn("transcription failed", "bytes", len(blob), "error", err)
	} else {
		t.logger.Info("transcription complete", "bytes", size, "chars", len(text), "latency", latency.Round(time.Millisecond))
	}
	if perr := t.events.PublishTranscription(ctx, ev); perr != nil {
		t.logger.Warn("failed to publish transcription event", "error", perr)
	}
	return text, err
}

func (t *Transcriber) transcribe(ctx context.Context, blob []byte) (string, int, error) {
	normalized, err := t.Normalize(blob)
	if err != nil {
		return "", 0, err
	}

	body, contentType, err := multipartBody(normalized)
	if err != nil {
		return "", len(normalized), err
	}

	endpoint := t.config.Endpoint()
	raw, err := t.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return "", len(normalized), serverError(err)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", len(normalized), fmt.Errorf("asr: decode response: %w", err)
	}
	if resp.Error != "" {
		return "", len(normalized), &ServerError{Message: resp.Error}
	}
	return resp.Text, len(normalized), nil
}

// serverError lifts an {"error": ...} body out of a failed upload.
func serverError(err error) error {
	var status *httpc.StatusError
	if !errors.As(err, &status) {
		return err
	}
	var resp response
	if json.Unmarshal([]byte(status.Body), &resp) != nil || resp.Error == "" {
		return err
	}
	return &ServerError{StatusCode: status.StatusCode, Message: resp.Error, Err: err}
}

func multipartBody(wavData []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(FormField, FileName)
	if err != nil {
		return nil, "", fmt.Errorf("asr: create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("asr: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("asr: close multipart writer: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// TranscribeFile reads path and transcribes its contents.
func (t *Transcriber) TranscribeFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("asr: read %s: %w", path, err)
	}
	return t.Transcribe(ctx, data)
}

// TranscribeRecorder captures d of audio from rec and transcribes it.
func (t *Transcriber) TranscribeRecorder(ctx context.Context, rec *audioio.Recorder, d time.Duration) (string, error) {
	blob, err := rec.Record(ctx, d)
	if err != nil {
		return "", err
	}
	return t.Transcribe(ctx, blob)
}
