package asr

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-voicepipe/internal/httpc"
	"github.com/teslashibe/go-voicepipe/pkg/events"
	"github.com/teslashibe/go-voicepipe/pkg/metrics"
	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

// Config holds transcriber configuration.
type Config struct {
	BaseURL string
	Path    string

	TargetRate int
	Decoder    wav.Decoder

	MaxAttempts int
	RetryDelay  time.Duration
	HTTPClient  *http.Client

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Events  *events.Publisher
}

// Option configures a Transcriber.
type Option func(*Config)

// WithBaseURL sets the transcription server URL.
func WithBaseURL(u string) Option {
	return func(c *Config) {
		c.BaseURL = u
	}
}

// WithPath overrides the upload path.
func WithPath(p string) Option {
	return func(c *Config) {
		c.Path = p
	}
}

// WithDecoder replaces the input decoder.
func WithDecoder(d wav.Decoder) Option {
	return func(c *Config) {
		c.Decoder = d
	}
}

// WithRetry sets the upload attempt budget and the fixed delay between attempts.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client used for uploads.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics records transcription outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithEvents publishes an event per transcription.
func WithEvents(p *events.Publisher) Option {
	return func(c *Config) {
		c.Events = p
	}
}

// DefaultConfig returns the defaults: uploads go to /asr at 16 kHz.
func DefaultConfig() *Config {
	return &Config{
		Path:        "/asr",
		TargetRate:  wav.CanonicalRate,
		Decoder:     wav.DefaultDecoder,
		MaxAttempts: httpc.DefaultMaxAttempts,
		RetryDelay:  httpc.DefaultRetryDelay,
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("asr: invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("asr: unsupported scheme %q", u.Scheme)
	}
	if c.TargetRate <= 0 {
		return fmt.Errorf("asr: invalid target rate %d", c.TargetRate)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("asr: max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	return nil
}

// Endpoint returns the full upload URL.
func (c *Config) Endpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + c.Path
}
