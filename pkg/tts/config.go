package tts

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicepipe/pkg/metrics"
	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

// Config holds synthesis session configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Server location
	BaseURL    string
	SocketPath string
	CachePath  string

	// Channel behavior
	ReconnectDelay    time.Duration
	KeepaliveInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration

	// Assembly
	GracePeriod time.Duration
	TargetRate  int
	Decoder     wav.Decoder

	// Segment fetch retry configuration
	MaxAttempts int
	RetryDelay  time.Duration

	// Transport
	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// Observability
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Option is a functional option for configuring sessions and assemblers.
type Option func(*Config)

// WithBaseURL sets the synthesis server URL (http or https).
func WithBaseURL(u string) Option {
	return func(c *Config) {
		c.BaseURL = u
	}
}

// WithPaths overrides the channel and segment cache paths.
func WithPaths(socketPath, cachePath string) Option {
	return func(c *Config) {
		c.SocketPath = socketPath
		c.CachePath = cachePath
	}
}

// WithReconnectDelay sets the fixed wait between a channel loss and the next attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ReconnectDelay = d
	}
}

// WithKeepalive sets the ping interval on an open channel.
func WithKeepalive(d time.Duration) Option {
	return func(c *Config) {
		c.KeepaliveInterval = d
	}
}

// WithGracePeriod sets how long finalization waits for pending segments.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Config) {
		c.GracePeriod = d
	}
}

// WithTargetRate sets the output sample rate.
func WithTargetRate(rate int) Option {
	return func(c *Config) {
		c.TargetRate = rate
	}
}

// WithDecoder overrides the segment decoder.
func WithDecoder(d wav.Decoder) Option {
	return func(c *Config) {
		c.Decoder = d
	}
}

// WithRetry configures segment fetch attempts and the fixed delay between them.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the client used for segment fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		SocketPath:        "/tts-ws",
		CachePath:         "/cache/",
		ReconnectDelay:    5 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		GracePeriod:       500 * time.Millisecond,
		TargetRate:        wav.CanonicalRate,
		Decoder:           wav.DefaultDecoder,
		MaxAttempts:       3,
		RetryDelay:        time.Second,
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("tts: invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("tts: unsupported base URL scheme %q", u.Scheme)
	}
	if c.TargetRate <= 0 {
		return fmt.Errorf("tts: target rate must be positive, got %d", c.TargetRate)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("tts: grace period must not be negative, got %v", c.GracePeriod)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("tts: reconnect delay must not be negative, got %v", c.ReconnectDelay)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("tts: max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	return nil
}

// SocketURL returns the ws(s) URL of the synthesis channel.
func (c *Config) SocketURL() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.SocketPath
	return u.String()
}

// HTTPBaseURL returns the base URL with an http(s) scheme and no trailing slash.
func (c *Config) HTTPBaseURL() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return strings.TrimRight(c.BaseURL, "/")
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	return strings.TrimRight(u.String(), "/")
}
