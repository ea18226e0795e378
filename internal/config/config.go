// Package config loads go-voicepipe configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file, and VOICEPIPE_* environment variables. Command-line flags are
// applied by the caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-voicepipe/pkg/audioio"
	"github.com/teslashibe/go-voicepipe/pkg/events"
)

// Defaults for the voice server location and local listener.
const (
	DefaultServerURL = "http://localhost:12393"
	DefaultWebAddr   = ":8181"
	EnvPrefix        = "VOICEPIPE_"
)

// Config is the complete application configuration.
type Config struct {
	Server ServerConfig   `yaml:"server"`
	TTS    TTSConfig      `yaml:"tts"`
	ASR    ASRConfig      `yaml:"asr"`
	Retry  RetryConfig    `yaml:"retry"`
	Audio  audioio.Config `yaml:"audio"`
	Web    WebConfig      `yaml:"web"`
	Events events.Config  `yaml:"events"`
	Log    LogConfig      `yaml:"log"`
}

// ServerConfig locates the remote voice server.
type ServerConfig struct {
	URL string `yaml:"url"`
}

// TTSConfig holds synthesis channel settings.
type TTSConfig struct {
	SocketPath     string        `yaml:"socket_path"`
	CachePath      string        `yaml:"cache_path"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Keepalive      time.Duration `yaml:"keepalive"`
	GracePeriod    time.Duration `yaml:"grace_period"`
}

// ASRConfig holds transcription settings.
type ASRConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig bounds segment fetches and uploads.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// WebConfig holds the local playback server settings.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{URL: DefaultServerURL},
		TTS: TTSConfig{
			SocketPath:     "/tts-ws",
			CachePath:      "/cache/",
			ReconnectDelay: 5 * time.Second,
			Keepalive:      30 * time.Second,
			GracePeriod:    500 * time.Millisecond,
		},
		ASR:   ASRConfig{Path: "/asr"},
		Retry: RetryConfig{MaxAttempts: 3, Delay: time.Second},
		Audio: audioio.DefaultConfig(),
		Web:   WebConfig{Addr: DefaultWebAddr},
		Events: events.Config{
			TopicSynthesis:     "voicepipe.synthesis",
			TopicTranscription: "voicepipe.transcription",
			Principal:          "voicepipe",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from VOICEPIPE_* environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("SERVER_URL", &c.Server.URL)
	dur("TTS_RECONNECT_DELAY", &c.TTS.ReconnectDelay)
	dur("TTS_KEEPALIVE", &c.TTS.Keepalive)
	dur("TTS_GRACE_PERIOD", &c.TTS.GracePeriod)
	num("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	dur("RETRY_DELAY", &c.Retry.Delay)
	str("WEB_ADDR", &c.Web.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("AUDIO_DEVICE", &c.Audio.Device)
	str("AUDIO_INPUT_FORMAT", &c.Audio.InputFormat)
	num("AUDIO_SAMPLE_RATE", &c.Audio.SampleRate)
	if v, ok := lookup("AUDIO_BACKEND"); ok {
		c.Audio.Backend = audioio.Backend(v)
	}

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Events.Brokers = splitList(v)
		c.Events.Enabled = len(c.Events.Brokers) > 0
	}
	if v, ok := lookup("KAFKA_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sKAFKA_ENABLED: %w", EnvPrefix, err))
		} else {
			c.Events.Enabled = enabled
		}
	}

	return errors.Join(errs...)
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks every section.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.url must be an http(s) URL, got %q", c.Server.URL)
	}
	if c.TTS.ReconnectDelay <= 0 {
		return fmt.Errorf("tts.reconnect_delay must be positive, got %v", c.TTS.ReconnectDelay)
	}
	if c.TTS.GracePeriod < 0 {
		return fmt.Errorf("tts.grace_period cannot be negative, got %v", c.TTS.GracePeriod)
	}
	if !strings.HasPrefix(c.TTS.SocketPath, "/") || !strings.HasPrefix(c.TTS.CachePath, "/") {
		return fmt.Errorf("tts paths must start with /")
	}
	if !strings.HasPrefix(c.ASR.Path, "/") {
		return fmt.Errorf("asr.path must start with /, got %q", c.ASR.Path)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay cannot be negative, got %v", c.Retry.Delay)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events.brokers required when events are enabled")
		}
		if c.Events.TopicSynthesis == "" || c.Events.TopicTranscription == "" {
			return fmt.Errorf("events topics required when events are enabled")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}
