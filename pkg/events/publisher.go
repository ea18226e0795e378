// Package events publishes pipeline lifecycle events to Kafka.
// When Kafka is disabled the publisher runs in log-only mode.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/teslashibe/go-voicepipe/pkg/metrics"
)

// Event types.
const (
	TypeSynthesisCompleted     = "synthesis.completed"
	TypeSynthesisFailed        = "synthesis.failed"
	TypeTranscriptionCompleted = "transcription.completed"
	TypeTranscriptionFailed    = "transcription.failed"
)

// SynthesisEvent describes the end of one synthesis request.
type SynthesisEvent struct {
	Type      string    `json:"type"`
	Handle    string    `json:"handle,omitempty"`
	Text      string    `json:"text,omitempty"`
	Segments  int       `json:"segments"`
	Dropped   int       `json:"dropped"`
	Samples   int       `json:"samples"`
	Duration  float64   `json:"durationSeconds"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptionEvent describes the end of one transcription request.
type TranscriptionEvent struct {
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	Bytes     int       `json:"bytes"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers            []string `yaml:"brokers"`
	TopicSynthesis     string   `yaml:"topic_synthesis"`
	TopicTranscription string   `yaml:"topic_transcription"`
	Principal          string   `yaml:"principal"`
	Enabled            bool     `yaml:"enabled"`
}

// Publisher writes events to separate synthesis and transcription topics.
type Publisher struct {
	writerSynthesis     *kafka.Writer
	writerTranscription *kafka.Writer
	principal           string
	topicSynthesis      string
	topicTranscription  string
	enabled             bool
	metrics             *metrics.Metrics
	logger              *slog.Logger
}

// New creates a publisher. A nil or disabled config, or one without brokers,
// yields a log-only publisher.
func New(cfg *Config, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")

	if cfg == nil {
		logger.Info("kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m, logger: logger}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, using log-only mode")
		return &Publisher{
			principal:          cfg.Principal,
			topicSynthesis:     cfg.TopicSynthesis,
			topicTranscription: cfg.TopicTranscription,
			metrics:            m,
			logger:             logger,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info("kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic_synthesis", cfg.TopicSynthesis,
		"topic_transcription", cfg.TopicTranscription,
	)

	return &Publisher{
		writerSynthesis:     newWriter(cfg.TopicSynthesis),
		writerTranscription: newWriter(cfg.TopicTranscription),
		principal:           cfg.Principal,
		topicSynthesis:      cfg.TopicSynthesis,
		topicTranscription:  cfg.TopicTranscription,
		enabled:             true,
		metrics:             m,
		logger:              logger,
	}
}

// Enabled reports whether events go to Kafka.
func (p *Publisher) Enabled() bool {
	return p != nil && p.enabled
}

// PublishSynthesis publishes a synthesis event keyed by its handle.
func (p *Publisher) PublishSynthesis(ctx context.Context, ev SynthesisEvent) error {
	if p == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return p.publish(ctx, p.writerSynthesis, p.topicSynthesis, ev.Type, ev.Handle, ev)
}

// PublishTranscription publishes a transcription event.
func (p *Publisher) PublishTranscription(ctx context.Context, ev TranscriptionEvent) error {
	if p == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return p.publish(ctx, p.writerTranscription, p.topicTranscription, ev.Type, "", ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", "topic", topic, "error", err)
		return err
	}

	p.logger.Debug("publishing event",
		"principal", p.principal,
		"topic", topic,
		"key", key,
		"payload", string(payload),
	)

	if !p.enabled || writer == nil {
		p.metrics.RecordEventPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to write to kafka", "topic", topic, "key", key, "error", err)
		p.metrics.RecordEventPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordEventPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both writers.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var err error
	for _, w := range []*kafka.Writer{p.writerSynthesis, p.writerTranscription} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			p.logger.Error("error closing kafka writer", "topic", w.Topic, "error", e)
			err = e
		}
	}
	return err
}
