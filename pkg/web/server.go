// Package web serves finalized speech for playback and download, accepts
// speak and transcribe requests, and streams session status to browsers.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicepipe/pkg/events"
	"github.com/teslashibe/go-voicepipe/pkg/hub"
	"github.com/teslashibe/go-voicepipe/pkg/metrics"
	"github.com/teslashibe/go-voicepipe/pkg/tts"
)

// Transcriber turns an uploaded audio blob into text.
type Transcriber interface {
	Transcribe(ctx context.Context, blob []byte) (string, error)
}

// ResultInfo describes a finalized result without its audio.
type ResultInfo struct {
	Handle   string   `json:"handle"`
	URL      string   `json:"url"`
	Text     string   `json:"text,omitempty"`
	Segments int      `json:"segments"`
	Dropped  []string `json:"dropped,omitempty"`
	Samples  int      `json:"samples"`
	Duration float64  `json:"duration_seconds"`
}

func newResultInfo(r *tts.Result) *ResultInfo {
	return &ResultInfo{
		Handle:   r.Handle,
		URL:      "/audio/" + r.Handle,
		Text:     r.Text,
		Segments: r.Segments,
		Dropped:  r.Dropped,
		Samples:  r.Samples,
		Duration: r.Duration.Seconds(),
	}
}

// Status is the state shown on /api/status and pushed on /ws/status.
type Status struct {
	Connection     string      `json:"connection"`
	Latest         *ResultInfo `json:"latest,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	LastTranscript string      `json:"last_transcript,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Options wires the server to the rest of the pipeline. Every field is optional.
type Options struct {
	Speaker     tts.Speaker
	Transcriber Transcriber
	Events      *events.Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Server is the playback and status server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	speaker     tts.Speaker
	transcriber Transcriber
	events      *events.Publisher

	results   ResultStore
	statusHub *hub.Hub

	status   Status
	statusMu sync.RWMutex
}

// NewServer creates a server that will listen on addr.
func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	s := &Server{
		addr:        addr,
		logger:      logger.With("component", "web"),
		speaker:     opts.Speaker,
		transcriber: opts.Transcriber,
		events:      opts.Events,
		statusHub:   hub.New("status", logger),
		status: Status{
			Connection: tts.StateClosed.String(),
			UpdatedAt:  time.Now().UTC(),
		},
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicepipe",
		DisableStartupMessage: true,
		BodyLimit:             32 * 1024 * 1024,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/speak", s.handleSpeak)
	api.Post("/transcribe", s.handleTranscribe)

	app.Get("/audio/latest", s.handleLatestAudio)
	app.Get("/audio/:handle", s.handleAudio)

	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.statusHub.Run(hubCtx)

	s.logger.Info("web server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopHub()
	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Status returns a copy of the current status.
func (s *Server) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Server) updateStatus(update func(*Status)) {
	s.statusMu.Lock()
	update(&s.status)
	s.status.UpdatedAt = time.Now().UTC()
	snapshot := s.status
	s.statusMu.Unlock()

	if err := s.statusHub.BroadcastJSON(snapshot); err != nil {
		s.logger.Warn("failed to broadcast status", "error", err)
	}
}

// PublishResult makes r the playable result and announces it. Publishing the
// same result twice is a no-op.
func (s *Server) PublishResult(r *tts.Result) {
	released, stored := s.results.Put(r)
	if !stored {
		return
	}
	if released != "" {
		s.logger.Debug("released previous result", "handle", released)
	}

	s.updateStatus(func(st *Status) {
		st.Latest = newResultInfo(r)
		st.LastError = ""
	})

	err := s.events.PublishSynthesis(context.Background(), events.SynthesisEvent{
		Type:     events.TypeSynthesisCompleted,
		Handle:   r.Handle,
		Text:     r.Text,
		Segments: r.Segments,
		Dropped:  len(r.Dropped),
		Samples:  r.Samples,
		Duration: r.Duration.Seconds(),
	})
	if err != nil {
		s.logger.Warn("failed to publish synthesis event", "error", err)
	}
}

// ReportError records a synthesis failure.
func (s *Server) ReportError(err error) {
	s.updateStatus(func(st *Status) {
		st.LastError = err.Error()
	})
	perr := s.events.PublishSynthesis(context.Background(), events.SynthesisEvent{
		Type:  events.TypeSynthesisFailed,
		Error: err.Error(),
	})
	if perr != nil {
		s.logger.Warn("failed to publish synthesis event", "error", perr)
	}
}

// SetConnectionState records the synthesis channel state.
func (s *Server) SetConnectionState(state tts.ConnectionState) {
	s.updateStatus(func(st *Status) {
		st.Connection = state.String()
	})
}
