package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicepipe/internal/httpc"
	"github.com/teslashibe/go-voicepipe/pkg/metrics"
)

type outcome struct {
	result *Result
	err    error
}

// Session owns the synthesis channel and the assembler fed by it.
//
// Run drives the connection state machine: Connecting, Open, Closed, then
// Connecting again after a fixed delay, until its context is cancelled.
// Leaving Open discards any in-progress assembly in the same step.
type Session struct {
	config    *Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	dialer    *websocket.Dialer
	assembler *Assembler

	// Callbacks
	OnResult      func(*Result)              // Called for each finalized result
	OnError       func(err error)            // Called for failures other than channel loss
	OnStateChange func(state ConnectionState) // Called on every state transition

	mu       sync.Mutex
	state    ConnectionState
	conn     *websocket.Conn
	waiter   chan outcome
	reported error
	wakeCh   chan struct{}
	lastErr  error

	writeMu sync.Mutex
}

// NewSession creates a session. Call Run to connect.
func NewSession(opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = httpc.Client
	}
	fetcher := httpc.NewFetcher(
		httpc.WithMaxAttempts(cfg.MaxAttempts),
		httpc.WithRetryDelay(cfg.RetryDelay),
		httpc.WithHTTPClient(client),
		httpc.WithLogger(cfg.Logger.With("component", "tts.fetch")),
		httpc.WithObserver(cfg.Metrics),
	)
	source := NewCacheSource(cfg.HTTPBaseURL(), cfg.CachePath, fetcher)

	s := &Session{
		config:    cfg,
		logger:    cfg.Logger.With("component", "tts.session"),
		metrics:   cfg.Metrics,
		dialer:    dialer,
		assembler: newAssembler(source, cfg),
		state:     StateClosed,
		wakeCh:    make(chan struct{}, 1),
	}
	s.assembler.OnFailure = s.fail
	return s, nil
}

// Assembler returns the session's assembler.
func (s *Session) Assembler() *Assembler {
	return s.assembler
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent reported failure.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Run connects and keeps reconnecting until ctx is cancelled.
// Reconnection is unbounded and uses a fixed delay.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.transition(StateConnecting, nil)

		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("connect failed", "url", s.config.SocketURL(), "error", err)
			}
		} else {
			s.transition(StateOpen, conn)
			s.serve(ctx, conn)
		}

		s.transition(StateClosed, nil)

		if ctx.Err() != nil {
			return nil
		}

		s.logger.Info("reconnecting", "delay", s.config.ReconnectDelay)
		timer := time.NewTimer(s.config.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
		s.metrics.RecordReconnect()
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	url := s.config.SocketURL()
	conn, resp, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	s.logger.Info("websocket connected", "url", url)
	return conn, nil
}

// transition moves to state. Leaving Open discards the in-progress assembly
// and fails the pending waiter before any new state becomes visible.
func (s *Session) transition(state ConnectionState, conn *websocket.Conn) {
	s.mu.Lock()
	if s.state == state && state != StateOpen {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = state

	var waiter chan outcome
	switch state {
	case StateOpen:
		s.conn = conn
	case StateConnecting:
		// A reconnect requested before this attempt is already satisfied.
		select {
		case <-s.wakeCh:
		default:
		}
		fallthrough
	default:
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		if prev == StateOpen {
			s.assembler.Abort(ErrChannelClosed)
			waiter = s.waiter
			s.waiter = nil
			s.reported = nil
		}
	}
	hook := s.OnStateChange
	s.mu.Unlock()

	if waiter != nil {
		waiter <- outcome{err: ErrChannelClosed}
	}

	s.metrics.RecordConnectionState(state.String(), connectionStates)
	s.logger.Debug("state change", "from", prev, "to", state)
	if hook != nil {
		hook(state)
	}
}

// serve runs the read loop until the connection fails or ctx is cancelled.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-serveCtx.Done()
		conn.Close()
	}()
	go s.keepaliveLoop(serveCtx, conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if serveCtx.Err() == nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("websocket read error", "error", err)
				} else {
					s.logger.Info("websocket closed", "error", err)
				}
			}
			return
		}
		s.dispatch(ctx, message)
	}
}

// dispatch routes one notification. It runs on the read loop, so segment
// sequence numbers follow receipt order.
func (s *Session) dispatch(ctx context.Context, message []byte) {
	var n Notification
	if err := json.Unmarshal(message, &n); err != nil {
		s.logger.Warn("failed to parse notification", "error", err)
		return
	}

	switch n.Status {
	case StatusPartial:
		id := SegmentID(n.AudioPath)
		if id == "" {
			s.logger.Warn("partial notification without audio path")
			return
		}
		s.assembler.Add(id, n.Text)

	case StatusComplete:
		// Sealing stays on the read loop; only the grace wait runs aside.
		go s.finalize(ctx, s.assembler.Seal())

	case StatusError:
		err := &ServerError{Message: n.Message}
		s.assembler.Abort(err)
		s.fail(err)

	default:
		s.logger.Debug("ignoring notification", "status", n.Status)
	}
}

func (s *Session) finalize(ctx context.Context, sealed *Sealed) {
	result, err := s.assembler.Finish(ctx, sealed)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(err)
		return
	}

	s.mu.Lock()
	waiter := s.waiter
	s.waiter = nil
	hook := s.OnResult
	s.mu.Unlock()

	if waiter != nil {
		waiter <- outcome{result: result}
	}
	if hook != nil {
		hook(result)
	}
}

// fail reports err once. A segment failure surfaces through the assembler
// hook and again from Finish; a server error surfaces from the notification
// and again from a Finish it aborted. The second report is dropped.
// Channel loss is only reported as a state change.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.reported != nil && errors.Is(err, s.reported) {
		s.reported = nil
		s.mu.Unlock()
		return
	}
	if errors.Is(err, ErrChannelClosed) {
		s.mu.Unlock()
		return
	}
	var (
		seg *SegmentError
		srv *ServerError
	)
	if errors.As(err, &seg) || errors.As(err, &srv) {
		s.reported = err
	}
	s.lastErr = err
	waiter := s.waiter
	s.waiter = nil
	hook := s.OnError
	s.mu.Unlock()

	s.logger.Warn("synthesis failed", "error", err)
	if waiter != nil {
		waiter <- outcome{err: err}
	}
	if hook != nil {
		hook(err)
	}
}

// Synthesize sends text to the server. The result is delivered through
// OnResult. It returns ErrNotReady unless the channel is open.
func (s *Session) Synthesize(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	if s.state != StateOpen || s.conn == nil {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotReady, state)
	}
	conn := s.conn
	s.mu.Unlock()

	return s.send(ctx, conn, Request{Text: text})
}

func (s *Session) send(ctx context.Context, conn *websocket.Conn, req Request) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		s.logger.Error("failed to send text", "error", err)
		conn.Close()
		return fmt.Errorf("tts: send request: %w", err)
	}
	s.logger.Debug("synthesis requested", "chars", len(req.Text))
	return nil
}

// Speak sends text and waits for the finalized result or the failure that
// ended it. Only one Speak may wait at a time.
func (s *Session) Speak(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	ch := make(chan outcome, 1)

	s.mu.Lock()
	if s.state != StateOpen || s.conn == nil {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", ErrNotReady, state)
	}
	if s.waiter != nil {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.waiter = ch
	conn := s.conn
	s.mu.Unlock()

	if err := s.send(ctx, conn, Request{Text: text}); err != nil {
		s.clearWaiter(ch)
		return nil, err
	}

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		s.clearWaiter(ch)
		return nil, ctx.Err()
	}
}

func (s *Session) clearWaiter(ch chan outcome) {
	s.mu.Lock()
	if s.waiter == ch {
		s.waiter = nil
	}
	s.mu.Unlock()
}

// Reconnect drops the current connection, or cuts the reconnect delay short
// when the channel is already closed. It does nothing while a connection
// attempt is in progress.
func (s *Session) Reconnect() {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.mu.Unlock()
		s.logger.Debug("reconnect requested while connecting")
		return
	}
	conn := s.conn
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// keepaliveLoop sends periodic pings to maintain the connection.
func (s *Session) keepaliveLoop(ctx context.Context, conn *websocket.Conn) {
	if s.config.KeepaliveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Warn("keepalive ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}
