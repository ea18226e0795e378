package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-voicepipe/internal/config"
	"github.com/teslashibe/go-voicepipe/internal/log"
	"github.com/teslashibe/go-voicepipe/pkg/asr"
	"github.com/teslashibe/go-voicepipe/pkg/audioio"
	"github.com/teslashibe/go-voicepipe/pkg/events"
	"github.com/teslashibe/go-voicepipe/pkg/metrics"
	"github.com/teslashibe/go-voicepipe/pkg/tts"
	"github.com/teslashibe/go-voicepipe/pkg/web"
)

// connectTimeout bounds how long one-shot commands wait for the channel.
const connectTimeout = 15 * time.Second

// App wires configuration to the pipeline components.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  *events.Publisher
}

func newApp(cfg *config.Config) *App {
	logger := log.L()
	m := metrics.DefaultMetrics
	return &App{
		cfg:     cfg,
		logger:  logger.With("component", "app"),
		metrics: m,
		events:  events.New(&cfg.Events, m, logger),
	}
}

// Close flushes the event publisher.
func (a *App) Close() {
	if err := a.events.Close(); err != nil {
		a.logger.Warn("failed to close event publisher", "error", err)
	}
}

func (a *App) newSession() (*tts.Session, error) {
	c := a.cfg
	return tts.NewSession(
		tts.WithBaseURL(c.Server.URL),
		tts.WithPaths(c.TTS.SocketPath, c.TTS.CachePath),
		tts.WithReconnectDelay(c.TTS.ReconnectDelay),
		tts.WithKeepalive(c.TTS.Keepalive),
		tts.WithGracePeriod(c.TTS.GracePeriod),
		tts.WithRetry(c.Retry.MaxAttempts, c.Retry.Delay),
		tts.WithLogger(log.L()),
		tts.WithMetrics(a.metrics),
	)
}

func (a *App) newTranscriber() (*asr.Transcriber, error) {
	c := a.cfg
	return asr.New(
		asr.WithBaseURL(c.Server.URL),
		asr.WithPath(c.ASR.Path),
		asr.WithRetry(c.Retry.MaxAttempts, c.Retry.Delay),
		asr.WithLogger(log.L()),
		asr.WithMetrics(a.metrics),
		asr.WithEvents(a.events),
	)
}

// Speak synthesizes text once and writes the result to out.
func (a *App) Speak(ctx context.Context, text, out string) error {
	session, err := a.newSession()
	if err != nil {
		return err
	}

	opened := make(chan struct{}, 1)
	session.OnStateChange = func(state tts.ConnectionState) {
		if state == tts.StateOpen {
			select {
			case opened <- struct{}{}:
			default:
			}
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go session.Run(runCtx)

	select {
	case <-opened:
	case <-time.After(connectTimeout):
		return fmt.Errorf("voice server at %s not reachable: %w", a.cfg.Server.URL, tts.ErrNotReady)
	case <-ctx.Done():
		return ctx.Err()
	}

	result, err := session.Speak(ctx, text)
	if err != nil {
		return err
	}
	if out == "" {
		out = result.Handle + ".wav"
	}
	if err := writeOutput(out, result.WAV); err != nil {
		return err
	}
	a.logger.Info("speech written",
		"path", out,
		"segments", result.Segments,
		"dropped", len(result.Dropped),
		"duration", result.Duration,
	)
	return nil
}

// TranscribeFile prints the transcript of path.
func (a *App) TranscribeFile(ctx context.Context, path string) error {
	t, err := a.newTranscriber()
	if err != nil {
		return err
	}
	text, err := t.TranscribeFile(ctx, path)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// Record captures d of audio, writes it to out and optionally transcribes it.
func (a *App) Record(ctx context.Context, d time.Duration, out string, transcribe bool) error {
	src, err := audioio.NewSource(a.cfg.Audio, log.L())
	if err != nil {
		return err
	}
	defer src.Close()

	a.logger.Info("recording", "source", src.Name(), "duration", d)
	blob, err := audioio.NewRecorder(src, log.L()).Record(ctx, d)
	if err != nil {
		return err
	}

	if out == "" {
		out = "recording.wav"
	}
	if err := writeOutput(out, blob); err != nil {
		return err
	}

	if !transcribe {
		return nil
	}
	t, err := a.newTranscriber()
	if err != nil {
		return err
	}
	text, err := t.Transcribe(ctx, blob)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// Serve runs the synthesis session and the web server until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	session, err := a.newSession()
	if err != nil {
		return err
	}
	transcriber, err := a.newTranscriber()
	if err != nil {
		return err
	}

	srv := web.NewServer(a.cfg.Web.Addr, web.Options{
		Speaker:     session,
		Transcriber: transcriber,
		Events:      a.events,
		Metrics:     a.metrics,
		Logger:      log.L(),
	})
	session.OnResult = srv.PublishResult
	session.OnError = srv.ReportError
	session.OnStateChange = srv.SetConnectionState

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	a.logger.Info("serving", "addr", a.cfg.Web.Addr, "server", a.cfg.Server.URL)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
