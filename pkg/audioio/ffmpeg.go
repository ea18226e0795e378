package audioio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// startupWindow is how long ffmpeg must stay alive before capture counts as started.
const startupWindow = 250 * time.Millisecond

// FFmpegSource captures PCM16 microphone audio through an ffmpeg subprocess.
type FFmpegSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   *bytes.Buffer
	waitErr  chan error
	streamCh chan AudioChunk
	doneCh   chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewFFmpegSource creates an ffmpeg-backed source.
func NewFFmpegSource(cfg Config, logger *slog.Logger) *FFmpegSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	return &FFmpegSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 50),
	}
}

func (f *FFmpegSource) args() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", f.cfg.InputFormat,
		"-i", f.cfg.Device,
		"-ac", strconv.Itoa(f.cfg.Channels),
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start launches ffmpeg and begins streaming chunks.
func (f *FFmpegSource) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return io.ErrClosedPipe
	}
	if f.running {
		return nil
	}

	cmd := exec.Command(f.cfg.Command, f.args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, trimStderr(&stderr))
		}
		return errors.New("ffmpeg exited before capture started")
	case <-time.After(startupWindow):
	}

	f.cmd = cmd
	f.stdout = stdout
	f.stderr = &stderr
	f.waitErr = waitErr
	f.streamCh = make(chan AudioChunk, 50)
	f.doneCh = make(chan struct{})
	f.running = true

	go f.readLoop(ctx, stdout, f.streamCh, f.doneCh)

	f.logger.Info("ffmpeg audio source started",
		"input_format", f.cfg.InputFormat,
		"device", f.cfg.Device,
		"sample_rate", f.cfg.SampleRate,
	)
	return nil
}

func (f *FFmpegSource) readLoop(ctx context.Context, r io.Reader, out chan AudioChunk, done chan struct{}) {
	defer close(done)
	defer close(out)

	buf := make([]byte, f.cfg.BufferBytes())
	for {
		if ctx.Err() != nil {
			go f.Stop()
			return
		}
		n, err := io.ReadFull(r, buf)
		if n >= 2 {
			chunk := AudioChunk{
				Samples:    BytesToSamples(buf[:n-n%2]),
				SampleRate: f.cfg.SampleRate,
				Channels:   f.cfg.Channels,
			}
			select {
			case out <- chunk:
				f.chunksRead.Add(1)
				f.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				f.overruns.Add(1)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				f.logger.Warn("ffmpeg read failed", "error", err)
			}
			return
		}
	}
}

// Stop interrupts ffmpeg, escalating to kill when it does not exit promptly.
func (f *FFmpegSource) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	cmd, stdout, stderr, waitErr, done := f.cmd, f.stdout, f.stderr, f.waitErr, f.doneCh
	f.mu.Unlock()

	_ = cmd.Process.Signal(os.Interrupt)

	var stopErr error
	select {
	case err, ok := <-waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		if err, ok := <-waitErr; ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if err := stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && stopErr == nil {
		stopErr = err
	}
	<-done

	if stopErr != nil && stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, trimStderr(stderr))
	}
	f.logger.Info("ffmpeg audio source stopped", "chunks", f.chunksRead.Load())
	return stopErr
}

// Read reads the next audio chunk.
func (f *FFmpegSource) Read(ctx context.Context) (AudioChunk, error) {
	f.mu.Lock()
	ch := f.streamCh
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (f *FFmpegSource) Stream() <-chan AudioChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCh
}

// Config returns the audio configuration.
func (f *FFmpegSource) Config() Config {
	return f.cfg
}

// Name returns "ffmpeg".
func (f *FFmpegSource) Name() string {
	return "ffmpeg"
}

// Close stops capture and prevents restarts.
func (f *FFmpegSource) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	return f.Stop()
}

// Stats returns source statistics.
func (f *FFmpegSource) Stats() SourceStats {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()

	return SourceStats{
		ChunksRead:  f.chunksRead.Load(),
		SamplesRead: f.samplesRead.Load(),
		Overruns:    f.overruns.Load(),
		Running:     running,
		Backend:     "ffmpeg",
	}
}

var _ SourceWithStats = (*FFmpegSource)(nil)

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimStderr(b *bytes.Buffer) string {
	return string(bytes.TrimSpace(b.Bytes()))
}
