package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicepipe/pkg/audioio"
	"github.com/teslashibe/go-voicepipe/pkg/metrics"
	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

type slotState int

const (
	slotPending slotState = iota
	slotResolved
	slotFailed
)

type slot struct {
	id       string
	text     string
	state    slotState
	samples  []float32
	received time.Time
}

// assembly is the state of one synthesis request. Slots are indexed by
// sequence number and reserved when the notification arrives.
type assembly struct {
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	slots   []slot
	pending int
	sealed  bool

	// err is set once the assembly failed or was aborted.
	err error
	// discarded is set once no goroutine may write into the assembly.
	discarded bool

	wake     chan struct{}
	wakeOnce sync.Once
}

func newAssembly() *assembly {
	ctx, cancel := context.WithCancel(context.Background())
	return &assembly{
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
		wake:    make(chan struct{}),
	}
}

func (a *assembly) signal() {
	a.wakeOnce.Do(func() { close(a.wake) })
}

// discard cancels in-flight work and releases buffered samples.
func (a *assembly) discard() {
	a.discarded = true
	a.cancel()
	a.slots = nil
	a.pending = 0
	a.signal()
}

// Assembler turns segment notifications that complete in any order into a
// single waveform ordered by notification receipt.
type Assembler struct {
	src     SegmentSource
	decoder wav.Decoder
	rate    int
	grace   time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	// OnFailure is called, outside the lock, when a segment failure aborts
	// the current assembly.
	OnFailure func(err error)

	mu         sync.Mutex
	current    *assembly
	finalizing map[*assembly]struct{}
}

// Sealed is an assembly closed to further segments and waiting to be
// finalized with Finish.
type Sealed struct {
	a   *assembly
	err error
}

// NewAssembler creates an assembler reading segments from src.
func NewAssembler(src SegmentSource, opts ...Option) *Assembler {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	return newAssembler(src, cfg)
}

func newAssembler(src SegmentSource, cfg *Config) *Assembler {
	decoder := cfg.Decoder
	if decoder == nil {
		decoder = wav.DefaultDecoder
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		src:     src,
		decoder: decoder,
		rate:    cfg.TargetRate,
		grace:   cfg.GracePeriod,
		logger:  logger.With("component", "tts.assembler"),
		metrics: cfg.Metrics,

		finalizing: make(map[*assembly]struct{}),
	}
}

// Add registers a segment notification and starts fetching it. It returns
// the sequence number reserved for the segment, or -1 when the current
// assembly has already failed and the notification is ignored.
func (as *Assembler) Add(id, text string) int {
	as.mu.Lock()
	if as.current == nil {
		as.current = newAssembly()
	}
	a := as.current
	if a.err != nil {
		as.mu.Unlock()
		as.logger.Debug("ignoring segment for failed assembly", "id", id)
		return -1
	}

	seq := len(a.slots)
	a.slots = append(a.slots, slot{
		id:       id,
		text:     text,
		state:    slotPending,
		received: time.Now(),
	})
	a.pending++
	as.mu.Unlock()

	as.logger.Debug("segment queued", "sequence", seq, "id", id)
	go as.process(a, seq, id)
	return seq
}

// process runs fetch, decode and resample for one segment and records the
// outcome in the slot reserved for it.
func (as *Assembler) process(a *assembly, seq int, id string) {
	samples, err := as.load(a.ctx, id)

	as.mu.Lock()
	if a.discarded || a.err != nil {
		as.mu.Unlock()
		as.metrics.RecordSegment("discarded", 0)
		return
	}

	s := &a.slots[seq]
	if err != nil {
		s.state = slotFailed
		a.pending--
		failure := &SegmentError{Sequence: seq, ID: id, Err: err}
		a.err = failure
		a.discard()
		hook := as.OnFailure
		as.mu.Unlock()

		as.metrics.RecordSegment("failed", 0)
		as.metrics.RecordAssembly("failed", 0)
		as.logger.Error("segment failed, assembly aborted", "sequence", seq, "id", id, "error", err)
		if hook != nil {
			hook(failure)
		}
		return
	}

	s.state = slotResolved
	s.samples = samples
	a.pending--
	latency := time.Since(s.received)
	if a.sealed && a.pending == 0 {
		a.signal()
	}
	as.mu.Unlock()

	as.metrics.RecordSegment("resolved", latency.Seconds())
	as.logger.Debug("segment resolved", "sequence", seq, "id", id, "samples", len(samples), "latency", latency)
}

func (as *Assembler) load(ctx context.Context, id string) ([]float32, error) {
	data, err := as.src.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	audio, err := as.decoder.Decode(data)
	if err != nil {
		return nil, err
	}
	// A payload too short to survive resampling is as empty as no payload.
	if audioio.ResampledLength(len(audio.Samples), audio.SampleRate, as.rate) == 0 {
		return nil, ErrEmptyAudio
	}
	return audioio.Resample(audio.Samples, audio.SampleRate, as.rate), nil
}

// Seal closes the current assembly: the next Add starts a new one. It must
// be called in notification order, so a segment of the next request can never
// join this one. Pass the result to Finish.
func (as *Assembler) Seal() *Sealed {
	as.mu.Lock()
	defer as.mu.Unlock()

	a := as.current
	as.current = nil
	if a == nil {
		return &Sealed{}
	}
	if a.err != nil {
		a.discard()
		return &Sealed{err: a.err}
	}
	a.sealed = true
	as.finalizing[a] = struct{}{}
	if a.pending == 0 {
		a.signal()
	}
	return &Sealed{a: a}
}

// Complete seals the current assembly and finalizes it.
func (as *Assembler) Complete(ctx context.Context) (*Result, error) {
	return as.Finish(ctx, as.Seal())
}

// Finish finalizes a sealed assembly. Pending segments get up to the grace
// period to resolve; any still pending are dropped with a warning. It fails
// with ErrEmptyResult when nothing resolved and with the original error when
// the assembly failed or was aborted.
func (as *Assembler) Finish(ctx context.Context, sealed *Sealed) (*Result, error) {
	if sealed == nil || sealed.a == nil {
		if sealed != nil && sealed.err != nil {
			return nil, sealed.err
		}
		as.metrics.RecordAssembly("empty", 0)
		return nil, ErrEmptyResult
	}
	a := sealed.a

	as.mu.Lock()
	pending := a.pending
	as.mu.Unlock()

	if pending > 0 {
		as.logger.Debug("waiting for pending segments", "pending", pending, "grace", as.grace)
		timer := time.NewTimer(as.grace)
		select {
		case <-a.wake:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	as.mu.Lock()
	delete(as.finalizing, a)
	if a.err != nil {
		err := a.err
		a.discard()
		as.mu.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		a.discard()
		as.mu.Unlock()
		as.metrics.RecordAssembly("aborted", 0)
		return nil, err
	}

	var (
		parts   [][]float32
		texts   []string
		dropped []string
		total   int
	)
	for _, s := range a.slots {
		switch s.state {
		case slotResolved:
			parts = append(parts, s.samples)
			total += len(s.samples)
			if s.text != "" {
				texts = append(texts, s.text)
			}
		case slotPending:
			dropped = append(dropped, s.id)
		}
	}
	started := a.started
	a.discard()
	as.mu.Unlock()

	for range dropped {
		as.metrics.RecordSegment("dropped", 0)
	}
	if len(dropped) > 0 {
		as.logger.Warn("segments still pending after grace period were dropped",
			"dropped", dropped,
			"grace", as.grace,
		)
	}

	if len(parts) == 0 {
		as.metrics.RecordAssembly("empty", 0)
		return nil, ErrEmptyResult
	}

	samples := make([]float32, 0, total)
	for _, p := range parts {
		samples = append(samples, p...)
	}

	result := &Result{
		Handle:     uuid.NewString(),
		WAV:        wav.Encode(samples, as.rate),
		SampleRate: as.rate,
		Samples:    len(samples),
		Duration:   time.Duration(float64(len(samples)) / float64(as.rate) * float64(time.Second)),
		Segments:   len(parts),
		Dropped:    dropped,
		Text:       strings.Join(texts, " "),
	}

	as.metrics.RecordAssembly("complete", result.Duration.Seconds())
	as.logger.Info("assembly complete",
		"handle", result.Handle,
		"segments", result.Segments,
		"dropped", len(dropped),
		"samples", result.Samples,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return result, nil
}

// Abort discards the current assembly, and every assembly waiting in Finish,
// unconditionally. A waiting Finish returns reason.
func (as *Assembler) Abort(reason error) {
	if reason == nil {
		reason = errors.New("tts: assembly aborted")
	}

	as.mu.Lock()
	var aborted int
	abort := func(a *assembly) {
		if a == nil || a.discarded {
			return
		}
		if a.err == nil {
			a.err = reason
		}
		a.discard()
		aborted++
	}
	abort(as.current)
	for a := range as.finalizing {
		abort(a)
	}
	as.current = nil
	clear(as.finalizing)
	as.mu.Unlock()

	if aborted > 0 {
		as.metrics.RecordAssembly("aborted", 0)
		as.logger.Info("assembly aborted", "reason", reason)
	}
}

// Pending returns the number of unresolved segments in the current assembly.
func (as *Assembler) Pending() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.current == nil {
		return 0
	}
	return as.current.pending
}

// Resolved returns the number of resolved segments in the current assembly.
func (as *Assembler) Resolved() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.current == nil {
		return 0
	}
	n := 0
	for _, s := range as.current.slots {
		if s.state == slotResolved {
			n++
		}
	}
	return n
}

// Failed returns the error of the current assembly, if it failed.
func (as *Assembler) Failed() error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.current == nil {
		return nil
	}
	return as.current.err
}
