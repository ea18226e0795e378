package tts_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicepipe/pkg/tts"
	"github.com/teslashibe/go-voicepipe/pkg/wav"
)

// fakeServer speaks the synthesis protocol: a websocket at /tts-ws that
// answers each request with scripted notifications, and a segment cache.
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	segments  map[string][]byte
	status    map[string]int
	delays    map[string]time.Duration
	script    func(conn *websocket.Conn, text string)
	hangUp    bool
	handshake time.Duration
	live      []*websocket.Conn
	connects  []time.Time
	hangUps   []time.Time
	requests  []string
	cacheHits map[string]int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		segments:  make(map[string][]byte),
		status:    make(map[string]int),
		delays:    make(map[string]time.Duration),
		cacheHits: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/tts-ws", f.handleSocket)
	mux.HandleFunc("/cache/", f.handleCache)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// partials answers every request with one partial per id, then complete.
func partials(ids ...string) func(conn *websocket.Conn, text string) {
	return func(conn *websocket.Conn, text string) {
		for _, id := range ids {
			conn.WriteJSON(tts.Notification{
				Status:    tts.StatusPartial,
				AudioPath: "/srv/tts/cache/" + id,
			})
		}
		conn.WriteJSON(tts.Notification{Status: tts.StatusComplete})
	}
}

func (f *fakeServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	handshake := f.handshake
	f.mu.Unlock()
	if handshake > 0 {
		time.Sleep(handshake)
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.live = append(f.live, conn)
	f.connects = append(f.connects, time.Now())
	hangUp := f.hangUp
	if hangUp {
		f.hangUps = append(f.hangUps, time.Now())
	}
	f.mu.Unlock()
	if hangUp {
		return
	}

	for {
		var req tts.Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req.Text)
		script := f.script
		f.mu.Unlock()
		if script != nil {
			script(conn, req.Text)
		}
	}
}

func (f *fakeServer) handleCache(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/cache/")

	f.mu.Lock()
	f.cacheHits[id]++
	data, ok := f.segments[id]
	status := f.status[id]
	delay := f.delays[id]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Write(data)
}

// drop closes every accepted connection and returns when it happened.
func (f *fakeServer) drop() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.live {
		c.Close()
	}
	f.live = nil
	return time.Now()
}

func (f *fakeServer) hits(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cacheHits[id]
}

func newSession(t *testing.T, f *fakeServer, opts ...tts.Option) *tts.Session {
	t.Helper()
	base := []tts.Option{
		tts.WithBaseURL(f.srv.URL),
		tts.WithReconnectDelay(50 * time.Millisecond),
		tts.WithRetry(3, 5*time.Millisecond),
		tts.WithLogger(quietLogger()),
	}
	s, err := tts.NewSession(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

// run drives s until the test ends. Callbacks must be set before.
func run(t *testing.T, s *tts.Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitForState(t *testing.T, s *tts.Session, want tts.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session did not reach %s, stuck in %s", want, s.State())
}

func TestSession_NotReadyBeforeRun(t *testing.T) {
	f := newFakeServer(t)
	s, err := tts.NewSession(tts.WithBaseURL(f.srv.URL), tts.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if s.State() != tts.StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
	if err := s.Synthesize(context.Background(), "hello"); !errors.Is(err, tts.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if _, err := s.Speak(context.Background(), "hello"); !errors.Is(err, tts.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if s.Assembler().Pending() != 0 {
		t.Error("expected no assembler state")
	}
}

func TestSession_RejectsEmptyText(t *testing.T) {
	f := newFakeServer(t)
	s := newSession(t, f)
	run(t, s)
	waitForState(t, s, tts.StateOpen)

	if _, err := s.Speak(context.Background(), "   "); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestSession_SpeakAssemblesSegments(t *testing.T) {
	f := newFakeServer(t)
	f.segments["one.wav"] = wav.Encode(constant(11025, 0.25), 22050)
	f.segments["two.wav"] = wav.Encode(constant(12000, -0.25), 24000)
	// The first segment resolves last.
	f.delays["one.wav"] = 80 * time.Millisecond
	f.script = partials("one.wav", "two.wav")

	s := newSession(t, f)
	results := make(chan *tts.Result, 1)
	s.OnResult = func(r *tts.Result) { results <- r }
	run(t, s)

	waitForState(t, s, tts.StateOpen)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result, err := s.Speak(ctx, "Hello there")
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if result.Samples != 16000 || len(result.WAV) != 32044 {
		t.Errorf("expected 16000 samples / 32044 bytes, got %d / %d", result.Samples, len(result.WAV))
	}
	audio, err := wav.Decode(result.WAV)
	if err != nil {
		t.Fatalf("result is not valid WAV: %v", err)
	}
	if audio.Samples[100] <= 0 || audio.Samples[15900] >= 0 {
		t.Error("segments are not in notification order")
	}

	select {
	case r := <-results:
		if r.Handle != result.Handle {
			t.Error("OnResult got a different result")
		}
	case <-time.After(time.Second):
		t.Error("OnResult was not called")
	}

	if f.hits("one.wav") != 1 || f.hits("two.wav") != 1 {
		t.Errorf("expected one fetch per segment, got %d and %d", f.hits("one.wav"), f.hits("two.wav"))
	}
}

func TestSession_ServerError(t *testing.T) {
	f := newFakeServer(t)
	f.script = func(conn *websocket.Conn, text string) {
		conn.WriteJSON(tts.Notification{Status: tts.StatusError, Message: "voice not found"})
	}

	s := newSession(t, f)
	errs := make(chan error, 2)
	s.OnError = func(err error) { errs <- err }
	run(t, s)
	waitForState(t, s, tts.StateOpen)

	_, err := s.Speak(context.Background(), "hello")
	var serverErr *tts.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serverErr.Message != "voice not found" {
		t.Errorf("unexpected message %q", serverErr.Message)
	}
	if !errors.As(s.LastError(), &serverErr) {
		t.Errorf("expected LastError to record the failure, got %v", s.LastError())
	}
	if s.State() != tts.StateOpen {
		t.Errorf("server error should not close the channel, state %s", s.State())
	}
	<-errs
}

func TestSession_FetchFailureReportedOnce(t *testing.T) {
	f := newFakeServer(t)
	f.status["bad.wav"] = http.StatusInternalServerError
	f.script = partials("bad.wav")

	s := newSession(t, f, tts.WithGracePeriod(time.Second))

	var mu sync.Mutex
	var reported []error
	s.OnError = func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}
	run(t, s)
	waitForState(t, s, tts.StateOpen)

	_, err := s.Speak(context.Background(), "hello")
	var exhausted *tts.FetchExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected FetchExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", exhausted.Attempts)
	}
	if f.hits("bad.wav") != 3 {
		t.Errorf("expected 3 cache hits, got %d", f.hits("bad.wav"))
	}

	// Let the complete notification finish.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Errorf("expected the failure reported once, got %d: %v", len(reported), reported)
	}
}

func TestSession_ChannelLossDiscardsAssembly(t *testing.T) {
	f := newFakeServer(t)
	f.segments["slow.wav"] = wav.Encode(constant(1600, 0.1), 16000)
	f.delays["slow.wav"] = 500 * time.Millisecond
	f.script = func(conn *websocket.Conn, text string) {
		conn.WriteJSON(tts.Notification{Status: tts.StatusPartial, AudioPath: "/srv/tts/cache/slow.wav"})
		time.Sleep(20 * time.Millisecond)
		conn.Close()
	}

	s := newSession(t, f, tts.WithReconnectDelay(time.Second))
	errs := make(chan error, 1)
	s.OnError = func(err error) { errs <- err }
	run(t, s)
	waitForState(t, s, tts.StateOpen)

	_, err := s.Speak(context.Background(), "hello")
	if !errors.Is(err, tts.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if s.State() == tts.StateOpen {
		t.Error("expected session to have left open")
	}
	if s.Assembler().Pending() != 0 {
		t.Errorf("expected assembly discarded, %d pending", s.Assembler().Pending())
	}

	select {
	case err := <-errs:
		t.Errorf("channel loss should not be reported through OnError: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_ReconnectsAfterFixedDelay(t *testing.T) {
	const delay = 200 * time.Millisecond

	f := newFakeServer(t)
	f.hangUp = true

	run(t, newSession(t, f, tts.WithReconnectDelay(delay)))

	deadline := time.Now().Add(3 * time.Second)
	for {
		f.mu.Lock()
		n := len(f.connects)
		f.mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 connection attempts, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 1; i < 3; i++ {
		gap := f.connects[i].Sub(f.hangUps[i-1])
		if gap < delay {
			t.Errorf("reconnect %d after %v, before the %v delay", i, gap, delay)
		}
		if gap > delay+time.Second {
			t.Errorf("reconnect %d took %v", i, gap)
		}
	}
}

func (f *fakeServer) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		ok := cond()
		f.mu.Unlock()
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_ReconnectCutsDelayShort(t *testing.T) {
	f := newFakeServer(t)
	s := newSession(t, f, tts.WithReconnectDelay(time.Hour))
	run(t, s)
	waitForState(t, s, tts.StateOpen)

	s.Reconnect()
	f.waitFor(t, "second connection", func() bool { return len(f.connects) >= 2 })
	waitForState(t, s, tts.StateOpen)
}

func TestSession_BusyWhileWaiting(t *testing.T) {
	f := newFakeServer(t)
	// Never answer.
	f.script = func(conn *websocket.Conn, text string) {}

	s := newSession(t, f)
	run(t, s)
	waitForState(t, s, tts.StateOpen)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Speak(ctx, "first")
		first <- err
	}()
	f.waitFor(t, "first request", func() bool { return len(f.requests) == 1 })

	if _, err := s.Speak(context.Background(), "second"); !errors.Is(err, tts.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSession_BackToBackRequestsStaySeparate(t *testing.T) {
	f := newFakeServer(t)
	f.segments["a.wav"] = wav.Encode(constant(160, 0.1), 16000)
	f.segments["b.wav"] = wav.Encode(constant(320, 0.2), 16000)
	f.script = func(conn *websocket.Conn, text string) {
		partials(text+".wav")(conn, text)
	}

	s := newSession(t, f)
	results := make(chan *tts.Result, 4)
	errs := make(chan error, 4)
	s.OnResult = func(r *tts.Result) { results <- r }
	s.OnError = func(err error) { errs <- err }
	run(t, s)
	waitForState(t, s, tts.StateOpen)

	ctx := context.Background()
	for round := 0; round < 20; round++ {
		if err := s.Synthesize(ctx, "a"); err != nil {
			t.Fatalf("round %d: Synthesize failed: %v", round, err)
		}
		if err := s.Synthesize(ctx, "b"); err != nil {
			t.Fatalf("round %d: Synthesize failed: %v", round, err)
		}

		got := map[int]int{}
		for i := 0; i < 2; i++ {
			select {
			case r := <-results:
				if r.Segments != 1 {
					t.Fatalf("round %d: requests merged into %d segments", round, r.Segments)
				}
				got[r.Samples]++
			case err := <-errs:
				t.Fatalf("round %d: unexpected failure: %v", round, err)
			case <-time.After(2 * time.Second):
				t.Fatalf("round %d: result %d missing", round, i)
			}
		}
		if got[160] != 1 || got[320] != 1 {
			t.Fatalf("round %d: expected one result per request, got %v", round, got)
		}
	}
}

func TestSession_ReconnectWhileConnectingKeepsDelay(t *testing.T) {
	const delay = 300 * time.Millisecond

	f := newFakeServer(t)
	f.handshake = 150 * time.Millisecond

	s := newSession(t, f, tts.WithReconnectDelay(delay))
	run(t, s)
	waitForState(t, s, tts.StateConnecting)

	if err := s.Synthesize(context.Background(), "hello"); !errors.Is(err, tts.ErrNotReady) {
		t.Fatalf("expected ErrNotReady while connecting, got %v", err)
	}
	s.Reconnect()

	waitForState(t, s, tts.StateOpen)
	f.waitFor(t, "accepted connection", func() bool { return len(f.live) == 1 })
	f.mu.Lock()
	f.handshake = 0
	f.mu.Unlock()

	lost := f.drop()
	f.waitFor(t, "reconnection", func() bool { return len(f.connects) >= 2 })

	f.mu.Lock()
	gap := f.connects[1].Sub(lost)
	f.mu.Unlock()
	if gap < delay {
		t.Errorf("reconnected %v after channel loss, before the %v delay", gap, delay)
	}
}

func TestSession_ServerErrorDuringGraceReportedOnce(t *testing.T) {
	f := newFakeServer(t)
	f.segments["slow.wav"] = wav.Encode(constant(160, 0.1), 16000)
	f.delays["slow.wav"] = 300 * time.Millisecond
	f.script = func(conn *websocket.Conn, text string) {
		conn.WriteJSON(tts.Notification{Status: tts.StatusPartial, AudioPath: "/srv/tts/cache/slow.wav"})
		conn.WriteJSON(tts.Notification{Status: tts.StatusComplete})
		time.Sleep(50 * time.Millisecond)
		conn.WriteJSON(tts.Notification{Status: tts.StatusError, Message: "boom"})
	}

	s := newSession(t, f, tts.WithGracePeriod(time.Second))

	var mu sync.Mutex
	var reported []error
	s.OnError = func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}
	run(t, s)
	waitForState(t, s, tts.StateOpen)

	_, err := s.Speak(context.Background(), "hello")
	var serverErr *tts.ServerError
	if !errors.As(err, &serverErr) || serverErr.Message != "boom" {
		t.Fatalf("expected ServerError boom, got %v", err)
	}

	// Let the aborted finalization return.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Errorf("expected the server error reported once, got %d: %v", len(reported), reported)
	}
}
