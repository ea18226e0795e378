package httpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

// maxErrorBody caps how much of a failed response body is kept for errors.
const maxErrorBody = 512

// StatusError is a non-2xx response. Every status counts as a failed attempt.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("httpc: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("httpc: %s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// FetchExhaustedError is returned after the last attempt failed.
// Err holds the error of that final attempt.
type FetchExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("httpc: %s: gave up after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *FetchExhaustedError) Unwrap() error {
	return e.Err
}

// Observer is notified once per Fetcher call.
// attempts is the number of requests made; err is nil on success.
type Observer interface {
	ObserveFetch(attempts int, err error)
}

// RequestFunc builds a fresh request for each attempt so bodies can be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Fetcher performs requests with a fixed number of attempts and a fixed
// delay between them. It knows nothing about what it fetches.
type Fetcher struct {
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
	observer    Observer
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) FetcherOption {
	return func(f *Fetcher) {
		f.maxAttempts = n
	}
}

// WithRetryDelay sets the fixed wait between attempts.
func WithRetryDelay(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retryDelay = d
	}
}

// WithHTTPClient overrides the shared Client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithObserver registers a fetch observer (metrics).
func WithObserver(o Observer) FetcherOption {
	return func(f *Fetcher) {
		f.observer = o
	}
}

// NewFetcher creates a Fetcher. Defaults: 3 attempts, 1s apart, shared Client.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:      Client,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.maxAttempts < 1 {
		f.maxAttempts = 1
	}
	if f.client == nil {
		f.client = Client
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// MaxAttempts returns the configured attempt bound.
func (f *Fetcher) MaxAttempts() int {
	return f.maxAttempts
}

// Get fetches url and returns the response body.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	return f.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
}

// Do runs build and the resulting request up to MaxAttempts times and returns
// the body of the first 2xx response. When every attempt fails the result is a
// *FetchExhaustedError wrapping the last failure. Context cancellation stops
// retrying immediately and returns the context error.
func (f *Fetcher) Do(ctx context.Context, build RequestFunc) ([]byte, error) {
	var (
		lastErr error
		url     string
	)

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(f.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				f.observe(attempt-1, ctx.Err())
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		req, err := build(ctx)
		if err != nil {
			f.observe(attempt-1, err)
			return nil, fmt.Errorf("httpc: build request: %w", err)
		}
		url = req.URL.String()

		body, err := f.once(req)
		if err == nil {
			if attempt > 1 {
				f.logger.Info("request succeeded after retry", "url", url, "attempt", attempt)
			}
			f.observe(attempt, nil)
			return body, nil
		}
		if ctx.Err() != nil {
			f.observe(attempt, ctx.Err())
			return nil, ctx.Err()
		}

		lastErr = err
		f.logger.Warn("request attempt failed",
			"url", url,
			"attempt", attempt,
			"max_attempts", f.maxAttempts,
			"error", err,
		)
	}

	exhausted := &FetchExhaustedError{URL: url, Attempts: f.maxAttempts, Err: lastErr}
	f.observe(f.maxAttempts, exhausted)
	return nil, exhausted
}

func (f *Fetcher) once(req *http.Request) ([]byte, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpc: read body: %w", err)
	}
	return body, nil
}

func (f *Fetcher) observe(attempts int, err error) {
	if f.observer != nil {
		f.observer.ObserveFetch(attempts, err)
	}
}
