// Package httpc holds the HTTP client shared by segment fetches and
// transcription uploads, and the bounded-retry Fetcher built on it.
package httpc

import (
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds one attempt, including reading the body.
	DefaultTimeout = 30 * time.Second

	dialTimeout = 10 * time.Second
	keepAlive   = 30 * time.Second
	idleTimeout = 90 * time.Second

	// Segment fetches fan out to a single cache host, one request per
	// segment of the sentence being assembled.
	maxConnsPerHost = 16
)

// Client is the process-wide client. Never use http.DefaultClient; it has
// no timeout.
var Client = NewClient(DefaultTimeout)

// NewClient returns a client whose attempts give up after timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          4 * maxConnsPerHost,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: DefaultTimeout,
		ExpectContinueTimeout: time.Second,
	}
}
