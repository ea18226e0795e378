package tts

import (
	"context"
	"net/url"

	"github.com/teslashibe/go-voicepipe/internal/httpc"
)

// SegmentSource retrieves the raw bytes of a segment by identifier.
type SegmentSource interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// SegmentSourceFunc adapts a function to SegmentSource.
type SegmentSourceFunc func(ctx context.Context, id string) ([]byte, error)

// Fetch calls f.
func (f SegmentSourceFunc) Fetch(ctx context.Context, id string) ([]byte, error) {
	return f(ctx, id)
}

// CacheSource fetches segments from the server's segment cache with bounded retry.
type CacheSource struct {
	base    string
	fetcher *httpc.Fetcher
}

// NewCacheSource fetches GET {baseURL}{cachePath}{id}.
func NewCacheSource(baseURL, cachePath string, fetcher *httpc.Fetcher) *CacheSource {
	if fetcher == nil {
		fetcher = httpc.NewFetcher()
	}
	return &CacheSource{
		base:    baseURL + cachePath,
		fetcher: fetcher,
	}
}

// URL returns the fetch URL for id.
func (s *CacheSource) URL(id string) string {
	return s.base + url.PathEscape(id)
}

// Fetch retrieves the segment.
func (s *CacheSource) Fetch(ctx context.Context, id string) ([]byte, error) {
	return s.fetcher.Get(ctx, s.URL(id))
}

var _ SegmentSource = (*CacheSource)(nil)
