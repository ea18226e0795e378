package web

import (
	"sync"

	"github.com/teslashibe/go-voicepipe/pkg/tts"
)

// ResultStore keeps only the newest finalized result. Storing a new one
// releases the previous handle.
type ResultStore struct {
	mu     sync.RWMutex
	latest *tts.Result
}

// Put stores r. It returns the released handle, if any, and false when r is
// already the latest result.
func (s *ResultStore) Put(r *tts.Result) (released string, stored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil {
		if s.latest.Handle == r.Handle {
			return "", false
		}
		released = s.latest.Handle
	}
	s.latest = r
	return released, true
}

// Get returns the result for handle while it is still the latest.
func (s *ResultStore) Get(handle string) (*tts.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil || s.latest.Handle != handle {
		return nil, false
	}
	return s.latest, true
}

// Latest returns the newest result or nil.
func (s *ResultStore) Latest() *tts.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}
