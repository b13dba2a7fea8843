// Package ratelimit provides per-client sliding window request limits
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a client may make another request.
type Limiter interface {
	// Allow records a request for key and reports whether it fits in the window.
	Allow(ctx context.Context, key string) bool
}

// Reporter is implemented by limiters that can summarise their window.
type Reporter interface {
	Stats(ctx context.Context) (Stats, error)
}

// Stats summarises requests currently held in the window.
type Stats struct {
	TotalRequests int `json:"total_requests_last_hour"`
	UniqueClients int `json:"unique_clients_last_hour"`
	StorageSize   int `json:"rate_limit_storage_size"`
}

// SlidingWindow keeps per-key request timestamps in memory.
// A rejected request is not recorded.
type SlidingWindow struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	requests map[string][]time.Time
	now      func() time.Time
}

// NewSlidingWindow allows limit requests per key in any window of the given length.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:    limit,
		window:   window,
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Limit returns the configured request count.
func (s *SlidingWindow) Limit() int { return s.limit }

// Window returns the configured window length.
func (s *SlidingWindow) Window() time.Duration { return s.window }

// prune drops timestamps at or before the window start. Caller holds mu.
func (s *SlidingWindow) prune(key string, now time.Time) []time.Time {
	start := now.Add(-s.window)
	times := s.requests[key]
	i := 0
	for i < len(times) && !times[i].After(start) {
		i++
	}
	times = times[i:]
	s.requests[key] = times
	return times
}

// Allow implements Limiter.
func (s *SlidingWindow) Allow(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	times := s.prune(key, now)
	if len(times) >= s.limit {
		return false
	}
	s.requests[key] = append(times, now)
	return true
}

// Stats reports the requests held in the current window across all keys.
func (s *SlidingWindow) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var st Stats
	for key := range s.requests {
		n := len(s.prune(key, now))
		st.TotalRequests += n
		if n > 0 {
			st.UniqueClients++
		}
	}
	st.StorageSize = len(s.requests)
	return st, nil
}
