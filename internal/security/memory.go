package security

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with in-process fixed windows. Counters are
// per-instance, so the attempt budget only holds per node; use RedisStore
// when running more than one replica.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
}

type window struct {
	count   int64
	members map[string]struct{}
	resetAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Incr increments the counter for key, rotating the window when it has
// elapsed.
func (s *MemoryStore) Incr(_ context.Context, key string, dur time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.current(key, dur)
	w.count++
	return w.count, w.resetAt, nil
}

// AddDistinct records member under key and returns the distinct member count
// within the current window.
func (s *MemoryStore) AddDistinct(_ context.Context, key, member string, dur time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.current(key, dur)
	if w.members == nil {
		w.members = make(map[string]struct{})
	}
	w.members[member] = struct{}{}
	return int64(len(w.members)), nil
}

// current returns the live window for key, creating or rotating as needed.
// Caller must hold s.mu.
func (s *MemoryStore) current(key string, dur time.Duration) *window {
	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(dur)}
		s.windows[key] = w
	}
	return w
}

// Cleanup removes expired windows. Call periodically from a background
// goroutine on long-running instances.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
}

// StartCleanup evicts expired windows every interval until ctx is cancelled.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}
