package admission

import (
	"context"
	"sync"
	"time"
)

// sweepInterval is how often the janitor removes expired window entries.
const sweepInterval = 5 * time.Minute

// CounterStore is the shared fixed-window counter. Increment must be atomic
// check-and-increment: two concurrent callers for the same key in the same
// window must never both observe a zero count. The interface is injectable
// so a distributed deployment can swap in an external counter service
// without touching the controller.
type CounterStore interface {
	// Increment bumps the counter for key, creating a fresh window entry
	// that expires after window if none exists, and returns the new count
	// and the entry's reset time.
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)

	// Sweep removes every entry whose reset time is at or before now.
	Sweep(now time.Time)
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the process-local CounterStore: one mutex-guarded map.
// The lock covers only the read-check-increment, never any I/O.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Increment implements CounterStore. An entry whose reset time has passed
// is treated as absent and replaced.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || !ent.resetAt.After(now) {
		ent = &windowEntry{resetAt: now.Add(window)}
		s.entries[key] = ent
	}
	ent.count++
	return ent.count, ent.resetAt, nil
}

// Sweep implements CounterStore: a single linear pass under the lock,
// deleting expired entries. Idempotent; a no-op on an empty store.
func (s *MemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, ent := range s.entries {
		if !ent.resetAt.After(now) {
			delete(s.entries, key)
		}
	}
}

// Len reports the number of live entries. Expired entries still count until
// swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor sweeps expired entries every five minutes until the context
// is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep(s.now())
			}
		}
	}()
}
