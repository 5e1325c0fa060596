package eventlog

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory
type MemoryStore struct {
	opts Options

	mu      sync.RWMutex
	entries []Entry // oldest first
	closed  bool
	done    chan struct{}
}

// NewMemoryStore creates a new in-memory event log
func NewMemoryStore(opts Options) *MemoryStore {
	ms := &MemoryStore{
		opts: opts.withDefaults(),
		done: make(chan struct{}),
	}

	go ms.cleanup(time.Minute)

	return ms
}

// Append stores an entry, evicting the oldest beyond capacity
func (m *MemoryStore) Append(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.entries = append(m.entries, entry)
	if over := len(m.entries) - m.opts.Capacity; over > 0 {
		m.entries = append([]Entry(nil), m.entries[over:]...)
	}
	return nil
}

// Recent returns unexpired entries, newest first
func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	cutoff := time.Now().Add(-m.opts.TTL)
	out := make([]Entry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if m.entries[i].ReceivedAt.Before(cutoff) {
			continue
		}
		out = append(out, m.entries[i])
	}
	return out, nil
}

// cleanup periodically removes expired entries
func (m *MemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.expire(time.Now())
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) expire(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.opts.TTL)
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.ReceivedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}

// Close stops the cleanup goroutine
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}
