package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps events in process memory. It backs the "memory"
// backend used for smoke runs and is the reference implementation of the
// search window.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	seq    int
	order  []string
	events map[string]Event
}

// NewMemoryStore returns an empty store. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, events: make(map[string]Event)}
}

func (m *MemoryStore) FindByContentHash(_ context.Context, hash string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, id := range m.order {
		ev := m.events[id]
		if ev.ContentHash() == hash && inWindow(ev.Start, now) {
			out := ev
			out.Annotations = ev.Annotations.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Create(_ context.Context, ev Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	ev.ID = fmt.Sprintf("mem-%d", m.seq)
	ev.Annotations = ev.Annotations.Clone()
	m.events[ev.ID] = ev
	m.order = append(m.order, ev.ID)
	return ev.ID, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[id]; !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	ev.ID = id
	ev.Annotations = ev.Annotations.Clone()
	m.events[id] = ev
	return nil
}

// Events returns a snapshot in insertion order.
func (m *MemoryStore) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.events[id])
	}
	return out
}

// Len returns the number of stored events.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
