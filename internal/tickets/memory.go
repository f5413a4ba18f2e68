package tickets

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/triage/internal/support"
)

// MemoryStore keeps tickets in memory. Useful for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	tickets []Ticket
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Insert implements support.TicketStore.
func (s *MemoryStore) Insert(ctx context.Context, rec support.TicketRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validate(rec); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	for _, t := range s.tickets {
		if t.ID == rec.ID {
			return "", ErrDuplicate
		}
	}

	t := Ticket{
		TicketRecord: rec,
		DisplayID:    displayID(int64(len(s.tickets) + 1)),
		CreatedAt:    s.now().UTC(),
	}
	s.tickets = append(s.tickets, t)
	return t.DisplayID, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	out := []Ticket{}
	for _, t := range slices.Backward(s.tickets) {
		if !f.matches(t) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Summary implements Store.
func (s *MemoryStore) Summary(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Summary{}, ErrClosed
	}

	sum := newSummary()
	for _, t := range s.tickets {
		sum.add(t.Topic, t.Sentiment, t.Priority, 1)
	}
	return sum, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
