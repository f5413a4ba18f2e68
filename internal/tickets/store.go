// Package tickets persists support tickets.
//
// Every backend hands out sequential display ids ("TICKET-1", "TICKET-2",
// ...) and satisfies support.TicketStore.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/triage/internal/support"
)

// DisplayPrefix starts every display id.
const DisplayPrefix = "TICKET-"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("ticket store closed")

// ErrDuplicate is returned when a ticket id is already stored.
var ErrDuplicate = errors.New("duplicate ticket id")

// Ticket is a stored ticket.
type Ticket struct {
	support.TicketRecord
	DisplayID string    `json:"display_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Topic    string
	Priority string

	// Limit caps the result; 0 means no limit.
	Limit int
}

func (f Filter) matches(t Ticket) bool {
	return (f.Topic == "" || t.Topic == f.Topic) &&
		(f.Priority == "" || t.Priority == f.Priority)
}

// Summary counts tickets, the data behind the ticket dashboard.
type Summary struct {
	Total       int            `json:"total"`
	ByTopic     map[string]int `json:"by_topic"`
	BySentiment map[string]int `json:"by_sentiment"`
	ByPriority  map[string]int `json:"by_priority"`
}

func newSummary() Summary {
	return Summary{
		ByTopic:     make(map[string]int),
		BySentiment: make(map[string]int),
		ByPriority:  make(map[string]int),
	}
}

func (s *Summary) add(topic, sentiment, priority string, n int) {
	s.Total += n
	s.ByTopic[topic] += n
	s.BySentiment[sentiment] += n
	s.ByPriority[priority] += n
}

// Store persists tickets.
type Store interface {
	support.TicketStore

	// List returns tickets newest first.
	List(ctx context.Context, f Filter) ([]Ticket, error)

	// Summary counts all tickets.
	Summary(ctx context.Context) (Summary, error)

	Close() error
}

func displayID(seq int64) string {
	return fmt.Sprintf("%s%d", DisplayPrefix, seq)
}

func validate(rec support.TicketRecord) error {
	switch {
	case rec.ID == "":
		return errors.New("ticket id is required")
	case rec.Query == "":
		return errors.New("ticket query is required")
	case rec.Subject == "":
		return errors.New("ticket subject is required")
	}
	return nil
}
