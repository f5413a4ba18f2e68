package support

import (
	"context"
	"time"
)

// Classifier picks one label from labels for prompt.
type Classifier interface {
	Classify(ctx context.Context, prompt string, labels []string) (string, error)
}

// Generator produces free text for prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Escalation is the judge's verdict on a generated answer.
type Escalation struct {
	Escalate    bool   `json:"escalate"`
	Explanation string `json:"explanation"`
}

// Judge decides whether an answer should be escalated to a human.
type Judge interface {
	Judge(ctx context.Context, prompt string) (Escalation, error)
}

// Retriever returns the top documents for query, best match first.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Doc, error)
}

// TicketRecord is what the ticket store persists.
type TicketRecord struct {
	ID        string `json:"ticket_id"`
	Topic     string `json:"topic"`
	Query     string `json:"query"`
	Sentiment string `json:"sentiment"`
	Priority  string `json:"priority"`
	Subject   string `json:"subject"`
}

// TicketStore persists tickets. Insert returns the human-facing display id
// (e.g. "TICKET-7"); an error or empty id means no ticket was created.
type TicketStore interface {
	Insert(ctx context.Context, rec TicketRecord) (displayID string, err error)
}

// Timeouts bound each external call. Zero disables the bound.
type Timeouts struct {
	LLM       time.Duration `json:"llm" yaml:"llm"`
	Retrieval time.Duration `json:"retrieval" yaml:"retrieval"`
	Tickets   time.Duration `json:"tickets" yaml:"tickets"`
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		LLM:       30 * time.Second,
		Retrieval: 10 * time.Second,
		Tickets:   10 * time.Second,
	}
}

// bounded runs fn under a timeout derived from ctx. The call returns at
// the deadline even if fn ignores its context; a late result is dropped
// and the call fails with the context's error. A panic in fn is re-raised
// on the caller's goroutine.
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan boundedResult[T], 1)
	go func() {
		var r boundedResult[T]
		defer func() {
			r.recovered = recover()
			done <- r
		}()
		r.v, r.err = fn(ctx)
	}()

	var zero T
	select {
	case r := <-done:
		if r.recovered != nil {
			panic(r.recovered)
		}
		if r.err == nil && ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type boundedResult[T any] struct {
	v         T
	err       error
	recovered any
}

// noDocs is the Retriever used when none is configured.
type noDocs struct{}

func (noDocs) Retrieve(context.Context, string) ([]Doc, error) { return []Doc{}, nil }
