package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/randalmurphal/triage/pkg/flowgraph"
)

// NodeTicket is the ticketing stage's node ID.
const NodeTicket = "create_ticket"

// Ticketing defaults and messages.
const (
	DefaultQuery     = "No query provided."
	DefaultTopic     = "General"
	DefaultSentiment = "Neutral"
	DefaultPriority  = "P2"
	DefaultSubject   = "Support request"

	TicketFailure = "Sorry — failed to create ticket due to a server error."

	// MaxSubjectLength bounds a ticket subject, in characters.
	MaxSubjectLength = 200

	ticketIDLength = 10
)

var errNoDisplayID = errors.New("ticket store returned no display id")

// Ticketer files a ticket for the current query.
type Ticketer struct {
	Generator Generator
	Store     TicketStore
	Timeouts  Timeouts

	// NewID generates ticket ids. Defaults to the first 10 characters of a
	// random UUID.
	NewID func() string

	metrics *metrics
}

// Node returns the ticketing stage as a workflow node.
func (t *Ticketer) Node() flowgraph.NodeFunc[State] {
	return func(ctx flowgraph.Context, s State) (State, error) {
		return t.Create(ctx, ctx.Logger(), s), nil
	}
}

// Create files a ticket from s and returns the partial update: the ticket
// fields on success, or only Answer = TicketFailure when the store fails.
func (t *Ticketer) Create(ctx context.Context, logger *slog.Logger, s State) State {
	query := s.Message
	if query == "" {
		query = DefaultQuery
	}

	rec := TicketRecord{
		ID:        t.newID(),
		Topic:     string(s.Topic.Or(DefaultTopic)),
		Query:     query,
		Sentiment: string(s.Sentiment.Or(DefaultSentiment)),
		Priority:  string(s.Priority.Or(DefaultPriority)),
		Subject:   t.subject(ctx, logger, query),
	}
	logger = logger.With(slog.String("ticket_id", rec.ID))

	start := time.Now()
	displayID, err := bounded(ctx, t.Timeouts.Tickets, func(ctx context.Context) (string, error) {
		return t.Store.Insert(ctx, rec)
	})
	if err == nil && displayID == "" {
		err = errNoDisplayID
	}
	t.metrics.call(ctx, "insert_ticket", start, err)
	if err != nil {
		logger.Error("ticket creation failed", slog.String("error", err.Error()))
		t.metrics.ticket(ctx, outcomeFailed)
		return State{Answer: TicketFailure}
	}

	logger.Info("ticket created", slog.String("display_id", displayID))
	t.metrics.ticket(ctx, outcomeOK)

	return State{
		TicketID:        rec.ID,
		TicketTopic:     rec.Topic,
		TicketQuery:     rec.Query,
		TicketSentiment: rec.Sentiment,
		TicketPriority:  rec.Priority,
		TicketSubject:   rec.Subject,
		TicketMessage:   TicketMessage(displayID, rec.Topic, rec.Query, rec.Priority),
	}
}

func (t *Ticketer) newID() string {
	if t.NewID != nil {
		return t.NewID()
	}
	return uuid.NewString()[:ticketIDLength]
}

// subject asks the generator for a one-line subject, falling back to
// DefaultSubject.
func (t *Ticketer) subject(ctx context.Context, logger *slog.Logger, query string) string {
	prompt, err := subjectPrompt.Render(map[string]any{"query": query})
	if err != nil {
		return DefaultSubject
	}

	start := time.Now()
	text, err := bounded(ctx, t.Timeouts.LLM, func(ctx context.Context) (string, error) {
		return t.Generator.Generate(ctx, prompt)
	})
	t.metrics.call(ctx, "generate", start, err)
	if err != nil {
		logger.Warn("subject generation failed", slog.String("error", err.Error()))
		return DefaultSubject
	}
	return Subject(text)
}

// lineBreaks end the first line of a subject.
const lineBreaks = "\r\n\v\f\u0085\u2028\u2029"

// Subject normalizes generated text into a ticket subject: the first
// non-blank line, at most MaxSubjectLength characters. Blank input yields
// DefaultSubject.
func Subject(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexAny(line, lineBreaks); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return DefaultSubject
	}
	if utf8.RuneCountInString(line) > MaxSubjectLength {
		line = string([]rune(line)[:MaxSubjectLength])
	}
	return line
}

// TicketMessage renders the confirmation shown to the user.
func TicketMessage(displayID, topic, query, priority string) string {
	return fmt.Sprintf(" **Ticket Created**\n\n"+
		"**ID:** %s\n\n"+
		"**Topic:** %s\n\n"+
		"**Query:** %s\n\n"+
		"**Priority:** %s\n\n"+
		"This ticket has been routed to the appropriate support team.",
		displayID, topic, query, priority)
}
