package support

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/triage/pkg/flowgraph"
)

// NodeAnswer is the answer stage's node ID.
const NodeAnswer = "retrieve_and_answer"

// User-visible answer fallbacks.
const (
	NoMessageAnswer   = "No message provided."
	GenerationFailure = "Sorry, I couldn't generate an answer right now. Please try again later."
)

var errEmptyGeneration = errors.New("generator returned no text")

// Answerer retrieves documentation, writes a grounded answer and asks the
// judge whether to offer a ticket.
type Answerer struct {
	Retriever Retriever
	Generator Generator
	Judge     Judge
	Timeouts  Timeouts

	metrics *metrics
}

// Node returns the answer stage as a workflow node.
func (a *Answerer) Node() flowgraph.NodeFunc[State] {
	return func(ctx flowgraph.Context, s State) (State, error) {
		return a.Answer(ctx, ctx.Logger(), s.Message), nil
	}
}

// Answer runs the stage for message and returns the partial update.
//
// Retrieval failure counts as zero documents. Generation failure returns
// only GenerationFailure. Judge failure means no ticket offer.
func (a *Answerer) Answer(ctx context.Context, logger *slog.Logger, message string) State {
	if message == "" {
		a.metrics.answer(ctx, outcomeSkipped)
		return State{Answer: NoMessageAnswer}
	}

	docs := a.retrieve(ctx, logger, message)

	text, err := a.generate(ctx, message, docs)
	if err != nil {
		logger.Error("answer generation failed", slog.String("error", err.Error()))
		a.metrics.answer(ctx, outcomeFallback)
		return State{Answer: GenerationFailure}
	}

	verdict := a.judge(ctx, logger, text)
	if verdict.Escalate {
		a.metrics.escalation(ctx)
	}
	a.metrics.answer(ctx, outcomeOK)

	return State{
		Answer:           text,
		Docs:             docs,
		NeedsTicketOffer: boolPtr(verdict.Escalate),
		EscalationReason: verdict.Explanation,
	}
}

func (a *Answerer) retrieve(ctx context.Context, logger *slog.Logger, message string) []Doc {
	r := a.Retriever
	if r == nil {
		r = noDocs{}
	}

	start := time.Now()
	docs, err := bounded(ctx, a.Timeouts.Retrieval, func(ctx context.Context) ([]Doc, error) {
		return r.Retrieve(ctx, message)
	})
	a.metrics.call(ctx, "retrieve", start, err)
	if err != nil {
		logger.Warn("retrieval failed, answering without documents", slog.String("error", err.Error()))
		return []Doc{}
	}
	if docs == nil {
		docs = []Doc{}
	}
	logger.Debug("retrieved documents", slog.Int("count", len(docs)))
	return docs
}

func (a *Answerer) generate(ctx context.Context, message string, docs []Doc) (string, error) {
	prompt, err := answerPrompt.Render(map[string]any{
		"context":  stuffDocs(docs),
		"question": message,
	})
	if err != nil {
		return "", err
	}

	start := time.Now()
	text, err := bounded(ctx, a.Timeouts.LLM, func(ctx context.Context) (string, error) {
		return a.Generator.Generate(ctx, prompt)
	})
	a.metrics.call(ctx, "generate", start, err)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmptyGeneration
	}
	return text, nil
}

func (a *Answerer) judge(ctx context.Context, logger *slog.Logger, answer string) Escalation {
	prompt, err := escalationPrompt.Render(map[string]any{"answer": answer})
	if err != nil {
		logger.Warn("escalation prompt failed", slog.String("error", err.Error()))
		return Escalation{}
	}

	start := time.Now()
	verdict, err := bounded(ctx, a.Timeouts.LLM, func(ctx context.Context) (Escalation, error) {
		return a.Judge.Judge(ctx, prompt)
	})
	a.metrics.call(ctx, "judge", start, err)
	if err != nil {
		logger.Warn("escalation judge failed, not offering a ticket", slog.String("error", err.Error()))
		return Escalation{}
	}
	return verdict
}

// stuffDocs joins document contents into one context block.
func stuffDocs(docs []Doc) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if c := strings.TrimSpace(d.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}
