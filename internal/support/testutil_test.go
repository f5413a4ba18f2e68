package support

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var errBoom = errors.New("boom")

// unitOf infers which classifier is calling from its label set.
func unitOf(labels []string) string {
	switch labels[0] {
	case string(SentimentFrustrated):
		return "sentiment"
	case string(TopicHowTo):
		return "topic"
	default:
		return "priority"
	}
}

// fakeClassifier answers per unit. Missing units fail.
type fakeClassifier struct {
	labels map[string]string
	errs   map[string]error
	delays map[string]time.Duration

	mu      sync.Mutex
	prompts map[string]string
	calls   atomic.Int32
	done    atomic.Int32
}

func newClassifier(topic, sentiment, priority string) *fakeClassifier {
	return &fakeClassifier{
		labels: map[string]string{"topic": topic, "sentiment": sentiment, "priority": priority},
	}
}

func (f *fakeClassifier) Classify(ctx context.Context, prompt string, labels []string) (string, error) {
	f.calls.Add(1)
	defer f.done.Add(1)

	unit := unitOf(labels)
	f.mu.Lock()
	if f.prompts == nil {
		f.prompts = make(map[string]string)
	}
	f.prompts[unit] = prompt
	f.mu.Unlock()

	if d := f.delays[unit]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.errs[unit]; err != nil {
		return "", err
	}
	label, ok := f.labels[unit]
	if !ok {
		return "", fmt.Errorf("no label for %s", unit)
	}
	return label, nil
}

func (f *fakeClassifier) prompt(unit string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[unit]
}

// fakeGenerator answers questions with answer and subject prompts with
// subject.
type fakeGenerator struct {
	answer     string
	subject    string
	answerErr  error
	subjectErr error

	answerCalls  atomic.Int32
	subjectCalls atomic.Int32
	lastPrompt   atomic.Value
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.lastPrompt.Store(prompt)
	if strings.Contains(prompt, "ticket subject") {
		f.subjectCalls.Add(1)
		return f.subject, f.subjectErr
	}
	f.answerCalls.Add(1)
	return f.answer, f.answerErr
}

type fakeJudge struct {
	verdict Escalation
	err     error
	calls   atomic.Int32
	prompt  atomic.Value
}

func (f *fakeJudge) Judge(_ context.Context, prompt string) (Escalation, error) {
	f.calls.Add(1)
	f.prompt.Store(prompt)
	return f.verdict, f.err
}

type fakeRetriever struct {
	docs   []Doc
	err    error
	calls  atomic.Int32
	onCall func()
}

func (f *fakeRetriever) Retrieve(context.Context, string) ([]Doc, error) {
	f.calls.Add(1)
	if f.onCall != nil {
		f.onCall()
	}
	return f.docs, f.err
}

// fakeTickets numbers tickets TICKET-1, TICKET-2, ...
type fakeTickets struct {
	mu      sync.Mutex
	err     error
	emptyID bool
	records []TicketRecord
}

func (f *fakeTickets) Insert(_ context.Context, rec TicketRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.emptyID {
		return "", nil
	}
	f.records = append(f.records, rec)
	return fmt.Sprintf("TICKET-%d", len(f.records)), nil
}

func (f *fakeTickets) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTickets) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fixture bundles fakes for one assistant.
type fixture struct {
	classifier *fakeClassifier
	generator  *fakeGenerator
	judge      *fakeJudge
	retriever  *fakeRetriever
	tickets    *fakeTickets
}

func newFixture() *fixture {
	return &fixture{
		classifier: newClassifier("SSO", "Curious", "P1"),
		generator:  &fakeGenerator{answer: "Open Admin > SSO and add your IdP.", subject: "SSO setup help"},
		judge:      &fakeJudge{verdict: Escalation{Escalate: false, Explanation: "complete answer"}},
		retriever: &fakeRetriever{docs: []Doc{
			{Content: "SSO is configured under Admin.", URL: "https://docs.example.com/sso"},
			{Content: "Supported IdPs: Okta, Azure AD.", URL: "https://docs.example.com/idp"},
		}},
		tickets: &fakeTickets{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Classifier: f.classifier,
		Generator:  f.generator,
		Judge:      f.judge,
		Retriever:  f.retriever,
		Tickets:    f.tickets,
	}
}
