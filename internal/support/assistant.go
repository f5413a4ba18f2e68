package support

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/randalmurphal/triage/pkg/flowgraph"
	"github.com/randalmurphal/triage/pkg/flowgraph/checkpoint"
)

// InternalErrorMessage is the answer returned when a run fails unexpectedly.
const InternalErrorMessage = "Internal error: failed to run assistant."

// ErrUnknownThread is returned for a thread with no saved conversation.
var ErrUnknownThread = errors.New("unknown thread")

// Deps are the external capabilities the assistant needs.
type Deps struct {
	Classifier Classifier
	Generator  Generator
	Judge      Judge
	Tickets    TicketStore

	// Retriever is optional; without one every answer is ungrounded.
	Retriever Retriever

	// Checkpoints keeps per-thread state. Defaults to an in-memory store.
	Checkpoints checkpoint.Store
}

// Assistant runs the triage workflow.
// It is safe for concurrent use across threads.
type Assistant struct {
	workflow *flowgraph.CompiledGraph[State]
	ticketer *flowgraph.CompiledGraph[State]
	store    checkpoint.Store
	logger   *slog.Logger
	runOpts  []flowgraph.RunOption
}

type config struct {
	timeouts Timeouts
	logger   *slog.Logger
	meter    metric.MeterProvider
	forkJoin flowgraph.ForkJoinConfig
	runOpts  []flowgraph.RunOption
	newID    func() string
}

// Option configures an Assistant.
type Option func(*config)

// WithTimeouts bounds each external call.
func WithTimeouts(t Timeouts) Option {
	return func(c *config) { c.timeouts = t }
}

// WithLogger sets the logger for runs and stages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMeterProvider records domain metrics on mp instead of the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) { c.meter = mp }
}

// WithForkJoin configures how the classifiers fan out.
func WithForkJoin(cfg flowgraph.ForkJoinConfig) Option {
	return func(c *config) { c.forkJoin = cfg }
}

// WithRunOptions adds engine options (metrics, tracing, limits) to every run.
func WithRunOptions(opts ...flowgraph.RunOption) Option {
	return func(c *config) { c.runOpts = append(c.runOpts, opts...) }
}

// WithTicketIDs overrides ticket id generation.
func WithTicketIDs(fn func() string) Option {
	return func(c *config) { c.newID = fn }
}

// New builds an Assistant from deps.
func New(deps Deps, opts ...Option) (*Assistant, error) {
	var errs []error
	if deps.Classifier == nil {
		errs = append(errs, errors.New("classifier is required"))
	}
	if deps.Generator == nil {
		errs = append(errs, errors.New("generator is required"))
	}
	if deps.Judge == nil {
		errs = append(errs, errors.New("judge is required"))
	}
	if deps.Tickets == nil {
		errs = append(errs, errors.New("ticket store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("support: %w", err)
	}

	cfg := config{
		timeouts: DefaultTimeouts(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := defaultMetrics()
	if cfg.meter != nil {
		var err error
		if m, err = newMetrics(cfg.meter.Meter("triage")); err != nil {
			return nil, fmt.Errorf("support: metrics: %w", err)
		}
	}

	store := deps.Checkpoints
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}

	answerer := &Answerer{
		Retriever: deps.Retriever,
		Generator: deps.Generator,
		Judge:     deps.Judge,
		Timeouts:  cfg.timeouts,
		metrics:   m,
	}
	ticketer := &Ticketer{
		Generator: deps.Generator,
		Store:     deps.Tickets,
		Timeouts:  cfg.timeouts,
		NewID:     cfg.newID,
		metrics:   m,
	}

	workflow, err := buildWorkflow(deps.Classifier, cfg.timeouts.LLM, m, answerer, ticketer, cfg.forkJoin)
	if err != nil {
		return nil, fmt.Errorf("support: compile workflow: %w", err)
	}
	ticketOnly, err := flowgraph.NewGraph[State]().
		AddNode(NodeTicket, ticketer.Node()).
		AddEdge(flowgraph.START, NodeTicket).
		AddEdge(NodeTicket, flowgraph.END).
		SetReducer(Merge).
		Compile()
	if err != nil {
		return nil, fmt.Errorf("support: compile ticket graph: %w", err)
	}

	return &Assistant{
		workflow: workflow,
		ticketer: ticketOnly,
		store:    store,
		logger:   cfg.logger,
		runOpts:  cfg.runOpts,
	}, nil
}

// buildWorkflow wires the three classifiers, the gate and both outcomes.
func buildWorkflow(c Classifier, llmTimeout time.Duration, m *metrics, answerer *Answerer, ticketer *Ticketer, fj flowgraph.ForkJoinConfig) (*flowgraph.CompiledGraph[State], error) {
	return flowgraph.NewGraph[State]().
		AddNode(NodeSentiment, sentimentNode(c, llmTimeout, m)).
		AddNode(NodeTopic, topicNode(c, llmTimeout, m)).
		AddNode(NodePriority, priorityNode(c, llmTimeout, m)).
		AddNode(NodeGate, gateNode).
		AddNode(NodeAnswer, answerer.Node()).
		AddNode(NodeTicket, ticketer.Node()).
		AddEdge(flowgraph.START, NodeSentiment).
		AddEdge(flowgraph.START, NodeTopic).
		AddEdge(flowgraph.START, NodePriority).
		AddEdge(NodeSentiment, NodeGate).
		AddEdge(NodeTopic, NodeGate).
		AddEdge(NodePriority, NodeGate).
		AddConditionalEdge(NodeGate, routeNode, map[string]string{
			RouteValid:   NodeAnswer,
			RouteInvalid: NodeTicket,
		}).
		AddEdge(NodeAnswer, flowgraph.END).
		AddEdge(NodeTicket, flowgraph.END).
		SetReducer(Merge).
		SetForkJoinConfig(fj).
		Compile()
}

// Invoke runs the workflow for message. With a threadID the run continues
// the thread's saved conversation and checkpoints its result.
//
// Invoke never fails: stage failures are already folded into the returned
// state, and anything unexpected becomes InternalErrorMessage.
func (a *Assistant) Invoke(ctx context.Context, message, threadID string) (out State) {
	logger := a.logger.With(slog.String("thread_id", threadID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("assistant panicked", slog.Any("panic", r))
			out = State{Answer: InternalErrorMessage}
		}
	}()

	opts := append(a.runOptions(threadID), flowgraph.WithInputMerge(startTurn))
	result, err := a.workflow.Run(a.newContext(ctx), State{Message: message}, opts...)
	if err != nil {
		logger.Error("assistant run failed", slog.String("error", err.Error()))
		return State{Answer: InternalErrorMessage}
	}
	return result
}

// CreateTicket runs the ticketing stage on s outside the workflow and
// returns s with the ticket fields (or the failure answer) merged in.
func (a *Assistant) CreateTicket(ctx context.Context, s State) State {
	result, err := a.ticketer.Run(a.newContext(ctx), s, a.runOptions("")...)
	if err != nil {
		a.logger.Error("ticket run failed", slog.String("error", err.Error()))
		return Merge(s, State{Answer: InternalErrorMessage})
	}
	return result
}

// CreateTicketForThread files a ticket for the thread's saved conversation
// and checkpoints the result, so a later Invoke sees the ticket.
func (a *Assistant) CreateTicketForThread(ctx context.Context, threadID string) (State, error) {
	if threadID == "" {
		return State{}, flowgraph.ErrThreadIDRequired
	}
	if _, err := a.Snapshot(threadID); err != nil {
		return State{}, err
	}

	result, err := a.ticketer.Run(a.newContext(ctx), State{}, a.runOptions(threadID)...)
	if err != nil {
		return result, fmt.Errorf("create ticket for thread %s: %w", threadID, err)
	}
	return result, nil
}

// Resume finishes a turn that was interrupted after a checkpoint, such as
// a crash between the gate and the answer. A thread whose last turn
// completed is returned unchanged.
func (a *Assistant) Resume(ctx context.Context, threadID string) (State, error) {
	if threadID == "" {
		return State{}, flowgraph.ErrThreadIDRequired
	}
	if _, err := a.Snapshot(threadID); err != nil {
		return State{}, err
	}

	opts := append([]flowgraph.RunOption{flowgraph.WithObservabilityLogger(a.logger)}, a.runOpts...)
	result, err := a.workflow.Resume(a.newContext(ctx), a.store, threadID, flowgraph.WithResumeRunOptions(opts...))
	if err != nil {
		return result, fmt.Errorf("resume thread %s: %w", threadID, err)
	}
	return result, nil
}

// Snapshot returns the thread's latest saved state.
func (a *Assistant) Snapshot(threadID string) (State, error) {
	cp, err := checkpoint.Latest(a.store, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	if err != nil {
		return State{}, err
	}

	var s State
	if err := json.Unmarshal(cp.State, &s); err != nil {
		return State{}, fmt.Errorf("decode snapshot for %s: %w", threadID, err)
	}
	return s, nil
}

// History lists the thread's checkpoints, oldest first.
func (a *Assistant) History(threadID string) ([]checkpoint.Info, error) {
	return a.store.List(threadID)
}

// Threads lists every thread with saved state.
func (a *Assistant) Threads() ([]string, error) {
	return a.store.Threads()
}

// Close releases the checkpoint store.
func (a *Assistant) Close() error {
	return a.store.Close()
}

func (a *Assistant) newContext(ctx context.Context) flowgraph.Context {
	return flowgraph.NewContext(ctx, flowgraph.WithLogger(a.logger))
}

func (a *Assistant) runOptions(threadID string) []flowgraph.RunOption {
	opts := append([]flowgraph.RunOption{flowgraph.WithObservabilityLogger(a.logger)}, a.runOpts...)
	if threadID != "" {
		opts = append(opts, flowgraph.WithCheckpointing(a.store), flowgraph.WithThreadID(threadID))
	}
	return opts
}
