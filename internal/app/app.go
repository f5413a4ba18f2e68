// Package app turns Settings into a running Assistant and owns the
// resources behind it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/randalmurphal/triage/internal/config"
	"github.com/randalmurphal/triage/internal/retrieval"
	"github.com/randalmurphal/triage/internal/support"
	"github.com/randalmurphal/triage/internal/telemetry"
	"github.com/randalmurphal/triage/internal/tickets"
	"github.com/randalmurphal/triage/pkg/flowgraph"
	"github.com/randalmurphal/triage/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/triage/pkg/flowgraph/llm"
)

// Version is reported to telemetry.
var Version = "dev"

// App holds the wired assistant and the stores it uses.
type App struct {
	Assistant *support.Assistant
	Tickets   tickets.Store

	closers []func(context.Context) error
}

// Option adjusts wiring, mainly for tests.
type Option func(*options)

type options struct {
	llmClient llm.Client
	embedder  retrieval.Embedder
}

// WithLLMClient replaces the configured model provider.
func WithLLMClient(c llm.Client) Option {
	return func(o *options) { o.llmClient = c }
}

// WithEmbedder replaces the configured query embedder.
func WithEmbedder(e retrieval.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// New wires every component s selects. On error, anything already opened
// is closed.
func New(ctx context.Context, s config.Settings, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	tcfg := telemetry.Config{
		Endpoint:    s.Telemetry.Endpoint,
		ServiceName: s.Telemetry.ServiceName,
		Version:     Version,
		Insecure:    s.Telemetry.Insecure,
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, err
	}
	a.onClose(shutdown)

	client := o.llmClient
	if client == nil {
		if client, err = NewLLMClient(s.LLM); err != nil {
			return nil, err
		}
	}
	model := support.NewLLM(client,
		support.WithLLMModel(s.LLM.Model),
		support.WithMaxTokens(s.LLM.MaxTokens),
		support.WithTemperature(s.LLM.Temperature),
	)

	store, err := openTickets(ctx, s.Tickets, logger)
	if err != nil {
		return nil, err
	}
	a.Tickets = store
	a.onClose(func(context.Context) error { return store.Close() })

	retriever, err := openRetriever(ctx, s.Retrieval, o.embedder, logger)
	if err != nil {
		return nil, err
	}
	if retriever != nil {
		a.onClose(func(context.Context) error { return retriever.Close() })
	}

	checkpoints, err := openCheckpoints(s.Checkpoints)
	if err != nil {
		return nil, err
	}

	deps := support.Deps{
		Classifier:  model,
		Generator:   model,
		Judge:       model,
		Tickets:     store,
		Checkpoints: checkpoints,
	}
	if retriever != nil {
		deps.Retriever = retriever
	}

	assistantOpts := []support.Option{
		support.WithTimeouts(s.Timeouts()),
		support.WithLogger(logger),
	}
	if tcfg.Enabled() {
		assistantOpts = append(assistantOpts, support.WithRunOptions(
			flowgraph.WithMetrics(true),
			flowgraph.WithTracing(true),
		))
	}

	assistant, err := support.New(deps, assistantOpts...)
	if err != nil {
		_ = checkpoints.Close()
		return nil, err
	}
	a.Assistant = assistant
	a.onClose(func(context.Context) error { return assistant.Close() })

	logger.Info("assistant ready",
		slog.String("llm", s.LLM.Provider),
		slog.String("retrieval", s.Retrieval.Backend),
		slog.String("tickets", s.Tickets.Backend),
		slog.String("checkpoints", s.Checkpoints.Backend),
		slog.Bool("telemetry", tcfg.Enabled()),
	)
	return a, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, fn := range slices.Backward(a.closers) {
		errs = append(errs, fn(ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLLMClient builds the model client s selects.
func NewLLMClient(s config.LLMSettings) (llm.Client, error) {
	switch s.Provider {
	case config.ProviderOpenAI:
		return llm.NewOpenAI(s.APIKey,
			llm.WithBaseURL(s.BaseURL),
			llm.WithOpenAIModel(s.Model),
			llm.WithHTTPClient(&http.Client{Timeout: s.Timeout}),
		), nil
	case config.ProviderClaudeCLI:
		opts := []llm.ClaudeOption{llm.WithModel(s.Model)}
		if s.ClaudePath != "" {
			opts = append(opts, llm.WithClaudePath(s.ClaudePath))
		}
		return llm.NewClaudeCLI(opts...), nil
	default:
		return nil, fmt.Errorf("app: unknown llm provider %q", s.Provider)
	}
}

// NewEmbedder builds the query embedder s selects.
func NewEmbedder(s config.EmbedderSettings) (retrieval.Embedder, error) {
	switch s.Provider {
	case config.ProviderOllama:
		return retrieval.NewOllamaEmbedder(s.URL, s.Model), nil
	case config.ProviderOpenAI:
		return retrieval.NewOpenAIEmbedder(s.URL, s.APIKey, s.Model), nil
	default:
		return nil, fmt.Errorf("app: unknown embedder provider %q", s.Provider)
	}
}

type closingRetriever interface {
	support.Retriever
	Close() error
}

func openRetriever(ctx context.Context, s config.RetrievalSettings, embedder retrieval.Embedder, logger *slog.Logger) (closingRetriever, error) {
	if s.Backend == config.BackendNone {
		return nil, nil
	}
	if embedder == nil {
		var err error
		if embedder, err = NewEmbedder(s.Embedder); err != nil {
			return nil, err
		}
	}

	switch s.Backend {
	case config.BackendQdrant:
		return retrieval.NewQdrantIndex(retrieval.QdrantConfig{
			URL:        s.URL,
			APIKey:     s.APIKey,
			Collection: s.Collection,
			TopK:       s.TopK,
		}, embedder, logger)
	case config.BackendPGVector:
		return retrieval.NewPGVectorIndex(ctx, retrieval.PGVectorConfig{
			DSN:   s.DSN,
			Table: s.Table,
			TopK:  s.TopK,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("app: unknown retrieval backend %q", s.Backend)
	}
}

func openTickets(ctx context.Context, s config.TicketSettings, logger *slog.Logger) (tickets.Store, error) {
	switch s.Backend {
	case config.BackendMemory:
		return tickets.NewMemoryStore(), nil
	case config.BackendSQLite:
		return tickets.NewSQLiteStore(s.DSN)
	case config.BackendPostgres:
		store, err := tickets.NewPostgresStore(ctx, s.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown tickets backend %q", s.Backend)
	}
}

func openCheckpoints(s config.CheckpointSettings) (checkpoint.Store, error) {
	switch s.Backend {
	case config.BackendMemory:
		return checkpoint.NewMemoryStore(), nil
	case config.BackendSQLite:
		return checkpoint.NewSQLiteStore(s.Path)
	default:
		return nil, fmt.Errorf("app: unknown checkpoints backend %q", s.Backend)
	}
}

// NewLogger builds the process logger from s.
func NewLogger(s config.LogSettings, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if s.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
