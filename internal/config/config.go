// Package config assembles triage settings from defaults, an optional
// YAML or JSON file, a .env file and TRIAGE_* environment variables, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/randalmurphal/triage/internal/support"
)

// Settings is the complete runtime configuration.
type Settings struct {
	Log         LogSettings
	LLM         LLMSettings
	Retrieval   RetrievalSettings
	Tickets     TicketSettings
	Checkpoints CheckpointSettings
	Telemetry   TelemetrySettings
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// LLMSettings selects and configures the model provider.
type LLMSettings struct {
	Provider    string // openai or claude-cli
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	ClaudePath  string
	Timeout     time.Duration
}

// RetrievalSettings selects the documentation index.
type RetrievalSettings struct {
	Backend    string // qdrant, pgvector or none
	URL        string // qdrant URL
	APIKey     string
	Collection string
	DSN        string // pgvector database
	Table      string
	TopK       int
	Timeout    time.Duration
	Embedder   EmbedderSettings
}

// EmbedderSettings configures query embedding.
type EmbedderSettings struct {
	Provider string // ollama or openai
	URL      string
	Model    string
	APIKey   string
}

// TicketSettings selects the ticket store.
type TicketSettings struct {
	Backend string // postgres, sqlite or memory
	DSN     string // postgres DSN or sqlite path
	Timeout time.Duration
}

// CheckpointSettings selects the conversation checkpoint store.
type CheckpointSettings struct {
	Backend string // sqlite or memory
	Path    string
}

// TelemetrySettings configures OTLP export. An empty endpoint disables it.
type TelemetrySettings struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Provider and backend names.
const (
	ProviderOpenAI    = "openai"
	ProviderClaudeCLI = "claude-cli"
	ProviderOllama    = "ollama"

	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

// Defaults returns settings that run locally without external services
// apart from the model provider.
func Defaults() Settings {
	t := support.DefaultTimeouts()
	return Settings{
		Log: LogSettings{Level: "info", Format: "json"},
		LLM: LLMSettings{
			Provider:  ProviderOpenAI,
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 1024,
			Timeout:   t.LLM,
		},
		Retrieval: RetrievalSettings{
			Backend:    BackendNone,
			URL:        "http://localhost:6333",
			Collection: "docs",
			Table:      "docs",
			TopK:       3,
			Timeout:    t.Retrieval,
			Embedder: EmbedderSettings{
				Provider: ProviderOllama,
				URL:      "http://localhost:11434",
				Model:    "nomic-embed-text",
			},
		},
		Tickets: TicketSettings{
			Backend: BackendSQLite,
			DSN:     "triage-tickets.db",
			Timeout: t.Tickets,
		},
		Checkpoints: CheckpointSettings{
			Backend: BackendSQLite,
			Path:    "triage-checkpoints.db",
		},
		Telemetry: TelemetrySettings{ServiceName: "triage"},
	}
}

// Load builds Settings. path may be empty. envFiles default to ".env";
// missing env files are ignored.
func Load(path string, envFiles ...string) (Settings, error) {
	s := Defaults()

	if path != "" {
		v, err := ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("config: %w", err)
		}
		s.apply(v)
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	s.applyEnv()

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// apply overlays values present in a config file.
func (s *Settings) apply(v Values) {
	s.Log.Level = v.String("log.level", s.Log.Level)
	s.Log.Format = v.String("log.format", s.Log.Format)

	s.LLM.Provider = v.String("llm.provider", s.LLM.Provider)
	s.LLM.BaseURL = v.String("llm.base_url", s.LLM.BaseURL)
	s.LLM.APIKey = v.String("llm.api_key", s.LLM.APIKey)
	s.LLM.Model = v.String("llm.model", s.LLM.Model)
	s.LLM.MaxTokens = v.Int("llm.max_tokens", s.LLM.MaxTokens)
	s.LLM.Temperature = v.Float("llm.temperature", s.LLM.Temperature)
	s.LLM.ClaudePath = v.String("llm.claude_path", s.LLM.ClaudePath)
	s.LLM.Timeout = v.Duration("llm.timeout", s.LLM.Timeout)

	s.Retrieval.Backend = v.String("retrieval.backend", s.Retrieval.Backend)
	s.Retrieval.URL = v.String("retrieval.url", s.Retrieval.URL)
	s.Retrieval.APIKey = v.String("retrieval.api_key", s.Retrieval.APIKey)
	s.Retrieval.Collection = v.String("retrieval.collection", s.Retrieval.Collection)
	s.Retrieval.DSN = v.String("retrieval.dsn", s.Retrieval.DSN)
	s.Retrieval.Table = v.String("retrieval.table", s.Retrieval.Table)
	s.Retrieval.TopK = v.Int("retrieval.top_k", s.Retrieval.TopK)
	s.Retrieval.Timeout = v.Duration("retrieval.timeout", s.Retrieval.Timeout)
	s.Retrieval.Embedder.Provider = v.String("retrieval.embedder.provider", s.Retrieval.Embedder.Provider)
	s.Retrieval.Embedder.URL = v.String("retrieval.embedder.url", s.Retrieval.Embedder.URL)
	s.Retrieval.Embedder.Model = v.String("retrieval.embedder.model", s.Retrieval.Embedder.Model)
	s.Retrieval.Embedder.APIKey = v.String("retrieval.embedder.api_key", s.Retrieval.Embedder.APIKey)

	s.Tickets.Backend = v.String("tickets.backend", s.Tickets.Backend)
	s.Tickets.DSN = v.String("tickets.dsn", s.Tickets.DSN)
	s.Tickets.Timeout = v.Duration("tickets.timeout", s.Tickets.Timeout)

	s.Checkpoints.Backend = v.String("checkpoints.backend", s.Checkpoints.Backend)
	s.Checkpoints.Path = v.String("checkpoints.path", s.Checkpoints.Path)

	s.Telemetry.Endpoint = v.String("telemetry.endpoint", s.Telemetry.Endpoint)
	s.Telemetry.ServiceName = v.String("telemetry.service_name", s.Telemetry.ServiceName)
	s.Telemetry.Insecure = v.Bool("telemetry.insecure", s.Telemetry.Insecure)
}

// applyEnv overlays environment variables.
func (s *Settings) applyEnv() {
	s.Log.Level = envStr("TRIAGE_LOG_LEVEL", s.Log.Level)
	s.Log.Format = envStr("TRIAGE_LOG_FORMAT", s.Log.Format)

	s.LLM.Provider = envStr("TRIAGE_LLM_PROVIDER", s.LLM.Provider)
	s.LLM.BaseURL = envStr("TRIAGE_LLM_BASE_URL", s.LLM.BaseURL)
	s.LLM.APIKey = envStr("TRIAGE_LLM_API_KEY", envStr("OPENAI_API_KEY", s.LLM.APIKey))
	s.LLM.Model = envStr("TRIAGE_LLM_MODEL", s.LLM.Model)
	s.LLM.MaxTokens = envInt("TRIAGE_LLM_MAX_TOKENS", s.LLM.MaxTokens)
	s.LLM.Temperature = envFloat("TRIAGE_LLM_TEMPERATURE", s.LLM.Temperature)
	s.LLM.ClaudePath = envStr("TRIAGE_LLM_CLAUDE_PATH", s.LLM.ClaudePath)
	s.LLM.Timeout = envDuration("TRIAGE_LLM_TIMEOUT", s.LLM.Timeout)

	s.Retrieval.Backend = envStr("TRIAGE_RETRIEVAL_BACKEND", s.Retrieval.Backend)
	s.Retrieval.URL = envStr("TRIAGE_RETRIEVAL_URL", s.Retrieval.URL)
	s.Retrieval.APIKey = envStr("TRIAGE_RETRIEVAL_API_KEY", s.Retrieval.APIKey)
	s.Retrieval.Collection = envStr("TRIAGE_RETRIEVAL_COLLECTION", s.Retrieval.Collection)
	s.Retrieval.DSN = envStr("TRIAGE_RETRIEVAL_DSN", s.Retrieval.DSN)
	s.Retrieval.Table = envStr("TRIAGE_RETRIEVAL_TABLE", s.Retrieval.Table)
	s.Retrieval.TopK = envInt("TRIAGE_RETRIEVAL_TOP_K", s.Retrieval.TopK)
	s.Retrieval.Timeout = envDuration("TRIAGE_RETRIEVAL_TIMEOUT", s.Retrieval.Timeout)
	s.Retrieval.Embedder.Provider = envStr("TRIAGE_EMBEDDER_PROVIDER", s.Retrieval.Embedder.Provider)
	s.Retrieval.Embedder.URL = envStr("TRIAGE_EMBEDDER_URL", envStr("OLLAMA_URL", s.Retrieval.Embedder.URL))
	s.Retrieval.Embedder.Model = envStr("TRIAGE_EMBEDDER_MODEL", s.Retrieval.Embedder.Model)
	s.Retrieval.Embedder.APIKey = envStr("TRIAGE_EMBEDDER_API_KEY", s.Retrieval.Embedder.APIKey)

	s.Tickets.Backend = envStr("TRIAGE_TICKETS_BACKEND", s.Tickets.Backend)
	s.Tickets.DSN = envStr("TRIAGE_TICKETS_DSN", envStr("DATABASE_URL", s.Tickets.DSN))
	s.Tickets.Timeout = envDuration("TRIAGE_TICKETS_TIMEOUT", s.Tickets.Timeout)

	s.Checkpoints.Backend = envStr("TRIAGE_CHECKPOINTS_BACKEND", s.Checkpoints.Backend)
	s.Checkpoints.Path = envStr("TRIAGE_CHECKPOINTS_PATH", s.Checkpoints.Path)

	s.Telemetry.Endpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", s.Telemetry.Endpoint)
	s.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", s.Telemetry.ServiceName)
	s.Telemetry.Insecure = envBool("TRIAGE_TELEMETRY_INSECURE", s.Telemetry.Insecure)
}

// Validate checks backend names and the fields each backend requires.
func (s Settings) Validate() error {
	var errs []error
	oneOf := func(field, val string, allowed ...string) {
		if !slices.Contains(allowed, val) {
			errs = append(errs, fmt.Errorf("config: %s %q must be one of %s", field, val, strings.Join(allowed, ", ")))
		}
	}

	if _, err := ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	oneOf("log.format", s.Log.Format, "json", "text")

	oneOf("llm.provider", s.LLM.Provider, ProviderOpenAI, ProviderClaudeCLI)
	if s.LLM.Provider == ProviderOpenAI && s.LLM.BaseURL == "" {
		errs = append(errs, errors.New("config: llm.base_url is required for the openai provider"))
	}

	oneOf("retrieval.backend", s.Retrieval.Backend, BackendQdrant, BackendPGVector, BackendNone)
	if s.Retrieval.Backend != BackendNone {
		oneOf("retrieval.embedder.provider", s.Retrieval.Embedder.Provider, ProviderOllama, ProviderOpenAI)
	}
	if s.Retrieval.Backend == BackendPGVector && s.Retrieval.DSN == "" {
		errs = append(errs, errors.New("config: retrieval.dsn is required for the pgvector backend"))
	}
	if s.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("config: retrieval.top_k must be positive"))
	}

	oneOf("tickets.backend", s.Tickets.Backend, BackendPostgres, BackendSQLite, BackendMemory)
	if s.Tickets.Backend != BackendMemory && s.Tickets.DSN == "" {
		errs = append(errs, fmt.Errorf("config: tickets.dsn is required for the %s backend", s.Tickets.Backend))
	}

	oneOf("checkpoints.backend", s.Checkpoints.Backend, BackendSQLite, BackendMemory)
	if s.Checkpoints.Backend == BackendSQLite && s.Checkpoints.Path == "" {
		errs = append(errs, errors.New("config: checkpoints.path is required for the sqlite backend"))
	}

	for name, d := range map[string]time.Duration{
		"llm.timeout":       s.LLM.Timeout,
		"retrieval.timeout": s.Retrieval.Timeout,
		"tickets.timeout":   s.Tickets.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("config: %s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// Timeouts returns the per-capability call bounds.
func (s Settings) Timeouts() support.Timeouts {
	return support.Timeouts{
		LLM:       s.LLM.Timeout,
		Retrieval: s.Retrieval.Timeout,
		Tickets:   s.Tickets.Timeout,
	}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", name)
	}
	return lvl, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
