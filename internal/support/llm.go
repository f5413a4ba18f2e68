package support

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/triage/pkg/flowgraph/llm"
)

// LLM adapts an llm.Client to Classifier, Generator and Judge. Labels and
// verdicts are requested as structured JSON.
type LLM struct {
	client      llm.Client
	model       string
	maxTokens   int
	temperature float64
}

// LLMOption configures LLM.
type LLMOption func(*LLM)

// WithLLMModel overrides the client's default model.
func WithLLMModel(model string) LLMOption {
	return func(l *LLM) { l.model = model }
}

// WithMaxTokens caps free-text generation.
func WithMaxTokens(n int) LLMOption {
	return func(l *LLM) { l.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(l *LLM) { l.temperature = t }
}

// NewLLM wraps client.
func NewLLM(client llm.Client, opts ...LLMOption) *LLM {
	l := &LLM{client: client}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LLM) request(prompt string) llm.CompletionRequest {
	req := llm.UserPrompt(prompt)
	req.Model = l.model
	req.Temperature = l.temperature
	return req
}

type labelReply struct {
	Label string `json:"label"`
}

// Classify implements Classifier.
func (l *LLM) Classify(ctx context.Context, prompt string, labels []string) (string, error) {
	reply, err := llm.CompleteJSON[labelReply](ctx, l.client, l.request(prompt), llm.ResponseFormat{
		Name:   "classification",
		Schema: labelSchema(labels),
	})
	if err != nil {
		return "", err
	}
	return reply.Label, nil
}

// Generate implements Generator.
func (l *LLM) Generate(ctx context.Context, prompt string) (string, error) {
	req := l.request(prompt)
	req.MaxTokens = l.maxTokens
	resp, err := l.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

var escalationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"escalate": {"type": "boolean"},
		"explanation": {"type": "string"}
	},
	"required": ["escalate", "explanation"],
	"additionalProperties": false
}`)

// Judge implements Judge.
func (l *LLM) Judge(ctx context.Context, prompt string) (Escalation, error) {
	return llm.CompleteJSON[Escalation](ctx, l.client, l.request(prompt), llm.ResponseFormat{
		Name:   "escalation",
		Schema: escalationSchema,
	})
}

// labelSchema is a JSON schema for {"label": one of labels}.
func labelSchema(labels []string) json.RawMessage {
	enum, err := json.Marshal(labels)
	if err != nil {
		enum = []byte("[]")
	}
	return json.RawMessage(fmt.Sprintf(`{
	"type": "object",
	"properties": {"label": {"type": "string", "enum": %s}},
	"required": ["label"],
	"additionalProperties": false
}`, enum))
}
