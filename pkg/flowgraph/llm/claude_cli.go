package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ClaudeCLI implements Client by shelling out to the claude binary.
type ClaudeCLI struct {
	path    string
	model   string
	workdir string
}

// ClaudeOption configures ClaudeCLI.
type ClaudeOption func(*ClaudeCLI)

// NewClaudeCLI creates a Claude CLI client.
// Assumes "claude" is on PATH unless overridden with WithClaudePath.
func NewClaudeCLI(opts ...ClaudeOption) *ClaudeCLI {
	c := &ClaudeCLI{path: "claude"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithClaudePath sets the path to the claude binary.
func WithClaudePath(path string) ClaudeOption {
	return func(c *ClaudeCLI) { c.path = path }
}

// WithModel sets the default model.
func WithModel(model string) ClaudeOption {
	return func(c *ClaudeCLI) { c.model = model }
}

// WithWorkdir sets the working directory for claude commands.
func WithWorkdir(dir string) ClaudeOption {
	return func(c *ClaudeCLI) { c.workdir = dir }
}

// Complete implements Client. The deadline comes from ctx.
func (c *ClaudeCLI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.path, c.buildArgs(req)...)
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		errMsg := stderr.String()
		return nil, NewError("complete", fmt.Errorf("%w: %s", err, errMsg), isRetryableError(errMsg))
	}

	content := strings.TrimSpace(stdout.String())
	if content == "" {
		return nil, NewError("complete", ErrEmptyResponse, false)
	}

	return &CompletionResponse{
		Content:      content,
		FinishReason: "stop",
		Model:        c.modelFor(req),
		Duration:     time.Since(start),
	}, nil
}

func (c *ClaudeCLI) modelFor(req CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// buildArgs constructs CLI arguments from a request. The CLI takes a single
// prompt, so conversation turns are flattened and a requested JSON schema
// is appended to the system prompt.
func (c *ClaudeCLI) buildArgs(req CompletionRequest) []string {
	args := []string{"--print"}

	system := req.SystemPrompt
	if rf := req.ResponseFormat; rf != nil {
		system = strings.TrimSpace(system + "\n\nRespond with only a JSON object matching this schema:\n" + string(rf.Schema))
	}
	if system != "" {
		args = append(args, "--system-prompt", system)
	}

	if model := c.modelFor(req); model != "" {
		args = append(args, "--model", model)
	}
	if req.MaxTokens > 0 {
		args = append(args, "--max-tokens", strconv.Itoa(req.MaxTokens))
	}

	var prompt strings.Builder
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			prompt.WriteString(msg.Content)
			prompt.WriteString("\n")
		case RoleAssistant:
			if prompt.Len() > 0 {
				prompt.WriteString("\nAssistant: ")
				prompt.WriteString(msg.Content)
				prompt.WriteString("\n\nUser: ")
			}
		}
	}
	if p := strings.TrimSpace(prompt.String()); p != "" {
		args = append(args, "-p", p)
	}

	return args
}

// isRetryableError checks if an error message indicates a transient error.
func isRetryableError(errMsg string) bool {
	errLower := strings.ToLower(errMsg)
	for _, marker := range []string{"rate limit", "timeout", "overloaded", "503", "529"} {
		if strings.Contains(errLower, marker) {
			return true
		}
	}
	return false
}
