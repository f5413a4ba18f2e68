// Package retrieval looks up documentation passages for a support query.
//
// An Embedder turns the query into a vector; an index (Qdrant or pgvector)
// returns the nearest passages. Building and populating the index is done
// elsewhere.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// DefaultTopK is how many passages an index returns by default.
const DefaultTopK = 3

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

var errEmptyEmbedding = errors.New("empty embedding returned")

// OllamaEmbedder calls a local Ollama server's embedding API.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaEmbedder creates an embedder for model (e.g. "nomic-embed-text").
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	var out ollamaEmbedResponse
	if err := postJSON(ctx, e.httpClient, e.baseURL+"/api/embeddings", "", ollamaEmbedRequest{
		Model:  e.model,
		Prompt: text,
	}, &out); err != nil {
		return pgvector.Vector{}, fmt.Errorf("ollama: %w", err)
	}
	if len(out.Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("ollama: %w", errEmptyEmbedding)
	}
	return pgvector.NewVector(out.Embedding), nil
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIEmbedder creates an embedder. baseURL includes /v1.
func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	var out openAIEmbedResponse
	if err := postJSON(ctx, e.httpClient, e.baseURL+"/embeddings", e.apiKey, openAIEmbedRequest{
		Input: []string{text},
		Model: e.model,
	}, &out); err != nil {
		return pgvector.Vector{}, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("openai embeddings: %w", errEmptyEmbedding)
	}
	return pgvector.NewVector(out.Data[0].Embedding), nil
}

func postJSON(ctx context.Context, client *http.Client, url, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
