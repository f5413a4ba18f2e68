package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// CompleteJSON runs req with a JSON response format and decodes the reply
// into T. Code fences around the JSON are tolerated.
//
//	v, err := llm.CompleteJSON[Verdict](ctx, client, req, verdictSchema)
func CompleteJSON[T any](ctx context.Context, client Client, req CompletionRequest, format ResponseFormat) (T, error) {
	var out T

	req.ResponseFormat = &format
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return out, err
	}

	body := extractJSON(resp.Content)
	if body == "" {
		return out, &ParseError{Content: resp.Content, Err: ErrEmptyResponse}
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, &ParseError{Content: resp.Content, Err: err}
	}
	return out, nil
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		s, _, _ = strings.Cut(rest, "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
