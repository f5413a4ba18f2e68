package llm_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/triage/pkg/flowgraph/llm"
)

func TestMockClient_FixedResponse(t *testing.T) {
	mock := llm.NewMockClient("Hello, world!")

	resp, err := mock.Complete(context.Background(), llm.UserPrompt("Hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestMockClient_SequentialResponses(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses("first", "second")

	for _, want := range []string{"first", "second", "first"} {
		resp, err := mock.Complete(context.Background(), llm.CompletionRequest{})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Content)
	}
}

func TestMockClient_WithError(t *testing.T) {
	expected := errors.New("test error")
	mock := llm.NewMockClient("").WithError(expected)

	_, err := mock.Complete(context.Background(), llm.CompletionRequest{})
	assert.ErrorIs(t, err, expected)
	assert.Equal(t, 1, mock.CallCount())
}

func TestMockClient_Handler(t *testing.T) {
	mock := llm.NewMockClient("").WithHandler(func(req llm.CompletionRequest) (string, error) {
		return "re: " + req.Messages[0].Content, nil
	})

	resp, err := mock.Complete(context.Background(), llm.UserPrompt("topic?"))
	require.NoError(t, err)
	assert.Equal(t, "re: topic?", resp.Content)
	assert.Equal(t, "topic?", mock.LastCall().Messages[0].Content)
}

func TestMockClient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := llm.NewMockClient("x").Complete(ctx, llm.CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockClient_ConcurrentCalls(t *testing.T) {
	mock := llm.NewMockClient("ok")
	assert.Nil(t, mock.LastCall())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mock.Complete(context.Background(), llm.UserPrompt("q"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, mock.CallCount())
}
