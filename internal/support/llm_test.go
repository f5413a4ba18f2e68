package support

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/triage/pkg/flowgraph/llm"
)

func TestLLM_Classify(t *testing.T) {
	mock := llm.NewMockClient(`{"label": "SSO"}`)
	l := NewLLM(mock, WithLLMModel("small"), WithTemperature(0.1))

	label, err := l.Classify(context.Background(), "classify me", labelStrings(Topics))
	require.NoError(t, err)
	assert.Equal(t, "SSO", label)

	req := mock.LastCall()
	assert.Equal(t, "small", req.Model)
	assert.Equal(t, 0.1, req.Temperature)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "classification", req.ResponseFormat.Name)

	var schema struct {
		Properties struct {
			Label struct {
				Enum []string `json:"enum"`
			} `json:"label"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(req.ResponseFormat.Schema, &schema))
	assert.Equal(t, labelStrings(Topics), schema.Properties.Label.Enum)
}

func TestLLM_ClassifyMalformed(t *testing.T) {
	_, err := NewLLM(llm.NewMockClient("I think it's SSO")).Classify(context.Background(), "p", []string{"SSO"})
	var parseErr *llm.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestLLM_Generate(t *testing.T) {
	mock := llm.NewMockClient("  An answer.\n")
	text, err := NewLLM(mock, WithMaxTokens(256)).Generate(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "An answer.", text)
	assert.Equal(t, 256, mock.LastCall().MaxTokens)
	assert.Nil(t, mock.LastCall().ResponseFormat)

	_, err = NewLLM(llm.NewMockClient(" ")).Generate(context.Background(), "q")
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestLLM_Judge(t *testing.T) {
	mock := llm.NewMockClient("```json\n{\"escalate\": true, \"explanation\": \"says to contact support\"}\n```")
	verdict, err := NewLLM(mock).Judge(context.Background(), "judge")
	require.NoError(t, err)
	assert.Equal(t, Escalation{Escalate: true, Explanation: "says to contact support"}, verdict)
	assert.Equal(t, "escalation", mock.LastCall().ResponseFormat.Name)
}

func TestLLM_DrivesAssistant(t *testing.T) {
	mock := llm.NewMockClient("").WithHandler(func(req llm.CompletionRequest) (string, error) {
		switch {
		case req.ResponseFormat == nil:
			return "Use the SSO settings page.", nil
		case req.ResponseFormat.Name == "escalation":
			return `{"escalate": false, "explanation": "clear"}`, nil
		}
		var schema struct {
			Properties struct {
				Label struct {
					Enum []string `json:"enum"`
				} `json:"label"`
			} `json:"properties"`
		}
		_ = json.Unmarshal(req.ResponseFormat.Schema, &schema)
		switch schema.Properties.Label.Enum[0] {
		case "How-to":
			return `{"label": "SSO"}`, nil
		case "P0":
			return `{"label": "P2"}`, nil
		default:
			return `{"label": "Curious"}`, nil
		}
	})
	l := NewLLM(mock)

	a, err := New(Deps{Classifier: l, Generator: l, Judge: l, Tickets: &fakeTickets{}}, WithLogger(quietLogger()))
	require.NoError(t, err)

	got := a.Invoke(context.Background(), "How do I set up SSO?", "")
	assert.Equal(t, TopicSSO, got.Topic.Or(""))
	assert.Equal(t, PriorityP2, got.Priority.Or(""))
	assert.Equal(t, SentimentCurious, got.Sentiment.Or(""))
	assert.Equal(t, "Use the SSO settings page.", got.Answer)
	assert.Equal(t, 5, mock.CallCount())
}
