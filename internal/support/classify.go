package support

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/triage/pkg/flowgraph"
	"github.com/randalmurphal/triage/pkg/flowgraph/template"
)

// Classification node IDs.
const (
	NodeSentiment = "sentiment_analysis"
	NodeTopic     = "topic_classification"
	NodePriority  = "priority_classification"
)

// ClassifySentiment returns the node that labels State.Sentiment.
func ClassifySentiment(c Classifier, timeout time.Duration) flowgraph.NodeFunc[State] {
	return sentimentNode(c, timeout, defaultMetrics())
}

// ClassifyTopic returns the node that labels State.Topic.
func ClassifyTopic(c Classifier, timeout time.Duration) flowgraph.NodeFunc[State] {
	return topicNode(c, timeout, defaultMetrics())
}

// ClassifyPriority returns the node that labels State.Priority.
func ClassifyPriority(c Classifier, timeout time.Duration) flowgraph.NodeFunc[State] {
	return priorityNode(c, timeout, defaultMetrics())
}

func sentimentNode(c Classifier, timeout time.Duration, m *metrics) flowgraph.NodeFunc[State] {
	return classifyNode(c, timeout, m, "sentiment", sentimentPrompt, Sentiments,
		func(l *Labeled[Sentiment]) State { return State{Sentiment: l} })
}

func topicNode(c Classifier, timeout time.Duration, m *metrics) flowgraph.NodeFunc[State] {
	return classifyNode(c, timeout, m, "topic", topicPrompt, Topics,
		func(l *Labeled[Topic]) State { return State{Topic: l} })
}

func priorityNode(c Classifier, timeout time.Duration, m *metrics) flowgraph.NodeFunc[State] {
	return classifyNode(c, timeout, m, "priority", priorityPrompt, Priorities,
		func(l *Labeled[Priority]) State { return State{Priority: l} })
}

// classifyNode builds a classification unit. The node only ever sets its
// own field; an empty message or any failure yields an empty update.
func classifyNode[T ~string](
	c Classifier,
	timeout time.Duration,
	m *metrics,
	unit string,
	tmpl *template.Template,
	set []T,
	update func(*Labeled[T]) State,
) flowgraph.NodeFunc[State] {
	labels := labelStrings(set)

	return func(ctx flowgraph.Context, s State) (State, error) {
		if s.Message == "" {
			m.classification(ctx, unit, outcomeSkipped)
			return State{}, nil
		}

		label, err := classify(ctx, c, timeout, m, unit, tmpl, s.Message, set, labels)
		if err != nil {
			ctx.Logger().Warn("classification failed",
				slog.String("unit", unit),
				slog.String("error", err.Error()))
			m.classification(ctx, unit, outcomeFailed)
			return State{}, nil
		}

		m.classification(ctx, unit, outcomeOK)
		return update(Label(label)), nil
	}
}

func classify[T ~string](
	ctx context.Context,
	c Classifier,
	timeout time.Duration,
	m *metrics,
	unit string,
	tmpl *template.Template,
	message string,
	set []T,
	labels []string,
) (T, error) {
	text, err := tmpl.Render(map[string]any{"message": message})
	if err != nil {
		return "", err
	}

	start := time.Now()
	raw, err := bounded(ctx, timeout, func(ctx context.Context) (string, error) {
		return c.Classify(ctx, text, labels)
	})
	m.call(ctx, "classify", start, err)
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", errors.New("empty label")
	}
	return parseLabel(unit, raw, set)
}
