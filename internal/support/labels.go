package support

import (
	"fmt"
	"slices"
	"strings"
)

// Topic is the subject area of a support query.
type Topic string

const (
	TopicHowTo         Topic = "How-to"
	TopicProduct       Topic = "Product"
	TopicConnector     Topic = "Connector"
	TopicLineage       Topic = "Lineage"
	TopicAPISDK        Topic = "API/SDK"
	TopicSSO           Topic = "SSO"
	TopicGlossary      Topic = "Glossary"
	TopicBestPractices Topic = "Best practices"
	TopicSensitiveData Topic = "Sensitive data"
	TopicUnclear       Topic = "unclear"
	TopicOutOfScope    Topic = "out_of_scope"
)

// Topics lists every topic label in prompt order.
var Topics = []Topic{
	TopicHowTo, TopicProduct, TopicConnector, TopicLineage, TopicAPISDK,
	TopicSSO, TopicGlossary, TopicBestPractices, TopicSensitiveData,
	TopicUnclear, TopicOutOfScope,
}

// Sentiment is the emotional register of a support query.
type Sentiment string

const (
	SentimentFrustrated Sentiment = "Frustrated"
	SentimentNeutral    Sentiment = "Neutral"
	SentimentCurious    Sentiment = "Curious"
	SentimentAngry      Sentiment = "Angry"
)

// Sentiments lists every sentiment label.
var Sentiments = []Sentiment{SentimentFrustrated, SentimentNeutral, SentimentCurious, SentimentAngry}

// Priority is the urgency of a support query.
// P0 is blocking, P1 has a workaround, P2 is minor.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

// Priorities lists every priority label.
var Priorities = []Priority{PriorityP0, PriorityP1, PriorityP2}

// Labeled is a classifier result. A nil *Labeled means the classification
// is absent (never attempted, or it failed).
type Labeled[T ~string] struct {
	Label T `json:"label"`
}

// Label wraps v as a present classification.
func Label[T ~string](v T) *Labeled[T] {
	return &Labeled[T]{Label: v}
}

// Or returns the label, or def when the result is absent or empty.
func (l *Labeled[T]) Or(def T) T {
	if l == nil || l.Label == "" {
		return def
	}
	return l.Label
}

// Present reports whether a label was recorded.
func (l *Labeled[T]) Present() bool {
	return l != nil && l.Label != ""
}

// ValidationError reports a classifier answer outside the closed label set.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s label %q (allowed: %s)", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// parseLabel maps raw onto the canonical member of set. Matching ignores
// case and surrounding whitespace.
func parseLabel[T ~string](field, raw string, set []T) (T, error) {
	raw = strings.TrimSpace(raw)
	for _, v := range set {
		if strings.EqualFold(raw, string(v)) {
			return v, nil
		}
	}
	return "", &ValidationError{Field: field, Value: raw, Allowed: labelStrings(set)}
}

func labelStrings[T ~string](set []T) []string {
	out := make([]string, len(set))
	for i, v := range set {
		out[i] = string(v)
	}
	return out
}

// ValidTopics are the topics answerable from documentation.
var ValidTopics = []Topic{TopicHowTo, TopicProduct, TopicBestPractices, TopicAPISDK, TopicSSO}

// IsAnswerable reports whether t is in ValidTopics.
func IsAnswerable(t Topic) bool {
	return slices.Contains(ValidTopics, t)
}
