package support

import "encoding/json"

// Doc is a retrieved documentation passage.
type Doc struct {
	Content string `json:"content"`
	URL     string `json:"url"`
}

// State is the conversation state threaded through the workflow.
//
// Stages return partial States; Merge folds them into the running state.
// Zero fields mean "no change", which is why the booleans are pointers and
// Docs distinguishes nil (absent) from empty (retrieved nothing).
type State struct {
	Message string `json:"message,omitempty"`

	Topic     *Labeled[Topic]     `json:"topic,omitempty"`
	Sentiment *Labeled[Sentiment] `json:"sentiment,omitempty"`
	Priority  *Labeled[Priority]  `json:"priority,omitempty"`

	IsTopicValid *bool `json:"is_topic_valid,omitempty"`

	Docs   []Doc  `json:"docs"`
	Answer string `json:"answer,omitempty"`

	NeedsTicketOffer *bool  `json:"needs_ticket_offer,omitempty"`
	EscalationReason string `json:"escalation_reason,omitempty"`

	TicketID        string `json:"ticket_id,omitempty"`
	TicketTopic     string `json:"ticket_topic,omitempty"`
	TicketQuery     string `json:"ticket_query,omitempty"`
	TicketSentiment string `json:"ticket_sentiment,omitempty"`
	TicketPriority  string `json:"ticket_priority,omitempty"`
	TicketSubject   string `json:"ticket_subject,omitempty"`
	TicketMessage   string `json:"ticket_message,omitempty"`
}

// startTurn folds a new message over the thread's saved state. Unlike
// Merge, the caller's message always replaces the previous one, even when
// empty.
func startTurn(prev, input State) State {
	prev.Message = input.Message
	return prev
}

// Merge is the workflow reducer: every field set in update overwrites base,
// everything else is kept. Ticket fields travel together, keyed on TicketID.
func Merge(base, update State) State {
	out := base
	if update.Message != "" {
		out.Message = update.Message
	}
	if update.Topic != nil {
		out.Topic = update.Topic
	}
	if update.Sentiment != nil {
		out.Sentiment = update.Sentiment
	}
	if update.Priority != nil {
		out.Priority = update.Priority
	}
	if update.IsTopicValid != nil {
		out.IsTopicValid = update.IsTopicValid
	}
	if update.Docs != nil {
		out.Docs = update.Docs
	}
	if update.Answer != "" {
		out.Answer = update.Answer
	}
	if update.NeedsTicketOffer != nil {
		out.NeedsTicketOffer = update.NeedsTicketOffer
		out.EscalationReason = update.EscalationReason
	} else if update.EscalationReason != "" {
		out.EscalationReason = update.EscalationReason
	}
	if update.TicketID != "" {
		out.TicketID = update.TicketID
		out.TicketTopic = update.TicketTopic
		out.TicketQuery = update.TicketQuery
		out.TicketSentiment = update.TicketSentiment
		out.TicketPriority = update.TicketPriority
		out.TicketSubject = update.TicketSubject
		out.TicketMessage = update.TicketMessage
	}
	return out
}

// HasTicket reports whether a ticket was created.
func (s State) HasTicket() bool { return s.TicketID != "" }

// Map returns the state as a plain key/value mapping. Absent fields are
// omitted; classifications appear as {"label": ...}.
func (s State) Map() map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"message": s.Message}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"message": s.Message}
	}
	if s.Docs == nil {
		delete(out, "docs")
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
