// Package support implements the support triage assistant: three
// concurrent classifiers, a topic gate, and either a documentation-grounded
// answer or a filed ticket.
//
// The workflow runs on flowgraph:
//
//	START ─┬─ sentiment_analysis ──────┐
//	       ├─ topic_classification ────┼─ validate_topic ─┬─ valid ───► retrieve_and_answer ─► END
//	       └─ priority_classification ─┘                  └─ invalid ─► create_ticket ───────► END
//
// Every stage absorbs its own failures into a documented fallback, so a run
// only fails for unexpected reasons (a panic, a cancelled context), and
// Invoke converts those into InternalErrorMessage.
//
// External systems are reached through the capability interfaces in
// capabilities.go. NewLLM adapts an llm.Client to Classifier, Generator
// and Judge.
package support
