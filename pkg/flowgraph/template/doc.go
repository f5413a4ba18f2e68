/*
Package template renders ${var} placeholders in prompt text.

# Basic Usage

Parse a template once and render it per request:

	var topicPrompt = template.Must(template.New("topic", "Classify: ${query}",
	    template.WithMissingAction(template.MissingError)))

	text, err := topicPrompt.Render(map[string]any{"query": "How do I reset SSO?"})
	// text: "Classify: How do I reset SSO?"

Only the brace form is recognized. A bare $ and JSON braces in the text
pass through untouched, so prompts can carry JSON examples.

# Missing Variables

By default a missing variable keeps its placeholder:

	template.Expand("Hello ${missing}", nil)
	// "Hello ${missing}"

MissingEmpty drops it, MissingError fails with *UndefinedVariableError
listing every missing name in order of first use.

# Declared Variables

Variables returns the distinct names a template references, which lets
callers check a template against the fields they can supply:

	topicPrompt.Variables() // ["query"]

# Thread Safety

Template is immutable after New and safe for concurrent use. New rejects
text with an unterminated or invalid "${" so prompt typos fail at startup.
*/
package template
