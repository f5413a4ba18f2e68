package template

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// placeholder matches ${name}; names are identifiers.
var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Template is a named piece of text with ${var} placeholders.
type Template struct {
	name     string
	text     string
	vars     []string
	missing  MissingAction
	defaults map[string]any
}

// New creates a template. The text is scanned once for placeholders.
// Returns an error if a "${" opens something that is not a valid
// placeholder, which is almost always a typo in the prompt.
func New(name, text string, opts ...Option) (*Template, error) {
	if name == "" {
		return nil, errors.New("template: name cannot be empty")
	}
	if bad := malformed(text); bad != "" {
		return nil, fmt.Errorf("template %q: malformed placeholder %q", name, bad)
	}

	t := &Template{
		name:     name,
		text:     text,
		defaults: make(map[string]any),
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(t.vars, m[1]) {
			t.vars = append(t.vars, m[1])
		}
	}
	return t, nil
}

// Must panics if err is non-nil. It is meant for package-level prompt
// declarations.
func Must(t *Template, err error) *Template {
	if err != nil {
		panic(err)
	}
	return t
}

// malformed returns the first "${..." sequence that is not a complete
// placeholder, or "".
func malformed(text string) string {
	rest := text
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			return ""
		}
		rest = rest[i:]
		loc := placeholder.FindStringIndex(rest)
		if loc == nil || loc[0] != 0 {
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				end = min(len(rest)-1, 20)
			}
			return rest[:end+1]
		}
		rest = rest[loc[1]:]
	}
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Text returns the raw, unrendered text.
func (t *Template) Text() string { return t.text }

// Variables returns the distinct placeholder names in order of first use.
func (t *Template) Variables() []string {
	return slices.Clone(t.vars)
}

// Render substitutes vars into the template. Values are formatted with %v.
// Errors only when the missing action is MissingError.
func (t *Template) Render(vars map[string]any) (string, error) {
	if t.text == "" {
		return "", nil
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(t.text, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := vars[name]; ok {
			return fmt.Sprintf("%v", val)
		}
		if val, ok := t.defaults[name]; ok {
			return fmt.Sprintf("%v", val)
		}
		switch t.missing {
		case MissingEmpty:
			return ""
		case MissingError:
			if !slices.Contains(missing, name) {
				missing = append(missing, name)
			}
			return match
		default:
			return match
		}
	})

	if len(missing) > 0 {
		return out, &UndefinedVariableError{Template: t.name, Names: missing}
	}
	return out, nil
}

// MustRender is Render that panics on error.
func (t *Template) MustRender(vars map[string]any) string {
	out, err := t.Render(vars)
	if err != nil {
		panic(fmt.Sprintf("template: %v", err))
	}
	return out
}

// UndefinedVariableError is returned by Render under MissingError when one
// or more variables have no value.
type UndefinedVariableError struct {
	// Template is the name of the template being rendered.
	Template string

	// Names lists the missing variables in order of first use.
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	noun := "variable"
	if len(e.Names) > 1 {
		noun = "variables"
	}
	return fmt.Sprintf("template %q: undefined %s: %s", e.Template, noun, strings.Join(e.Names, ", "))
}

// Expand renders s once with MissingKeep semantics.
//
//	template.Expand("Hello ${name}", map[string]any{"name": "World"})
//	// "Hello World"
// Malformed placeholders are left as-is.
func Expand(s string, vars map[string]any) string {
	t := &Template{name: "inline", text: s}
	out, _ := t.Render(vars)
	return out
}
