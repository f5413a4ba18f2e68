package template

// MissingAction specifies how to handle missing variables.
type MissingAction int

const (
	// MissingKeep leaves the placeholder in the output. This is the default.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty

	// MissingError makes Render fail with *UndefinedVariableError.
	MissingError
)

// String returns the action name.
func (a MissingAction) String() string {
	switch a {
	case MissingEmpty:
		return "empty"
	case MissingError:
		return "error"
	default:
		return "keep"
	}
}

// Option configures a Template.
type Option func(*Template)

// WithMissingAction sets how missing variables are handled.
//
//	t, _ := template.New("greet", "${missing}", WithMissingAction(MissingError))
//	_, err := t.Render(nil)
//	// err: `template "greet": undefined variable: missing`
func WithMissingAction(action MissingAction) Option {
	return func(t *Template) {
		t.missing = action
	}
}

// WithDefaults supplies values used when Render's vars lack a name.
// Render's vars win over defaults.
func WithDefaults(defaults map[string]any) Option {
	return func(t *Template) {
		for k, v := range defaults {
			t.defaults[k] = v
		}
	}
}
