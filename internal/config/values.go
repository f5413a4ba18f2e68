package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Values wraps a parsed config document for typed lookups.
// Keys are dotted paths into nested maps ("llm.model"). Accessors return
// the default when the key is missing or has the wrong type.
type Values struct {
	data map[string]any
}

// NewValues wraps data. A nil map gives empty Values.
func NewValues(data map[string]any) Values {
	if data == nil {
		data = make(map[string]any)
	}
	return Values{data: data}
}

// ReadFile parses a YAML or JSON file, chosen by extension.
func ReadFile(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Values{}, fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return Values{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// ParseYAML parses YAML data.
func ParseYAML(data []byte) (Values, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Values{}, fmt.Errorf("parse yaml: %w", err)
	}
	return NewValues(m), nil
}

// ParseJSON parses JSON data.
func ParseJSON(data []byte) (Values, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Values{}, fmt.Errorf("parse json: %w", err)
	}
	return NewValues(m), nil
}

// lookup walks a dotted key through nested maps.
func (v Values) lookup(key string) (any, bool) {
	var cur any = v.data
	for part := range strings.SplitSeq(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether key is present.
func (v Values) Has(key string) bool {
	_, ok := v.lookup(key)
	return ok
}

// String returns the string at key, or def.
func (v Values) String(key, def string) string {
	if s, ok := v.get(key).(string); ok {
		return s
	}
	return def
}

// Bool returns the bool at key, or def.
func (v Values) Bool(key string, def bool) bool {
	if b, ok := v.get(key).(bool); ok {
		return b
	}
	return def
}

// Int returns the integer at key, or def. Floats with a fractional part
// are rejected.
func (v Values) Int(key string, def int) int {
	switch val := v.get(key).(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return def
}

// Float returns the number at key, or def.
func (v Values) Float(key string, def float64) float64 {
	switch val := v.get(key).(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return def
}

// Duration returns the duration at key, or def.
// Strings use time.ParseDuration; bare numbers are seconds.
func (v Values) Duration(key string, def time.Duration) time.Duration {
	switch val := v.get(key).(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	}
	return def
}

func (v Values) get(key string) any {
	val, _ := v.lookup(key)
	return val
}
