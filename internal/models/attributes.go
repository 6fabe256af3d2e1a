package models

import (
	"fmt"
	"strings"
)

// Attributes is an open mapping of auxiliary display metadata carried on a
// plot. Upstream data is inconsistent about key casing ("Block_numb" vs
// "block_numb"), so keys are canonicalized to lower case once at ingestion
// and every lookup goes through the same canonical form.
type Attributes map[string]interface{}

// NewAttributes builds an attribute map with canonicalized keys.
// A nil or empty input yields nil so empty maps are omitted from JSON.
func NewAttributes(raw map[string]interface{}) Attributes {
	if len(raw) == 0 {
		return nil
	}
	attrs := make(Attributes, len(raw))
	for key, value := range raw {
		attrs[canonicalKey(key)] = value
	}
	return attrs
}

// Get returns the value for key, matching case-insensitively.
func (a Attributes) Get(key string) (interface{}, bool) {
	if a == nil {
		return nil, false
	}
	value, ok := a[canonicalKey(key)]
	return value, ok
}

// GetString returns the value for key rendered as a string.
// Non-string scalars are formatted; missing or empty values return "", false.
func (a Attributes) GetString(key string) (string, bool) {
	value, ok := a.Get(key)
	if !ok || value == nil {
		return "", false
	}
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case float64:
		// JSON numbers arrive as float64; render whole numbers without decimals
		if v == float64(int64(v)) {
			s = fmt.Sprintf("%d", int64(v))
		} else {
			s = fmt.Sprintf("%g", v)
		}
	default:
		s = fmt.Sprintf("%v", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func canonicalKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
