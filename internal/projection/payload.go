package projection

import (
	"time"
)

// Payload wraps a decoded event_data document with type-tolerant accessors.
// Event payloads arrive as generic JSON; handlers must not panic on missing
// or mistyped fields.
type Payload map[string]any

// String returns the field as a string, or "" when absent or mistyped.
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// StringDefault returns the field or the fallback when it is empty.
func (p Payload) StringDefault(key, fallback string) string {
	if v := p.String(key); v != "" {
		return v
	}
	return fallback
}

// StringPtr returns a pointer to the field's value when the key is present
// as a string, and nil otherwise. Partial-update handlers use the nil to
// keep the existing column value.
func (p Payload) StringPtr(key string) *string {
	if v, ok := p[key].(string); ok {
		return &v
	}
	return nil
}

// StringFallback returns the first key that is present as a non-empty
// string. Used for payload fields that were renamed across producer
// versions: old events keep working without migration.
func (p Payload) StringFallback(keys ...string) string {
	for _, key := range keys {
		if v := p.String(key); v != "" {
			return v
		}
	}
	return ""
}

// Bool returns the field as a bool, or false.
func (p Payload) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// Int returns the field as an int64. JSON numbers decode as float64, so
// both forms are accepted.
func (p Payload) Int(key string) int64 {
	switch v := p[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// IntPtr returns a pointer when the key is present as a number.
func (p Payload) IntPtr(key string) *int64 {
	switch v := p[key].(type) {
	case float64:
		n := int64(v)
		return &n
	case int64:
		return &v
	case int:
		n := int64(v)
		return &n
	}
	return nil
}

// Map returns the field as a nested document, or nil.
func (p Payload) Map(key string) map[string]any {
	v, _ := p[key].(map[string]any)
	return v
}

// Time parses the field as RFC 3339. The zero time signals absence.
func (p Payload) Time(key string) time.Time {
	s := p.String(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
