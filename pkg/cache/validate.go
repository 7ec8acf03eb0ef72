package cache

import "encoding/json"

// DefaultListKeys are the container keys a paginated list response may use.
var DefaultListKeys = []string{"items", "orders", "feedbacks"}

// ResponseValidator decides whether a response body may be cached.
type ResponseValidator interface {
	ShouldCache(body []byte) bool
}

// ValidatorFunc adapts a function to ResponseValidator.
type ValidatorFunc func(body []byte) bool

// ShouldCache calls f(body).
func (f ValidatorFunc) ShouldCache(body []byte) bool { return f(body) }

// Validator decides whether a response body is safe to cache.
//
// It errs on the side of not caching: a wrongly cached error or partial shape
// is served for a whole TTL, while a wrongly skipped body only costs one more
// origin fetch.
type Validator struct {
	// ListKeys are the accepted list containers of a paginated body.
	ListKeys []string
}

// NewValidator creates a validator for the given list container keys.
// With no keys DefaultListKeys are used.
func NewValidator(listKeys ...string) Validator {
	if len(listKeys) == 0 {
		listKeys = DefaultListKeys
	}
	return Validator{ListKeys: listKeys}
}

var defaultValidator = NewValidator()

// ShouldCache reports whether body may be cached using DefaultListKeys.
func ShouldCache(body []byte) bool {
	return defaultValidator.ShouldCache(body)
}

// ShouldCache reports whether the JSON body may be cached:
//
//   - null, empty or unparsable bodies are rejected
//   - arrays are accepted, including empty ones
//   - objects with an "error" key are rejected
//   - objects whose only key is "message" are rejected, which also rejects
//     a minimal success payload such as {"message":"ok"}
//   - objects with a "pagination" key need exactly one list container whose
//     value is an array, and a non-null pagination value
//   - any other object is accepted
//
// Top-level scalars (strings, numbers, booleans) are rejected.
func (v Validator) ShouldCache(body []byte) bool {
	if len(body) == 0 {
		return false
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}

	switch d := doc.(type) {
	case []any:
		return true
	case map[string]any:
		return v.objectCacheable(d)
	default:
		return false
	}
}

func (v Validator) objectCacheable(obj map[string]any) bool {
	if _, ok := obj["error"]; ok {
		return false
	}
	if _, ok := obj["message"]; ok && len(obj) == 1 {
		return false
	}

	pagination, paginated := obj["pagination"]
	if !paginated {
		return true
	}
	if pagination == nil {
		return false
	}

	containers := 0
	var list any
	for _, key := range v.listKeys() {
		if value, ok := obj[key]; ok {
			containers++
			list = value
		}
	}
	if containers != 1 {
		return false
	}
	_, isArray := list.([]any)
	return isArray
}

func (v Validator) listKeys() []string {
	if len(v.ListKeys) == 0 {
		return DefaultListKeys
	}
	return v.ListKeys
}
