package cache

import "testing"

func TestShouldCache(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "nil body", body: "", want: false},
		{name: "json null", body: `null`, want: false},
		{name: "not json", body: `<html>oops</html>`, want: false},
		{name: "truncated json", body: `{"items":[`, want: false},
		{name: "empty array", body: `[]`, want: true},
		{name: "array of objects", body: `[{"id":1},{"id":2}]`, want: true},
		{name: "error object", body: `{"error":"x"}`, want: false},
		{name: "error with data", body: `{"error":"boom","items":[]}`, want: false},
		{name: "bare message", body: `{"message":"x"}`, want: false},
		// Over-conservative by design: a minimal success payload is rejected too.
		{name: "message ok is rejected", body: `{"message":"ok"}`, want: false},
		{name: "message with data", body: `{"message":"created","id":7}`, want: true},
		{name: "paginated items", body: `{"items":[],"pagination":{"page":1}}`, want: true},
		{name: "paginated orders", body: `{"orders":[{"id":1}],"pagination":{"nextCursor":"eyJpZCI6MX0"}}`, want: true},
		{name: "paginated feedbacks", body: `{"feedbacks":[],"pagination":{"page":3}}`, want: true},
		{name: "pagination without container", body: `{"pagination":{"page":1}}`, want: false},
		{name: "pagination with two containers", body: `{"items":[],"orders":[],"pagination":{}}`, want: false},
		{name: "pagination container not array", body: `{"items":{"id":1},"pagination":{}}`, want: false},
		{name: "pagination container null", body: `{"items":null,"pagination":{}}`, want: false},
		{name: "null pagination", body: `{"items":[],"pagination":null}`, want: false},
		{name: "plain object", body: `{"id":42,"name":"widget"}`, want: true},
		{name: "empty object", body: `{}`, want: true},
		{name: "string scalar", body: `"hello"`, want: false},
		{name: "number scalar", body: `42`, want: false},
		{name: "boolean scalar", body: `true`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			if got := ShouldCache(body); got != tt.want {
				t.Errorf("ShouldCache(%s) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestValidator_CustomListKeys(t *testing.T) {
	v := NewValidator("products")

	if !v.ShouldCache([]byte(`{"products":[],"pagination":{"page":1}}`)) {
		t.Error("custom list key should be accepted")
	}
	if v.ShouldCache([]byte(`{"items":[],"pagination":{"page":1}}`)) {
		t.Error("default list key should not be accepted by a custom validator")
	}
}

func TestValidator_ZeroValueUsesDefaults(t *testing.T) {
	var v Validator

	if !v.ShouldCache([]byte(`{"orders":[],"pagination":{"page":1}}`)) {
		t.Error("zero Validator should fall back to DefaultListKeys")
	}
}
