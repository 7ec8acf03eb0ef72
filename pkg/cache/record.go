package cache

import (
	"net/http"
	"time"
)

// Record is a cached origin response.
type Record struct {
	// Body is the response body exactly as the origin produced it.
	Body []byte `json:"body" msgpack:"body"`

	// StatusCode is the HTTP status code of the cached response.
	StatusCode int `json:"status_code" msgpack:"status_code"`

	// Header holds the response headers worth replaying.
	Header http.Header `json:"header" msgpack:"header"`

	// CachedAt is when the origin produced this response.
	CachedAt time.Time `json:"cached_at" msgpack:"cached_at"`
}

// Age returns how long ago the record was produced.
// Returns 0 for records from the future (clock skew between processes).
func (r *Record) Age(now time.Time) time.Duration {
	age := now.Sub(r.CachedAt)
	if age < 0 {
		return 0
	}
	return age
}

// unreplayedHeaders are dropped before a response is stored: they are either
// per-client or recomputed on every write.
var unreplayedHeaders = []string{
	"Set-Cookie",
	"Content-Length",
	"Date",
	HeaderCacheStatus,
}

func replayableHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range unreplayedHeaders {
		out.Del(name)
	}
	return out
}
