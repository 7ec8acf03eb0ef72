package cache

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// CacheKey identifies a cached read under a namespace epoch.
type CacheKey struct {
	// Epoch is the namespace epoch the key was built under.
	Epoch uint64

	// Method is the HTTP method (e.g., "GET").
	Method string

	// Path is the escaped request path (url.URL.EscapedPath, e.g. "/items").
	// It is used verbatim.
	Path string

	// QueryParams are the decoded query parameters; their order does not
	// matter.
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: v{epoch}:{method}:{path}?{name=value&...}
//
// Parameters are sorted by name; the values of a repeated parameter keep
// their order. The "?" is omitted when there are no parameters. Names and
// values are query-escaped, so a value containing "&" or "=" can never read
// as a second parameter.
//
// Example:
//
//	v3:GET:/items?a=1&b=2
func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString("v")
	b.WriteString(strconv.FormatUint(k.Epoch, 10))
	b.WriteString(":")
	b.WriteString(k.Method)
	b.WriteString(":")
	b.WriteString(k.Path)

	if len(k.QueryParams) == 0 {
		return b.String()
	}

	names := make([]string, 0, len(k.QueryParams))
	for name := range k.QueryParams {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		values := k.QueryParams[name]
		escaped := url.QueryEscape(name)
		if len(values) == 0 {
			pairs = append(pairs, escaped+"=")
			continue
		}
		for _, v := range values {
			pairs = append(pairs, escaped+"="+url.QueryEscape(v))
		}
	}

	b.WriteString("?")
	b.WriteString(strings.Join(pairs, "&"))
	return b.String()
}

// BuildKey derives the cache key for a request under epoch. path must be
// escaped; query holds decoded values.
func BuildKey(method, path string, query url.Values, epoch uint64) string {
	return CacheKey{
		Epoch:       epoch,
		Method:      method,
		Path:        path,
		QueryParams: query,
	}.String()
}
