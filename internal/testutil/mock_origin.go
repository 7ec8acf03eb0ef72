// Package testutil provides testing utilities for the response cache.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock origin route.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable origin handler for testing. It counts requests
// per path and can hold requests at a gate until released.
type MockOrigin struct {
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int
	total    int
	gate     chan struct{}
	entered  chan struct{}

	server *httptest.Server
}

// NewMockOrigin creates a mock origin. Unknown paths answer 200 with an
// empty JSON array.
func NewMockOrigin() *MockOrigin {
	return &MockOrigin{
		handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
		entered:  make(chan struct{}, 1024),
	}
}

// ServeHTTP implements http.Handler.
func (m *MockOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.total++
	m.counts[r.URL.Path]++
	gate := m.gate
	handler, exists := m.handlers[r.URL.Path]
	m.mu.Unlock()

	select {
	case m.entered <- struct{}{}:
	default:
	}

	if gate != nil {
		<-gate
	}

	if exists {
		handler(w, r)
		return
	}
	m.defaultHandler(w, r)
}

// Start serves the mock over HTTP. The server is closed by Close.
func (m *MockOrigin) Start() string {
	m.server = httptest.NewServer(m)
	return m.server.URL
}

// Close shuts down the HTTP server started by Start and releases any gate.
func (m *MockOrigin) Close() {
	m.Release()
	if m.server != nil {
		m.server.Close()
	}
}

// Hold makes subsequent requests block until Release is called.
func (m *MockOrigin) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

// Release unblocks every request held by Hold.
func (m *MockOrigin) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Entered returns a channel that receives once per request reaching the origin.
func (m *MockOrigin) Entered() <-chan struct{} {
	return m.entered
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to path.
func (m *MockOrigin) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[path]
}

// TotalCount returns the number of requests made to any path.
func (m *MockOrigin) TotalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Reset clears all request counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int)
	m.total = 0
}

func (m *MockOrigin) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`[]`))
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewErrorResponse creates a JSON error response with the given status.
func NewErrorResponse(status int, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"error":"` + message + `"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
