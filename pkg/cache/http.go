package cache

import (
	"bytes"
	"net/http"
	"time"
)

// HeaderCacheStatus reports how a response was served.
const HeaderCacheStatus = "X-Cache-Status"

// Cache status values.
const (
	StatusHit       = "HIT"
	StatusMiss      = "MISS"
	StatusCoalesced = "COALESCED"
	StatusBypass    = "BYPASS"
)

// BeforeSendFunc observes a complete origin response before any byte of it
// reaches the client.
type BeforeSendFunc func(rec *Record)

// InterceptWriter is an http.ResponseWriter decorator that buffers the origin
// response. Nothing is written to the wrapped writer until Send is called,
// which first hands the buffered response to the OnBeforeSend hook.
//
// With a limit set (SetLimit), a body growing past the limit stops being
// buffered: the writer sends what it holds and streams the rest through, and
// OnBeforeSend never runs.
type InterceptWriter struct {
	w            http.ResponseWriter
	onBeforeSend BeforeSendFunc
	now          func() time.Time

	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
	sent        bool

	limit          int64
	overflowStatus string
	onOverflow     func()
	streaming      bool
}

// NewInterceptWriter wraps w. onBeforeSend may be nil.
func NewInterceptWriter(w http.ResponseWriter, onBeforeSend BeforeSendFunc) *InterceptWriter {
	return &InterceptWriter{
		w:            w,
		onBeforeSend: onBeforeSend,
		now:          time.Now,
		header:       make(http.Header),
		status:       http.StatusOK,
	}
}

// SetLimit caps the buffered body at max bytes (max <= 0 disables the cap).
// When a write would pass the cap, onOverflow runs, the response is tagged
// with cacheStatus and everything from then on goes straight to the wrapped
// writer.
func (iw *InterceptWriter) SetLimit(max int64, cacheStatus string, onOverflow func()) {
	iw.limit = max
	iw.overflowStatus = cacheStatus
	iw.onOverflow = onOverflow
}

// Overflowed reports whether the body passed the limit.
func (iw *InterceptWriter) Overflowed() bool {
	return iw.streaming
}

// Header returns the buffered response headers.
func (iw *InterceptWriter) Header() http.Header {
	return iw.header
}

// WriteHeader records the status code. Only the first final status counts.
func (iw *InterceptWriter) WriteHeader(code int) {
	if iw.wroteHeader || code < http.StatusOK {
		return
	}
	iw.status = code
	iw.wroteHeader = true
}

// Write buffers b, or passes it through once the limit was exceeded.
func (iw *InterceptWriter) Write(b []byte) (int, error) {
	if !iw.wroteHeader {
		iw.WriteHeader(http.StatusOK)
	}
	if iw.streaming {
		return iw.w.Write(b)
	}
	if iw.limit > 0 && int64(iw.body.Len()+len(b)) > iw.limit {
		if err := iw.overflow(); err != nil {
			return 0, err
		}
		return iw.w.Write(b)
	}
	return iw.body.Write(b)
}

// overflow switches to pass-through, flushing the status, headers and
// buffered body first.
func (iw *InterceptWriter) overflow() error {
	iw.streaming = true
	iw.sent = true

	if iw.onOverflow != nil {
		iw.onOverflow()
	}

	iw.writeHead(iw.overflowStatus)
	_, err := iw.w.Write(iw.body.Bytes())
	iw.body.Reset()
	return err
}

func (iw *InterceptWriter) writeHead(cacheStatus string) {
	dst := iw.w.Header()
	for name, values := range iw.header {
		dst[name] = append([]string(nil), values...)
	}
	if cacheStatus != "" {
		dst.Set(HeaderCacheStatus, cacheStatus)
	}
	iw.w.WriteHeader(iw.status)
}

// Record returns the buffered response as a cache record.
func (iw *InterceptWriter) Record() *Record {
	return &Record{
		Body:       bytes.Clone(iw.body.Bytes()),
		StatusCode: iw.status,
		Header:     replayableHeader(iw.header),
		CachedAt:   iw.now(),
	}
}

// Send runs the OnBeforeSend hook and then writes the buffered response,
// tagged with cacheStatus, to the wrapped writer. Only the first call has
// any effect, and none after an overflow.
func (iw *InterceptWriter) Send(cacheStatus string) error {
	if iw.sent {
		return nil
	}
	iw.sent = true

	if iw.onBeforeSend != nil {
		iw.onBeforeSend(iw.Record())
	}

	iw.writeHead(cacheStatus)
	_, err := iw.w.Write(iw.body.Bytes())
	return err
}

// writeRecord replays a cached record to w.
func writeRecord(w http.ResponseWriter, rec *Record, cacheStatus string) error {
	dst := w.Header()
	for name, values := range rec.Header {
		dst[name] = append([]string(nil), values...)
	}
	dst.Set(HeaderCacheStatus, cacheStatus)
	w.WriteHeader(rec.StatusCode)

	_, err := w.Write(rec.Body)
	return err
}
