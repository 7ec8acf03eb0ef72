package cache

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/felixge/httpsnoop"
)

// Invalidate bumps the epoch of the request's namespace whenever a mutating
// request through next succeeds (2xx). The bump happens before the status
// reaches the client, so a client that saw its write succeed never reads the
// pre-write cache afterwards from this process.
func (c *Coordinator) Invalidate(next http.Handler) http.Handler {
	return c.invalidate(c.config.Namespace, next)
}

// InvalidateNamespace is Invalidate with a fixed namespace.
func (c *Coordinator) InvalidateNamespace(namespace string, next http.Handler) http.Handler {
	return c.invalidate(func(*http.Request) string { return namespace }, next)
}

func (c *Coordinator) invalidate(nsFunc NamespaceFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutation(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		namespace := nsFunc(r)
		var once sync.Once
		onStatus := func(code int) {
			// Informational statuses precede the final one.
			if code < http.StatusOK {
				return
			}
			once.Do(func() {
				if code >= http.StatusMultipleChoices {
					return
				}
				// The mutation already happened; a client hanging up must
				// not cancel its invalidation.
				ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), c.config.WriteTimeout)
				defer cancel()

				ep := c.BumpEpoch(ctx, namespace)
				c.logger.Debug().
					Str("namespace", namespace).
					Str("method", r.Method).
					Uint64("epoch", ep).
					Msg("Namespace invalidated after write")
			})
		}

		hooked := httpsnoop.Wrap(w, httpsnoop.Hooks{
			WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
				return func(code int) {
					onStatus(code)
					next(code)
				}
			},
			Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
				return func(b []byte) (int, error) {
					onStatus(http.StatusOK)
					return next(b)
				}
			},
			ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
				return func(src io.Reader) (int64, error) {
					onStatus(http.StatusOK)
					return next(src)
				}
			},
		})

		next.ServeHTTP(hooked, r)
		// A handler that writes nothing answers with an implicit 200.
		onStatus(http.StatusOK)
	})
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}
