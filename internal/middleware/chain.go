// Package middleware manages the dev server's HTTP middleware stack.
//
// Middlewares are registered with an explicit priority instead of relying
// on insertion order: lower priorities wrap further out and see the request
// first. The SSR interceptor depends on this contract — it must run after
// the host's own middlewares but before static file serving.
package middleware

import (
	"net/http"
	"sort"
	"time"

	"github.com/ssrkit/ssrkit/internal/logging"
)

// Middleware represents a single middleware function
type Middleware func(http.Handler) http.Handler

// Standard priorities, outermost first.
const (
	PriorityLogging     = 10
	PriorityCORS        = 20
	PriorityInterceptor = 50
)

// Chain composes middlewares onto a base handler in priority order.
//
// Invariants:
//   - Apply is a read-only operation and safe for concurrent use.
//   - Registration order between equal priorities is preserved.
type Chain struct {
	entries []entry
}

type entry struct {
	priority int
	seq      int
	mw       Middleware
}

// NewChain creates an empty middleware chain.
func NewChain() *Chain {
	return &Chain{}
}

// Add registers a middleware at the given priority. Lower priorities
// execute first on the request path.
func (c *Chain) Add(priority int, mw Middleware) {
	c.entries = append(c.entries, entry{priority: priority, seq: len(c.entries), mw: mw})
}

// Len returns the number of registered middlewares.
func (c *Chain) Len() int {
	return len(c.entries)
}

// Apply wraps handler with all registered middlewares. The lowest priority
// becomes the outermost wrapper, so it sees the request first and the
// response last.
func (c *Chain) Apply(handler http.Handler) http.Handler {
	ordered := make([]entry, len(c.entries))
	copy(ordered, c.entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority < ordered[j].priority
		}
		return ordered[i].seq < ordered[j].seq
	})

	wrapped := handler
	for i := len(ordered) - 1; i >= 0; i-- {
		wrapped = ordered[i].mw(wrapped)
	}
	return wrapped
}

// ResponseWriter wraps http.ResponseWriter and records whether a response
// has been started, so later middlewares can pass through already-completed
// responses untouched.
type ResponseWriter struct {
	http.ResponseWriter
	wrote  bool
	status int
}

// Wrap returns w as a *ResponseWriter, reusing it if already wrapped.
func Wrap(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{ResponseWriter: w}
}

// WriteHeader records the status before delegating.
func (rw *ResponseWriter) WriteHeader(status int) {
	rw.wrote = true
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Write marks the response as started before delegating.
func (rw *ResponseWriter) Write(data []byte) (int, error) {
	rw.wrote = true
	return rw.ResponseWriter.Write(data)
}

// Written reports whether any part of the response has been sent.
func (rw *ResponseWriter) Written() bool {
	return rw.wrote
}

// Status returns the recorded status code, zero if none was written.
func (rw *ResponseWriter) Status() int {
	return rw.status
}

// Logging creates the request logging middleware.
func Logging(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := Wrap(w)

			next.ServeHTTP(rw, r)

			logger.Debug(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.Status(),
				"duration", time.Since(start).String(),
			)
		})
	}
}

// CORS creates the CORS handling middleware. Unknown origins only get a
// wildcard in development.
func CORS(allowedOrigins []string, environment string) Middleware {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else if environment == "development" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			// Production default: no CORS header

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
