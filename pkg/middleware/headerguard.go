package middleware

import (
	"net/http"
	"runtime/debug"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var duplicateHeaders = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gateway_duplicate_write_header_total",
	Help: "Handlers that attempted to write response headers twice.",
})

// HeaderGuard drops a second WriteHeader call, counts it and logs the
// request. withStack adds the offending goroutine's stack to the log line.
func HeaderGuard(log *zap.SugaredLogger, withStack bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&guardedWriter{ResponseWriter: w, log: log, stack: withStack, r: r}, r)
		})
	}
}

type guardedWriter struct {
	http.ResponseWriter
	log   *zap.SugaredLogger
	stack bool
	r     *http.Request
	wrote int32
	code  int
}

func (g *guardedWriter) WriteHeader(code int) {
	if atomic.CompareAndSwapInt32(&g.wrote, 0, 1) {
		g.code = code
		g.ResponseWriter.WriteHeader(code)
		return
	}
	duplicateHeaders.Inc()
	fields := []any{
		"method", g.r.Method, "path", g.r.URL.Path,
		"request_id", RequestIDFrom(g.r.Context()), "first", g.code, "second", code,
	}
	if g.stack {
		fields = append(fields, "stack", string(debug.Stack()))
	}
	g.log.Warnw("duplicate WriteHeader suppressed", fields...)
}

func (g *guardedWriter) Write(b []byte) (int, error) {
	if atomic.LoadInt32(&g.wrote) == 0 {
		g.WriteHeader(http.StatusOK)
	}
	return g.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (g *guardedWriter) Unwrap() http.ResponseWriter { return g.ResponseWriter }
