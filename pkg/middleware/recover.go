// pkg/middleware/recover.go
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mcpgateway/pkg/problems"
)

// Recover turns handler panics into a server_error envelope. The stack is
// logged, never written to the client. A response that already started is
// left as is.
func Recover(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Errorw("panic", "err", rec, "path", r.URL.Path,
						"request_id", RequestIDFrom(r.Context()), "stack", string(debug.Stack()))
					if ww.Status() != 0 {
						return
					}
					problems.Write(ww, problems.Wrap(problems.ServerError, "internal server error", fmt.Errorf("panic: %v", rec)))
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
