package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recoverer turns a handler panic into a 500 response instead of killing the connection.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "recoverer")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rv := recover()
				if rv == nil {
					return
				} else if rv == http.ErrAbortHandler {
					panic(rv)
				}

				logger.Error("handler panic",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rv,
					"stack", string(debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"Internal Server Error"}` + "\n"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
