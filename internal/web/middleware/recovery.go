package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Recovery turns a panic in a handler into a 500 JSON error envelope and
// logs it with a stack trace
func Recovery(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				logger.Error("Panic recovered",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(panicError(p)),
					zap.Stack("stack"),
				)
				writeError(w, r, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An unexpected error occurred")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func panicError(p interface{}) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", p)
}

// writeError mirrors the envelope written by the response package
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	body := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"status": status,
		"path":   r.URL.Path,
		"method": r.Method,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
