// Package middleware carries the HTTP plumbing shared by every API route:
// request logging, panic recovery, and the JSON error envelope.
package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
)

// Error codes returned in the "error" field of the JSON envelope.
const (
	ErrNotFound      = "not_found"
	ErrBadRequest    = "bad_request"
	ErrValidation    = "validation_error"
	ErrInternalError = "internal_error"
)

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes the standard JSON error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: code, Message: message})
}

// ErrorRecovery converts a handler panic into a 500 instead of tearing down
// the connection. The stack goes to the log, not the client.
func ErrorRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Printf("Panic in %s %s: %v\n%s", r.Method, r.URL.Path, v, debug.Stack())
				WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
