// Package api provides shared HTTP response helpers and the service's
// auxiliary endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/interview-room/internal/shared"
)

// envelope is the response body shape of the chat API.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Success writes {"success": true, "data": data}.
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, envelope{Success: true, Data: data})
}

// Failure writes {"success": false, "message", "error"} with the status
// derived from err's kind. Unclassified errors are reported as internal
// without leaking their text.
func Failure(w http.ResponseWriter, err error) {
	kind := shared.KindOf(err)
	status := shared.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "kind", kind, "error", err)
	}
	JSON(w, status, envelope{
		Success: false,
		Message: shared.MessageOf(err),
		Error:   string(kind),
	})
}
