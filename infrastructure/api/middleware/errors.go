// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/internal/log"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WriteError renders err as {error:{kind,message}} with the status
// mapped from its kind.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *log.Logger) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "kind", string(kind), "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{Kind: string(kind), Message: err.Error()},
	})
}

// WriteJSON renders v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
