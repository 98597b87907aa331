package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/caselane/caselane/internal/common"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, errorBody{
		Code:      code,
		Message:   message,
		RequestID: common.RequestIDFromContext(r.Context()),
		Details:   details,
	})
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	return nil
}

// writeDomainError maps the error taxonomy onto status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var schemaErr *common.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		writeError(w, r, http.StatusUnprocessableEntity, "SCHEMA_ERROR", schemaErr.Detail, nil)
	case errors.Is(err, common.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, common.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, common.ErrStateConflict):
		writeError(w, r, http.StatusConflict, "STATE_CONFLICT", err.Error(), nil)
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}

func parseUUIDParam(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id %q", common.ErrInvalidInput, raw)
	}
	return id, nil
}

// requestID tags every request with an id for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(common.WithRequestID(r.Context(), id)))
	})
}

// actor threads the acting user from the request into context; mutations
// record it for audit.
func actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a := r.Header.Get("X-Actor"); a != "" {
			r = r.WithContext(common.WithActor(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}
