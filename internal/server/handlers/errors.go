package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/internal/server/middleware"
)

// HTTPErrorResponder writes err to w.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = defaultErrorResponder

// SetHTTPErrorResponder replaces the responder used by every handler.
// Nil restores the default.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		fn = defaultErrorResponder
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// defaultErrorResponder maps the apperrors taxonomy onto HTTP statuses.
func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case apperrors.IsNotFound(err):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case apperrors.IsValidation(err):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case apperrors.IsMalformedInput(err):
		status, code = http.StatusUnprocessableEntity, "MALFORMED_INPUT"
	case errors.Is(err, errUnavailable):
		status, code = http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	}
	middleware.WriteError(w, r, status, middleware.ErrorBody{Code: code, Message: err.Error()})
}

// NotFound is the router's fallback for unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusNotFound, middleware.ErrorBody{
		Code:    "NOT_FOUND",
		Message: "no route for " + r.URL.Path,
	})
}

// MethodNotAllowed is the router's fallback for known paths.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, http.StatusMethodNotAllowed, middleware.ErrorBody{
		Code:    "METHOD_NOT_ALLOWED",
		Message: r.Method + " not allowed on " + r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
