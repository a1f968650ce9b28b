package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcodeml/internal/apperrors"
	"github.com/3leaps/gcodeml/internal/server/middleware"
)

func TestSetHTTPErrorResponder(t *testing.T) {
	t.Cleanup(ResetHTTPErrorResponder)

	called := false
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest("GET", "/test", nil), assert.AnError)
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	SetHTTPErrorResponder(nil)
	rec = httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest("GET", "/test", nil), assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "nil restores the default")
}

func TestDefaultErrorResponder(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.NotFound("session", "x"), http.StatusNotFound, "NOT_FOUND"},
		{apperrors.Validation("name", "empty"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{apperrors.MalformedInput("session", "x", "bad json"), http.StatusUnprocessableEntity, "MALFORMED_INPUT"},
		{fmt.Errorf("wrapped: %w", errUnavailable), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			defaultErrorResponder(rec, httptest.NewRequest("GET", "/", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body middleware.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.err.Error(), body.Error.Message)
		})
	}
}
