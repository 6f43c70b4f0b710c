package http_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/sessioncore/internal/models"
	pkghttp "github.com/BradenHooton/sessioncore/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 403, "Missing CSRF token")

	assert.Equal(t, 403, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Missing CSRF token", resp["message"])
	assert.NotContains(t, resp, "errors")
	assert.NotContains(t, resp, "usernameSuggestions")
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind   models.Kind
		status int
	}{
		{models.KindValidation, 400},
		{models.KindConflict, 400},
		{models.KindAuthentication, 401},
		{models.KindAuthorization, 403},
		{models.KindNotFound, 404},
		{models.KindRateLimited, 429},
		{models.KindInternal, 500},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.status, pkghttp.StatusForKind(tt.kind))
		})
	}
}

func TestWriteAppError_Validation(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteAppError(w, models.ValidationError("Validation failed", map[string]string{
		"username": "Username must be 3 to 30 letters or digits",
	}))

	assert.Equal(t, 400, w.Code)

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Validation failed", resp.Message)
	assert.Equal(t, "Username must be 3 to 30 letters or digits", resp.Errors["username"])
}

func TestWriteAppError_ConflictWithSuggestions(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteAppError(w, models.ConflictError("Username taken", []string{"alice1", "alice22", "alice333"}))

	assert.Equal(t, 400, w.Code)

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Username taken", resp.Message)
	assert.Equal(t, []string{"alice1", "alice22", "alice333"}, resp.UsernameSuggestions)
}

func TestWriteAppError_Sentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", models.ErrNotFound, 404},
		{"wrapped not found", fmt.Errorf("load: %w", models.ErrNotFound), 404},
		{"unauthorized", models.ErrUnauthorized, 401},
		{"locked", models.ErrAccountLocked, 403},
		{"rate limited", models.ErrRateLimitExceeded, 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			pkghttp.WriteAppError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestWriteAppError_HidesInternalCause(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteAppError(w, errors.New("pq: connection refused to 10.0.0.3"))

	assert.Equal(t, 500, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Internal server error", resp.Message)
}
