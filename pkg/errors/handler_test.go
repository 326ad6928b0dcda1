package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestErrorHandler_RateLimitSetsRetryAfter(t *testing.T) {
	h := NewErrorHandler(nil, false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)

	h.Handle(rec, req, NewRateLimitError("search", 1500*time.Millisecond).WithCode("RATE_LIMITED_SEARCH"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	resp := decodeError(t, rec)
	assert.True(t, resp.Error)
	assert.Equal(t, string(ErrorTypeRateLimit), resp.Type)
	assert.Equal(t, "RATE_LIMITED_SEARCH", resp.Code)
	assert.Nil(t, resp.Details, "stack trace only in debug mode")
}

func TestErrorHandler_WrappedAppError(t *testing.T) {
	h := NewErrorHandler(nil, false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	err := fmt.Errorf("handler: %w", NewValidationError("query is required"))
	h.Handle(rec, req, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "query is required", decodeError(t, rec).Message)
}

func TestErrorHandler_GenericErrorHidesMessage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	NewErrorHandler(nil, false).Handle(rec, req, fmt.Errorf("dial tcp: refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An internal error occurred", decodeError(t, rec).Message)

	rec = httptest.NewRecorder()
	NewErrorHandler(nil, true).Handle(rec, req, fmt.Errorf("dial tcp: refused"))
	assert.Equal(t, "dial tcp: refused", decodeError(t, rec).Message)
}

func TestErrorHandler_HandleStatus(t *testing.T) {
	h := NewErrorHandler(nil, false)
	rec := httptest.NewRecorder()

	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/x", nil), http.StatusNotFound, "Route not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(ErrorTypeNotFound), resp.Type)
	assert.Equal(t, "Route not found", resp.Message)
}

func TestErrorHandler_MiddlewareRecoversPanic(t *testing.T) {
	h := NewErrorHandler(nil, false)
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(ErrorTypeInternal), decodeError(t, rec).Type)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	wrapped := Wrap(NewValidationError("bad limit"), "parse request")
	assert.True(t, IsValidation(wrapped))
	assert.Equal(t, "parse request: bad limit", GetAppError(wrapped).Message)

	cause := fmt.Errorf("eof")
	wrapped = Wrap(cause, "read body")
	assert.True(t, IsType(wrapped, ErrorTypeInternal))
	assert.ErrorIs(t, wrapped, cause)
	assert.False(t, IsRateLimit(wrapped))
}
