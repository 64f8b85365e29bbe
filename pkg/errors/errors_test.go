package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewAppError(ErrCodeValidation, "Invalid request")
	assert.Equal(t, "VALIDATION_ERROR: Invalid request", err.Error())

	err = err.WithDetails("startUrl must be absolute")
	assert.Equal(t, "VALIDATION_ERROR: Invalid request - startUrl must be absolute", err.Error())
}

func TestNewAppErrorDerivesStatusAndRetryability(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
		retryable  bool
	}{
		{ErrCodeValidation, http.StatusBadRequest, false},
		{ErrCodeNotFound, http.StatusNotFound, false},
		{ErrCodeCrawlActive, http.StatusConflict, false},
		{ErrCodeCrawlNotActive, http.StatusConflict, false},
		{ErrCodeMirrorDisabled, http.StatusNotImplemented, false},
		{ErrCodeStorageError, http.StatusInternalServerError, true},
		{ErrCodeFetchFailed, http.StatusInternalServerError, true},
		{ErrCodeTimeout, http.StatusGatewayTimeout, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := NewAppError(tt.code, "boom")
			assert.Equal(t, tt.wantStatus, err.HTTPStatus)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestWrapErrorKeepsTheCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := WrapError(cause, ErrCodeStorageError, "Failed to persist profiles")

	require.NotNil(t, wrapped)
	assert.Equal(t, ErrCodeStorageError, wrapped.Code)
	assert.ErrorIs(t, wrapped, cause)
}

func TestWrapErrorOfNil(t *testing.T) {
	assert.Nil(t, WrapError(nil, ErrCodeInternal, "nothing happened"))
}

func TestWrapErrorPreservesTheOriginalCode(t *testing.T) {
	inner := NewAppError(ErrCodeCrawlActive, "A crawl session is already active")
	wrapped := WrapError(inner, "", "Request rejected")

	require.NotNil(t, wrapped)
	assert.Equal(t, ErrCodeCrawlActive, wrapped.Code)
}

func TestGetAppErrorWalksTheChain(t *testing.T) {
	inner := NewAppError(ErrCodeNotFound, "Profile not found")
	outer := fmt.Errorf("lookup failed: %w", inner)

	found := GetAppError(outer)
	require.NotNil(t, found)
	assert.Equal(t, ErrCodeNotFound, found.Code)

	assert.Nil(t, GetAppError(errors.New("plain error")))
	assert.Nil(t, GetAppError(nil))
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	wrapped := WrapError(ErrCrawlActive, ErrCodeInternal, "Could not start")
	assert.ErrorIs(t, wrapped, ErrCrawlActive)
}

func TestIsRetryableFollowsTheChain(t *testing.T) {
	retryable := WrapError(errors.New("connection reset"), ErrCodeFetchFailed, "Fetch failed")
	assert.True(t, IsRetryable(retryable))

	terminal := NewAppError(ErrCodeValidation, "bad input")
	assert.False(t, IsRetryable(terminal))
	assert.False(t, IsRetryable(errors.New("untyped")))
}

func TestToErrorResponse(t *testing.T) {
	err := NewAppError(ErrCodeValidation, "Invalid request").
		WithDetails("maxPages must not be negative").
		WithRequestID("req-42").
		WithMetadata("field", "maxPages")

	resp := err.ToErrorResponse()
	assert.Equal(t, ErrCodeValidation, resp.Code)
	assert.Equal(t, "Invalid request", resp.Message)
	assert.Equal(t, "maxPages must not be negative", resp.Details)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Equal(t, "maxPages", resp.Metadata["field"])
}
