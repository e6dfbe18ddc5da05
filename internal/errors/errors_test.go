package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, AuthError("no", nil).HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, ValidationError("bad").HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, StorageError("down", nil).HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, InternalError("boom", nil).HTTPStatus())
}

func TestError_UnwrapChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := StorageError("query failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "storage")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestError_WithContext(t *testing.T) {
	err := ValidationError("invalid cursor").
		WithContext("since", "garbage").
		WithContext("table", "registration")

	resp := err.ToResponse()
	assert.Equal(t, "invalid cursor", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "garbage", resp.Context["since"])
	assert.Equal(t, "registration", resp.Context["table"])
}

func TestAsStructuredError(t *testing.T) {
	structured := AuthError("expired", nil)
	assert.Same(t, structured, AsStructuredError(structured))

	wrapped := fmt.Errorf("handler: %w", structured)
	assert.Same(t, structured, AsStructuredError(wrapped))

	plain := AsStructuredError(errors.New("surprise"))
	assert.Equal(t, TypeInternal, plain.Type)

	assert.Nil(t, AsStructuredError(nil))
}
