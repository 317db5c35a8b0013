package autherr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := NotFound("role %s not found", "abc")
	wrapped := fmt.Errorf("loading role: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindNotFound))
	assert.False(t, IsKind(wrapped, KindDuplicate))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Duplicate("role already exists"))
	assert.True(t, errors.Is(err, &Error{Kind: KindDuplicate}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound}))
}

func TestTransientCarriesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient("store unavailable", cause)

	require.ErrorContains(t, err, "store unavailable")
	require.ErrorContains(t, err, "connection reset")
	assert.True(t, errors.Is(err, cause))
	assert.True(t, Retryable(err))
	assert.False(t, Retryable(Validation("bad id")))
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Duplicate("x"), http.StatusConflict},
		{Validation("x"), http.StatusBadRequest},
		{BusinessRule("x"), http.StatusBadRequest},
		{TenantIsolation("x"), http.StatusForbidden},
		{Transient("x", nil), http.StatusServiceUnavailable},
		{Internal("x", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
