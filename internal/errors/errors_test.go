package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndIsKind(t *testing.T) {
	base := errors.New("connection reset")
	err := Wrap(KindTransport, "remote_infer", "request failed", base)
	require.NotNil(t, err)

	assert.True(t, IsKind(err, KindTransport))
	assert.False(t, IsKind(err, KindParse))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "[transport:remote_infer] request failed: connection reset", err.Error())

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsKind(wrapped, KindTransport))
	assert.Equal(t, KindTransport, KindOf(wrapped))
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := New(KindBackendUnavailable, "local_load", "model missing")
	outer := Wrap(KindTransport, "infer", "backend call failed", fmt.Errorf("ctx: %w", inner))
	assert.Same(t, inner, outer)
	assert.True(t, IsKind(outer, KindBackendUnavailable))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindParse, "op", "msg", nil))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindInput))
}

func TestNewMessage(t *testing.T) {
	err := New(KindInput, "validate", "query is empty")
	assert.Equal(t, "[input:validate] query is empty", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInput, http.StatusBadRequest},
		{KindParse, http.StatusUnprocessableEntity},
		{KindCodec, http.StatusUnprocessableEntity},
		{KindBackendUnavailable, http.StatusServiceUnavailable},
		{KindTransport, http.StatusBadGateway},
		{KindConfig, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.kind, "op", "msg")))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}
