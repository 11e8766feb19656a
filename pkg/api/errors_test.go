package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maestrokit/maestro/pkg/models"
)

func TestHTTPStatusFor(t *testing.T) {
	tests := []struct {
		kind models.ErrorKind
		want int
	}{
		{models.ErrKindInvalidInput, http.StatusBadRequest},
		{models.ErrKindNotFound, http.StatusNotFound},
		{models.ErrKindAlreadyRegistered, http.StatusConflict},
		{models.ErrKindCancelled, statusClientClosedRequest},
		{models.ErrKindTimeout, http.StatusGatewayTimeout},
		{models.ErrKindModelStalled, http.StatusGatewayTimeout},
		{models.ErrKindNoAgents, http.StatusServiceUnavailable},
		{models.ErrKindMemoryUnavailable, http.StatusServiceUnavailable},
		{models.ErrKindToolLoopExceeded, http.StatusUnprocessableEntity},
		{models.ErrKindModelFailed, http.StatusBadGateway},
		{models.ErrKindConnectionLost, http.StatusBadGateway},
		{models.ErrKindDimensionMismatch, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatusFor(tt.kind), string(tt.kind))
	}
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("Bearer abc123")
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)

	_, ok = bearerToken("")
	assert.False(t, ok)
	_, ok = bearerToken("Basic abc123")
	assert.False(t, ok)
	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
}

func TestKeyringRoles(t *testing.T) {
	k, err := NewKeyring("adm", "cli")
	assert.NoError(t, err)

	role, ok := k.RoleFor("adm")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, role)

	role, ok = k.RoleFor("cli")
	assert.True(t, ok)
	assert.Equal(t, RoleClient, role)

	_, ok = k.RoleFor("nope")
	assert.False(t, ok)
}

func TestKeyringGeneratesMissing(t *testing.T) {
	k, err := NewKeyring("", "")
	assert.NoError(t, err)
	assert.NotEmpty(t, k.adminKey)
	assert.NotEmpty(t, k.clientKey)
	assert.NotEqual(t, k.adminKey, k.clientKey)
}
