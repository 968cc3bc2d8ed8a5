package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_ValidKeyReturnsItsLabel(t *testing.T) {
	v := NewValidator(map[string]string{"mobile": "key-mobile", "branch": "key-branch"})

	p, ok := v.Authenticate("key-mobile")

	require.True(t, ok)
	assert.Equal(t, "mobile", p.KeyLabel)
}

func TestAuthenticate_UnknownOrEmptyKeyIsRejected(t *testing.T) {
	v := NewValidator(map[string]string{"mobile": "key-mobile"})

	_, ok := v.Authenticate("not-a-real-key")
	assert.False(t, ok)

	_, ok = v.Authenticate("")
	assert.False(t, ok)
}

func TestMiddleware_RejectsMissingKeyWith401(t *testing.T) {
	v := NewValidator(map[string]string{"mobile": "key-mobile"})
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_AllowsValidKeyAndSetsPrincipal(t *testing.T) {
	v := NewValidator(map[string]string{"mobile": "key-mobile"})
	var gotLabel string
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		require.True(t, ok)
		gotLabel = p.KeyLabel
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil)
	req.Header.Set("X-API-Key", "key-mobile")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mobile", gotLabel)
}
