package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/costledger/auth"
	"github.com/warp/costledger/core"
)

func TestJWT_RoundTrip(t *testing.T) {
	m := auth.NewJWTManager("secret", time.Hour)

	token, err := m.Generate("alice", "alice@example.com")
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestJWT_Rejects(t *testing.T) {
	m := auth.NewJWTManager("secret", time.Hour)
	other := auth.NewJWTManager("other", time.Hour)
	expired := auth.NewJWTManager("secret", -time.Minute)

	foreign, err := other.Generate("alice", "")
	require.NoError(t, err)
	stale, err := expired.Generate("alice", "")
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &auth.Claims{UserID: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": foreign,
		"expired":      stale,
		"alg none":     none,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Validate(token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	m := auth.NewJWTManager("secret", time.Hour)
	token, err := m.Generate("alice", "")
	require.NoError(t, err)

	var seen core.UserID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name    string
		devAuth bool
		headers map[string]string
		status  int
		user    core.UserID
	}{
		{"bearer", false, map[string]string{"Authorization": "Bearer " + token}, http.StatusNoContent, "alice"},
		{"bad bearer", false, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"wrong scheme", false, map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, ""},
		{"missing", false, nil, http.StatusUnauthorized, ""},
		{"dev header disabled", false, map[string]string{auth.DevUserHeader: "bob"}, http.StatusUnauthorized, ""},
		{"dev header", true, map[string]string{auth.DevUserHeader: "bob"}, http.StatusNoContent, "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			h := auth.NewMiddleware(m, tt.devAuth).RequireUser(next)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.user, seen)
		})
	}
}
