package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/warp/costledger/core"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// UserIDKey is the context key for the authenticated user ID.
const UserIDKey contextKey = "user_id"

// DevUserHeader carries the caller's id when dev auth is enabled.
const DevUserHeader = "X-User-ID"

// UserID extracts the authenticated user from the context.
// Returns empty string if not found.
func UserID(ctx context.Context) core.UserID {
	id, _ := ctx.Value(UserIDKey).(core.UserID)
	return id
}

// WithUserID stores the authenticated user in ctx.
func WithUserID(ctx context.Context, id core.UserID) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// Middleware authenticates owner requests.
type Middleware struct {
	jwt     *JWTManager // nil disables bearer tokens
	devAuth bool
}

func NewMiddleware(jwt *JWTManager, devAuth bool) *Middleware {
	return &Middleware{jwt: jwt, devAuth: devAuth}
}

// RequireUser rejects requests without a valid identity with 401.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.identify(r)
		if err != nil {
			unauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}

func (m *Middleware) identify(r *http.Request) (core.UserID, error) {
	header := r.Header.Get("Authorization")
	if header != "" && m.jwt != nil {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", ErrInvalidToken
		}
		claims, err := m.jwt.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			return "", err
		}
		return core.UserID(claims.UserID), nil
	}

	if m.devAuth {
		if id := strings.TrimSpace(r.Header.Get(DevUserHeader)); id != "" {
			return core.UserID(id), nil
		}
	}
	return "", ErrMissingToken
}

func unauthorized(w http.ResponseWriter, err error) {
	message := "authentication required"
	if errors.Is(err, ErrInvalidToken) {
		message = "invalid or expired token"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
