package middleware

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/equip-health/equip/internal/services"
)

type authCtxKey int

const authKey authCtxKey = 7

type Claims struct {
	UID                string `json:"uid"`
	Username           string `json:"username"`
	ScopeKind          string `json:"scope_kind,omitempty"`
	ScopeValue         string `json:"scope_value,omitempty"`
	CanManageRegisters bool   `json:"can_manage_registers,omitempty"`
	CanManageUsers     bool   `json:"can_manage_users,omitempty"`
	jwt.RegisteredClaims
}

func secret() []byte {
	s := os.Getenv("EQUIP_JWT_SECRET")
	if s == "" {
		s = "equip-dev-secret"
	}
	return []byte(s)
}

func SignToken(uid, username string, scope services.Scope, perms services.Permissions, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UID:                uid,
		Username:           username,
		ScopeKind:          string(scope.Kind),
		ScopeValue:         scope.Value,
		CanManageRegisters: perms.CanManageRegisters,
		CanManageUsers:     perms.CanManageUsers,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret())
}

func parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(token *jwt.Token) (interface{}, error) { return secret(), nil })
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// Attach auth claims to context if Authorization header present and valid.
func WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			if c, err := parseToken(tok); err == nil {
				ctx := context.WithValue(r.Context(), authKey, c)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(authKey).(*Claims); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClaimsFromContext returns the verified token claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(authKey).(*Claims)
	return c, ok
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	if c, ok := ctx.Value(authKey).(*Claims); ok && c.UID != "" {
		return c.UID, true
	}
	return "", false
}
