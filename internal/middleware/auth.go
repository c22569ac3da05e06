// Package middleware hosts authentication, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"govtoken/internal/domain"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxCallerKey  contextKey = "caller"
	ctxTokenIDKey contextKey = "token_id"
)

// Claims identify the on-ledger address a request acts for.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// TokenRevocations reports whether a token id has been revoked.
type TokenRevocations interface {
	IsBlacklisted(ctx context.Context, tokenID string) (bool, error)
}

// AuthMiddleware validates bearer JWTs and injects the caller address into the context.
type AuthMiddleware struct {
	jwtSecret string
	revoked   TokenRevocations
}

// NewAuthMiddleware constructs an AuthMiddleware with the given secret.
// revoked may be nil.
func NewAuthMiddleware(secret string, revoked TokenRevocations) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret, revoked: revoked}
}

// IssueToken signs a token for addr valid for ttl.
func IssueToken(secret string, addr domain.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Address: addr.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   addr.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Authenticate enforces bearer auth and populates the caller on the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		var claims Claims
		token, err := jwt.ParseWithClaims(parts[1], &claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			if errors.Is(err, jwt.ErrTokenExpired) {
				jsonError(w, http.StatusUnauthorized, "Token expired")
				return
			}
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		caller, err := domain.ParseAddress(claims.Address)
		if err != nil || caller.IsZero() {
			jsonError(w, http.StatusUnauthorized, "Invalid address in token")
			return
		}

		if m.revoked != nil && claims.ID != "" {
			revoked, err := m.revoked.IsBlacklisted(r.Context(), claims.ID)
			if err != nil {
				jsonError(w, http.StatusServiceUnavailable, "Token status unavailable")
				return
			}
			if revoked {
				jsonError(w, http.StatusUnauthorized, "Token revoked")
				return
			}
		}

		ctx := WithCaller(r.Context(), caller)
		if claims.ID != "" {
			ctx = context.WithValue(ctx, ctxTokenIDKey, claims.ID)
		}
		if claims.ExpiresAt != nil {
			ctx = context.WithValue(ctx, ctxTokenExpiryKey, claims.ExpiresAt.Time)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

const ctxTokenExpiryKey contextKey = "token_expiry"

// WithCaller stores the authenticated caller on ctx.
func WithCaller(ctx context.Context, caller domain.Address) context.Context {
	if slot, ok := ctx.Value(ctxCallerSlotKey).(*callerSlot); ok {
		slot.addr, slot.set = caller, true
	}
	return context.WithValue(ctx, ctxCallerKey, caller)
}

// CallerFromContext returns the authenticated caller address from context.
func CallerFromContext(ctx context.Context) (domain.Address, bool) {
	v, ok := ctx.Value(ctxCallerKey).(domain.Address)
	return v, ok
}

// TokenFromContext returns the id and expiry of the request's token.
func TokenFromContext(ctx context.Context) (string, time.Time, bool) {
	id, ok := ctx.Value(ctxTokenIDKey).(string)
	exp, _ := ctx.Value(ctxTokenExpiryKey).(time.Time)
	return id, exp, ok
}

// CORS allows the configured origins. An empty list reflects the request
// origin, which is only meant for development.
func CORS(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if len(allowed) > 0 {
				for _, o := range allowed {
					if strings.EqualFold(strings.TrimSpace(o), origin) {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Set("Vary", "Origin")
						break
					}
				}
			} else if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Idempotency-Key")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
