package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	authCookie = "authToken"
	adminRole  = "admin"
)

type contextKey string

const adminKey contextKey = "admin"

// AdminClaims is the session token issued by the site's login route.
type AdminClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RequireAdmin accepts an HS256 session token from the authToken cookie or a
// bearer header and lets only the admin role through.
func RequireAdmin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := sessionToken(r)
			if tokenString == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"user": nil})
				return
			}

			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"user": nil})
				return
			}
			if claims.Role != adminRole {
				writeJSON(w, http.StatusForbidden, map[string]any{"user": nil})
				return
			}

			ctx := context.WithValue(r.Context(), adminKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFrom returns the claims RequireAdmin stored on the request context.
func AdminFrom(ctx context.Context) *AdminClaims {
	claims, _ := ctx.Value(adminKey).(*AdminClaims)
	return claims
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(authCookie); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
