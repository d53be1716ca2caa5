// Package middleware provides the HTTP authentication and authorization
// layers. Authentication turns a bearer JWT into requester claims on the
// request context; authorization enforces the Casbin policy set against
// those claims.
package middleware

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"

	"github.com/stackdesk/stackdesk/internal/auth"
)

// NewAuthnMiddleware validates the Authorization bearer token with the
// shared HMAC secret and stores the decoded requester claims on the
// context. Requests without a valid token are rejected; public routes
// must be mounted outside this middleware.
func NewAuthnMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthenticated(w)
				return
			}

			parsed, err := jwt.Parse(raw, keyFunc, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
			if err != nil || !parsed.Valid {
				unauthenticated(w)
				return
			}
			mapClaims, ok := parsed.Claims.(jwt.MapClaims)
			if !ok {
				unauthenticated(w)
				return
			}

			claims, err := decodeClaims(mapClaims)
			if err != nil {
				log.Printf("decoding claims for %s %s: %v", r.Method, r.URL.Path, err)
				unauthenticated(w)
				return
			}
			if claims.UserID == "" || len(claims.Roles) == 0 {
				unauthenticated(w)
				return
			}
			if claims.IPAddress == "" {
				claims.IPAddress = remoteIP(r)
			}

			ctx := auth.SetClaimsContext(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func decodeClaims(mapClaims jwt.MapClaims) (auth.Claims, error) {
	var claims auth.Claims
	if err := mapstructure.Decode(map[string]any(mapClaims), &claims); err != nil {
		return auth.Claims{}, fmt.Errorf("decode token claims: %w", err)
	}
	return claims, nil
}

func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func unauthenticated(w http.ResponseWriter) {
	http.Error(w, "unauthenticated", http.StatusUnauthorized)
}
