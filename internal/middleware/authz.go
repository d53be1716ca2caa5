package middleware

import (
	"errors"
	"log"
	"net/http"

	"github.com/casbin/casbin/v2"

	"github.com/stackdesk/stackdesk/internal/auth"
)

// NewAuthzMiddleware builds a chi middleware that enforces the Casbin
// policy for one API action. Mount it per route group so every endpoint
// names the action it requires.
func NewAuthzMiddleware(enforcer casbin.IEnforcer, action string) (func(http.Handler) http.Handler, error) {
	if enforcer == nil {
		return nil, errors.New("authz middleware requires casbin enforcer")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.GetClaimsFromContext(r.Context())
			if !ok {
				unauthenticated(w)
				return
			}

			allowed, err := auth.Authorize(enforcer, claims, action)
			if err != nil {
				log.Printf("authorization error for %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, "authorization error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

// RequireAction is the panic-on-misconfiguration variant used by the
// router, where a nil enforcer is a programming error.
func RequireAction(enforcer casbin.IEnforcer, action string) func(http.Handler) http.Handler {
	mw, err := NewAuthzMiddleware(enforcer, action)
	if err != nil {
		panic(err)
	}
	return mw
}
