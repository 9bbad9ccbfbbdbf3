package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/api/presenter"
)

const AdminRole = "admin"

// AdminClaims are the claims of an admin API token.
type AdminClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// AdminAuth requires an HS256 JWT with the admin role, signed with the key returned by signingKey.
// An empty key disables the admin API.
func AdminAuth(signingKey func() []byte) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := signingKey()
			if len(key) == 0 {
				presenter.Error(w, r, "admin api disabled", http.StatusNotFound)
				return
			}

			tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tokenStr == "" {
				presenter.Error(w, r, "login required", http.StatusUnauthorized)
				return
			}

			var claims AdminClaims
			_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil {
				log.Ctx(r.Context()).Debug().Err(err).Msg("admin token rejected")
				presenter.Error(w, r, "invalid admin token", http.StatusUnauthorized)
				return
			}
			if !slices.Contains(claims.Roles, AdminRole) {
				presenter.Error(w, r, "insufficient privileges", http.StatusForbidden)
				return
			}

			log.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("admin", claims.Subject)
			})
			next.ServeHTTP(w, r)
		})
	}
}
