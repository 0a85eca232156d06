package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sentinela/sentinela/pkg/logger"
)

// claims is the bearer token payload minted out-of-band by an operator
// tool; the admin surface only validates, it never mints.
type claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// wrapWithAuth requires a valid HS256 Bearer token on every request. An
// empty secret disables auth entirely, for local/dev use.
func wrapWithAuth(next http.Handler, secret []byte, log *logger.Logger) http.Handler {
	if len(secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			authError(w, "missing bearer token")
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			log.WithField("error", err).Warn("httpapi: rejected request with invalid token")
			authError(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func authError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
