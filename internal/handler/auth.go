package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type operatorKey struct{}

// OperatorFrom returns the operator name attached by RequireOperator.
func OperatorFrom(ctx context.Context) string {
	name, _ := ctx.Value(operatorKey{}).(string)
	return name
}

// RequireOperator rejects requests whose bearer token is not in tokens
// (token -> operator name).
func RequireOperator(tokens map[string]string, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			name, ok := lookupToken(tokens, token)
			if !ok {
				log.Warn().Str("path", r.URL.Path).Msg("rejected unknown token")
				Error(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, name)))
		})
	}
}

func lookupToken(tokens map[string]string, token string) (string, bool) {
	var (
		found string
		ok    bool
	)
	for candidate, name := range tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			found, ok = name, true
		}
	}
	return found, ok
}
