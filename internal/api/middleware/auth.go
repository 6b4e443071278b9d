package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/newsletter-delivery/internal/auth"
	"github.com/notifyhub/newsletter-delivery/internal/domain"
)

// BasicAuth authenticates the request's Basic credentials and stores the
// user id on the context. Missing or bad credentials get a 401 with a
// WWW-Authenticate challenge; a storage failure gets a 500.
func BasicAuth(authn *auth.Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, "missing basic authorization header")
				return
			}

			userID, err := authn.Authenticate(r.Context(), username, password)
			if errors.Is(err, domain.ErrUnauthorized) {
				unauthorized(w, err.Error())
				return
			}
			if err != nil {
				logger.Error("authentication error",
					zap.String("correlation_id", GetCorrelationID(r.Context())),
					zap.Error(err),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", auth.Challenge)
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
