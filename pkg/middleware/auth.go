package middleware

import (
	"net/http"

	"slotkeeper/pkg/auth"
	apperrors "slotkeeper/pkg/errors"
	"slotkeeper/pkg/logger"
)

type IdentityVerifier interface {
	VerifyHeader(header string) (auth.Identity, error)
}

// Authenticate resolves the bearer token into an auth.Identity stored on the
// request context. Requests without a valid token never reach next.
func Authenticate(verifier IdentityVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := verifier.VerifyHeader(r.Header.Get("Authorization"))
			if err != nil {
				log.Warn("Authentication failed",
					"request_id", RequestID(r.Context()),
					"path", r.URL.Path,
					"error", err,
				)
				_ = apperrors.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}
