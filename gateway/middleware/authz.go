package middleware

import (
	"log/slog"
	"net/http"

	"hawkgate/gateway/auth"
)

// AllowList permits only the listed consumers through to the backend. It
// must run after an authentication middleware has stored the principal;
// default deny applies to an empty list and to requests without a principal.
func AllowList(consumers []string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(consumers))
	for _, consumer := range consumers {
		allowed[consumer] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				// No authentication middleware ran; refuse rather than
				// fall through to the backend.
				writeRejection(w, http.StatusUnauthorized, codeAuthenticationFailed, "authentication rejected")
				return
			}
			if _, ok := allowed[principal.ConsumerID]; !ok {
				logger.Warn("authz: consumer not on route allow list",
					"consumer", principal.ConsumerID,
					"path", r.URL.Path,
				)
				writeRejection(w, http.StatusForbidden, string(auth.ReasonForbidden), "consumer is not permitted on this route")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
