package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"hawkgate/gateway/auth"
)

type contextKey string

// ContextKeyPrincipal holds the authenticated *auth.Principal.
const ContextKeyPrincipal contextKey = "hawkgate.principal"

// PrincipalFrom returns the authenticated principal stored by an
// authentication middleware.
func PrincipalFrom(ctx context.Context) (*auth.Principal, bool) {
	principal, ok := ctx.Value(ContextKeyPrincipal).(*auth.Principal)
	return principal, ok
}

// rejection is the machine-readable error body returned to callers.
type rejection struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// codeAuthenticationFailed is the single external code for every
// authentication failure so callers cannot distinguish an unknown consumer
// from a bad signature, stale timestamp, or replay.
const codeAuthenticationFailed = "AuthenticationFailed"

func writeRejection(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejection{Code: code, Error: message})
}

// WriteAuthError maps an authentication error to its external response. The
// precise reason is the caller's to log; the response leaks nothing beyond
// the failure class.
func WriteAuthError(w http.ResponseWriter, err error) {
	switch reason := auth.ReasonOf(err); {
	case reason == auth.ReasonMalformedRequest:
		writeRejection(w, http.StatusBadRequest, string(auth.ReasonMalformedRequest), "request is missing or carries unparsable authentication fields")
	case reason.AuthFailure():
		writeRejection(w, http.StatusUnauthorized, codeAuthenticationFailed, "authentication rejected")
	default:
		writeRejection(w, http.StatusInternalServerError, "InternalError", "internal error")
	}
}

// HawkAuth authenticates requests bearing Hawk signatures.
type HawkAuth struct {
	authenticator *auth.Authenticator
	logger        *slog.Logger
}

// NewHawkAuth wraps an authenticator for use as HTTP middleware.
func NewHawkAuth(authenticator *auth.Authenticator, logger *slog.Logger) *HawkAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &HawkAuth{authenticator: authenticator, logger: logger}
}

// Middleware verifies the request signature, records the nonce, and stores
// the principal in the request context. The body is buffered so the payload
// hash can be checked and then restored for the proxy.
func (h *HawkAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := readBody(r)
			if err != nil {
				h.logger.Warn("auth: read body", "error", err)
				writeRejection(w, http.StatusBadRequest, string(auth.ReasonMalformedRequest), "request body unreadable")
				return
			}
			principal, err := h.authenticator.Authenticate(r, body)
			if err != nil {
				h.logger.Warn("auth: request rejected",
					"reason", string(auth.ReasonOf(err)),
					"path", r.URL.Path,
					"error", err,
				)
				WriteAuthError(w, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(auth.MaxBodyForSignature)+1))
	if err != nil {
		return nil, err
	}
	return body, nil
}
