package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"hawkgate/gateway/auth"
)

// JWTConfig configures the bearer-token authentication mode. It exists for
// deployments where an upstream identity provider issues tokens and request
// signing is not practical; the token subject becomes the consumer identity
// checked against route allow lists.
type JWTConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// JWTAuth authenticates requests bearing HS256 tokens.
type JWTAuth struct {
	cfg    JWTConfig
	secret []byte
	logger *slog.Logger
}

// NewJWTAuth builds the bearer-token authenticator.
func NewJWTAuth(cfg JWTConfig, logger *slog.Logger) *JWTAuth {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &JWTAuth{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		logger: logger,
	}
}

// Middleware validates the bearer token and stores the principal derived
// from its subject claim. All token failures share the generic 401 signal.
func (a *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeRejection(w, http.StatusBadRequest, string(auth.ReasonMalformedRequest), "missing bearer token")
				return
			}
			subject, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("auth: token validation failed", "path", r.URL.Path, "error", err)
				writeRejection(w, http.StatusUnauthorized, codeAuthenticationFailed, "authentication rejected")
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, &auth.Principal{ConsumerID: subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *JWTAuth) parseToken(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject missing")
	}
	return subject, nil
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
