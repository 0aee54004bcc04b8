package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const jwtTestSecret = "jwt-test-signing-secret"

func issueToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	auth := NewJWTAuth(JWTConfig{HMACSecret: jwtTestSecret, Issuer: "hawkgate-test"}, nil)
	var gotConsumer string
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			t.Fatalf("principal missing from request context")
		}
		gotConsumer = principal.ConsumerID
		w.WriteHeader(http.StatusOK)
	}))

	token := issueToken(t, jwtTestSecret, jwt.MapClaims{
		"sub": "service-a",
		"iss": "hawkgate-test",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/predict/sentiment", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body)
	}
	if gotConsumer != "service-a" {
		t.Fatalf("unexpected consumer %q", gotConsumer)
	}
}

func TestJWTAuthRejectsMissingBearer(t *testing.T) {
	auth := NewJWTAuth(JWTConfig{HMACSecret: jwtTestSecret}, nil)
	handler := auth.Middleware()(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/predict/sentiment", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a bearer token, got %d", res.Code)
	}
}

func TestJWTAuthCollapsesTokenFailures(t *testing.T) {
	cases := map[string]string{
		"wrong secret": issueToken(t, "other-secret", jwt.MapClaims{
			"sub": "service-a",
			"exp": time.Now().Add(time.Minute).Unix(),
		}),
		"expired": issueToken(t, jwtTestSecret, jwt.MapClaims{
			"sub": "service-a",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}),
		"missing expiry": issueToken(t, jwtTestSecret, jwt.MapClaims{
			"sub": "service-a",
		}),
		"missing subject": issueToken(t, jwtTestSecret, jwt.MapClaims{
			"exp": time.Now().Add(time.Minute).Unix(),
		}),
	}

	auth := NewJWTAuth(JWTConfig{HMACSecret: jwtTestSecret}, nil)
	handler := auth.Middleware()(okHandler())
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/predict/sentiment", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", res.Code)
			}
			if body := decodeRejection(t, res); body.Code != codeAuthenticationFailed {
				t.Fatalf("expected code %q, got %q", codeAuthenticationFailed, body.Code)
			}
		})
	}
}

func TestJWTAuthEnforcesIssuerAndAudience(t *testing.T) {
	auth := NewJWTAuth(JWTConfig{
		HMACSecret: jwtTestSecret,
		Issuer:     "hawkgate-test",
		Audience:   "models",
	}, nil)
	handler := auth.Middleware()(okHandler())

	token := issueToken(t, jwtTestSecret, jwt.MapClaims{
		"sub": "service-a",
		"iss": "someone-else",
		"aud": "models",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/predict/sentiment", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong issuer, got %d", res.Code)
	}
}
