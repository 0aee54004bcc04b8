package client

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hawkgate/gateway/auth"
)

func fixedSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner(Credentials{ID: "service-a", Secret: "secret-a"},
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }),
		WithNonceSource(func() string { return "n-fixed" }),
	)
	require.NoError(t, err)
	return signer
}

func TestNewSignerRequiresCredentials(t *testing.T) {
	_, err := NewSigner(Credentials{ID: "service-a"})
	require.Error(t, err)
	_, err = NewSigner(Credentials{Secret: "secret-a"})
	require.Error(t, err)
}

func TestSignProducesVerifiableHeader(t *testing.T) {
	signer := fixedSigner(t)
	body := []byte(`{"text":"test input"}`)
	req, err := http.NewRequest(http.MethodPost, "http://models.test:9081/predict/sentiment", strings.NewReader(string(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	require.NoError(t, signer.Sign(req, body))

	header := req.Header.Get(auth.HeaderAuthorization)
	require.True(t, strings.HasPrefix(header, "Hawk "), "header %q", header)

	store := auth.NewCredentialStore(map[string]string{"service-a": "secret-a"})
	verifier := auth.NewAuthenticator(store, auth.Options{
		TimestampSkew: time.Minute,
		Now:           func() time.Time { return time.Unix(1_700_000_000, 0).UTC() },
	})
	// The server sees the Host header rather than a parsed URL.
	req.Host = "models.test:9081"
	principal, err := verifier.Authenticate(req, body)
	require.NoError(t, err)
	require.Equal(t, "service-a", principal.ConsumerID)
}

func TestSignOmitsPayloadHashWithoutBody(t *testing.T) {
	signer := fixedSigner(t)
	req, err := http.NewRequest(http.MethodGet, "http://models.test:9081/healthz", nil)
	require.NoError(t, err)
	require.NoError(t, signer.Sign(req, nil))

	header := req.Header.Get(auth.HeaderAuthorization)
	require.NotContains(t, header, "hash=")
}

func TestSignDefaultsPortFromScheme(t *testing.T) {
	signer := fixedSigner(t)
	req, err := http.NewRequest(http.MethodGet, "https://models.test/predict/sentiment", nil)
	require.NoError(t, err)
	require.NoError(t, signer.Sign(req, nil))

	parsed, err := auth.ParseRequest(withTLSMarker(req))
	require.NoError(t, err)
	require.Equal(t, "443", parsed.Port)
	require.Equal(t, int64(1_700_000_000), parsed.Timestamp)
	require.Equal(t, "n-fixed", parsed.Nonce)
}

// withTLSMarker mimics how the request arrives at a TLS listener, where the
// port is implied by the connection rather than the URL.
func withTLSMarker(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.Host = "models.test"
	clone.URL.Scheme = "https"
	return clone
}
