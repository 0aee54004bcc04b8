// Package client signs outbound requests with Hawk credentials. It is the
// counterpart to the gateway's verifier and is used by hawkctl and the
// end-to-end tests.
package client

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"hawkgate/gateway/auth"
)

// Credentials identify a consumer to the gateway.
type Credentials struct {
	ID     string
	Secret string
}

// Signer produces Hawk Authorization headers for outbound requests.
type Signer struct {
	creds   Credentials
	nowFn   func() time.Time
	nonceFn func() string
}

// Option adjusts a Signer, primarily for tests that need a fixed clock or
// nonce sequence.
type Option func(*Signer)

// WithClock fixes the timestamp source.
func WithClock(nowFn func() time.Time) Option {
	return func(s *Signer) { s.nowFn = nowFn }
}

// WithNonceSource fixes the nonce generator.
func WithNonceSource(nonceFn func() string) Option {
	return func(s *Signer) { s.nonceFn = nonceFn }
}

// NewSigner builds a Signer for the given credentials.
func NewSigner(creds Credentials, opts ...Option) (*Signer, error) {
	if creds.ID == "" || creds.Secret == "" {
		return nil, fmt.Errorf("hawk credentials require id and secret")
	}
	s := &Signer{
		creds:   creds,
		nowFn:   time.Now,
		nonceFn: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign attaches a Hawk Authorization header covering the request line, host,
// port, a fresh timestamp and nonce, and the payload hash when a body is
// present.
func (s *Signer) Sign(req *http.Request, body []byte) error {
	host := req.URL.Hostname()
	if host == "" {
		return fmt.Errorf("request URL has no host")
	}
	port := req.URL.Port()
	if port == "" {
		if req.URL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	sigCtx := &auth.SignatureContext{
		ConsumerID: s.creds.ID,
		Timestamp:  s.nowFn().Unix(),
		Nonce:      s.nonceFn(),
		Method:     req.Method,
		Resource:   auth.CanonicalResource(req),
		Host:       host,
		Port:       port,
	}
	if len(body) > 0 {
		sigCtx.Hash = auth.PayloadHash(req.Header.Get("Content-Type"), body)
	}
	mac := base64.StdEncoding.EncodeToString(auth.ComputeMAC(s.creds.Secret, auth.CanonicalString(sigCtx)))
	req.Header.Set(auth.HeaderAuthorization, auth.BuildHeader(sigCtx, mac))
	return nil
}

// Do signs and dispatches a request with the provided HTTP client. A nil
// httpClient falls back to http.DefaultClient.
func (s *Signer) Do(httpClient *http.Client, method, url, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if err := s.Sign(req, body); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return httpClient.Do(req)
}
