package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseRequestExtractsAllFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://models.test:9081/predict/sentiment?b=2&a=1", nil)
	req.Header.Set(HeaderAuthorization,
		`Hawk id="service-a", ts="1700000000", nonce="n-1", hash="abc=", ext="extra", mac="mac="`)

	ctx, err := ParseRequest(req)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if ctx.ConsumerID != "service-a" {
		t.Fatalf("unexpected consumer id %q", ctx.ConsumerID)
	}
	if ctx.Timestamp != 1700000000 {
		t.Fatalf("unexpected timestamp %d", ctx.Timestamp)
	}
	if ctx.Nonce != "n-1" || ctx.Hash != "abc=" || ctx.Ext != "extra" || ctx.MAC != "mac=" {
		t.Fatalf("unexpected parsed fields: %+v", ctx)
	}
	if ctx.Method != http.MethodPost {
		t.Fatalf("unexpected method %q", ctx.Method)
	}
	if ctx.Resource != "/predict/sentiment?b=2&a=1" {
		t.Fatalf("unexpected resource %q", ctx.Resource)
	}
	if ctx.Host != "models.test" || ctx.Port != "9081" {
		t.Fatalf("unexpected host/port %q:%q", ctx.Host, ctx.Port)
	}
}

func TestParseRequestDefaultsPortFromScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://models.test/predict/sentiment", nil)
	req.Header.Set(HeaderAuthorization, `Hawk id="a", ts="1", nonce="n", mac="m"`)
	ctx, err := ParseRequest(req)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if ctx.Port != "443" {
		t.Fatalf("expected https default port 443, got %q", ctx.Port)
	}
}

func TestParseRequestRejectsMalformedHeaders(t *testing.T) {
	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   `Bearer abc`,
		"unquoted value": `Hawk id=service-a, ts="1", nonce="n", mac="m"`,
		"missing id":     `Hawk ts="1700000000", nonce="n", mac="m"`,
		"missing ts":     `Hawk id="a", nonce="n", mac="m"`,
		"non-numeric ts": `Hawk id="a", ts="soon", nonce="n", mac="m"`,
		"missing nonce":  `Hawk id="a", ts="1700000000", mac="m"`,
		"missing mac":    `Hawk id="a", ts="1700000000", nonce="n"`,
		"bare parameter": `Hawk id`,
		"empty nonce":    `Hawk id="a", ts="1700000000", nonce="", mac="m"`,
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "http://models.test/x", nil)
		if header != "" {
			req.Header.Set(HeaderAuthorization, header)
		}
		_, err := ParseRequest(req)
		if err == nil {
			t.Fatalf("%s: expected parse to fail", name)
		}
		if got := ReasonOf(err); got != ReasonMalformedRequest {
			t.Fatalf("%s: expected MalformedRequest, got %q", name, got)
		}
	}
}

func TestCanonicalStringLayout(t *testing.T) {
	ctx := &SignatureContext{
		ConsumerID: "service-a",
		Timestamp:  1700000000,
		Nonce:      "n-1",
		Hash:       "h=",
		Ext:        "e",
		Method:     "POST",
		Resource:   "/predict/sentiment",
		Host:       "Models.Test",
		Port:       "9081",
	}
	want := strings.Join([]string{
		"hawk.1.header",
		"1700000000",
		"n-1",
		"POST",
		"/predict/sentiment",
		"models.test",
		"9081",
		"h=",
		"e",
	}, "\n") + "\n"
	if got := CanonicalString(ctx); got != want {
		t.Fatalf("canonical string mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestPayloadHashNormalisesContentType(t *testing.T) {
	body := []byte(`{"text":"test input"}`)
	plain := PayloadHash("application/json", body)
	withParams := PayloadHash("Application/JSON; charset=utf-8", body)
	if plain != withParams {
		t.Fatalf("expected content-type parameters to be ignored: %q vs %q", plain, withParams)
	}
	if PayloadHash("text/plain", body) == plain {
		t.Fatalf("expected different media types to produce different hashes")
	}
}

func TestVerifyMACRoundTrip(t *testing.T) {
	canonical := "hawk.1.header\n1700000000\nn-1\nPOST\n/predict/sentiment\nmodels.test\n9081\n\n\n"
	mac := base64.StdEncoding.EncodeToString(ComputeMAC("secret", canonical))
	if !VerifyMAC("secret", canonical, mac) {
		t.Fatalf("expected MAC to verify")
	}
	if VerifyMAC("other-secret", canonical, mac) {
		t.Fatalf("expected MAC with wrong secret to fail")
	}
	if VerifyMAC("secret", canonical+"x", mac) {
		t.Fatalf("expected MAC over altered canonical string to fail")
	}
	if VerifyMAC("secret", canonical, "!!not-base64!!") {
		t.Fatalf("expected undecodable MAC to fail")
	}
}

func TestBuildHeaderOmitsEmptyOptionalFields(t *testing.T) {
	ctx := &SignatureContext{ConsumerID: "service-a", Timestamp: 1700000000, Nonce: "n-1"}
	header := BuildHeader(ctx, "m=")
	if strings.Contains(header, "hash=") || strings.Contains(header, "ext=") {
		t.Fatalf("expected optional fields to be omitted: %s", header)
	}
	req := httptest.NewRequest(http.MethodGet, "http://models.test/x", nil)
	req.Header.Set(HeaderAuthorization, header)
	if _, err := ParseRequest(req); err != nil {
		t.Fatalf("built header should parse: %v", err)
	}
}
