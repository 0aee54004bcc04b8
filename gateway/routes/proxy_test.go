package routes

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestProxyJoinsTargetBasePath(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	target, err := url.Parse(backend.URL + "/v2/models")
	if err != nil {
		t.Fatalf("parse target: %v", err)
	}
	proxy := NewProxy(target, "/predict/sentiment", 0, nil)

	res := httptest.NewRecorder()
	proxy.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/predict/sentiment/infer", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if gotPath != "/v2/models/infer" {
		t.Fatalf("expected backend path /v2/models/infer, got %q", gotPath)
	}
}

func TestProxyTimesOutSlowBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer backend.Close()

	target, err := url.Parse(backend.URL)
	if err != nil {
		t.Fatalf("parse target: %v", err)
	}
	proxy := NewProxy(target, "/predict/sentiment", 50*time.Millisecond, nil)

	res := httptest.NewRecorder()
	proxy.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/predict/sentiment", nil))
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when the upstream deadline passes, got %d", res.Code)
	}
}
