package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hawkgate/gateway/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAsConsumer(method, target, consumerID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := context.WithValue(req.Context(), ContextKeyPrincipal, &auth.Principal{ConsumerID: consumerID})
	return req.WithContext(ctx)
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"sentiment": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("sentiment")(okHandler())

	req := requestAsConsumer(http.MethodPost, "/predict/sentiment", "service-a")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesConsumers(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"sentiment": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("sentiment")(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, requestAsConsumer(http.MethodPost, "/predict/sentiment", "service-a"))
	if res.Code != http.StatusOK {
		t.Fatalf("expected service-a request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestAsConsumer(http.MethodPost, "/predict/sentiment", "service-c"))
	if res.Code != http.StatusOK {
		t.Fatalf("expected service-c request to succeed despite service-a's bucket, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesRouteGroups(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"sentiment": {RatePerSecond: 1, Burst: 1},
		"toxicity":  {RatePerSecond: 1, Burst: 1},
	}, nil)
	sentiment := limiter.Middleware("sentiment")(okHandler())
	toxicity := limiter.Middleware("toxicity")(okHandler())

	res := httptest.NewRecorder()
	sentiment.ServeHTTP(res, requestAsConsumer(http.MethodPost, "/predict/sentiment", "service-a"))
	if res.Code != http.StatusOK {
		t.Fatalf("expected sentiment request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	toxicity.ServeHTTP(res, requestAsConsumer(http.MethodPost, "/predict/toxicity", "service-a"))
	if res.Code != http.StatusOK {
		t.Fatalf("expected toxicity request to use its own bucket, got %d", res.Code)
	}
}

func TestRateLimiterPassesThroughUnconfiguredKeys(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{}, nil)
	handler := limiter.Middleware("sentiment")(okHandler())

	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, requestAsConsumer(http.MethodPost, "/predict/sentiment", "service-a"))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: expected pass-through without a configured limit, got %d", i, res.Code)
		}
	}
}

func TestRateLimiterFallsBackToClientAddress(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"sentiment": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("sentiment")(okHandler())

	reqA := httptest.NewRequest(http.MethodPost, "/predict/sentiment", nil)
	reqA.Header.Set("X-Real-IP", "10.0.0.1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, reqA)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first client request to succeed, got %d", res.Code)
	}

	reqB := httptest.NewRequest(http.MethodPost, "/predict/sentiment", nil)
	reqB.Header.Set("X-Real-IP", "10.0.0.2")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, reqB)
	if res.Code != http.StatusOK {
		t.Fatalf("expected different client to have its own bucket, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, reqB)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat from same client to be limited, got %d", res.Code)
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"sentiment": {RatePerSecond: 1, Burst: 1},
	}, nil)
	now := time.Unix(1_700_000_000, 0).UTC()
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("sentiment")(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, requestAsConsumer(http.MethodPost, "/predict/sentiment", "service-a"))
	if res.Code != http.StatusOK {
		t.Fatalf("expected request to succeed, got %d", res.Code)
	}

	// Advancing past the idle window drops the visitor and restores its burst.
	now = now.Add(visitorIdleEviction + time.Second)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestAsConsumer(http.MethodPost, "/predict/sentiment", "service-a"))
	if res.Code != http.StatusOK {
		t.Fatalf("expected evicted visitor to start a fresh bucket, got %d", res.Code)
	}
}
