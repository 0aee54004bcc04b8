package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const defaultUpstreamTimeout = 10 * time.Second

// NewProxy streams accepted requests to the backend and relays the response
// unchanged. The upstream call is bounded by timeout; there is exactly one
// attempt, and any upstream failure surfaces as a 502 with the
// BackendUnavailable code.
func NewProxy(target *url.URL, stripPrefix string, timeout time.Duration, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultUpstreamTimeout
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	basePath := strings.TrimSuffix(stripPrefix, "/")
	proxy.Director = func(req *http.Request) {
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
		req.Host = target.Host
		path := req.URL.Path
		if basePath != "" && strings.HasPrefix(path, basePath) {
			path = strings.TrimPrefix(path, basePath)
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		req.URL.Path = singleJoiningSlash(target.Path, path)
		req.URL.RawPath = req.URL.EscapedPath()
		otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, context.Canceled) {
			// Client went away; nothing to answer.
			return
		}
		logger.Error("proxy: upstream failure", "backend", target.Host, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":  "BackendUnavailable",
			"error": "backend unavailable",
		})
	}
	proxy.Transport = otelhttp.NewTransport(http.DefaultTransport)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		proxy.ServeHTTP(w, r.WithContext(ctx))
	})
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
