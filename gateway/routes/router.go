package routes

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"hawkgate/gateway/middleware"
)

// ServiceRoute binds a path prefix to a backend model endpoint with the
// consumers allowed to reach it.
type ServiceRoute struct {
	Name         string
	Prefix       string
	Target       *url.URL
	Allow        []string
	Timeout      time.Duration
	RateLimitKey string
}

// Config assembles the gateway handler. AuthMiddleware is nil only when
// authentication is disabled (dev); the allow-list filter is skipped then
// too, since without an authenticated principal default-deny would refuse
// everything.
type Config struct {
	Routes         []ServiceRoute
	AuthMiddleware func(http.Handler) http.Handler
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	CORS           middleware.CORSConfig
	Logger         *slog.Logger
}

// New builds the chi router: health and metrics are open, every model route
// runs rate limiting, authentication, then the allow-list filter, in that
// order, before the proxy.
func New(cfg Config) (http.Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	for _, route := range cfg.Routes {
		route := route
		proxy := NewProxy(route.Target, route.Prefix, route.Timeout, logger)
		r.Route(route.Prefix, func(sr chi.Router) {
			if cfg.RateLimiter != nil && route.RateLimitKey != "" {
				sr.Use(cfg.RateLimiter.Middleware(route.RateLimitKey))
			}
			if cfg.AuthMiddleware != nil {
				sr.Use(cfg.AuthMiddleware)
				sr.Use(middleware.AllowList(route.Allow, logger))
			}
			if obs != nil {
				sr.Use(obs.Middleware(route.Name))
			}
			sr.Handle("/*", proxy)
			sr.Handle("/", proxy)
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
