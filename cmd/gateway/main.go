package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hawkgate/gateway/auth"
	"hawkgate/gateway/config"
	"hawkgate/gateway/middleware"
	"hawkgate/gateway/routes"
	"hawkgate/observability/logging"
	telemetry "hawkgate/observability/otel"
)

func main() {
	var cfgPath string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("HAWKGATE_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("gateway", env, logging.Options{FilePath: cfg.Observability.LogFile})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "gateway",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     cfg.Observability.Metrics,
		Traces:      cfg.Observability.Tracing,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	configDir := ""
	if strings.TrimSpace(cfgPath) != "" {
		configDir = filepath.Dir(cfgPath)
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, logger)

	var authMiddleware func(http.Handler) http.Handler
	var noncePersistence *auth.LevelDBNoncePersistence
	if cfg.Auth.Enabled {
		switch cfg.Auth.Mode {
		case config.ModeHawk:
			credentialsPath := cfg.Auth.CredentialsFile
			if configDir != "" && !filepath.IsAbs(credentialsPath) {
				credentialsPath = filepath.Join(configDir, credentialsPath)
			}
			credentials, err := auth.LoadCredentials(credentialsPath)
			if err != nil {
				logger.Error("load credentials", "error", err)
				os.Exit(1)
			}
			logger.Info("loaded consumer credentials", "consumers", credentials.Len())

			opts := auth.Options{
				TimestampSkew: cfg.Auth.ClockSkew,
				NonceTTL:      cfg.Auth.NonceTTL,
				NonceCapacity: cfg.Auth.NonceCapacity,
			}
			if path := strings.TrimSpace(cfg.Auth.NonceDB); path != "" {
				noncePersistence, err = auth.NewLevelDBNoncePersistence(path)
				if err != nil {
					logger.Error("open nonce store", "error", err)
					os.Exit(1)
				}
				opts.Persistence = noncePersistence
			}
			authenticator := auth.NewAuthenticator(credentials, opts)
			if noncePersistence != nil {
				cutoff := time.Now().UTC().Add(-authenticator.TimestampSkew() * 2)
				if err := authenticator.HydrateNonces(context.Background(), cutoff); err != nil {
					logger.Error("hydrate nonces", "error", err)
					os.Exit(1)
				}
			}
			authMiddleware = middleware.NewHawkAuth(authenticator, logger).Middleware()
		case config.ModeJWT:
			authMiddleware = middleware.NewJWTAuth(middleware.JWTConfig{
				HMACSecret: cfg.Auth.JWT.HMACSecret,
				Issuer:     cfg.Auth.JWT.Issuer,
				Audience:   cfg.Auth.JWT.Audience,
				ClockSkew:  cfg.Auth.JWT.ClockSkew,
			}, logger).Middleware()
		}
	} else {
		logger.Warn("authentication disabled; all routes are open")
	}
	if noncePersistence != nil {
		defer func() { _ = noncePersistence.Close() }()
	}

	rateLimits := make(map[string]middleware.RateLimit)
	for _, entry := range cfg.RateLimits {
		if entry.ID == "" {
			continue
		}
		perSecond := entry.RatePerSecond
		if perSecond <= 0 && entry.RequestsPerMinute > 0 {
			perSecond = entry.RequestsPerMinute / 60.0
		}
		rateLimits[entry.ID] = middleware.RateLimit{
			RatePerSecond: perSecond,
			Burst:         entry.Burst,
		}
	}

	serviceRoutes := make([]routes.ServiceRoute, 0, len(cfg.Routes))
	for _, route := range cfg.Routes {
		target, err := route.URL()
		if err != nil {
			logger.Error("parse route endpoint", "route", route.Name, "error", err)
			os.Exit(1)
		}
		serviceRoutes = append(serviceRoutes, routes.ServiceRoute{
			Name:         route.Name,
			Prefix:       route.Prefix,
			Target:       target,
			Allow:        route.Allow,
			Timeout:      route.Timeout,
			RateLimitKey: route.RateLimitKey,
		})
	}

	router, err := routes.New(routes.Config{
		Routes:         serviceRoutes,
		AuthMiddleware: authMiddleware,
		RateLimiter:    middleware.NewRateLimiter(rateLimits, logger),
		Observability:  obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: false,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("configure routes", "error", err)
		os.Exit(1)
	}

	handler := http.Handler(router)
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, "gateway")
	}

	tlsConfig, err := buildTLSConfig(configDir, cfg.Security)
	if err != nil {
		logger.Error("configure TLS", "error", err)
		os.Exit(1)
	}

	allowInsecure := cfg.Security.AllowInsecure || allowInsecureFlag
	if tlsConfig == nil {
		if !allowInsecure {
			logger.Error("gateway TLS certificate and key are required; provide security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
			os.Exit(1)
		}
		if !strings.EqualFold(env, "dev") && !isLoopbackAddress(cfg.ListenAddress) {
			logger.Error("plaintext gateway mode is restricted to loopback listeners or dev environment")
			os.Exit(1)
		}
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	if tlsConfig != nil {
		server.TLSConfig = tlsConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("listen", "error", err)
		os.Exit(1)
	}
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
		}
		logger.Info("listening", "address", fmt.Sprintf("%s://%s", scheme, listener.Addr()))
		var serveErr error
		if tlsConfig != nil {
			serveErr = server.Serve(tls.NewListener(listener, tlsConfig))
		} else {
			serveErr = server.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("listen and serve", "error", serveErr)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildTLSConfig(baseDir string, sec config.SecurityConfig) (*tls.Config, error) {
	certPath := resolveTLSPath(baseDir, sec.TLSCertFile)
	keyPath := resolveTLSPath(baseDir, sec.TLSKeyFile)
	caPath := resolveTLSPath(baseDir, sec.TLSClientCAFile)
	if strings.TrimSpace(certPath) == "" && strings.TrimSpace(keyPath) == "" && strings.TrimSpace(caPath) == "" {
		return nil, nil
	}
	if strings.TrimSpace(certPath) == "" || strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must both be provided when enabling TLS")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if strings.TrimSpace(caPath) != "" {
		data, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("parse client CA file %s", caPath)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

func resolveTLSPath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if baseDir == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(baseDir, trimmed)
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
