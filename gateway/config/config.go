package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RouteConfig maps a path prefix to a backend model endpoint and the
// consumers permitted to call it. An empty allow list denies every consumer.
type RouteConfig struct {
	Name         string        `yaml:"name"`
	Prefix       string        `yaml:"prefix"`
	Endpoint     string        `yaml:"endpoint"`
	Allow        []string      `yaml:"allow"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitKey string        `yaml:"rateLimitKey"`
}

type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	RatePerSecond     float64 `yaml:"ratePerSecond"`
	Burst             int     `yaml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
	LogFile       string `yaml:"logFile"`
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	Routes        []RouteConfig       `yaml:"routes"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	Security      SecurityConfig      `yaml:"security"`
}

// AuthMode selects how inbound requests are authenticated.
type AuthMode string

const (
	// ModeHawk verifies Hawk request signatures against shared secrets.
	ModeHawk AuthMode = "hawk"
	// ModeJWT verifies HS256 bearer tokens; the consumer identity is the
	// token subject.
	ModeJWT AuthMode = "jwt"
)

type AuthConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Mode            AuthMode      `yaml:"mode"`
	CredentialsFile string        `yaml:"credentialsFile"`
	ClockSkew       time.Duration `yaml:"clockSkew"`
	NonceTTL        time.Duration `yaml:"nonceTTL"`
	NonceCapacity   int           `yaml:"nonceCapacity"`
	NonceDB         string        `yaml:"nonceDB"`
	JWT             JWTConfig     `yaml:"jwt"`
	enabledSet      bool          `yaml:"-"`
}

type JWTConfig struct {
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
}

// UnmarshalYAML tracks whether auth.enabled was explicitly set so sensitive
// deployments can insist on an explicit decision rather than a default.
func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled         *bool         `yaml:"enabled"`
		Mode            AuthMode      `yaml:"mode"`
		CredentialsFile string        `yaml:"credentialsFile"`
		ClockSkew       time.Duration `yaml:"clockSkew"`
		NonceTTL        time.Duration `yaml:"nonceTTL"`
		NonceCapacity   int           `yaml:"nonceCapacity"`
		NonceDB         string        `yaml:"nonceDB"`
		JWT             JWTConfig     `yaml:"jwt"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		a.Enabled = *raw.Enabled
		a.enabledSet = true
	} else {
		a.Enabled = false
		a.enabledSet = false
	}
	a.Mode = raw.Mode
	a.CredentialsFile = raw.CredentialsFile
	a.ClockSkew = raw.ClockSkew
	a.NonceTTL = raw.NonceTTL
	a.NonceCapacity = raw.NonceCapacity
	a.NonceDB = raw.NonceDB
	a.JWT = raw.JWT
	return nil
}

type SecurityConfig struct {
	AllowInsecure   bool   `yaml:"allowInsecure"`
	TLSCertFile     string `yaml:"tlsCertFile"`
	TLSKeyFile      string `yaml:"tlsKeyFile"`
	TLSClientCAFile string `yaml:"tlsClientCAFile"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":9081",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Observability: ObservabilityConfig{
			ServiceName:   "hawkgate",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "hawkgate",
		},
		Auth: AuthConfig{
			Enabled:   true,
			Mode:      ModeHawk,
			ClockSkew: time.Minute,
		},
	}
	if path == "" {
		cfg.applyAuthDefaults()
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyAuthDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyAuthDefaults() {
	if cfg == nil {
		return
	}
	// Defaulting to enabled does not count as an explicit decision;
	// enabledSet stays false so sensitive deployments still have to spell
	// it out.
	if !cfg.Auth.enabledSet {
		cfg.Auth.Enabled = true
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = ModeHawk
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = time.Minute
	}
}

var ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set for sensitive deployments")

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.isSensitiveDeployment() && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	switch cfg.Auth.Mode {
	case ModeHawk, ModeJWT:
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", ModeHawk, ModeJWT, cfg.Auth.Mode)
	}
	if cfg.Auth.Enabled {
		if cfg.Auth.Mode == ModeHawk && strings.TrimSpace(cfg.Auth.CredentialsFile) == "" {
			return fmt.Errorf("auth.credentialsFile is required in hawk mode")
		}
		if cfg.Auth.Mode == ModeJWT && strings.TrimSpace(cfg.Auth.JWT.HMACSecret) == "" {
			return fmt.Errorf("auth.jwt.hmacSecret is required in jwt mode")
		}
	}
	seenPrefixes := make(map[string]string, len(cfg.Routes))
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		route.Name = strings.TrimSpace(route.Name)
		route.Prefix = strings.TrimSpace(route.Prefix)
		if route.Name == "" {
			return fmt.Errorf("routes[%d]: name is required", i)
		}
		if !strings.HasPrefix(route.Prefix, "/") {
			return fmt.Errorf("route %s: prefix must start with '/'", route.Name)
		}
		if prior, dup := seenPrefixes[route.Prefix]; dup {
			return fmt.Errorf("route %s: prefix %s already used by route %s", route.Name, route.Prefix, prior)
		}
		seenPrefixes[route.Prefix] = route.Name
		if _, err := route.URL(); err != nil {
			return err
		}
		for j, consumer := range route.Allow {
			if strings.TrimSpace(consumer) == "" {
				return fmt.Errorf("route %s: allow[%d] cannot be empty", route.Name, j)
			}
		}
	}
	return nil
}

func (r RouteConfig) URL() (*url.URL, error) {
	if r.Endpoint == "" {
		return nil, fmt.Errorf("endpoint missing for route %s", r.Name)
	}
	parsed, err := url.Parse(r.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse route %s endpoint: %w", r.Name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("route %s endpoint must be http or https", r.Name)
	}
	return parsed, nil
}

func (cfg Config) RouteByName(name string) (*RouteConfig, error) {
	for i := range cfg.Routes {
		if cfg.Routes[i].Name == name {
			return &cfg.Routes[i], nil
		}
	}
	return nil, fmt.Errorf("route %s not configured", name)
}

func (cfg *Config) isSensitiveDeployment() bool {
	if cfg == nil {
		return false
	}
	if strings.TrimSpace(cfg.Security.TLSCertFile) != "" {
		return true
	}
	if strings.TrimSpace(cfg.Security.TLSKeyFile) != "" {
		return true
	}
	if strings.TrimSpace(cfg.Security.TLSClientCAFile) != "" {
		return true
	}
	return false
}
