// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads gateway configuration from a YAML file and WORKBENCH_*
// environment variables. Environment variables take precedence.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	wberrors "github.com/tombee/workbench/pkg/errors"
)

// Well-known environment names.
const (
	EnvLocal      = "local"
	EnvDev        = "dev"
	EnvProduction = "production"
)

// Config is the complete gateway configuration.
type Config struct {
	// Environment selects security defaults: local, dev, staging, production...
	// Environment: WORKBENCH_ENVIRONMENT
	Environment string `yaml:"environment"`

	Listen ListenConfig `yaml:"listen"`

	// PublicBaseURL is where browsers reach the gateway. Launch URLs are
	// only issued when it is set.
	// Environment: WORKBENCH_PUBLIC_BASE_URL
	PublicBaseURL string `yaml:"public_base_url,omitempty"`

	CORS      CORSConfig                `yaml:"cors"`
	Auth      AuthConfig                `yaml:"auth"`
	Sessions  SessionsConfig            `yaml:"sessions"`
	Limits    LimitsConfig              `yaml:"limits"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	OpenBao   OpenBaoConfig             `yaml:"openbao"`
	Catalog   CatalogConfig             `yaml:"catalog"`
	Tracing   TracingConfig             `yaml:"tracing"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Log       LogConfig                 `yaml:"log"`
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	// Environment: WORKBENCH_ADDR
	Addr string `yaml:"addr"`

	TLSCert string `yaml:"tls_cert,omitempty"`
	TLSKey  string `yaml:"tls_key,omitempty"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TrustedProxies lists the addresses or CIDRs of reverse proxies whose
	// X-Forwarded-For header names the client.
	// Environment: WORKBENCH_TRUSTED_PROXIES (comma separated)
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// ParseTrustedProxy parses a trusted proxy entry. A bare address is treated
// as a single-host prefix.
func ParseTrustedProxy(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// CORSConfig lists browser origins allowed to call mutating routes.
type CORSConfig struct {
	// Environment: WORKBENCH_CORS_ORIGINS (comma separated)
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig configures principal resolution.
type AuthConfig struct {
	OIDC   OIDCConfig   `yaml:"oidc"`
	Cookie CookieConfig `yaml:"cookie"`

	// DevAuth enables identity headers and token overrides. Only valid in
	// the local environment.
	// Environment: WORKBENCH_DEV_AUTH
	DevAuth bool `yaml:"dev_auth"`
}

// OIDCConfig configures bearer token verification. Verification is disabled
// when Issuer is empty.
type OIDCConfig struct {
	// Environment: WORKBENCH_OIDC_ISSUER
	Issuer string `yaml:"issuer,omitempty"`
	// Environment: WORKBENCH_OIDC_AUDIENCE
	Audience string `yaml:"audience,omitempty"`
	// Environment: WORKBENCH_OIDC_JWKS_URL
	JWKSURL string `yaml:"jwks_url,omitempty"`
	// Environment: WORKBENCH_OIDC_CLIENT_ID
	ClientID string        `yaml:"client_id,omitempty"`
	Leeway   time.Duration `yaml:"leeway"`
}

// CookieConfig configures the signed session cookie. The cookie is disabled
// when Secret is empty.
type CookieConfig struct {
	// Environment: WORKBENCH_COOKIE_SECRET
	Secret string        `yaml:"secret,omitempty"`
	Name   string        `yaml:"name"`
	TTL    time.Duration `yaml:"ttl"`
}

// SessionsConfig configures the session store.
type SessionsConfig struct {
	// TTL defaults to 60m in local and 10m elsewhere.
	// Environment: WORKBENCH_SESSION_TTL
	TTL time.Duration `yaml:"ttl"`

	// Store is "memory" or "sqlite".
	// Environment: WORKBENCH_SESSION_STORE
	Store string `yaml:"store"`

	// Environment: WORKBENCH_SESSION_DB
	SQLitePath string `yaml:"sqlite_path,omitempty"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LimitsConfig configures abuse controls.
type LimitsConfig struct {
	// Environment: WORKBENCH_RATE_PER_MINUTE
	RatePerMinute int `yaml:"rate_per_minute"`
	// Environment: WORKBENCH_MAX_IN_FLIGHT
	MaxInFlight int `yaml:"max_in_flight"`

	UpstreamTimeout       time.Duration `yaml:"upstream_timeout"`
	MaxBodyBytes          int64         `yaml:"max_body_bytes"`
	MaxProxyBodyBytes     int64         `yaml:"max_proxy_body_bytes"`
	MaxResponseBytes      int64         `yaml:"max_response_bytes"`
	AuthFailuresPerMinute int           `yaml:"auth_failures_per_minute"`
}

// ProviderConfig is one upstream provider. The URLs are fixed here and can
// never be chosen by a caller.
type ProviderConfig struct {
	GraphQLURL  string `yaml:"graphql_url,omitempty"`
	RESTBaseURL string `yaml:"rest_base_url,omitempty"`

	// AuthScheme prefixes the token in the Authorization header.
	AuthScheme string `yaml:"auth_scheme,omitempty"`

	// Headers are added to every upstream request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// AllowedPaths restricts REST paths to these glob patterns, relative to
	// RESTBaseURL. Empty allows every path.
	AllowedPaths []string `yaml:"allowed_paths,omitempty"`
}

// OpenBaoConfig configures the secret store. It is disabled when Address is
// empty.
type OpenBaoConfig struct {
	// Environment: OPENBAO_ADDR or BAO_ADDR
	Address string `yaml:"address,omitempty"`
	// Environment: OPENBAO_TOKEN or BAO_TOKEN
	Token string `yaml:"token,omitempty"`
	// Environment: OPENBAO_NAMESPACE
	Namespace string `yaml:"namespace,omitempty"`
	// Environment: WORKBENCH_OPENBAO_MOUNT
	Mount    string        `yaml:"mount"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// CatalogConfig configures the schema catalog served to launch pages.
type CatalogConfig struct {
	// Dir holds <provider>.graphql.json and <provider>.openapi.json files
	// overriding the embedded documents.
	Dir string `yaml:"dir,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Environment: WORKBENCH_TRACING_ENABLED
	Enabled bool `yaml:"enabled"`
	// Exporter is console, otlp or otlp_http.
	// Environment: WORKBENCH_TRACING_EXPORTER
	Exporter string `yaml:"exporter"`
	// Environment: OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint   string            `yaml:"endpoint,omitempty"`
	Insecure   bool              `yaml:"insecure"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	SampleRate float64           `yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Environment: WORKBENCH_METRICS_ENABLED
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Environment: LOG_LEVEL
	Level string `yaml:"level"`
	// Environment: LOG_FORMAT
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: EnvLocal,
		Listen: ListenConfig{
			Addr:            "127.0.0.1:8787",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			OIDC:   OIDCConfig{Leeway: 30 * time.Second},
			Cookie: CookieConfig{Name: "workbench_session", TTL: 8 * time.Hour},
		},
		Sessions: SessionsConfig{
			Store:         "memory",
			SweepInterval: time.Minute,
		},
		Limits: LimitsConfig{
			RatePerMinute:         120,
			MaxInFlight:           8,
			UpstreamTimeout:       15 * time.Second,
			MaxBodyBytes:          64 << 10,
			MaxProxyBodyBytes:     1 << 20,
			MaxResponseBytes:      10 << 20,
			AuthFailuresPerMinute: 30,
		},
		Providers: map[string]ProviderConfig{
			"github": {
				GraphQLURL:  "https://api.github.com/graphql",
				RESTBaseURL: "https://api.github.com",
				AuthScheme:  "Bearer",
				Headers: map[string]string{
					"Accept":               "application/vnd.github+json",
					"X-GitHub-Api-Version": "2022-11-28",
				},
			},
			"gitlab": {
				GraphQLURL:  "https://gitlab.com/api/graphql",
				RESTBaseURL: "https://gitlab.com/api/v4",
				AuthScheme:  "Bearer",
			},
		},
		OpenBao: OpenBaoConfig{
			Mount:    "secret",
			CacheTTL: 30 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:   "console",
			SampleRate: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configPath (optional), applies environment overrides and
// validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &wberrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &wberrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// a file that names providers replaces the built-in set
	c.Providers = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if c.Providers == nil {
		c.Providers = Default().Providers
	}
	return nil
}

// applyDefaults fills zero values left by a minimal file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Environment == "" {
		c.Environment = d.Environment
	}
	if c.Listen.Addr == "" {
		c.Listen.Addr = d.Listen.Addr
	}
	if c.Listen.ReadTimeout <= 0 {
		c.Listen.ReadTimeout = d.Listen.ReadTimeout
	}
	if c.Listen.WriteTimeout <= 0 {
		c.Listen.WriteTimeout = d.Listen.WriteTimeout
	}
	if c.Listen.IdleTimeout <= 0 {
		c.Listen.IdleTimeout = d.Listen.IdleTimeout
	}
	if c.Listen.ShutdownTimeout <= 0 {
		c.Listen.ShutdownTimeout = d.Listen.ShutdownTimeout
	}
	if c.Auth.OIDC.Leeway <= 0 {
		c.Auth.OIDC.Leeway = d.Auth.OIDC.Leeway
	}
	if c.Auth.Cookie.Name == "" {
		c.Auth.Cookie.Name = d.Auth.Cookie.Name
	}
	if c.Auth.Cookie.TTL <= 0 {
		c.Auth.Cookie.TTL = d.Auth.Cookie.TTL
	}
	if c.Sessions.Store == "" {
		c.Sessions.Store = d.Sessions.Store
	}
	if c.Sessions.SweepInterval <= 0 {
		c.Sessions.SweepInterval = d.Sessions.SweepInterval
	}
	if c.Limits.RatePerMinute <= 0 {
		c.Limits.RatePerMinute = d.Limits.RatePerMinute
	}
	if c.Limits.MaxInFlight <= 0 {
		c.Limits.MaxInFlight = d.Limits.MaxInFlight
	}
	if c.Limits.UpstreamTimeout <= 0 {
		c.Limits.UpstreamTimeout = d.Limits.UpstreamTimeout
	}
	if c.Limits.MaxBodyBytes <= 0 {
		c.Limits.MaxBodyBytes = d.Limits.MaxBodyBytes
	}
	if c.Limits.MaxProxyBodyBytes <= 0 {
		c.Limits.MaxProxyBodyBytes = d.Limits.MaxProxyBodyBytes
	}
	if c.Limits.MaxResponseBytes <= 0 {
		c.Limits.MaxResponseBytes = d.Limits.MaxResponseBytes
	}
	if c.Limits.AuthFailuresPerMinute <= 0 {
		c.Limits.AuthFailuresPerMinute = d.Limits.AuthFailuresPerMinute
	}
	for name, p := range c.Providers {
		if p.AuthScheme == "" {
			p.AuthScheme = "Bearer"
			c.Providers[name] = p
		}
	}
	if c.OpenBao.Mount == "" {
		c.OpenBao.Mount = d.OpenBao.Mount
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("WORKBENCH_ENVIRONMENT"); val != "" {
		c.Environment = strings.ToLower(val)
	}
	if val := os.Getenv("WORKBENCH_ADDR"); val != "" {
		c.Listen.Addr = val
	}
	if val := os.Getenv("WORKBENCH_TRUSTED_PROXIES"); val != "" {
		c.Listen.TrustedProxies = splitList(val)
	}
	if val := os.Getenv("WORKBENCH_PUBLIC_BASE_URL"); val != "" {
		c.PublicBaseURL = val
	}
	if val := os.Getenv("WORKBENCH_CORS_ORIGINS"); val != "" {
		c.CORS.AllowedOrigins = splitList(val)
	}

	if val := os.Getenv("WORKBENCH_OIDC_ISSUER"); val != "" {
		c.Auth.OIDC.Issuer = val
	}
	if val := os.Getenv("WORKBENCH_OIDC_AUDIENCE"); val != "" {
		c.Auth.OIDC.Audience = val
	}
	if val := os.Getenv("WORKBENCH_OIDC_JWKS_URL"); val != "" {
		c.Auth.OIDC.JWKSURL = val
	}
	if val := os.Getenv("WORKBENCH_OIDC_CLIENT_ID"); val != "" {
		c.Auth.OIDC.ClientID = val
	}
	if val := os.Getenv("WORKBENCH_COOKIE_SECRET"); val != "" {
		c.Auth.Cookie.Secret = val
	}
	if val := os.Getenv("WORKBENCH_DEV_AUTH"); val != "" {
		c.Auth.DevAuth = parseBool(val)
	}

	if val := os.Getenv("WORKBENCH_SESSION_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Sessions.TTL = d
		}
	}
	if val := os.Getenv("WORKBENCH_SESSION_STORE"); val != "" {
		c.Sessions.Store = strings.ToLower(val)
	}
	if val := os.Getenv("WORKBENCH_SESSION_DB"); val != "" {
		c.Sessions.SQLitePath = val
	}

	if val := os.Getenv("WORKBENCH_RATE_PER_MINUTE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Limits.RatePerMinute = n
		}
	}
	if val := os.Getenv("WORKBENCH_MAX_IN_FLIGHT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Limits.MaxInFlight = n
		}
	}

	if val := firstEnv("OPENBAO_ADDR", "BAO_ADDR"); val != "" {
		c.OpenBao.Address = val
	}
	if val := firstEnv("OPENBAO_TOKEN", "BAO_TOKEN"); val != "" {
		c.OpenBao.Token = val
	}
	if val := os.Getenv("OPENBAO_NAMESPACE"); val != "" {
		c.OpenBao.Namespace = val
	}
	if val := os.Getenv("WORKBENCH_OPENBAO_MOUNT"); val != "" {
		c.OpenBao.Mount = val
	}

	if val := os.Getenv("WORKBENCH_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = parseBool(val)
	}
	if val := os.Getenv("WORKBENCH_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
	if val := os.Getenv("WORKBENCH_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = parseBool(val)
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
}

// IsLocal reports whether the environment is local.
func (c *Config) IsLocal() bool {
	return c.Environment == EnvLocal
}

func parseBool(val string) bool {
	return val == "1" || strings.EqualFold(val, "true") || strings.EqualFold(val, "yes")
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
