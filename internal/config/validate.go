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

package config

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/tombee/workbench/internal/safeurl"
)

// MinCookieSecretLength is the shortest accepted cookie secret in bytes.
const MinCookieSecretLength = 32

var providerNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment is required")
	}
	if c.Listen.Addr == "" {
		errs = append(errs, "listen.addr is required")
	}
	if (c.Listen.TLSCert == "") != (c.Listen.TLSKey == "") {
		errs = append(errs, "listen.tls_cert and listen.tls_key must be set together")
	}
	if c.Listen.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("listen.shutdown_timeout must be positive, got %v", c.Listen.ShutdownTimeout))
	}
	for i, entry := range c.Listen.TrustedProxies {
		if _, err := ParseTrustedProxy(entry); err != nil {
			errs = append(errs, fmt.Sprintf("listen.trusted_proxies[%d]: %v", i, err))
		}
	}

	if c.PublicBaseURL != "" {
		if err := c.checkURL(c.PublicBaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("public_base_url: %v", err))
		}
	}
	for i, origin := range c.CORS.AllowedOrigins {
		if err := checkOrigin(origin); err != nil {
			errs = append(errs, fmt.Sprintf("cors.allowed_origins[%d]: %v", i, err))
		}
	}

	if c.Auth.DevAuth && !c.IsLocal() {
		errs = append(errs, fmt.Sprintf("auth.dev_auth is only allowed in the %q environment, got %q", EnvLocal, c.Environment))
	}
	if s := c.Auth.Cookie.Secret; s != "" && len(s) < MinCookieSecretLength {
		errs = append(errs, fmt.Sprintf("auth.cookie.secret must be at least %d bytes, got %d", MinCookieSecretLength, len(s)))
	}
	if c.Auth.OIDC.Issuer != "" {
		if err := c.checkURL(c.Auth.OIDC.Issuer); err != nil {
			errs = append(errs, fmt.Sprintf("auth.oidc.issuer: %v", err))
		}
		if c.Auth.OIDC.Audience == "" {
			errs = append(errs, "auth.oidc.audience is required when auth.oidc.issuer is set")
		}
	}
	if c.Auth.OIDC.JWKSURL != "" {
		if err := c.checkURL(c.Auth.OIDC.JWKSURL); err != nil {
			errs = append(errs, fmt.Sprintf("auth.oidc.jwks_url: %v", err))
		}
	}

	switch c.Sessions.Store {
	case "memory":
	case "sqlite":
		if c.Sessions.SQLitePath == "" {
			errs = append(errs, "sessions.sqlite_path is required when sessions.store is sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("sessions.store must be one of [memory, sqlite], got %q", c.Sessions.Store))
	}
	if c.Sessions.TTL < 0 {
		errs = append(errs, fmt.Sprintf("sessions.ttl must be non-negative, got %v", c.Sessions.TTL))
	}

	if c.Limits.RatePerMinute <= 0 {
		errs = append(errs, fmt.Sprintf("limits.rate_per_minute must be positive, got %d", c.Limits.RatePerMinute))
	}
	if c.Limits.MaxInFlight <= 0 {
		errs = append(errs, fmt.Sprintf("limits.max_in_flight must be positive, got %d", c.Limits.MaxInFlight))
	}
	if c.Limits.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("limits.upstream_timeout must be positive, got %v", c.Limits.UpstreamTimeout))
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider must be configured")
	}
	for _, name := range sortedKeys(c.Providers) {
		p := c.Providers[name]
		if !providerNamePattern.MatchString(name) {
			errs = append(errs, fmt.Sprintf("providers: invalid provider name %q", name))
		}
		if p.GraphQLURL == "" && p.RESTBaseURL == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: graphql_url or rest_base_url is required", name))
		}
		if p.GraphQLURL != "" {
			if err := c.checkURL(p.GraphQLURL); err != nil {
				errs = append(errs, fmt.Sprintf("providers.%s.graphql_url: %v", name, err))
			}
		}
		if p.RESTBaseURL != "" {
			if err := c.checkURL(p.RESTBaseURL); err != nil {
				errs = append(errs, fmt.Sprintf("providers.%s.rest_base_url: %v", name, err))
			}
		}
		for _, pattern := range p.AllowedPaths {
			if !safeurl.ValidPattern(pattern) {
				errs = append(errs, fmt.Sprintf("providers.%s.allowed_paths: invalid pattern %q", name, pattern))
			}
		}
	}

	if c.OpenBao.Address != "" {
		if err := c.checkURL(c.OpenBao.Address); err != nil {
			errs = append(errs, fmt.Sprintf("openbao.address: %v", err))
		}
	}

	switch c.Tracing.Exporter {
	case "console", "otlp", "otlp_http":
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [console, otlp, otlp_http], got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics.path must start with /, got %q", c.Metrics.Path))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// checkURL accepts https URLs, and http only in development environments.
func (c *Config) checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	if u.User != nil {
		return fmt.Errorf("URL %q must not contain credentials", raw)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if c.Environment == EnvLocal || c.Environment == EnvDev {
			return nil
		}
		return fmt.Errorf("URL %q must use https outside local and dev", raw)
	default:
		return fmt.Errorf("URL %q must use http or https", raw)
	}
}

// checkOrigin requires a bare scheme://host[:port] origin.
func checkOrigin(origin string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("origin %q must be scheme://host", origin)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("origin %q must not have a path, query, fragment or credentials", origin)
	}
	return nil
}

func sortedKeys(m map[string]ProviderConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
