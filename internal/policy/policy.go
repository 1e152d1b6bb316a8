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

// Package policy derives the effective security settings for an environment.
//
// A SecurityPolicy is built once at startup from the loaded configuration and
// passed to every component. Handlers never read the environment themselves.
package policy

import (
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/workbench/internal/config"
	"github.com/tombee/workbench/internal/firewall"
)

// Session lifetime defaults per environment class.
const (
	LocalSessionTTL    = 60 * time.Minute
	RemoteSessionTTL   = 10 * time.Minute
	LocalSessionMaxTTL = 365 * 24 * time.Hour
	RemoteSessionMax   = 24 * time.Hour
)

// SecurityPolicy is the effective security configuration.
type SecurityPolicy struct {
	Environment string

	// Development is true for local and dev.
	Development bool
	Local       bool
	Production  bool

	FirewallLimits       firewall.Limits
	IntrospectionAllowed bool

	SessionTTL    time.Duration
	SessionMaxTTL time.Duration

	RatePerMinute         int
	MaxInFlight           int
	AuthFailuresPerMinute int
	UpstreamTimeout       time.Duration
	MaxBodyBytes          int64
	MaxProxyBodyBytes     int64
	MaxResponseBytes      int64

	AllowedOrigins []string

	// DevAuth is only ever true in local.
	DevAuth bool

	// DevTokenOverrides enables WORKBENCH_DEV_TOKEN_<PROVIDER>.
	DevTokenOverrides bool

	PublicBaseURL string

	// SecureCookies marks issued cookies Secure. Off only in local.
	SecureCookies bool

	// TrustedProxies are the proxies whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix

	origins map[string]struct{}
}

// FromConfig builds the policy for cfg.
func FromConfig(cfg *config.Config) *SecurityPolicy {
	env := strings.ToLower(cfg.Environment)
	local := env == config.EnvLocal
	development := local || env == config.EnvDev

	p := &SecurityPolicy{
		Environment:           env,
		Development:           development,
		Local:                 local,
		Production:            env == config.EnvProduction,
		IntrospectionAllowed:  development,
		RatePerMinute:         cfg.Limits.RatePerMinute,
		MaxInFlight:           cfg.Limits.MaxInFlight,
		AuthFailuresPerMinute: cfg.Limits.AuthFailuresPerMinute,
		UpstreamTimeout:       cfg.Limits.UpstreamTimeout,
		MaxBodyBytes:          cfg.Limits.MaxBodyBytes,
		MaxProxyBodyBytes:     cfg.Limits.MaxProxyBodyBytes,
		MaxResponseBytes:      cfg.Limits.MaxResponseBytes,
		AllowedOrigins:        append([]string(nil), cfg.CORS.AllowedOrigins...),
		DevAuth:               cfg.Auth.DevAuth && local,
		PublicBaseURL:         strings.TrimRight(cfg.PublicBaseURL, "/"),
		SecureCookies:         !local,
		origins:               make(map[string]struct{}, len(cfg.CORS.AllowedOrigins)),
	}
	p.DevTokenOverrides = p.DevAuth

	for _, entry := range cfg.Listen.TrustedProxies {
		if prefix, err := config.ParseTrustedProxy(entry); err == nil {
			p.TrustedProxies = append(p.TrustedProxies, prefix)
		}
	}

	if development {
		p.FirewallLimits = firewall.DevelopmentLimits()
	} else {
		p.FirewallLimits = firewall.ProductionLimits()
	}

	if local {
		p.SessionTTL = LocalSessionTTL
		p.SessionMaxTTL = LocalSessionMaxTTL
	} else {
		p.SessionTTL = RemoteSessionTTL
		p.SessionMaxTTL = RemoteSessionMax
	}
	if cfg.Sessions.TTL > 0 {
		p.SessionTTL = cfg.Sessions.TTL
	}

	for _, o := range cfg.CORS.AllowedOrigins {
		p.origins[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	if o := originOf(p.PublicBaseURL); o != "" {
		p.origins[o] = struct{}{}
	}
	return p
}

// OriginAllowed reports whether a browser Origin may call mutating routes.
// The origin must be configured explicitly or match PublicBaseURL. A missing
// origin is never allowed.
func (p *SecurityPolicy) OriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := p.origins[strings.ToLower(origin)]
	return ok
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// ClientAddr returns the client address used for abuse throttling. When the
// peer is a trusted proxy, X-Forwarded-For is walked from the right and the
// first untrusted hop is the client.
func (p *SecurityPolicy) ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !p.trusted(peer) {
		return host
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !p.trusted(hop) {
			return hop.Unmap().String()
		}
		peer = hop
	}
	return peer.Unmap().String()
}

func (p *SecurityPolicy) trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
