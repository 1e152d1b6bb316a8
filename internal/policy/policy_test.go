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

package policy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/workbench/internal/config"
	"github.com/tombee/workbench/internal/firewall"
)

func TestFromConfig_Environments(t *testing.T) {
	tests := []struct {
		env           string
		introspection bool
		limits        firewall.Limits
		ttl           time.Duration
		maxTTL        time.Duration
		secure        bool
	}{
		{config.EnvLocal, true, firewall.DevelopmentLimits(), 60 * time.Minute, 365 * 24 * time.Hour, false},
		{config.EnvDev, true, firewall.DevelopmentLimits(), 10 * time.Minute, 24 * time.Hour, true},
		{"staging", false, firewall.ProductionLimits(), 10 * time.Minute, 24 * time.Hour, true},
		{config.EnvProduction, false, firewall.ProductionLimits(), 10 * time.Minute, 24 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := config.Default()
			cfg.Environment = tt.env

			p := FromConfig(cfg)
			assert.Equal(t, tt.introspection, p.IntrospectionAllowed)
			assert.Equal(t, tt.limits, p.FirewallLimits)
			assert.Equal(t, tt.ttl, p.SessionTTL)
			assert.Equal(t, tt.maxTTL, p.SessionMaxTTL)
			assert.Equal(t, tt.secure, p.SecureCookies)
			assert.Equal(t, tt.env == config.EnvProduction, p.Production)
		})
	}
}

func TestFromConfig_DevAuthOnlyLocal(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.DevAuth = true
	assert.True(t, FromConfig(cfg).DevAuth)
	assert.True(t, FromConfig(cfg).DevTokenOverrides)

	cfg.Environment = config.EnvDev
	p := FromConfig(cfg)
	assert.False(t, p.DevAuth)
	assert.False(t, p.DevTokenOverrides)
}

func TestFromConfig_SessionTTLOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.EnvProduction
	cfg.Sessions.TTL = 30 * time.Minute

	assert.Equal(t, 30*time.Minute, FromConfig(cfg).SessionTTL)
}

func TestOriginAllowed(t *testing.T) {
	cfg := config.Default()
	cfg.CORS.AllowedOrigins = []string{"https://UI.example.com/"}
	cfg.PublicBaseURL = "https://workbench.example.com/base/"
	p := FromConfig(cfg)

	assert.False(t, p.OriginAllowed(""))
	assert.True(t, p.OriginAllowed("https://ui.example.com"))
	assert.True(t, p.OriginAllowed("https://workbench.example.com"))
	assert.False(t, p.OriginAllowed("https://evil.example.com"))
	assert.False(t, p.OriginAllowed("null"))
	assert.Equal(t, "https://workbench.example.com/base", p.PublicBaseURL)
}

func TestClientAddr(t *testing.T) {
	cfg := config.Default()
	cfg.Listen.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.7"}
	p := FromConfig(cfg)
	require.Len(t, p.TrustedProxies, 2)

	tests := []struct {
		name   string
		remote string
		xff    []string
		want   string
	}{
		{"direct client", "203.0.113.5:4000", nil, "203.0.113.5"},
		{"untrusted peer ignores header", "203.0.113.5:4000", []string{"198.51.100.1"}, "203.0.113.5"},
		{"trusted peer", "10.1.2.3:4000", []string{"198.51.100.1"}, "198.51.100.1"},
		{"spoofed left hops are skipped", "10.1.2.3:4000", []string{"1.1.1.1, 198.51.100.1"}, "198.51.100.1"},
		{"proxy chain", "192.0.2.7:4000", []string{"198.51.100.1, 10.9.9.9"}, "198.51.100.1"},
		{"split headers", "10.1.2.3:4000", []string{"1.1.1.1", "198.51.100.2"}, "198.51.100.2"},
		{"trusted peer without header", "10.1.2.3:4000", nil, "10.1.2.3"},
		{"garbage hop stops the walk", "10.1.2.3:4000", []string{"198.51.100.1, junk"}, "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, p.ClientAddr(r))
		})
	}
}

func TestClientAddr_NoTrustedProxies(t *testing.T) {
	p := FromConfig(config.Default())
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:4000"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, "10.1.2.3", p.ClientAddr(r))
}
