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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/workbench/internal/auth"
	"github.com/tombee/workbench/internal/catalog"
	"github.com/tombee/workbench/internal/config"
	"github.com/tombee/workbench/internal/limiter"
	"github.com/tombee/workbench/internal/log"
	"github.com/tombee/workbench/internal/policy"
	"github.com/tombee/workbench/internal/secrets"
	"github.com/tombee/workbench/internal/session"
	"github.com/tombee/workbench/internal/upstream"
)

// Hooks let an embedding application supply identity and tokens ahead of
// the built-in strategies. Both may be nil.
type Hooks struct {
	Principal auth.Hook
	Secret    secrets.Hook
}

// NewFromConfig builds a Gateway and all of its collaborators from cfg. The
// returned cleanup closes the session store.
func NewFromConfig(ctx context.Context, cfg *config.Config, hooks Hooks, logger *slog.Logger) (*Gateway, func() error, error) {
	if logger == nil {
		logger = log.Discard()
	}
	pol := policy.FromConfig(cfg)

	var cookies *auth.CookieIssuer
	if cfg.Auth.Cookie.Secret != "" {
		c, err := auth.NewCookieIssuer(auth.CookieConfig{
			Secret:      cfg.Auth.Cookie.Secret,
			Name:        cfg.Auth.Cookie.Name,
			TTL:         cfg.Auth.Cookie.TTL,
			Environment: pol.Environment,
			Secure:      pol.SecureCookies,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("cookie issuer: %w", err)
		}
		cookies = c
	}

	var oidc *auth.OIDCVerifier
	if cfg.Auth.OIDC.Issuer != "" {
		v, err := auth.NewOIDCVerifier(auth.OIDCConfig{
			Issuer:      cfg.Auth.OIDC.Issuer,
			Audience:    cfg.Auth.OIDC.Audience,
			JWKSURL:     cfg.Auth.OIDC.JWKSURL,
			ClientID:    cfg.Auth.OIDC.ClientID,
			Environment: pol.Environment,
			Leeway:      cfg.Auth.OIDC.Leeway,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("oidc verifier: %w", err)
		}
		oidc = v
	}

	var strategies []auth.Strategy
	if hooks.Principal != nil {
		strategies = append(strategies, auth.NewHookStrategy(hooks.Principal, pol.Environment))
	}
	if cookies != nil {
		strategies = append(strategies, cookies.Strategy())
	}
	if oidc != nil {
		strategies = append(strategies, oidc.Strategy())
	}
	strategies = append(strategies, auth.NewDevStrategy(pol.DevAuth, pol.Environment))
	chain := auth.NewChain(logger, strategies...)

	var store session.Store
	var closeStore func() error = func() error { return nil }
	switch cfg.Sessions.Store {
	case "sqlite":
		s, err := session.NewSQLiteStore(session.SQLiteConfig{Path: cfg.Sessions.SQLitePath, WAL: true})
		if err != nil {
			return nil, nil, fmt.Errorf("session store: %w", err)
		}
		store, closeStore = s, s.Close
	default:
		store = session.NewMemoryStore()
	}

	cleanup := closeStore
	fail := func(err error) (*Gateway, func() error, error) {
		return nil, nil, errors.Join(err, cleanup())
	}

	var backend secrets.Backend
	if cfg.OpenBao.Address != "" {
		b, err := secrets.NewOpenBaoBackend(secrets.OpenBaoConfig{
			Address:   cfg.OpenBao.Address,
			Token:     cfg.OpenBao.Token,
			Namespace: cfg.OpenBao.Namespace,
			Mount:     cfg.OpenBao.Mount,
			Timeout:   10 * time.Second,
		})
		if err != nil {
			return fail(fmt.Errorf("openbao: %w", err))
		}
		backend = b
	}
	resolver := secrets.NewResolver(secrets.Config{
		Backend:      backend,
		Hook:         hooks.Secret,
		DevOverrides: pol.DevTokenOverrides,
		Production:   pol.Production,
		CacheTTL:     cfg.OpenBao.CacheTTL,
	}, logger)

	client, err := upstream.New(upstream.Config{
		Timeout:          pol.UpstreamTimeout,
		MaxResponseBytes: pol.MaxResponseBytes,
		UserAgent:        upstream.DefaultConfig().UserAgent,
		Logger:           logger,
	})
	if err != nil {
		return fail(fmt.Errorf("upstream client: %w", err))
	}

	cat, err := catalog.Load(ctx, cfg.Catalog.Dir)
	if err != nil {
		return fail(err)
	}

	var metricsPath string
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	g, err := New(Options{
		Policy:    pol,
		Providers: cfg.Providers,
		Auth:      chain,
		Cookies:   cookies,
		OIDC:      oidc,
		Sessions: session.NewManager(store, session.Config{
			TTL:           pol.SessionTTL,
			MaxTTL:        pol.SessionMaxTTL,
			PublicBaseURL: pol.PublicBaseURL,
			SweepInterval: cfg.Sessions.SweepInterval,
		}, logger),
		Secrets:  resolver,
		Upstream: client,
		Catalog:  cat,
		Window:   limiter.NewWindow(pol.RatePerMinute),
		Slots:    limiter.NewSlots(pol.MaxInFlight),
		AuthFailures: limiter.NewAuthFailures(limiter.AuthFailureConfig{
			PerMinute: pol.AuthFailuresPerMinute,
			Burst:     pol.AuthFailuresPerMinute,
			IdleTTL:   10 * time.Minute,
		}),
		MetricsPath: metricsPath,
		Logger:      logger,
	})
	if err != nil {
		return fail(err)
	}

	logger.Info("gateway configured",
		slog.String("environment", pol.Environment),
		slog.Any("auth_strategies", chain.Strategies()),
		slog.String("session_store", cfg.Sessions.Store),
		slog.Bool("openbao", backend != nil),
		slog.Any("providers", cat.Providers()),
	)
	return g, cleanup, nil
}
