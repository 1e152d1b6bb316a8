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

// Package gateway is the HTTP dispatcher. It runs every browser request
// through authentication, abuse controls, origin and input validation, role
// and session checks before anything is sent to a provider.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/workbench/internal/auth"
	"github.com/tombee/workbench/internal/catalog"
	"github.com/tombee/workbench/internal/config"
	"github.com/tombee/workbench/internal/limiter"
	"github.com/tombee/workbench/internal/log"
	"github.com/tombee/workbench/internal/metrics"
	"github.com/tombee/workbench/internal/policy"
	"github.com/tombee/workbench/internal/secrets"
	"github.com/tombee/workbench/internal/session"
	"github.com/tombee/workbench/internal/tracing"
	"github.com/tombee/workbench/internal/upstream"
)

// Options are the gateway's collaborators. Cookies and OIDC may be nil when
// not configured; everything else is required.
type Options struct {
	Policy    *policy.SecurityPolicy
	Providers map[string]config.ProviderConfig

	Auth    *auth.Chain
	Cookies *auth.CookieIssuer
	OIDC    *auth.OIDCVerifier

	Sessions     *session.Manager
	Secrets      *secrets.Resolver
	Upstream     *upstream.Client
	Catalog      *catalog.Catalog
	Window       *limiter.Window
	Slots        *limiter.Slots
	AuthFailures *limiter.AuthFailures

	CORS CORSConfig

	// MetricsPath mounts the Prometheus handler when set.
	MetricsPath string

	Logger *slog.Logger
}

// Gateway serves the workbench HTTP surface.
type Gateway struct {
	Options
	logger *slog.Logger
}

// New validates opts and creates a Gateway.
func New(opts Options) (*Gateway, error) {
	switch {
	case opts.Policy == nil:
		return nil, errors.New("gateway: policy is required")
	case opts.Auth == nil:
		return nil, errors.New("gateway: auth chain is required")
	case opts.Sessions == nil:
		return nil, errors.New("gateway: session manager is required")
	case opts.Secrets == nil:
		return nil, errors.New("gateway: secret resolver is required")
	case opts.Upstream == nil:
		return nil, errors.New("gateway: upstream client is required")
	case opts.Catalog == nil:
		return nil, errors.New("gateway: catalog is required")
	case opts.Window == nil, opts.Slots == nil, opts.AuthFailures == nil:
		return nil, errors.New("gateway: limiters are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.CORS.AllowedMethods == nil {
		opts.CORS = DefaultCORSConfig()
	}
	return &Gateway{
		Options: opts,
		logger:  log.WithComponent(opts.Logger, "gateway"),
	}, nil
}

// RegisterRoutes registers the gateway routes on mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /workbench/health", g.route("health", g.handleHealth))

	mux.Handle("POST /workbench/auth/session", g.route("auth_session_create", g.handleAuthSessionCreate))
	mux.Handle("DELETE /workbench/auth/session", g.route("auth_session_delete", g.handleAuthSessionDelete))

	mux.Handle("POST /workbench/sessions", g.route("session_create", g.handleSessionCreate))
	mux.Handle("DELETE /workbench/sessions/{id}", g.route("session_delete", g.handleSessionDelete))

	mux.Handle("POST /workbench/proxy/graphql", g.route("proxy_graphql", g.handleProxyGraphQL))
	mux.Handle("POST /workbench/proxy/rest", g.route("proxy_rest", g.handleProxyREST))

	mux.Handle("GET /workbench/launch/{kind}", g.route("launch", g.handleLaunch))
	mux.Handle("GET /workbench/schema/{provider}", g.route("schema", g.handleSchema))
	mux.Handle("GET /workbench/openapi/{provider}", g.route("openapi", g.handleOpenAPI))
	mux.Handle("GET /assets/{path...}", g.route("assets", g.handleAsset))

	if g.MetricsPath != "" {
		mux.Handle("GET "+g.MetricsPath, metrics.Handler())
	}

	mux.Handle("/", g.route("not_found", func(w http.ResponseWriter, r *http.Request) error {
		return unmatched(mux, r)
	}))
}

// Handler returns the complete middleware chain around the routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.RegisterRoutes(mux)

	var h http.Handler = mux
	h = cors(g.Policy, g.CORS, g.logger)(h)
	h = securityHeaders(h)
	h = recoverer(g.logger)(h)
	h = log.RequestLogger(g.logger, tracing.IDFromContext)(h)
	h = tracing.Middleware(h)
	h = tracing.CorrelationMiddleware(h)
	return h
}

// Run sweeps expired sessions and idle limiter state until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	go g.Sessions.Run(ctx)

	ticker := time.NewTicker(limiter.WindowLength)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			windows := g.Window.Prune()
			addrs := g.AuthFailures.Prune()
			if windows+addrs > 0 {
				g.logger.Debug("limiter state pruned",
					slog.Int("initiators", windows),
					slog.Int("addresses", addrs))
			}
		}
	}
}

// authenticate resolves the principal. Only a presented and rejected
// credential is charged to the client address, and a verified credential is
// never refused by that throttle.
func (g *Gateway) authenticate(r *http.Request) (*auth.Principal, error) {
	p, err := g.Auth.Resolve(r)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			return nil, g.authFailed(r, err)
		}
		return nil, err
	}
	return p, nil
}

// authFailed charges a rejected credential to the client address. Addresses
// over budget get RATE_LIMITED instead of UNAUTHENTICATED.
func (g *Gateway) authFailed(r *http.Request, err error) error {
	metrics.RecordAuthFailure()
	if !g.AuthFailures.Record(g.Policy.ClientAddr(r)) {
		return rateLimited(limiter.WindowLength)
	}
	return err
}

// admit applies the per-initiator rate window.
func (g *Gateway) admit(p *auth.Principal) error {
	if !g.Window.Admit(p.InitiatorID) {
		return rateLimited(g.Window.RetryAfter(p.InitiatorID))
	}
	return nil
}

// checkOrigin requires a configured browser origin.
func (g *Gateway) checkOrigin(r *http.Request) error {
	if !g.Policy.OriginAllowed(r.Header.Get("Origin")) {
		return forbidden(ReasonOriginNotAllowed)
	}
	return nil
}

// begin runs the shared front of the mutating pipeline: authenticate, rate
// limit, origin check.
func (g *Gateway) begin(r *http.Request) (*auth.Principal, error) {
	p, err := g.authenticate(r)
	if err != nil {
		return nil, err
	}
	if err := g.admit(p); err != nil {
		return nil, err
	}
	if err := g.checkOrigin(r); err != nil {
		return nil, err
	}
	return p, nil
}

func (g *Gateway) provider(name string) (config.ProviderConfig, error) {
	p, ok := g.Providers[name]
	if !ok {
		return config.ProviderConfig{}, newAPIError(http.StatusBadRequest, CodeUnknownProvider, "")
	}
	return p, nil
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return nil
}

// unmatched distinguishes a wrong method on a known path from an unknown
// path.
func unmatched(mux *http.ServeMux, r *http.Request) error {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		if method == r.Method {
			continue
		}
		alt := r.Clone(r.Context())
		alt.Method = method
		if _, pattern := mux.Handler(alt); pattern != "" && pattern != "/" {
			return newAPIError(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "")
		}
	}
	return notFound()
}
