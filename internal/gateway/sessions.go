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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/workbench/internal/auth"
	"github.com/tombee/workbench/internal/log"
	"github.com/tombee/workbench/internal/metrics"
	"github.com/tombee/workbench/internal/session"
)

type createSessionRequest struct {
	Provider string       `json:"provider"`
	Kind     session.Kind `json:"kind"`
	Mode     session.Mode `json:"mode"`
}

type authSessionResponse struct {
	Initiator string    `json:"initiator"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleAuthSessionCreate exchanges an OIDC bearer token for the signed
// session cookie. Other credential types are not accepted here.
func (g *Gateway) handleAuthSessionCreate(w http.ResponseWriter, r *http.Request) error {
	if g.Cookies == nil {
		return auth.ErrCookieNotConfigured
	}

	p, err := g.verifyBearer(r)
	if err != nil {
		g.logger.DebugContext(r.Context(), "bearer exchange rejected", log.Error(err))
		if errors.Is(err, auth.ErrMissingBearer) || errors.Is(err, auth.ErrUnauthenticated) {
			return auth.ErrUnauthenticated
		}
		return g.authFailed(r, auth.ErrInvalidCredential)
	}
	if err := g.admit(p); err != nil {
		return err
	}

	expires, err := g.Cookies.Issue(w, p)
	if err != nil {
		return err
	}
	g.logger.InfoContext(r.Context(), "session cookie issued", slog.String(log.InitiatorKey, p.InitiatorID))

	writeJSON(w, http.StatusOK, authSessionResponse{
		Initiator: p.InitiatorID,
		Roles:     p.RoleList(),
		ExpiresAt: expires.UTC(),
	})
	return nil
}

func (g *Gateway) verifyBearer(r *http.Request) (*auth.Principal, error) {
	if g.OIDC == nil {
		return nil, fmt.Errorf("%w: oidc not configured", auth.ErrUnauthenticated)
	}
	token, err := auth.ExtractBearerToken(r)
	if err != nil {
		return nil, err
	}
	return g.OIDC.Verify(r.Context(), token)
}

// handleAuthSessionDelete clears the session cookie. It needs no principal
// since it only removes the caller's own cookie.
func (g *Gateway) handleAuthSessionDelete(w http.ResponseWriter, r *http.Request) error {
	if g.Cookies == nil {
		return auth.ErrCookieNotConfigured
	}
	g.Cookies.Clear(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return nil
}

func (g *Gateway) handleSessionCreate(w http.ResponseWriter, r *http.Request) error {
	p, err := g.begin(r)
	if err != nil {
		return err
	}

	var req createSessionRequest
	if err := decodeBody(w, r, g.Policy.MaxBodyBytes, sessionCreateSchema, &req); err != nil {
		return err
	}

	if !p.HasRole(session.ProviderRole(req.Provider)) {
		return forbidden(ReasonMissingProviderRole)
	}
	if req.Mode == session.ModeLaunch && !p.HasRole(session.RoleLaunch) {
		return forbidden(ReasonMissingLaunchRole)
	}

	prov, err := g.provider(req.Provider)
	if err != nil {
		return err
	}
	if (req.Kind == session.KindGraphQL && prov.GraphQLURL == "") ||
		(req.Kind == session.KindOpenAPI && prov.RESTBaseURL == "") {
		return newAPIError(http.StatusBadRequest, CodeInvalidSessionKind, "")
	}

	created, err := g.Sessions.Create(r.Context(), p, req.Provider, req.Kind, req.Mode)
	if err != nil {
		return err
	}
	g.recordActiveSessions(r)

	g.logger.InfoContext(r.Context(), "session created",
		slog.String(log.InitiatorKey, p.InitiatorID),
		slog.String(log.ProviderKey, req.Provider),
		log.Session(created.SessionID),
		slog.String("kind", string(req.Kind)),
		slog.String("mode", string(req.Mode)),
	)

	writeJSON(w, http.StatusOK, created)
	return nil
}

func (g *Gateway) handleSessionDelete(w http.ResponseWriter, r *http.Request) error {
	p, err := g.begin(r)
	if err != nil {
		return err
	}
	if err := g.Sessions.Revoke(r.Context(), r.PathValue("id"), p); err != nil {
		return err
	}
	g.recordActiveSessions(r)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return nil
}

// lookupSession validates id for p and re-checks the provider role, which
// may have been revoked since the session was created.
func (g *Gateway) lookupSession(r *http.Request, id string, p *auth.Principal, kind session.Kind) (*session.Session, error) {
	s, err := g.Sessions.Validate(r.Context(), id, p)
	if err != nil {
		if errors.Is(err, session.ErrForbidden) {
			g.logger.WarnContext(r.Context(), "foreign session presented",
				slog.String(log.InitiatorKey, p.InitiatorID),
				log.Session(id),
			)
		}
		return nil, err
	}
	if s.Kind != kind {
		return nil, newAPIError(http.StatusBadRequest, CodeInvalidSessionKind, "")
	}
	if !p.HasRole(session.ProviderRole(s.Provider)) {
		return nil, forbidden(ReasonMissingProviderRole)
	}
	return s, nil
}

func (g *Gateway) recordActiveSessions(r *http.Request) {
	n, err := g.Sessions.Count(r.Context())
	if err != nil {
		g.logger.WarnContext(r.Context(), "failed to count sessions", log.Error(err))
		return
	}
	metrics.SetActiveSessions(n)
}
