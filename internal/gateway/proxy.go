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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tombee/workbench/internal/auth"
	"github.com/tombee/workbench/internal/config"
	"github.com/tombee/workbench/internal/firewall"
	"github.com/tombee/workbench/internal/log"
	"github.com/tombee/workbench/internal/safeurl"
	"github.com/tombee/workbench/internal/session"
	"github.com/tombee/workbench/internal/upstream"
)

// Operation roles.
const (
	RoleGraphQLQuery    = "workbench:graphql:query"
	RoleGraphQLMutation = "workbench:graphql:mutation"
	RoleRESTRead        = "workbench:rest:read"
	RoleRESTWrite       = "workbench:rest:write"
)

type graphQLRequest struct {
	SessionID     string          `json:"sessionId"`
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables,omitempty"`
	OperationName *string         `json:"operationName,omitempty"`
}

// graphQLUpstreamBody is what the provider receives. The session id stays
// behind.
type graphQLUpstreamBody struct {
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables,omitempty"`
	OperationName string          `json:"operationName,omitempty"`
}

type restRequest struct {
	SessionID string          `json:"sessionId"`
	Method    string          `json:"method"`
	Path      string          `json:"path"`
	Query     map[string]any  `json:"query,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
}

func (g *Gateway) handleProxyGraphQL(w http.ResponseWriter, r *http.Request) error {
	p, err := g.begin(r)
	if err != nil {
		return err
	}

	var req graphQLRequest
	if err := decodeBody(w, r, g.Policy.MaxProxyBodyBytes, proxyGraphQLSchema, &req); err != nil {
		return err
	}

	s, err := g.lookupSession(r, req.SessionID, p, session.KindGraphQL)
	if err != nil {
		return err
	}

	operationName := ""
	if req.OperationName != nil {
		operationName = *req.OperationName
	}
	verdict := firewall.Analyze(req.Query, operationName, g.Policy.IntrospectionAllowed, g.Policy.FirewallLimits)
	if !verdict.OK {
		log.WithInitiator(g.logger, p.InitiatorID, s.Provider).
			InfoContext(r.Context(), "graphql query rejected", log.Reason(verdict.Reason))
		return newAPIError(http.StatusBadRequest, CodeQueryRejected, verdict.Reason)
	}

	switch verdict.OperationType {
	case firewall.OperationMutation:
		if !p.HasRole(RoleGraphQLMutation) {
			return forbidden(ReasonMissingGraphQLMutationRole)
		}
	default:
		if !p.HasRole(RoleGraphQLQuery) {
			return forbidden(ReasonMissingGraphQLQueryRole)
		}
	}

	prov, err := g.provider(s.Provider)
	if err != nil {
		return err
	}
	if prov.GraphQLURL == "" {
		return newAPIError(http.StatusBadRequest, CodeInvalidSessionKind, "")
	}

	payload, err := json.Marshal(graphQLUpstreamBody{
		Query:         req.Query,
		Variables:     nullToEmpty(req.Variables),
		OperationName: operationName,
	})
	if err != nil {
		return err
	}

	var resp *upstream.Response
	err = g.Slots.Do(p.InitiatorID, func() error {
		header, err := g.upstreamHeader(r.Context(), s.Provider, p, prov)
		if err != nil {
			return err
		}
		header.Set("Content-Type", "application/json")
		header.Set("Accept", "application/json")

		resp, err = g.Upstream.Do(r.Context(), &upstream.Request{
			Provider: s.Provider,
			Kind:     upstream.KindGraphQL,
			Method:   http.MethodPost,
			URL:      prov.GraphQLURL,
			Header:   header,
			Body:     payload,
		})
		return err
	})
	if err != nil {
		return err
	}

	g.forgetRejectedToken(resp, s.Provider, p)

	out, err := upstream.DecodeGraphQL(s.Provider, resp)
	if err != nil {
		return err
	}
	writeJSON(w, resp.Status, out)
	return nil
}

func (g *Gateway) handleProxyREST(w http.ResponseWriter, r *http.Request) error {
	p, err := g.begin(r)
	if err != nil {
		return err
	}

	var req restRequest
	if err := decodeBody(w, r, g.Policy.MaxProxyBodyBytes, proxyRESTSchema, &req); err != nil {
		return err
	}

	readOnly := req.Method == http.MethodGet || req.Method == http.MethodHead
	if readOnly && !p.HasRole(RoleRESTRead) {
		return forbidden(ReasonMissingRESTReadRole)
	}
	if !readOnly && !p.HasRole(RoleRESTWrite) {
		return forbidden(ReasonMissingRESTWriteRole)
	}
	if readOnly && len(nullToEmpty(req.Body)) > 0 {
		return invalidInput("body: not allowed for " + req.Method)
	}

	s, err := g.lookupSession(r, req.SessionID, p, session.KindOpenAPI)
	if err != nil {
		return err
	}

	prov, err := g.provider(s.Provider)
	if err != nil {
		return err
	}

	query, err := queryValues(req.Query)
	if err != nil {
		return invalidInput("query: " + err.Error())
	}
	built := safeurl.Build(prov.RESTBaseURL, req.Path, query)
	if built.OK && !safeurl.PathAllowed(prov.AllowedPaths, req.Path) {
		built = safeurl.Result{Reason: safeurl.ReasonPathNotAllowed}
	}
	if !built.OK {
		log.WithInitiator(g.logger, p.InitiatorID, s.Provider).
			InfoContext(r.Context(), "rest request rejected", log.Reason(built.Reason))
		return newAPIError(http.StatusBadRequest, CodeRequestRejected, built.Reason)
	}

	body := nullToEmpty(req.Body)

	var resp *upstream.Response
	err = g.Slots.Do(p.InitiatorID, func() error {
		header, err := g.upstreamHeader(r.Context(), s.Provider, p, prov)
		if err != nil {
			return err
		}
		if len(body) > 0 {
			header.Set("Content-Type", "application/json")
		}
		if header.Get("Accept") == "" {
			header.Set("Accept", "application/json")
		}

		resp, err = g.Upstream.Do(r.Context(), &upstream.Request{
			Provider: s.Provider,
			Kind:     upstream.KindREST,
			Method:   req.Method,
			URL:      built.URL,
			Header:   header,
			Body:     body,
		})
		return err
	})
	if err != nil {
		return err
	}

	g.forgetRejectedToken(resp, s.Provider, p)

	writeJSON(w, http.StatusOK, upstream.NewRESTResponse(resp))
	return nil
}

// upstreamHeader resolves the initiator's token and builds the provider
// headers. The token is only ever placed in Authorization.
func (g *Gateway) upstreamHeader(ctx context.Context, provider string, p *auth.Principal, prov config.ProviderConfig) (http.Header, error) {
	token, err := g.Secrets.ResolveToken(ctx, provider, p.InitiatorID)
	if err != nil {
		return nil, err
	}

	header := make(http.Header, len(prov.Headers)+3)
	for k, v := range prov.Headers {
		header.Set(k, v)
	}
	scheme := prov.AuthScheme
	if scheme == "" {
		scheme = "Bearer"
	}
	header.Set("Authorization", scheme+" "+token)
	return header, nil
}

// forgetRejectedToken drops a cached token the provider refused so the next
// call reads the rotated value from the backend.
func (g *Gateway) forgetRejectedToken(resp *upstream.Response, provider string, p *auth.Principal) {
	if resp.Status == http.StatusUnauthorized {
		g.Secrets.Forget(provider, p.InitiatorID)
	}
}

// queryValues converts JSON query parameters. Arrays repeat the key.
func queryValues(in map[string]any) (url.Values, error) {
	out := make(url.Values, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case []any:
			for _, item := range val {
				s, err := scalarString(item)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", k, err)
				}
				out.Add(k, s)
			}
		default:
			s, err := scalarString(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out.Add(k, s)
		}
	}
	return out, nil
}

func scalarString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("unsupported value %T", v)
	}
}

// nullToEmpty treats an explicit JSON null like an absent field.
func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if string(raw) == "null" {
		return nil
	}
	return raw
}
