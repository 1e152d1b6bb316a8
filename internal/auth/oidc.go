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

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const (
	DefaultJWKSCacheTTL = 10 * time.Minute
	DefaultLeeway       = 30 * time.Second

	// DefaultUnknownKIDRefresh is the minimum interval between JWKS fetches
	// triggered by tokens naming a kid the cache does not hold.
	DefaultUnknownKIDRefresh = 30 * time.Second

	jwksFetchTimeout = 5 * time.Second
	maxJWKSBytes     = 1 << 20
)

// OIDCConfig configures bearer token verification.
type OIDCConfig struct {
	Issuer   string
	Audience string

	// JWKSURL is discovered from the issuer when empty.
	JWKSURL string

	// ClientID selects resource_access.<client>.roles.
	ClientID string

	Environment string
	Leeway      time.Duration
	CacheTTL    time.Duration
	Algorithms  []string
	HTTPClient  *http.Client

	// UnknownKIDRefresh bounds refreshes caused by unknown kids.
	UnknownKIDRefresh time.Duration
}

type oidcClaims struct {
	jwt.RegisteredClaims

	Roles       []string `json:"roles,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access,omitempty"`
}

// OIDCVerifier verifies identity-provider access tokens. It only verifies;
// it never issues tokens.
type OIDCVerifier struct {
	cfg  OIDCConfig
	jwks *jwksCache
}

// NewOIDCVerifier creates a verifier for cfg.Issuer.
func NewOIDCVerifier(cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = DefaultLeeway
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultJWKSCacheTTL
	}
	if cfg.UnknownKIDRefresh <= 0 {
		cfg.UnknownKIDRefresh = DefaultUnknownKIDRefresh
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{"RS256", "ES256", "PS256"}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: jwksFetchTimeout}
	}
	return &OIDCVerifier{
		cfg:  cfg,
		jwks: newJWKSCache(cfg.Issuer, cfg.JWKSURL, cfg.HTTPClient, cfg.CacheTTL, cfg.UnknownKIDRefresh),
	}, nil
}

// Verify checks signature, issuer, audience and validity window, and returns
// the principal the token describes.
func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(raw, &oidcClaims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid in token header")
		}
		return v.jwks.get(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("bearer token invalid: %w", err)
	}

	claims, ok := token.Claims.(*oidcClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid bearer token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("bearer token has no subject")
	}

	return NewPrincipal(claims.Subject, v.roles(claims), v.cfg.Environment), nil
}

func (v *OIDCVerifier) roles(c *oidcClaims) []string {
	roles := append([]string{}, c.Roles...)
	roles = append(roles, c.RealmAccess.Roles...)
	if v.cfg.ClientID != "" {
		if client, ok := c.ResourceAccess[v.cfg.ClientID]; ok {
			roles = append(roles, client.Roles...)
		}
	}
	return roles
}

// Strategy returns a Strategy that resolves principals from bearer tokens.
func (v *OIDCVerifier) Strategy() Strategy {
	return bearerStrategy{verifier: v}
}

type bearerStrategy struct {
	verifier *OIDCVerifier
}

func (s bearerStrategy) Name() string { return "oidc" }

func (s bearerStrategy) TryResolve(r *http.Request) (*Principal, error) {
	token, err := ExtractBearerToken(r)
	if errors.Is(err, ErrMissingBearer) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.verifier.Verify(r.Context(), token)
}

// ErrUnknownKID is returned for a kid the issuer's key set does not hold.
var ErrUnknownKID = errors.New("kid not found")

// jwksCache holds the issuer's signing keys, refreshing on TTL expiry or on
// an unknown kid. A stale key is served when a refresh fails. Refreshes for
// unknown kids are rate limited so forged tokens cannot drive fetches.
type jwksCache struct {
	issuer string
	url    string
	http   *http.Client
	ttl    time.Duration

	mu        sync.RWMutex
	keysByKID map[string]interface{}
	lastFetch time.Time

	// refreshMu collapses concurrent refreshes.
	refreshMu sync.Mutex

	unknownKID *rate.Limiter
}

func newJWKSCache(issuer, url string, client *http.Client, ttl, unknownKIDRefresh time.Duration) *jwksCache {
	return &jwksCache{
		issuer:     issuer,
		url:        url,
		http:       client,
		ttl:        ttl,
		keysByKID:  map[string]interface{}{},
		unknownKID: rate.NewLimiter(rate.Every(unknownKIDRefresh), 1),
	}
}

func (c *jwksCache) get(ctx context.Context, kid string) (interface{}, error) {
	c.mu.RLock()
	key, ok := c.keysByKID[kid]
	fetched := !c.lastFetch.IsZero()
	fresh := time.Since(c.lastFetch) < c.ttl
	c.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}
	if !ok && fetched && !c.unknownKID.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKID, kid)
	}

	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()
	if err := c.refresh(ctx); err != nil {
		if ok {
			return key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keysByKID[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKID, kid)
	}
	return key, nil
}

func (c *jwksCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	url, err := c.keysURL(ctx)
	if err != nil {
		return err
	}

	var set jose.JSONWebKeySet
	if err := c.fetchJSON(ctx, url, &set); err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}

	keys := map[string]interface{}{}
	for _, k := range set.Keys {
		if k.Key == nil || k.KeyID == "" || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		keys[k.KeyID] = k.Key
	}
	if len(keys) == 0 {
		return errors.New("jwks contained no usable keys")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.keysByKID = keys
	c.lastFetch = time.Now()
	return nil
}

func (c *jwksCache) keysURL(ctx context.Context) (string, error) {
	if c.url != "" {
		return c.url, nil
	}
	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	wellKnown := strings.TrimSuffix(c.issuer, "/") + "/.well-known/openid-configuration"
	if err := c.fetchJSON(ctx, wellKnown, &discovery); err != nil {
		return "", fmt.Errorf("oidc discovery: %w", err)
	}
	if discovery.JWKSURI == "" {
		return "", errors.New("oidc discovery document has no jwks_uri")
	}
	c.url = discovery.JWKSURI
	return c.url, nil
}

func (c *jwksCache) fetchJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.Unmarshal(body, v)
}
