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
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const (
	DefaultCookieName = "workbench_session"
	DefaultCookieTTL  = 8 * time.Hour

	// MinCookieSecretLength is the shortest accepted cookie secret.
	MinCookieSecretLength = 32
)

// ErrCookieNotConfigured is returned when no cookie secret is configured.
var ErrCookieNotConfigured = errors.New("session cookie secret not configured")

// CookieConfig configures the signed session cookie.
type CookieConfig struct {
	Secret      string
	Name        string
	TTL         time.Duration
	Environment string

	// Secure marks the cookie HTTPS-only.
	Secure bool
}

type cookiePayload struct {
	Sub   string   `json:"sub"`
	Roles []string `json:"roles"`
	Env   string   `json:"env"`
	Exp   int64    `json:"exp"`
}

// CookieIssuer mints and verifies the session cookie. Its hash and block keys
// are derived from one secret with HKDF-SHA256.
type CookieIssuer struct {
	codec *securecookie.SecureCookie
	cfg   CookieConfig
	now   func() time.Time
}

// NewCookieIssuer returns ErrCookieNotConfigured when cfg.Secret is empty.
func NewCookieIssuer(cfg CookieConfig) (*CookieIssuer, error) {
	if cfg.Secret == "" {
		return nil, ErrCookieNotConfigured
	}
	if len(cfg.Secret) < MinCookieSecretLength {
		return nil, fmt.Errorf("cookie secret must be at least %d bytes", MinCookieSecretLength)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCookieTTL
	}

	hashKey, err := deriveKey(cfg.Secret, "workbench cookie hash", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(cfg.Secret, "workbench cookie block", 32)
	if err != nil {
		return nil, err
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.TTL.Seconds()))

	return &CookieIssuer{codec: codec, cfg: cfg, now: time.Now}, nil
}

func deriveKey(secret, info string, n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}
	return key, nil
}

// Name returns the cookie name.
func (c *CookieIssuer) Name() string {
	return c.cfg.Name
}

// Issue writes a cookie for p and returns its expiry.
func (c *CookieIssuer) Issue(w http.ResponseWriter, p *Principal) (time.Time, error) {
	expires := c.now().Add(c.cfg.TTL)
	value, err := c.codec.Encode(c.cfg.Name, cookiePayload{
		Sub:   p.InitiatorID,
		Roles: p.RoleList(),
		Env:   c.cfg.Environment,
		Exp:   expires.Unix(),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("encode session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(c.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	return expires, nil
}

// Clear expires the cookie in the browser.
func (c *CookieIssuer) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Strategy returns a Strategy that resolves principals from the cookie.
func (c *CookieIssuer) Strategy() Strategy {
	return cookieStrategy{issuer: c}
}

func (c *CookieIssuer) decode(value string) (*Principal, error) {
	var payload cookiePayload
	if err := c.codec.Decode(c.cfg.Name, value, &payload); err != nil {
		return nil, fmt.Errorf("decode session cookie: %w", err)
	}
	if payload.Env != c.cfg.Environment {
		return nil, fmt.Errorf("session cookie issued for environment %q", payload.Env)
	}
	if c.now().Unix() >= payload.Exp {
		return nil, errors.New("session cookie expired")
	}
	if payload.Sub == "" {
		return nil, errors.New("session cookie has no subject")
	}
	return NewPrincipal(payload.Sub, payload.Roles, c.cfg.Environment), nil
}

type cookieStrategy struct {
	issuer *CookieIssuer
}

func (s cookieStrategy) Name() string { return "cookie" }

func (s cookieStrategy) TryResolve(r *http.Request) (*Principal, error) {
	ck, err := r.Cookie(s.issuer.cfg.Name)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && ck.Value == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.issuer.decode(ck.Value)
}
