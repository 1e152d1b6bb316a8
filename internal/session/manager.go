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

package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/tombee/workbench/internal/log"
)

const (
	idBytes = 32

	// MinTTL is the shortest session lifetime.
	MinTTL = time.Minute

	DefaultSweepInterval = time.Minute
)

// Config controls session lifetime and launch links.
type Config struct {
	// TTL is the requested lifetime; clamped to [MinTTL, MaxTTL].
	TTL time.Duration

	// MaxTTL is the upper bound for TTL in this environment.
	MaxTTL time.Duration

	// PublicBaseURL enables launch URLs when set.
	PublicBaseURL string

	// SweepInterval is how often Run purges expired sessions.
	SweepInterval time.Duration
}

// Manager creates and validates sessions against a Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager. A nil logger discards output.
func NewManager(store Store, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Manager{
		store:  store,
		ttl:    ClampTTL(cfg.TTL, cfg.MaxTTL),
		cfg:    cfg,
		logger: log.WithComponent(logger, "session"),
		now:    time.Now,
	}
}

// ClampTTL bounds ttl to [MinTTL, ceiling]. A non-positive ceiling leaves the upper
// bound open.
func ClampTTL(ttl, ceiling time.Duration) time.Duration {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	if ceiling > 0 && ttl > ceiling {
		ttl = ceiling
	}
	return ttl
}

// TTL returns the effective session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create issues a session for p.
func (m *Manager) Create(ctx context.Context, p Principal, provider string, kind Kind, mode Mode) (*Created, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}
	if !p.HasRole(ProviderRole(provider)) {
		return nil, ErrMissingProviderRole
	}
	if mode == ModeLaunch && !p.HasRole(RoleLaunch) {
		return nil, ErrMissingLaunchRole
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &Session{
		ID:          id,
		InitiatorID: p.Initiator(),
		Provider:    provider,
		Kind:        kind,
		Mode:        mode,
		CreatedAtMs: now.UnixMilli(),
		ExpiresAtMs: now.UnixMilli() + m.ttl.Milliseconds(),
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	m.logger.Debug("session created",
		slog.String(log.InitiatorKey, s.InitiatorID),
		slog.String(log.ProviderKey, provider),
		log.Session(id),
		slog.String("kind", string(kind)),
		slog.String("mode", string(mode)),
	)

	created := &Created{
		SessionID: id,
		ExpiresAt: s.ExpiresAt(),
		Session:   s,
	}
	if mode == ModeLaunch && m.cfg.PublicBaseURL != "" {
		created.LaunchURL = launchURL(m.cfg.PublicBaseURL, kind, id)
	}
	return created, nil
}

// Validate returns the session if p owns it and it has not expired.
// Ownership is checked first so a foreign session never reveals whether it
// has expired.
func (m *Manager) Validate(ctx context.Context, id string, p Principal) (*Session, error) {
	s, err := m.owned(ctx, id, p)
	if err != nil {
		return nil, err
	}
	if s.ExpiredAt(m.now()) {
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to delete expired session", log.Session(id), log.Error(err))
		}
		return nil, ErrExpired
	}
	return s, nil
}

// Revoke deletes a session owned by p, expired or not.
func (m *Manager) Revoke(ctx context.Context, id string, p Principal) error {
	if _, err := m.owned(ctx, id, p); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.logger.Debug("session revoked", slog.String(log.InitiatorKey, p.Initiator()), log.Session(id))
	return nil
}

func (m *Manager) owned(ctx context.Context, id string, p Principal) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.InitiatorID != p.Initiator() {
		return nil, ErrForbidden
	}
	return s, nil
}

// Count returns the number of stored sessions, expired or not.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// Sweep deletes every expired session and returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now().UnixMilli())
}

// Run sweeps expired sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					m.logger.Warn("session sweep failed", log.Error(err))
				}
				continue
			}
			if n > 0 {
				m.logger.Debug("expired sessions swept", slog.Int("count", n))
			}
		}
	}
}

func newID() (string, error) {
	b := securecookie.GenerateRandomKey(idBytes)
	if b == nil {
		return "", errors.New("generate session id: entropy source unavailable")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// launchURL keeps the id in the fragment so it never reaches server logs or
// Referer headers.
func launchURL(base string, kind Kind, id string) string {
	return strings.TrimRight(base, "/") + "/workbench/launch/" + string(kind) + "#sessionId=" + id
}
