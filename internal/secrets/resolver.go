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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tombee/workbench/internal/log"
)

// DevTokenEnvPrefix prefixes the per-provider development token variables.
const DevTokenEnvPrefix = "WORKBENCH_DEV_TOKEN_"

// Hook short-circuits resolution. Returning ok=false falls through to the
// next source.
type Hook func(ctx context.Context, provider, initiator string) (token string, ok bool, err error)

// Config configures a Resolver.
type Config struct {
	// Backend is the secret store. Nil means none is configured.
	Backend Backend

	// Hook is consulted first unless Production is set.
	Hook Hook

	// DevOverrides enables WORKBENCH_DEV_TOKEN_<PROVIDER>. The caller sets it
	// only when dev auth is enabled in the local environment.
	DevOverrides bool

	// Production disables Hook.
	Production bool

	// CacheTTL caches backend results per key. Zero disables caching.
	CacheTTL time.Duration
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Resolver resolves provider tokens for initiators.
type Resolver struct {
	cfg       Config
	logger    *slog.Logger
	lookupEnv func(string) (string, bool)
	now       func() time.Time

	mu    sync.Mutex
	cache map[Key]cachedToken
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = log.Discard()
	}
	return &Resolver{
		cfg:       cfg,
		logger:    log.WithComponent(logger, "secrets"),
		lookupEnv: os.LookupEnv,
		now:       time.Now,
		cache:     make(map[Key]cachedToken),
	}
}

// ResolveToken returns the token initiator uses for provider.
func (r *Resolver) ResolveToken(ctx context.Context, provider, initiator string) (string, error) {
	if r.cfg.Hook != nil && !r.cfg.Production {
		token, ok, err := r.cfg.Hook(ctx, provider, initiator)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
	}

	if r.cfg.DevOverrides {
		if token, ok := r.lookupEnv(DevTokenEnv(provider)); ok && token != "" {
			r.logger.Debug("using development token override", slog.String(log.ProviderKey, provider))
			return token, nil
		}
	}

	if r.cfg.Backend == nil {
		return "", ErrNotConfigured
	}

	key := Key{Provider: provider, Initiator: initiator, Scope: ScopeUser}
	if err := key.Validate(); err != nil {
		return "", err
	}

	if token, ok := r.cached(key); ok {
		log.Trace(ctx, r.logger, "token cache hit", slog.String(log.ProviderKey, provider))
		return token, nil
	}

	token, err := r.cfg.Backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
		return "", fmt.Errorf("%s backend: %w", r.cfg.Backend.Name(), err)
	}
	r.store(key, token)
	return token, nil
}

// Forget drops any cached token for (provider, initiator).
func (r *Resolver) Forget(provider, initiator string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, Key{Provider: provider, Initiator: initiator, Scope: ScopeUser})
}

func (r *Resolver) cached(key Key) (string, bool) {
	if r.cfg.CacheTTL <= 0 {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cache[key]
	if !ok {
		return "", false
	}
	if !r.now().Before(c.expiresAt) {
		delete(r.cache, key)
		return "", false
	}
	return c.value, true
}

func (r *Resolver) store(key Key, token string) {
	if r.cfg.CacheTTL <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cachedToken{value: token, expiresAt: r.now().Add(r.cfg.CacheTTL)}
}

// DevTokenEnv returns the override variable name for provider, e.g.
// WORKBENCH_DEV_TOKEN_GITHUB.
func DevTokenEnv(provider string) string {
	var b strings.Builder
	b.WriteString(DevTokenEnvPrefix)
	for _, r := range strings.ToUpper(provider) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
