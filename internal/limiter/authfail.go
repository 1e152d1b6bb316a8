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

package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthFailureConfig configures the failed-authentication throttle.
type AuthFailureConfig struct {
	// PerMinute is the sustained number of failures tolerated per address.
	PerMinute int

	// Burst is how many failures an address may accumulate before blocking.
	Burst int

	// IdleTTL is how long an address is remembered after its last failure.
	IdleTTL time.Duration
}

type failureEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AuthFailures throttles client addresses that keep failing authentication.
type AuthFailures struct {
	mu      sync.Mutex
	entries map[string]*failureEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

// NewAuthFailures creates a throttle. Zero fields fall back to 30 per minute,
// burst 30 and a 10 minute idle TTL.
func NewAuthFailures(cfg AuthFailureConfig) *AuthFailures {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 30
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &AuthFailures{
		entries: make(map[string]*failureEntry),
		limit:   rate.Every(time.Minute / time.Duration(cfg.PerMinute)),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
	}
}

// Record charges one failed authentication to addr and reports whether addr
// is still within its failure budget.
func (a *AuthFailures) Record(addr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	e, ok := a.entries[addr]
	if !ok {
		e = &failureEntry{limiter: rate.NewLimiter(a.limit, a.burst)}
		a.entries[addr] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Prune forgets addresses idle for longer than the configured TTL.
func (a *AuthFailures) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	removed := 0
	for addr, e := range a.entries {
		if now.Sub(e.lastSeen) > a.idleTTL {
			delete(a.entries, addr)
			removed++
		}
	}
	return removed
}
