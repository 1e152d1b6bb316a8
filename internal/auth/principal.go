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

// Package auth resolves the Principal behind an inbound request. Strategies
// are tried in a fixed order and the first one that recognizes a credential
// wins.
package auth

import (
	"errors"
	"fmt"
	"sort"
)

// Environment names that change authentication behavior.
const (
	EnvLocal      = "local"
	EnvProduction = "production"
)

// ErrUnauthenticated is returned when no strategy produced a principal.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrInvalidCredential is returned when a credential was presented and every
// strategy that recognized it rejected it. It matches ErrUnauthenticated.
var ErrInvalidCredential = fmt.Errorf("%w: credential rejected", ErrUnauthenticated)

// Principal is the caller identity for one request. It is never persisted.
type Principal struct {
	InitiatorID string
	Roles       map[string]struct{}
	Environment string
}

// NewPrincipal builds a Principal from a role list. Empty roles are dropped.
func NewPrincipal(initiatorID string, roles []string, environment string) *Principal {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return &Principal{InitiatorID: initiatorID, Roles: set, Environment: environment}
}

// Initiator returns the initiator id.
func (p *Principal) Initiator() string {
	return p.InitiatorID
}

// HasRole reports an exact role match.
func (p *Principal) HasRole(role string) bool {
	_, ok := p.Roles[role]
	return ok
}

// RoleList returns the roles in sorted order.
func (p *Principal) RoleList() []string {
	out := make([]string, 0, len(p.Roles))
	for r := range p.Roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
