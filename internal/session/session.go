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

// Package session issues and validates the short-lived sessions that bind an
// initiator to one provider, surface kind and mode.
package session

import (
	"errors"
	"time"
)

// Kind is the UI surface a session serves.
type Kind string

const (
	KindGraphQL Kind = "graphql"
	KindOpenAPI Kind = "openapi"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindGraphQL || k == KindOpenAPI
}

// Mode is how the session will be used.
type Mode string

const (
	ModeProxy  Mode = "proxy"
	ModeLaunch Mode = "launch"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeProxy || m == ModeLaunch
}

// Role names checked on creation.
const (
	RoleLaunch         = "workbench:launch"
	providerRolePrefix = "provider:"
)

// ProviderRole returns the role that grants access to provider.
func ProviderRole(provider string) string {
	return providerRolePrefix + provider
}

var (
	ErrNotFound            = errors.New("session not found")
	ErrExpired             = errors.New("session expired")
	ErrForbidden           = errors.New("session belongs to another initiator")
	ErrMissingProviderRole = errors.New("missing provider role")
	ErrMissingLaunchRole   = errors.New("missing launch role")
	ErrInvalidKind         = errors.New("invalid session kind")
	ErrInvalidMode         = errors.New("invalid session mode")
)

// Principal is the caller a session is created for or validated against.
type Principal interface {
	Initiator() string
	HasRole(role string) bool
}

// Session binds an initiator to a provider for a bounded time.
type Session struct {
	ID          string `json:"id"`
	InitiatorID string `json:"initiatorId"`
	Provider    string `json:"provider"`
	Kind        Kind   `json:"kind"`
	Mode        Mode   `json:"mode"`
	CreatedAtMs int64  `json:"createdAtMs"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// ExpiresAt returns the expiry as a time.
func (s *Session) ExpiresAt() time.Time {
	return time.UnixMilli(s.ExpiresAtMs).UTC()
}

// ExpiredAt reports whether the session is unusable at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.UnixMilli() >= s.ExpiresAtMs
}

// Created is returned to the caller that created a session.
type Created struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	LaunchURL string    `json:"launchUrl,omitempty"`

	Session *Session `json:"-"`
}
