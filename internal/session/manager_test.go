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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPrincipal struct {
	id    string
	roles []string
}

func (p testPrincipal) Initiator() string { return p.id }

func (p testPrincipal) HasRole(role string) bool {
	for _, r := range p.roles {
		if r == role {
			return true
		}
	}
	return false
}

var (
	alice = testPrincipal{id: "alice", roles: []string{"provider:github", RoleLaunch}}
	bob   = testPrincipal{id: "bob", roles: []string{"provider:github"}}
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(NewMemoryStore(), cfg, nil)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestManager_Create(t *testing.T) {
	m, now := newTestManager(t, Config{TTL: 10 * time.Minute, MaxTTL: 24 * time.Hour})
	ctx := context.Background()

	created, err := m.Create(ctx, bob, "github", KindGraphQL, ModeProxy)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(created.SessionID)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	assert.Equal(t, now.Add(10*time.Minute), created.ExpiresAt)
	assert.Empty(t, created.LaunchURL)
	assert.Equal(t, "bob", created.Session.InitiatorID)
	assert.Equal(t, now.UnixMilli()+600_000, created.Session.ExpiresAtMs)
}

func TestManager_CreateRoles(t *testing.T) {
	m, _ := newTestManager(t, Config{TTL: time.Hour})
	ctx := context.Background()

	_, err := m.Create(ctx, bob, "jira", KindOpenAPI, ModeProxy)
	assert.ErrorIs(t, err, ErrMissingProviderRole)

	_, err = m.Create(ctx, bob, "github", KindGraphQL, ModeLaunch)
	assert.ErrorIs(t, err, ErrMissingLaunchRole)

	_, err = m.Create(ctx, alice, "github", Kind("soap"), ModeProxy)
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = m.Create(ctx, alice, "github", KindGraphQL, Mode("embed"))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestManager_LaunchURL(t *testing.T) {
	m, _ := newTestManager(t, Config{TTL: time.Hour, PublicBaseURL: "https://workbench.example.com/"})
	ctx := context.Background()

	created, err := m.Create(ctx, alice, "github", KindOpenAPI, ModeLaunch)
	require.NoError(t, err)
	assert.Equal(t, "https://workbench.example.com/workbench/launch/openapi#sessionId="+created.SessionID, created.LaunchURL)

	proxied, err := m.Create(ctx, alice, "github", KindOpenAPI, ModeProxy)
	require.NoError(t, err)
	assert.Empty(t, proxied.LaunchURL)
}

func TestManager_LaunchURLRequiresBaseURL(t *testing.T) {
	m, _ := newTestManager(t, Config{TTL: time.Hour})

	created, err := m.Create(context.Background(), alice, "github", KindGraphQL, ModeLaunch)
	require.NoError(t, err)
	assert.Empty(t, created.LaunchURL)
}

func TestManager_Validate(t *testing.T) {
	m, now := newTestManager(t, Config{TTL: 10 * time.Minute})
	ctx := context.Background()

	created, err := m.Create(ctx, alice, "github", KindGraphQL, ModeProxy)
	require.NoError(t, err)

	s, err := m.Validate(ctx, created.SessionID, alice)
	require.NoError(t, err)
	assert.Equal(t, "github", s.Provider)

	_, err = m.Validate(ctx, created.SessionID, bob)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = m.Validate(ctx, "does-not-exist", alice)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Validate(ctx, "", alice)
	assert.ErrorIs(t, err, ErrNotFound)

	*now = now.Add(10 * time.Minute)

	// a foreign caller learns nothing about expiry
	_, err = m.Validate(ctx, created.SessionID, bob)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = m.Validate(ctx, created.SessionID, alice)
	assert.ErrorIs(t, err, ErrExpired)

	// expired sessions are dropped on lookup
	_, err = m.Validate(ctx, created.SessionID, alice)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_OwnershipNeverLeaks(t *testing.T) {
	m, _ := newTestManager(t, Config{TTL: time.Hour})
	ctx := context.Background()

	others := []testPrincipal{bob, {id: "carol"}, {id: ""}, {id: "ALICE"}}
	for i := 0; i < 20; i++ {
		created, err := m.Create(ctx, alice, "github", KindGraphQL, ModeProxy)
		require.NoError(t, err)
		for _, other := range others {
			s, err := m.Validate(ctx, created.SessionID, other)
			assert.Nil(t, s)
			assert.Error(t, err)
		}
	}
}

func TestManager_Revoke(t *testing.T) {
	m, _ := newTestManager(t, Config{TTL: time.Hour})
	ctx := context.Background()

	created, err := m.Create(ctx, alice, "github", KindGraphQL, ModeProxy)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Revoke(ctx, created.SessionID, bob), ErrForbidden)
	require.NoError(t, m.Revoke(ctx, created.SessionID, alice))

	_, err = m.Validate(ctx, created.SessionID, alice)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Sweep(t *testing.T) {
	m, now := newTestManager(t, Config{TTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, alice, "github", KindGraphQL, ModeProxy)
		require.NoError(t, err)
	}
	*now = now.Add(30 * time.Second)
	_, err := m.Create(ctx, alice, "github", KindGraphQL, ModeProxy)
	require.NoError(t, err)

	*now = now.Add(30 * time.Second)
	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := NewManager(NewMemoryStore(), Config{TTL: time.Minute, SweepInterval: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClampTTL(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		ceiling time.Duration
		want    time.Duration
	}{
		{"below minimum", 10 * time.Second, 24 * time.Hour, MinTTL},
		{"zero", 0, 24 * time.Hour, MinTTL},
		{"within range", 10 * time.Minute, 24 * time.Hour, 10 * time.Minute},
		{"above maximum", 48 * time.Hour, 24 * time.Hour, 24 * time.Hour},
		{"local maximum", 400 * 24 * time.Hour, 365 * 24 * time.Hour, 365 * 24 * time.Hour},
		{"open ceiling", 48 * time.Hour, 0, 48 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampTTL(tt.ttl, tt.ceiling))
		})
	}
}
