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
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testIssuer struct {
	server  *httptest.Server
	fetches atomic.Int32

	mu  sync.Mutex
	key *rsa.PrivateKey
	kid string
}

func (ti *testIssuer) current() (*rsa.PrivateKey, string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.key, ti.kid
}

func (ti *testIssuer) rotate(key *rsa.PrivateKey, kid string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.key, ti.kid = key, kid
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	ti := &testIssuer{key: key, kid: "k1"}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   ti.server.URL,
			"jwks_uri": ti.server.URL + "/certs",
		})
	})
	mux.HandleFunc("GET /certs", func(w http.ResponseWriter, r *http.Request) {
		ti.fetches.Add(1)
		key, kid := ti.current()
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Algorithm: "RS256",
			Use:       "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	})
	ti.server = httptest.NewServer(mux)
	t.Cleanup(ti.server.Close)
	return ti
}

func (ti *testIssuer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	key, kid := ti.current()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func (ti *testIssuer) claims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": ti.server.URL,
		"aud": "workbench",
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func newTestVerifier(t *testing.T, ti *testIssuer) *OIDCVerifier {
	t.Helper()
	v, err := NewOIDCVerifier(OIDCConfig{
		Issuer:      ti.server.URL,
		Audience:    "workbench",
		ClientID:    "workbench-ui",
		Environment: "staging",
	})
	require.NoError(t, err)
	return v
}

func TestOIDCVerifier_Verify(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier(t, ti)

	claims := ti.claims("alice")
	claims["roles"] = []string{"provider:github"}
	claims["realm_access"] = map[string]any{"roles": []string{"workbench:launch"}}
	claims["resource_access"] = map[string]any{
		"workbench-ui": map[string]any{"roles": []string{"workbench:graphql:query"}},
		"other-client": map[string]any{"roles": []string{"admin"}},
	}

	p, err := v.Verify(context.Background(), ti.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.InitiatorID)
	assert.Equal(t, "staging", p.Environment)
	assert.Equal(t, []string{"provider:github", "workbench:graphql:query", "workbench:launch"}, p.RoleList())
	assert.False(t, p.HasRole("admin"))
}

func TestOIDCVerifier_Rejects(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier(t, ti)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"wrong issuer", func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }},
		{"wrong audience", func(c jwt.MapClaims) { c["aud"] = "someone-else" }},
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }},
		{"not yet valid", func(c jwt.MapClaims) { c["nbf"] = time.Now().Add(time.Hour).Unix() }},
		{"no expiry", func(c jwt.MapClaims) { delete(c, "exp") }},
		{"no subject", func(c jwt.MapClaims) { delete(c, "sub") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ti.claims("alice")
			tt.mutate(c)
			_, err := v.Verify(context.Background(), ti.sign(t, c))
			assert.Error(t, err)
		})
	}
}

func TestOIDCVerifier_RejectsForeignKey(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier(t, ti)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, ti.claims("alice"))
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString(other)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	assert.Error(t, err)
}

func TestOIDCVerifier_RejectsHMAC(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier(t, ti)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, ti.claims("alice"))
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString([]byte("guessable"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	assert.Error(t, err)
}

func TestOIDCVerifier_CachesKeys(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier(t, ti)

	for i := 0; i < 5; i++ {
		_, err := v.Verify(context.Background(), ti.sign(t, ti.claims("alice")))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), ti.fetches.Load())
}

func TestOIDCVerifier_RefreshesOnUnknownKid(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier(t, ti)

	_, err := v.Verify(context.Background(), ti.sign(t, ti.claims("alice")))
	require.NoError(t, err)

	// issuer rotates keys
	rotated, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ti.rotate(rotated, "k2")

	_, err = v.Verify(context.Background(), ti.sign(t, ti.claims("alice")))
	require.NoError(t, err)
	assert.Equal(t, int32(2), ti.fetches.Load())
}

func TestOIDCVerifier_UnknownKidRefreshIsThrottled(t *testing.T) {
	ti := newTestIssuer(t)
	v, err := NewOIDCVerifier(OIDCConfig{
		Issuer:            ti.server.URL,
		Audience:          "workbench",
		Environment:       "staging",
		UnknownKIDRefresh: time.Second,
	})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), ti.sign(t, ti.claims("alice")))
	require.NoError(t, err)

	key, _ := ti.current()
	forged := make([]string, 50)
	for i := range forged {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, ti.claims("mallory"))
		tok.Header["kid"] = fmt.Sprintf("forged-%d", i)
		forged[i], err = tok.SignedString(key)
		require.NoError(t, err)
	}

	for _, raw := range forged {
		_, err := v.Verify(context.Background(), raw)
		assert.ErrorIs(t, err, ErrUnknownKID)
	}
	assert.Equal(t, int32(2), ti.fetches.Load())

	// Once the interval has passed a rotated key is picked up again.
	time.Sleep(1100 * time.Millisecond)
	rotated, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ti.rotate(rotated, "k2")

	_, err = v.Verify(context.Background(), ti.sign(t, ti.claims("alice")))
	require.NoError(t, err)
	assert.Equal(t, int32(3), ti.fetches.Load())
}

func TestBearerStrategy(t *testing.T) {
	ti := newTestIssuer(t)
	s := newTestVerifier(t, ti).Strategy()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	p, err := s.TryResolve(r)
	assert.NoError(t, err)
	assert.Nil(t, p)

	r.Header.Set("Authorization", "bearer "+ti.sign(t, ti.claims("alice")))
	p, err = s.TryResolve(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.InitiatorID)

	r.Header.Set("Authorization", "Bearer not-a-jwt")
	p, err = s.TryResolve(r)
	assert.Error(t, err)
	assert.Nil(t, p)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc", "abc", nil},
		{"bearer abc", "abc", nil},
		{"BEARER  abc ", "abc", nil},
		{"", "", ErrMissingBearer},
		{"Bearer ", "", ErrMissingBearer},
		{"Basic dXNlcjpwdw==", "", ErrMalformedAuth},
		{"Bearer", "", ErrMalformedAuth},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
