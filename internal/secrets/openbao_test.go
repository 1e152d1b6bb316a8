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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOpenBao(t *testing.T, secrets map[string]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		data, ok := secrets[r.URL.Path]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"errors": []string{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data":     data,
				"metadata": map[string]any{"version": 1},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenBaoBackend_Get(t *testing.T) {
	srv := newFakeOpenBao(t, map[string]map[string]any{
		"/v1/kv/data/workbench/user/alice/github": {"token": "ghp_alice"},
		"/v1/kv/data/workbench/user/bob/github":   {"other": "x"},
	})

	b, err := NewOpenBaoBackend(OpenBaoConfig{Address: srv.URL, Token: "root-token", Mount: "kv"})
	require.NoError(t, err)
	ctx := context.Background()

	tok, err := b.Get(ctx, Key{Provider: "github", Initiator: "alice", Scope: ScopeUser})
	require.NoError(t, err)
	assert.Equal(t, "ghp_alice", tok)

	_, err = b.Get(ctx, Key{Provider: "github", Initiator: "bob", Scope: ScopeUser})
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = b.Get(ctx, Key{Provider: "github", Initiator: "carol", Scope: ScopeUser})
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = b.Get(ctx, Key{Provider: "github", Initiator: "../root", Scope: ScopeUser})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewOpenBaoBackend_RequiresAddress(t *testing.T) {
	_, err := NewOpenBaoBackend(OpenBaoConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
