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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "sessions.db"), WAL: true})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory()

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			s := &Session{
				ID:          "abc",
				InitiatorID: "alice",
				Provider:    "github",
				Kind:        KindGraphQL,
				Mode:        ModeLaunch,
				CreatedAtMs: 1000,
				ExpiresAtMs: 2000,
			}
			require.NoError(t, store.Put(ctx, s))

			got, err := store.Get(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, s, got)

			// returned values are copies
			got.InitiatorID = "mallory"
			again, err := store.Get(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, "alice", again.InitiatorID)

			require.NoError(t, store.Put(ctx, &Session{ID: "def", InitiatorID: "bob", Provider: "jira", Kind: KindOpenAPI, Mode: ModeProxy, CreatedAtMs: 1000, ExpiresAtMs: 5000}))

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			removed, err := store.DeleteExpired(ctx, 2000)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			require.NoError(t, store.Delete(ctx, "def"))
			require.NoError(t, store.Delete(ctx, "def"))

			n, err = store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	first, err := NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, &Session{ID: "abc", InitiatorID: "alice", Provider: "github", Kind: KindGraphQL, Mode: ModeProxy, ExpiresAtMs: 1}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.InitiatorID)
}
