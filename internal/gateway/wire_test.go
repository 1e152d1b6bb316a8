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

package gateway

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/workbench/internal/auth"
	"github.com/tombee/workbench/internal/config"
	"github.com/tombee/workbench/internal/log"
)

func TestNewFromConfig_Defaults(t *testing.T) {
	cfg := config.Default()

	g, cleanup, err := NewFromConfig(context.Background(), cfg, Hooks{}, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cleanup()) })

	assert.Nil(t, g.Cookies)
	assert.Nil(t, g.OIDC)
	assert.Equal(t, "/metrics", g.MetricsPath)
	assert.Contains(t, g.Catalog.Providers(), "github")
}

func TestNewFromConfig_SQLiteAndCookies(t *testing.T) {
	cfg := config.Default()
	cfg.Sessions.Store = "sqlite"
	cfg.Sessions.SQLitePath = filepath.Join(t.TempDir(), "sessions.db")
	cfg.Auth.Cookie.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Metrics.Enabled = false

	g, cleanup, err := NewFromConfig(context.Background(), cfg, Hooks{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cleanup()) })

	assert.NotNil(t, g.Cookies)
	assert.Empty(t, g.MetricsPath)
	assert.Contains(t, g.Auth.Strategies(), "cookie")
}

func TestNewFromConfig_HooksComeFirst(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.EnvLocal
	cfg.Auth.DevAuth = true

	hook := func(r *http.Request) *auth.Principal { return nil }
	g, cleanup, err := NewFromConfig(context.Background(), cfg, Hooks{Principal: hook}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, cleanup()) })

	assert.Equal(t, []string{"hook", "dev"}, g.Auth.Strategies())
}

func TestServer_Lifecycle(t *testing.T) {
	srv := NewServer(config.ListenConfig{
		Addr:        "127.0.0.1:0",
		ReadTimeout: time.Second,
		IdleTimeout: time.Second,
	}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)

	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	assert.NoError(t, srv.Shutdown(shutdownCtx))
}
