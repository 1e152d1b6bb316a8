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

package upstream

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Config configures the upstream client.
type Config struct {
	// Timeout bounds each call, including reading the body.
	// Default: 15s. Must be > 0.
	Timeout time.Duration

	// MaxResponseBytes caps response bodies.
	// Default: 10 MiB. Must be > 0.
	MaxResponseBytes int64

	// UserAgent is sent when the request does not set one.
	// Required.
	UserAgent string

	// Transport replaces the TLS base transport. Tests point it at httptest
	// servers.
	Transport http.RoundTripper

	// Logger receives one line per call. Nil discards.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the gateway defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          15 * time.Second,
		MaxResponseBytes: 10 << 20,
		UserAgent:        "workbench-gateway/1.0",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.MaxResponseBytes <= 0 {
		return fmt.Errorf("max_response_bytes must be > 0, got %d", c.MaxResponseBytes)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}
	return nil
}
