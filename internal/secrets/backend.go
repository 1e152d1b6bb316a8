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
	"regexp"
)

// ScopeUser is the scope for per-initiator provider tokens.
const ScopeUser = "user"

var (
	// ErrSecretNotFound is returned when the backend holds no token for a key.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrNotConfigured is returned when no backend is configured and no
	// override applies.
	ErrNotConfigured = errors.New("secret backend not configured")

	// ErrInvalidKey is returned when a key component contains characters
	// that are not allowed in a store path.
	ErrInvalidKey = errors.New("invalid secret key")
)

var keyComponent = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,256}$`)

// Key addresses one token in a backend.
type Key struct {
	Provider  string
	Initiator string
	Scope     string
}

// Validate checks every component of k.
func (k Key) Validate() error {
	for name, v := range map[string]string{"provider": k.Provider, "initiator": k.Initiator, "scope": k.Scope} {
		if !keyComponent.MatchString(v) || v == "." || v == ".." {
			return fmt.Errorf("%w: %s", ErrInvalidKey, name)
		}
	}
	return nil
}

// Path returns the store path for k. Callers must Validate first.
func (k Key) Path() string {
	return "workbench/" + k.Scope + "/" + k.Initiator + "/" + k.Provider
}

// Backend fetches provider tokens from a secret store.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Get returns the token for key or ErrSecretNotFound.
	Get(ctx context.Context, key Key) (string, error)
}

// StaticBackend serves tokens from a fixed map keyed by Key.Path. It is used
// by tests and by single-operator local setups.
type StaticBackend map[string]string

func (s StaticBackend) Name() string { return "static" }

func (s StaticBackend) Get(_ context.Context, key Key) (string, error) {
	v, ok := s[key.Path()]
	if !ok || v == "" {
		return "", ErrSecretNotFound
	}
	return v, nil
}
