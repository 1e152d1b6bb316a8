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
	"time"

	"github.com/openbao/openbao/api/v2"
)

const (
	// DefaultMount is the KV v2 mount used when none is configured.
	DefaultMount = "secret"

	// TokenField is the field holding the token inside a secret.
	TokenField = "token"
)

// OpenBaoConfig configures an OpenBaoBackend.
type OpenBaoConfig struct {
	Address   string
	Token     string
	Namespace string
	Mount     string
	Timeout   time.Duration
}

// OpenBaoBackend reads provider tokens from an OpenBao KV v2 mount.
type OpenBaoBackend struct {
	kv *api.KVv2
}

// NewOpenBaoBackend creates a client for cfg.Address.
func NewOpenBaoBackend(cfg OpenBaoConfig) (*OpenBaoBackend, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: openbao address is empty", ErrNotConfigured)
	}
	if cfg.Mount == "" {
		cfg.Mount = DefaultMount
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}
	// the client's own retry loop would multiply upstream latency
	apiCfg.MaxRetries = 0

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("create openbao client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &OpenBaoBackend{kv: client.KVv2(cfg.Mount)}, nil
}

func (b *OpenBaoBackend) Name() string { return "openbao" }

// Get reads the token field of key's secret.
func (b *OpenBaoBackend) Get(ctx context.Context, key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}

	secret, err := b.kv.Get(ctx, key.Path())
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("read %s: %w", key.Path(), err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	token, ok := secret.Data[TokenField].(string)
	if !ok || token == "" {
		return "", ErrSecretNotFound
	}
	return token, nil
}
