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

package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/workbench/internal/config"
	"github.com/tombee/workbench/internal/log"
	"github.com/tombee/workbench/internal/policy"
)

const redacted = "[REDACTED]"

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(newConfigCheckCommand())
	cmd.AddCommand(newConfigShowCommand())
	return cmd
}

// checkResult is the summary printed by config check.
type checkResult struct {
	Valid         bool     `json:"valid"`
	Environment   string   `json:"environment"`
	Listen        string   `json:"listen"`
	SessionStore  string   `json:"session_store"`
	SessionTTL    string   `json:"session_ttl"`
	Providers     []string `json:"providers"`
	OIDC          bool     `json:"oidc"`
	Cookie        bool     `json:"cookie"`
	OpenBao       bool     `json:"openbao"`
	DevAuth       bool     `json:"dev_auth"`
	RatePerMinute int      `json:"rate_per_minute"`
}

func newConfigCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pol := policy.FromConfig(cfg)

			res := checkResult{
				Valid:         true,
				Environment:   pol.Environment,
				Listen:        cfg.Listen.Addr,
				SessionStore:  cfg.Sessions.Store,
				SessionTTL:    pol.SessionTTL.String(),
				Providers:     providerNames(cfg),
				OIDC:          cfg.Auth.OIDC.Issuer != "",
				Cookie:        cfg.Auth.Cookie.Secret != "",
				OpenBao:       cfg.OpenBao.Address != "",
				DevAuth:       pol.DevAuth,
				RatePerMinute: pol.RatePerMinute,
			}

			if jsonFlag {
				data, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(data))
				return nil
			}

			cmd.Println("Configuration is valid")
			cmd.Printf("  environment:   %s\n", res.Environment)
			cmd.Printf("  listen:        %s\n", res.Listen)
			cmd.Printf("  sessions:      %s (ttl %s)\n", res.SessionStore, res.SessionTTL)
			cmd.Printf("  providers:     %v\n", res.Providers)
			cmd.Printf("  oidc:          %t\n", res.OIDC)
			cmd.Printf("  cookie:        %t\n", res.Cookie)
			cmd.Printf("  openbao:       %t\n", res.OpenBao)
			if res.DevAuth {
				cmd.Println("  WARNING: dev auth is enabled; identity headers are trusted")
			}
			return nil
		},
	}
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redact(cfg)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			cmd.Print(string(data))
			return nil
		},
	}
}

// redact blanks every credential in cfg.
func redact(cfg *config.Config) {
	if cfg.Auth.Cookie.Secret != "" {
		cfg.Auth.Cookie.Secret = log.SanitizeSecret(cfg.Auth.Cookie.Secret)
	}
	if cfg.OpenBao.Token != "" {
		cfg.OpenBao.Token = log.SanitizeAPIKey(cfg.OpenBao.Token)
	}
	for k := range cfg.Tracing.Headers {
		cfg.Tracing.Headers[k] = redacted
	}
	for name, prov := range cfg.Providers {
		for k := range prov.Headers {
			if isSecretName(k) {
				prov.Headers[k] = redacted
			}
		}
		cfg.Providers[name] = prov
	}
}

var secretNameParts = []string{"TOKEN", "SECRET", "KEY", "PASSWORD", "PASS", "PWD", "AUTH", "COOKIE"}

// isSecretName reports whether a header or variable name looks like it
// carries a credential.
func isSecretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, part := range secretNameParts {
		if strings.Contains(upper, part) {
			return true
		}
	}
	return false
}

func providerNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
