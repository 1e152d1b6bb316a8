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
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/workbench/internal/config"
)

// Global flag values, set by the root command.
var (
	configFlag string
	jsonFlag   bool

	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workbench",
		Short: "Workbench - hardened API explorer gateway",
		Long: `Workbench serves browser-based GraphQL and REST explorers for provider
APIs. Every call is authenticated, rate limited and checked before it is
forwarded with the caller's own provider token.

Run 'workbench config check' to validate a configuration file.
Run 'workbench serve' to start the gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configFlag, "config", "c", os.Getenv("WORKBENCH_CONFIG"),
		"Path to config file (env: WORKBENCH_CONFIG)")
	cmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output in JSON format")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// loadConfig loads the file named by --config, or defaults plus environment
// when no file is given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, &ExitError{Code: ExitInvalidConfig, Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}
