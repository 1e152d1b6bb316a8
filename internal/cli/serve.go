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
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/workbench/internal/config"
	"github.com/tombee/workbench/internal/gateway"
	"github.com/tombee/workbench/internal/log"
	"github.com/tombee/workbench/internal/tracing"
)

type serveOptions struct {
	addr        string
	environment string
	tlsCert     string
	tlsKey      string

	shutdownTimeout time.Duration
}

func newServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway until SIGINT or SIGTERM. In-flight requests are given
listen.shutdown_timeout to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	opts.register(cmd.Flags())
	return cmd
}

func (o *serveOptions) register(fs *pflag.FlagSet) {
	fs.StringVar(&o.addr, "addr", "", "Listen address (overrides listen.addr)")
	fs.StringVar(&o.environment, "environment", "", "Environment: local, dev, staging, production")
	fs.StringVar(&o.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	fs.StringVar(&o.tlsKey, "tls-key", "", "Path to TLS private key file")
	fs.DurationVar(&o.shutdownTimeout, "shutdown-timeout", 0, "Grace period for in-flight requests (overrides listen.shutdown_timeout)")
}

// apply overlays command line overrides and re-validates.
func (o *serveOptions) apply(cfg *config.Config) error {
	if o.addr != "" {
		cfg.Listen.Addr = o.addr
	}
	if o.environment != "" {
		cfg.Environment = o.environment
	}
	if o.tlsCert != "" {
		cfg.Listen.TLSCert = o.tlsCert
	}
	if o.tlsKey != "" {
		cfg.Listen.TLSKey = o.tlsKey
	}
	if o.shutdownTimeout > 0 {
		cfg.Listen.ShutdownTimeout = o.shutdownTimeout
	}
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: ExitInvalidConfig, Message: "invalid configuration", Cause: err}
	}
	return nil
}

func runServe(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}

	logger := log.New(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "workbench",
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Headers:        cfg.Tracing.Headers,
		SampleRate:     cfg.Tracing.SampleRate,
		Writer:         os.Stderr,
	})
	if err != nil {
		return &ExitError{Code: ExitFailed, Message: "failed to start tracing", Cause: err}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", log.Error(err))
		}
	}()

	gw, cleanup, err := gateway.NewFromConfig(ctx, cfg, gateway.Hooks{}, logger)
	if err != nil {
		return &ExitError{Code: ExitFailed, Message: "failed to build gateway", Cause: err}
	}
	defer func() {
		if err := cleanup(); err != nil {
			logger.Warn("session store close error", log.Error(err))
		}
	}()

	if cfg.Auth.DevAuth {
		logger.Warn("dev auth is enabled; identity headers are trusted")
	}

	go gw.Run(ctx)

	srv := gateway.NewServer(cfg.Listen, gw.Handler(), logger)
	serveErr := srv.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Listen.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if serveErr != nil {
		return &ExitError{Code: ExitFailed, Message: "gateway stopped", Cause: serveErr}
	}
	return nil
}
