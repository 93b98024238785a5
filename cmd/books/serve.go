package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/api"
	"github.com/Veraticus/the-books-must-balance/internal/certs"
	"github.com/Veraticus/the-books-must-balance/internal/common"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the import, classification and category endpoints over HTTP.

Requests to /api/v1 need an "Authorization: Bearer <token>" header whose token
is listed under auth.tokens in the config file.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (default from server.address)")
	_ = viper.BindPFlag("server.address", cmd.Flags().Lookup("addr"))
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed certificate kept in server.cert_dir")
	_ = viper.BindPFlag("server.tls", cmd.Flags().Lookup("tls"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return common.NewUserError("invalid configuration", err)
	}
	if len(cfg.Auth.Tokens) == 0 {
		slog.Warn("No auth.tokens configured; every API request will be rejected")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(api.Deps{
		Importer:       a.importer,
		Orchestrator:   a.orchestrator,
		Auth:           api.StaticTokens(cfg.Auth.Tokens),
		Pinger:         a.store,
		Recorder:       a.metrics,
		Gatherer:       a.registry,
		Logger:         a.logger,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	})

	opts := api.Options{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Server.TLS {
		store := certs.NewStore(cfg.Server.CertDir, cfg.Server.TLSHosts...)
		tlsConfig, err := store.TLSConfig()
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		slog.Info("Serving HTTPS", "certificate", store.CertFile())
		opts.TLSConfig = tlsConfig
	}

	return server.Run(ctx, opts)
}
