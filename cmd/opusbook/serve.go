package main

import (
	"github.com/spf13/cobra"

	"github.com/opusbook/opusbook/internal/auth"
	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/server"
	"github.com/opusbook/opusbook/internal/store"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start the Opusbook HTTP gateway.

The gateway handles registration and login, book uploads, status
polling, signed chunk URLs and audio streaming. It enqueues pipeline
work but never performs it; run the orchestrator and stage workers as
separate processes.

Examples:
  opusbook serve                 # Listen on the configured host:port
  opusbook serve --port 3000     # Override the port
  opusbook serve --host 0.0.0.0  # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != "" {
			cfg.Server.Port = servePort
		}

		st, err := store.Open(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		b, err := broker.Connect(cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		if err := b.Ping(ctx); err != nil {
			return err
		}

		hash, err := auth.HashPassword(cfg.AdminPassword)
		if err != nil {
			return err
		}
		if err := st.SeedAdmin(hash); err != nil {
			return err
		}

		srv := server.New(cfg, st, b, logger)
		if err := srv.EnsureDataRoots(); err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind to (overrides config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "port to listen on (overrides config)")

	rootCmd.AddCommand(serveCmd)
}
