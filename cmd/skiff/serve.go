package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			setupServiceLogger(cfg)

			log.Info().
				Str("version", cfg.Version).
				Str("env", cfg.Env).
				Msg("Starting skiff gateway")

			srv, err := server.New(cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			errCh := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				log.Info().Str("addr", addr).Msg("HTTP server listening")
				if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-quit:
			}

			log.Info().Msg("Shutting down server...")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("Server forced to shutdown")
				return err
			}
			log.Info().Msg("Server exited")
			return nil
		},
	}
}

// setupServiceLogger applies the long-running service log settings, which
// come from the environment rather than the CLI flags.
func setupServiceLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" && cfg.LogFormat == "pretty" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
