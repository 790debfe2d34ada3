package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/skiffhq/skiff/internal/config"
	"github.com/skiffhq/skiff/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone transfer worker",
		Long: `Run a standalone transfer worker.

Processes queued SCP/SFTP transfer tasks from Redis. The gateway embeds a
worker already; use this to scale processing out to separate processes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			setupServiceLogger(cfg)

			log.Info().Str("redis", cfg.RedisAddr).Msg("Starting transfer worker")
			w := worker.New(cfg.RedisAddr)
			defer w.Shutdown()
			return w.Run()
		},
	}
}
