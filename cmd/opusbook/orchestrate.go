package main

import (
	"github.com/spf13/cobra"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/pipeline"
	"github.com/opusbook/opusbook/internal/store"
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run the pipeline orchestrator",
	Long: `Run the pipeline orchestrator.

The orchestrator consumes the four stage completion queues and projects
each outcome onto the book's row: status, progress milestone and, on
failure, the error message. It performs no stage work itself and is
safe to restart at any time; redelivered completions are ignored.

Run exactly one orchestrator per deployment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
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

		pipeline.New(st, b, cfg.Pipeline.PopTimeout, logger).Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)
}
