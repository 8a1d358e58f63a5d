package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opusbook/opusbook/internal/config"
	"github.com/opusbook/opusbook/version"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "opusbook",
	Short: "Audiobook pipeline: text in, streamable Opus/Ogg out",
	Long: `Opusbook converts uploaded books into streamable audiobooks.

A book moves through four queue-driven stages:
  - extract:   pull plain UTF-8 text out of txt/pdf/epub uploads
  - segment:   split the text into sentence-aligned SSML chunks
  - synth:     synthesize each chunk to WAV through a TTS engine
  - transcode: slice the audio into small Opus/Ogg streaming chunks

Each process runs one role: the HTTP gateway (serve), the state
orchestrator (orchestrate) or a stage worker (work <stage>). All roles
share one config file and the DATABASE_URL / REDIS_URL / SECRET_KEY
environment contract.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.opusbook/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)

	rootCmd.AddCommand(versionCmd)
}

// loadRuntime builds the shared process runtime: config (validated) and a
// structured logger. Every serving command starts here.
func loadRuntime() (*config.Config, *slog.Logger, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	cm.WatchConfig()

	cfg := cm.Get()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", logLevel)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
