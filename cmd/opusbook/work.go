package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/config"
	"github.com/opusbook/opusbook/internal/extract"
	"github.com/opusbook/opusbook/internal/layout"
	"github.com/opusbook/opusbook/internal/segment"
	"github.com/opusbook/opusbook/internal/store"
	"github.com/opusbook/opusbook/internal/synth"
	"github.com/opusbook/opusbook/internal/transcode"
	"github.com/opusbook/opusbook/internal/worker"
)

var workCmd = &cobra.Command{
	Use:   "work <extract|segment|synth|transcode>",
	Short: "Run one stage worker",
	Long: `Run one pipeline stage worker.

Each worker consumes its stage queue, processes one book per pool slot,
chains the next stage on success and always reports a completion for
the orchestrator. Stage processes scale independently; run as many of
each as the workload needs.

  extract    txt/pdf/epub upload -> plain UTF-8 text
  segment    text -> sentence-aligned SSML chunks
  synth      SSML chunks -> WAV via the configured TTS engine
  transcode  WAV -> Opus/Ogg streaming chunks (requires ffmpeg)

Examples:
  opusbook work extract
  opusbook work transcode --config /etc/opusbook/config.yaml`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"extract", "segment", "synth", "transcode"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		stage := args[0]

		cfg, logger, err := loadRuntime()
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

		paths := layout.Paths{
			TextData: cfg.Paths.TextData,
			WavData:  cfg.Paths.WavData,
			OggData:  cfg.Paths.OggData,
		}
		if err := paths.EnsureRoots(); err != nil {
			return err
		}

		wcfg := worker.Config{
			Broker:     b,
			Workers:    cfg.Pipeline.Workers,
			PopTimeout: cfg.Pipeline.PopTimeout,
			Logger:     logger,
		}

		switch stage {
		case "extract":
			wcfg.Handler = extract.NewHandler(extract.New(paths, logger), b)
			wcfg.InputQueue = broker.ExtractQueue
			wcfg.DoneQueue = broker.ExtractCompleted

		case "segment":
			wcfg.Handler = segment.NewHandler(segment.New(paths, cfg.Pipeline.ChunkSizeChars, logger), b)
			wcfg.InputQueue = broker.SegmentQueue
			wcfg.DoneQueue = broker.SegmentCompleted

		case "synth":
			engine, err := synth.NewEngine(cfg.Synthesis)
			if err != nil {
				return err
			}
			wcfg.Handler = synth.NewHandler(synth.New(paths, engine, logger), b)
			wcfg.InputQueue = broker.SynthQueue
			wcfg.DoneQueue = broker.SynthCompleted

		case "transcode":
			return runTranscode(cmd, cfg, b, paths, wcfg)

		default:
			return fmt.Errorf("unknown stage %q", stage)
		}

		worker.New(wcfg).Run(ctx)
		return nil
	},
}

// runTranscode is the one stage that also needs the metadata store (chunk
// registration) and a cleanup consumer for deleted books.
func runTranscode(cmd *cobra.Command, cfg *config.Config, b *broker.Broker, paths layout.Paths, wcfg worker.Config) error {
	ctx := cmd.Context()

	if err := transcode.CheckFFmpeg(); err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabaseURL, wcfg.Logger)
	if err != nil {
		return err
	}

	t := transcode.New(paths, st, cfg.Pipeline.SegmentDuration, cfg.Pipeline.OpusBitrate, wcfg.Logger)
	wcfg.Handler = transcode.NewHandler(t)
	wcfg.InputQueue = broker.TranscodeQueue
	wcfg.DoneQueue = broker.TranscodeCompleted

	cleaner := transcode.NewCleaner(b, paths, cfg.Pipeline.PopTimeout, wcfg.Logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.New(wcfg).Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleaner.Run(ctx)
	}()
	wg.Wait()
	return nil
}

func init() {
	rootCmd.AddCommand(workCmd)
}
