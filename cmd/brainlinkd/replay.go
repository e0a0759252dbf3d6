package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"brainlink/pkg/config"
	"brainlink/pkg/logging"
	"brainlink/pkg/transport"
)

type replayFlags struct {
	chunk    int
	delay    time.Duration
	jsonl    string
	csv      string
	foxglove bool
	strict   bool
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	flags := &replayFlags{}
	cmd := &cobra.Command{
		Use:   "replay <capture>",
		Short: "Decode a captured byte stream",
		Long: `Feed a file of raw headset bytes through the decoder and the focus detector.
Samples are written as JSONL to stdout unless --jsonl names a file.`,
		Example: `  brainlinkd replay capture.bin --chunk 7
  brainlinkd replay capture.bin --jsonl out.jsonl --csv window.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("jsonl") {
				cfg.Record.JSONL = flags.jsonl
			}
			if cmd.Flags().Changed("csv") {
				cfg.Record.CSV = flags.csv
			}
			if flags.strict {
				cfg.Decoder.Strict = true
			}
			// No actuator while replaying.
			cfg.Focus.ActuatorPort = ""

			opts := pipelineOptions{lossless: true, foxglove: flags.foxglove}
			if cfg.Record.JSONL == "" || cfg.Record.JSONL == "-" {
				cfg.Record.JSONL = ""
				opts.jsonlOut = cmd.OutOrStdout()
			}
			return runReplay(cmd.Context(), cfg, args[0], flags, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&flags.chunk, "chunk", 4096, "Bytes handed to the decoder per read")
	f.DurationVar(&flags.delay, "delay", 0, "Pause between chunks")
	f.StringVar(&flags.jsonl, "jsonl", "", "Write samples to this file instead of stdout")
	f.StringVar(&flags.csv, "csv", "", "Append the raw window to this CSV file")
	f.BoolVar(&flags.foxglove, "foxglove", false, "Also serve the replay on the foxglove bridge")
	f.BoolVar(&flags.strict, "strict", false, "Stop parsing a payload at the first unknown code")
	return cmd
}

func runReplay(ctx context.Context, cfg config.Config, path string, flags *replayFlags, opts pipelineOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	p, err := newPipeline(cfg, opts)
	if err != nil {
		return err
	}

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	p.start(hubCtx, ctx)

	chunks := make(chan []byte, cfg.Source.Buf)
	replayErr := make(chan error, 1)
	go func() {
		replayErr <- transport.Replay(ctx, f, chunks, flags.chunk, flags.delay)
		close(chunks)
	}()

	p.pump.Run(ctx, chunks)
	err = <-replayErr
	p.hub.Close()
	if p.bridge != nil {
		// Keep serving the replayed session until interrupted.
		<-ctx.Done()
	}
	p.wait(cancelHub)

	logging.Info("replay finished",
		zap.String("capture", path),
		zap.Uint64("samples", p.hub.Published()),
		zap.Uint64("dropped", p.hub.Dropped()),
	)
	if err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}
	return nil
}
