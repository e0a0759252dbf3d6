package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"brainlink/pkg/config"
	"brainlink/pkg/logging"
	"brainlink/pkg/transport"
)

type serveFlags struct {
	source      string
	port        string
	baud        int
	addr        string
	jsonl       string
	csv         string
	wsAddr      string
	noFoxglove  bool
	metricsAddr string
	advertise   bool
	strict      bool
	actuator    string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read the headset and serve telemetry",
		Long: `Read the ThinkGear stream from a serial port (the Bluetooth SPP device of the
headset) or a TCP endpoint, record it and publish it to foxglove.

Flags override values from the config file.`,
		Example: `  # Bluetooth serial port on Linux
  brainlinkd serve --port /dev/rfcomm0

  # Mock stream started with 'brainlinkd mock'
  brainlinkd serve --source tcp --addr 127.0.0.1:7070 --jsonl session.jsonl

  # Drive an Arduino from focus triggers
  brainlinkd serve --port COM10 --actuator COM5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, &cfg); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.source, "source", "", "Byte source: serial or tcp")
	f.StringVar(&flags.port, "port", "", "Serial port of the headset")
	f.IntVar(&flags.baud, "baud", 0, "Serial baud rate")
	f.StringVar(&flags.addr, "addr", "", "TCP address when --source tcp")
	f.StringVar(&flags.jsonl, "jsonl", "", "Append every sample to this JSONL file")
	f.StringVar(&flags.csv, "csv", "", "Append the raw window to this CSV file")
	f.StringVar(&flags.wsAddr, "ws-addr", "", "Foxglove websocket listen address")
	f.BoolVar(&flags.noFoxglove, "no-foxglove", false, "Disable the foxglove bridge")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&flags.advertise, "advertise", false, "Advertise the bridge over mDNS")
	f.BoolVar(&flags.strict, "strict", false, "Stop parsing a payload at the first unknown code")
	f.StringVar(&flags.actuator, "actuator", "", "Serial port that receives ON/OFF on focus decisions")
	return cmd
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("source") {
		cfg.Source.Kind = f.source
	}
	if changed("port") {
		cfg.Source.Port = f.port
	}
	if changed("baud") {
		cfg.Source.Baud = f.baud
	}
	if changed("addr") {
		cfg.Source.Addr = f.addr
	}
	if changed("jsonl") {
		cfg.Record.JSONL = f.jsonl
	}
	if changed("csv") {
		cfg.Record.CSV = f.csv
	}
	if changed("ws-addr") {
		cfg.Foxglove.WSAddr = f.wsAddr
	}
	if f.noFoxglove {
		cfg.Foxglove.Enabled = false
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.advertise {
		cfg.Discovery.Enabled = true
	}
	if f.strict {
		cfg.Decoder.Strict = true
	}
	if changed("actuator") {
		cfg.Focus.ActuatorPort = f.actuator
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	p, err := newPipeline(cfg, pipelineOptions{foxglove: true, network: true})
	if err != nil {
		return err
	}
	opts, err := p.sourceOptions()
	if err != nil {
		p.close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.start(ctx, ctx)

	chunks := make(chan []byte, cfg.Source.Buf)
	var src *transport.Source
	switch cfg.Source.Kind {
	case config.SourceTCP:
		src = transport.StartTCP(ctx, cfg.Source.Addr, chunks, opts...)
	default:
		src = transport.StartSerial(ctx, cfg.Source.Port, cfg.Source.Baud, chunks, opts...)
	}
	logging.Info("reading headset",
		zap.String("source", src.Name()),
		zap.String("session", p.session),
	)

	p.pump.Run(ctx, chunks)
	<-src.Done()
	p.wait(cancel)
	logging.Info("stopped", zap.Uint64("samples", p.hub.Published()))
	return nil
}
