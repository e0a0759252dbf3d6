package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"brainlink/pkg/analysis"
	"brainlink/pkg/bridge/foxglove"
	"brainlink/pkg/config"
	"brainlink/pkg/discovery"
	"brainlink/pkg/engine"
	"brainlink/pkg/logger"
	"brainlink/pkg/logging"
	"brainlink/pkg/metrics"
	"brainlink/pkg/protocol"
	"brainlink/pkg/transport"
)

type pipelineOptions struct {
	// jsonlOut replaces the record.jsonl file when set.
	jsonlOut io.Writer
	lossless bool
	foxglove bool
	network  bool
}

// pipeline wires decoder, hub and every consumer for one run.
type pipeline struct {
	cfg      config.Config
	opts     pipelineOptions
	session  string
	hub      *engine.Hub
	pump     *engine.Pump
	metrics  *metrics.Metrics
	bridge   *foxglove.Server
	jsonl    *logger.JSONLWriter
	csv      *logger.CSVWindowWriter
	detector *analysis.Detector
	actuator *analysis.Actuator
	closers  []io.Closer

	consumers sync.WaitGroup
	servers   sync.WaitGroup
}

func newPipeline(cfg config.Config, opts pipelineOptions) (*pipeline, error) {
	p := &pipeline{
		cfg:     cfg,
		opts:    opts,
		session: uuid.NewString(),
		metrics: metrics.New(),
	}

	hubOpts := []engine.Option{engine.WithClientBuffer(cfg.Hub.SubscriberBuf)}
	if opts.lossless {
		hubOpts = append(hubOpts, engine.WithLosslessDelivery())
	}
	p.hub = engine.NewHub(hubOpts...)
	p.metrics.RegisterHub(p.hub.Published, p.hub.Dropped)

	var decOpts []protocol.Option
	if cfg.Decoder.Strict {
		decOpts = append(decOpts, protocol.WithStrictPayload())
	}
	p.pump = engine.NewPump(protocol.NewDecoder(decOpts...), p.hub,
		engine.WithStatsHook(p.metrics.ObserveStats),
	)

	if err := p.openRecorders(); err != nil {
		p.close()
		return nil, err
	}

	if cfg.Focus.Enabled {
		p.detector = analysis.NewDetector(cfg.Focus.Window, cfg.Focus.SampleFraction, cfg.Focus.Threshold)
		if cfg.Focus.ActuatorPort != "" {
			w, err := transport.OpenSerialWriter(cfg.Focus.ActuatorPort, cfg.Focus.ActuatorBaud)
			if err != nil {
				p.close()
				return nil, err
			}
			p.closers = append(p.closers, w)
			p.actuator = analysis.NewActuator(w)
		}
	}

	if opts.foxglove && cfg.Foxglove.Enabled {
		fcfg := foxglove.DefaultConfig()
		fcfg.WSAddr = cfg.Foxglove.WSAddr
		fcfg.Name = cfg.Foxglove.Name
		fcfg.Topic = cfg.Foxglove.Topic
		fcfg.RawTopic = cfg.Foxglove.RawTopic
		fcfg.LogTopic = cfg.Foxglove.LogTopic
		fcfg.SendBuf = cfg.Foxglove.SendBuf
		p.bridge = foxglove.NewServer(fcfg, p.hub)
	}
	return p, nil
}

func (p *pipeline) openRecorders() error {
	switch {
	case p.opts.jsonlOut != nil:
		p.jsonl = logger.NewJSONLWriter(p.opts.jsonlOut, p.session)
	case p.cfg.Record.JSONL != "":
		f, err := openAppend(p.cfg.Record.JSONL)
		if err != nil {
			return err
		}
		p.closers = append(p.closers, f)
		p.jsonl = logger.NewJSONLWriter(f, p.session)
	}

	if p.cfg.Record.CSV != "" {
		f, err := openAppend(p.cfg.Record.CSV)
		if err != nil {
			return err
		}
		p.closers = append(p.closers, f)
		p.csv = logger.NewCSVWindowWriter(f, p.cfg.Focus.Window, p.cfg.Record.CSVEvery)
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// start runs the hub and its consumers. Consumers stop when consumerCtx is
// done or when the hub closes their subscription.
func (p *pipeline) start(ctx context.Context, consumerCtx context.Context) {
	go p.hub.Run(ctx)

	if p.jsonl != nil {
		p.spawn(func(in <-chan protocol.Sample) { p.jsonl.Consume(consumerCtx, in) })
	}
	if p.csv != nil {
		p.spawn(func(in <-chan protocol.Sample) { p.csv.Consume(consumerCtx, in) })
	}
	if p.detector != nil {
		p.spawn(func(in <-chan protocol.Sample) { p.detector.Consume(consumerCtx, in, p.onDecision) })
	}
	p.spawn(func(in <-chan protocol.Sample) { p.metrics.Consume(consumerCtx, in) })

	if p.bridge != nil {
		p.serve(func() {
			if err := p.bridge.Run(ctx); err != nil {
				logging.Error("foxglove bridge stopped", zap.Error(err))
			}
		})
	}
	if !p.opts.network {
		return
	}
	if p.cfg.Metrics.Addr != "" {
		p.serve(func() {
			if err := p.metrics.Serve(ctx, p.cfg.Metrics.Addr); err != nil {
				logging.Error("metrics endpoint stopped", zap.Error(err))
			}
		})
	}
	if p.cfg.Discovery.Enabled && p.bridge != nil {
		p.serve(func() {
			err := discovery.Advertise(ctx, discovery.Advertisement{
				Instance: p.cfg.Discovery.Instance,
				Addr:     p.bridge.Addr(),
				Session:  p.bridge.SessionID(),
				Topic:    p.cfg.Foxglove.Topic,
			})
			if err != nil {
				logging.Warn("mDNS advertisement failed", zap.Error(err))
			}
		})
	}
}

func (p *pipeline) spawn(consume func(in <-chan protocol.Sample)) {
	sub := p.hub.Subscribe()
	p.consumers.Add(1)
	go func() {
		defer p.consumers.Done()
		consume(sub)
	}()
}

func (p *pipeline) serve(fn func()) {
	p.servers.Add(1)
	go func() {
		defer p.servers.Done()
		fn()
	}()
}

func (p *pipeline) onDecision(dec analysis.Decision) {
	p.metrics.ObserveDecision(dec)
	if p.bridge != nil {
		p.bridge.PublishDecision(dec, time.Now())
	}
	if dec.Triggered {
		logging.Info("focus trigger",
			zap.Int("count", dec.Count),
			zap.Float64("sample_avg", dec.SampleAverage),
			zap.Int("window_avg", dec.FullAverage),
		)
	}
	if p.actuator != nil {
		if err := p.actuator.Apply(dec); err != nil {
			logging.Warn("actuator write failed", zap.Error(err))
		}
	}
}

// sourceOptions maps the source section onto transport options.
func (p *pipeline) sourceOptions() ([]transport.Option, error) {
	interval, err := p.cfg.ReconnectInterval()
	if err != nil {
		return nil, err
	}
	maxBackoff, err := p.cfg.ReconnectMax()
	if err != nil {
		return nil, err
	}
	return []transport.Option{
		transport.WithReconnectInterval(interval),
		transport.WithReconnectMax(maxBackoff),
		transport.WithBufferSize(p.cfg.Source.ReaderBuf),
		transport.WithErrorHandler(func(err error) {
			p.metrics.SourceError(err)
			logging.Warn("source error", zap.Error(err))
		}),
		transport.WithConnHandler(func(connected bool) {
			p.metrics.SourceConnected(connected)
			logging.Info("source state changed", zap.Bool("connected", connected))
		}),
	}, nil
}

// wait lets the consumers drain, then calls stop to shut the servers down
// and closes recorder files and the actuator port.
func (p *pipeline) wait(stop context.CancelFunc) {
	p.consumers.Wait()
	stop()
	p.servers.Wait()
	p.close()
}

func (p *pipeline) close() {
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			logging.Warn("close failed", zap.Error(err))
		}
	}
	p.closers = nil
}
