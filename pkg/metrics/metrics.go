// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"brainlink/pkg/analysis"
	"brainlink/pkg/logging"
	"brainlink/pkg/protocol"
)

const namespace = "brainlink"

type Metrics struct {
	registry *prometheus.Registry

	bytes           prometheus.Counter
	packets         prometheus.Counter
	parseFailures   prometheus.Counter
	checksumErrors  prometheus.Counter
	oversizeLengths prometheus.Counter
	sourceErrors    prometheus.Counter
	focusTriggers   prometheus.Counter
	signalQuality   prometheus.Gauge
	focusLevel      prometheus.Gauge
	windowAverage   prometheus.Gauge
	connected       prometheus.Gauge

	mu   sync.Mutex
	last protocol.Stats
}

func New() *Metrics {
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		registry:        prometheus.NewRegistry(),
		bytes:           counter("decoder", "bytes_total", "Bytes fed to the frame decoder."),
		packets:         counter("decoder", "packets_total", "Packets that passed the checksum."),
		parseFailures:   counter("decoder", "parse_failures_total", "Packets whose payload did not parse cleanly."),
		checksumErrors:  counter("decoder", "checksum_errors_total", "Packets dropped on checksum mismatch."),
		oversizeLengths: counter("decoder", "oversize_lengths_total", "Packets aborted on a length above 32."),
		sourceErrors:    counter("source", "errors_total", "Open and read failures on the byte source."),
		focusTriggers:   counter("focus", "triggers_total", "Focus detector triggers."),
		signalQuality:   gauge("headset", "signal_quality", "Last reported poor-signal value, 0 is best."),
		focusLevel:      gauge("headset", "focus", "Last reported focus level."),
		windowAverage:   gauge("focus", "window_average", "Truncated average of the raw window at the last evaluation."),
		connected:       gauge("source", "connected", "1 while the byte source is open."),
	}
	m.registry.MustRegister(
		m.bytes, m.packets, m.parseFailures, m.checksumErrors, m.oversizeLengths,
		m.sourceErrors, m.focusTriggers,
		m.signalQuality, m.focusLevel, m.windowAverage, m.connected,
	)
	return m
}

// Registry is exposed for callers that add their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStats adds the growth since the previous snapshot. Decoder
// counters are cumulative, so a snapshot smaller than the last one is
// treated as a fresh decoder.
func (m *Metrics) ObserveStats(s protocol.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := m.last
	if s.Bytes < last.Bytes {
		last = protocol.Stats{}
	}
	m.bytes.Add(float64(s.Bytes - last.Bytes))
	m.packets.Add(float64(s.Packets - last.Packets))
	m.parseFailures.Add(float64(s.ParseFailures - last.ParseFailures))
	m.checksumErrors.Add(float64(s.ChecksumErrors - last.ChecksumErrors))
	m.oversizeLengths.Add(float64(s.OversizeLengths - last.OversizeLengths))
	m.last = s
}

func (m *Metrics) ObserveSample(s protocol.Sample) {
	m.signalQuality.Set(float64(s.Record.SignalQuality))
	m.focusLevel.Set(float64(s.Record.Focus))
}

func (m *Metrics) ObserveDecision(dec analysis.Decision) {
	m.windowAverage.Set(float64(dec.FullAverage))
	if dec.Triggered {
		m.focusTriggers.Inc()
	}
}

func (m *Metrics) SourceError(error) {
	m.sourceErrors.Inc()
}

func (m *Metrics) SourceConnected(connected bool) {
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// RegisterHub exposes the hub's fan-out counters.
func (m *Metrics) RegisterHub(published func() uint64, dropped func() uint64) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "published_total",
			Help:      "Samples accepted by the hub.",
		}, func() float64 { return float64(published()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Samples dropped for slow subscribers.",
		}, func() float64 { return float64(dropped()) }),
	)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve blocks until ctx is done or the listener fails.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logging.Info("metrics listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
}

// Consume tracks headset gauges from a hub subscription.
func (m *Metrics) Consume(ctx context.Context, in <-chan protocol.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			m.ObserveSample(s)
		}
	}
}
