package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"brainlink/pkg/logging"
	"brainlink/pkg/protocol"
)

// Pump is the single goroutine allowed to drive a Decoder. It feeds every
// chunk from the transport and publishes the resulting samples on a Hub.
type Pump struct {
	dec       *protocol.Decoder
	hub       *Hub
	now       func() time.Time
	statsHook func(protocol.Stats)

	ctx  context.Context
	seq  uint64
	last protocol.Stats
}

type PumpOption func(*Pump)

// WithClock replaces time.Now for sample timestamps.
func WithClock(now func() time.Time) PumpOption {
	return func(p *Pump) {
		if now != nil {
			p.now = now
		}
	}
}

// WithStatsHook is called after every chunk with the decoder's counters.
func WithStatsHook(fn func(protocol.Stats)) PumpOption {
	return func(p *Pump) {
		p.statsHook = fn
	}
}

func NewPump(dec *protocol.Decoder, hub *Hub, opts ...PumpOption) *Pump {
	p := &Pump{
		dec: dec,
		hub: hub,
		now: time.Now,
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	dec.AddListener(p)
	return p
}

// OnRecord stamps a record and hands it to the hub.
func (p *Pump) OnRecord(rec protocol.TelemetryRecord, parseOK bool) {
	p.seq++
	sample := protocol.Sample{
		Seq:       p.seq,
		Timestamp: p.now(),
		Record:    rec,
		ParseOK:   parseOK,
	}
	if !parseOK {
		logging.Debug("payload contained unknown code", zap.Uint64("seq", sample.Seq))
	}
	if p.hub != nil {
		p.hub.PublishContext(p.ctx, sample)
	}
}

// Run returns when ctx is done or chunks is closed.
func (p *Pump) Run(ctx context.Context, chunks <-chan []byte) {
	p.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			p.Feed(chunk)
		}
	}
}

// Feed pushes one chunk through the decoder synchronously.
func (p *Pump) Feed(chunk []byte) {
	logging.LogRawBytes("chunk", chunk)
	p.dec.Feed(chunk)

	stats := p.dec.Stats()
	if d := stats.ChecksumErrors - p.last.ChecksumErrors; d > 0 {
		logging.Debug("dropped packets with bad checksum", zap.Uint64("count", d))
	}
	if d := stats.OversizeLengths - p.last.OversizeLengths; d > 0 {
		logging.Debug("dropped packets with oversize length", zap.Uint64("count", d))
	}
	p.last = stats
	if p.statsHook != nil {
		p.statsHook(stats)
	}
}
