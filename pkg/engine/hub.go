package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"brainlink/pkg/protocol"
)

// Hub fans samples out to subscribers. A subscriber whose buffer is full
// misses samples; publishers are never held up by a slow reader unless the
// hub was built WithLosslessDelivery.
type Hub struct {
	broadcast  chan protocol.Sample
	register   chan chan protocol.Sample
	unregister chan chan protocol.Sample
	clients    map[chan protocol.Sample]struct{}
	clientBuf  int
	lossless   bool

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan protocol.Sample, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

// WithLosslessDelivery makes Run wait for every subscriber. Offline replay
// uses it so recorders see every sample.
func WithLosslessDelivery() Option {
	return func(h *Hub) {
		h.lossless = true
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan protocol.Sample, 256),
		register:   make(chan chan protocol.Sample),
		unregister: make(chan chan protocol.Sample),
		clients:    make(map[chan protocol.Sample]struct{}),
		clientBuf:  128,
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeClients()
			return
		case <-h.closing:
			for {
				select {
				case sample := <-h.broadcast:
					h.deliver(ctx, sample)
				default:
					h.closeClients()
					return
				}
			}
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case sample := <-h.broadcast:
			h.deliver(ctx, sample)
		}
	}
}

// Close asks Run to deliver what is already buffered, close every
// subscriber and return.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.closing)
	})
}

func (h *Hub) deliver(ctx context.Context, sample protocol.Sample) {
	for ch := range h.clients {
		if h.lossless {
			select {
			case ch <- sample:
			case <-ctx.Done():
				h.dropped.Add(1)
			}
			continue
		}
		select {
		case ch <- sample:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) closeClients() {
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

func (h *Hub) Subscribe() chan protocol.Sample {
	return h.SubscribeWithBuffer(h.clientBuf)
}

func (h *Hub) SubscribeWithBuffer(size int) chan protocol.Sample {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan protocol.Sample, size)
	select {
	case h.register <- ch:
	case <-h.done:
		// Hub already stopped; hand back a closed subscription.
		close(ch)
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan protocol.Sample) {
	select {
	case h.unregister <- ch:
	case <-h.done:
	}
}

func (h *Hub) Publish(sample protocol.Sample) {
	h.published.Add(1)
	h.broadcast <- sample
}

// Published is the number of samples handed to Publish.
func (h *Hub) Published() uint64 {
	return h.published.Load()
}

// Dropped counts per-subscriber deliveries skipped because a buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// PublishContext is Publish that gives up when ctx is done.
func (h *Hub) PublishContext(ctx context.Context, sample protocol.Sample) bool {
	select {
	case h.broadcast <- sample:
		h.published.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}
