package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brainlink/pkg/engine"
	"brainlink/pkg/protocol"
)

func TestHubDoesNotBlockOnSlowConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := engine.NewHub(engine.WithBroadcastBuffer(1), engine.WithClientBuffer(1))
	go hub.Run(ctx)

	fast := hub.SubscribeWithBuffer(128)
	slow := hub.SubscribeWithBuffer(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			hub.Publish(protocol.Sample{Seq: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("publish blocked on slow consumer")
	}

	received := 0
	timeout := time.After(1 * time.Second)
	for received < 50 {
		select {
		case <-fast:
			received++
		case <-timeout:
			t.Fatalf("fast consumer timeout after %d samples", received)
		}
	}

	count := 0
	for {
		select {
		case <-slow:
			count++
		default:
			if count > 1 {
				t.Fatalf("slow consumer received %d samples, expected at most 1", count)
			}
			assert.Equal(t, uint64(50), hub.Published())
			assert.Eventually(t, func() bool {
				return hub.Dropped() >= 48
			}, time.Second, 10*time.Millisecond)
			return
		}
	}
}

func TestHubClosesSubscribersOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := engine.NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	sub := hub.Subscribe()
	cancel()
	<-stopped

	_, ok := <-sub
	require.False(t, ok, "subscriber channel should be closed")
}

func TestHubPublishContextGivesUp(t *testing.T) {
	hub := engine.NewHub(engine.WithBroadcastBuffer(1))
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, hub.PublishContext(ctx, protocol.Sample{Seq: 1}))
	cancel()
	// Hub is not running and the buffer is full.
	require.False(t, hub.PublishContext(ctx, protocol.Sample{Seq: 2}))
	assert.Equal(t, uint64(1), hub.Published())
}

func TestHubCloseFlushesBufferedSamples(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := engine.NewHub(engine.WithLosslessDelivery(), engine.WithClientBuffer(1))
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	sub := hub.Subscribe()

	for i := 1; i <= 20; i++ {
		hub.Publish(protocol.Sample{Seq: uint64(i)})
	}
	hub.Close()

	var got []uint64
	for s := range sub {
		got = append(got, s.Seq)
	}
	<-stopped

	require.Len(t, got, 20)
	assert.Equal(t, uint64(20), got[19])
	assert.Zero(t, hub.Dropped())
}

func TestHubSubscribeAfterStopReturnsClosedChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := engine.NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	sub := hub.Subscribe()
	_, ok := <-sub
	assert.False(t, ok)
	hub.Unsubscribe(sub)
}
