package ws

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// chanBus feeds relayChannel from an in-memory channel.
type chanBus struct {
	msgs chan []byte
}

func (b *chanBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (b *chanBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}
func (b *chanBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return b.msgs, nil
}

func TestRelayStopsWhenRunHasExited(t *testing.T) {
	bus := &chanBus{msgs: make(chan []byte, 512)}
	h := NewHub(bus, nil, slog.Default())

	// Nobody drains h.broadcast, as after Run has returned. The relay must
	// still unwind on cancellation instead of blocking on a full buffer.
	for i := 0; i < cap(h.broadcast)+8; i++ {
		bus.msgs <- []byte(`{}`)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.relayChannel(ctx, "status")
		close(done)
	}()

	// Let the relay fill the broadcast buffer and block.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "relay goroutine leaked after cancellation")
	}
}
