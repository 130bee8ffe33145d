package app

import (
	"context"
	"encoding/json"
	"log/slog"

	busredis "github.com/arbiterlabs/triarb/internal/bus/redis"
	"github.com/arbiterlabs/triarb/internal/domain"
)

// busBridge forwards published opportunity batches onto the signal bus so
// out-of-process consumers (dashboard, AI analyzer) can read them. It is an
// ordinary publisher subscriber: latest batch wins, a slow Redis never
// back-pressures detection.
type busBridge struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func newBusBridge(bus domain.SignalBus, logger *slog.Logger) *busBridge {
	return &busBridge{
		bus:    bus,
		logger: logger.With(slog.String("component", "bus_bridge")),
	}
}

// Run consumes batches until the channel closes or ctx ends. Each batch goes
// to the live pub/sub channel and to the bounded replay stream.
func (b *busBridge) Run(ctx context.Context, batches <-chan []domain.Opportunity) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			b.forward(ctx, batch)
		}
	}
}

func (b *busBridge) forward(ctx context.Context, batch []domain.Opportunity) {
	payload, err := json.Marshal(batch)
	if err != nil {
		b.logger.Error("marshal batch", slog.String("error", err.Error()))
		return
	}
	if err := b.bus.Publish(ctx, busredis.ChannelOpportunities, payload); err != nil {
		b.logger.Warn("bus publish failed", slog.String("error", err.Error()))
	}
	if err := b.bus.StreamAppend(ctx, busredis.StreamOpportunities, payload); err != nil {
		b.logger.Warn("stream append failed", slog.String("error", err.Error()))
	}
}
