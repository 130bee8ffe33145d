package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/arbiterlabs/triarb/internal/domain"
)

// Announcer watches the opportunity feed and connection status and turns them
// into operator notifications. It consumes the publisher like any other
// subscriber: latest batch wins, alerting never back-pressures detection.
type Announcer struct {
	notifier  *Notifier
	minProfit decimal.Decimal
	logger    *slog.Logger
}

// NewAnnouncer creates an announcer. Opportunities below minProfit net are
// not announced even when accepted, so operators can run a permissive
// detection threshold without alert noise.
func NewAnnouncer(n *Notifier, minProfit decimal.Decimal, logger *slog.Logger) *Announcer {
	return &Announcer{
		notifier:  n,
		minProfit: minProfit,
		logger:    logger.With(slog.String("component", "announcer")),
	}
}

// Run consumes opportunity batches until the channel closes or ctx ends.
func (a *Announcer) Run(ctx context.Context, batches <-chan []domain.Opportunity) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			a.announce(ctx, batch)
		}
	}
}

// announce alerts on the best accepted opportunity of a batch, if any clears
// the announcement threshold.
func (a *Announcer) announce(ctx context.Context, batch []domain.Opportunity) {
	for _, opp := range batch {
		if opp.Status != domain.OpportunityAccepted {
			continue
		}
		if opp.NetProfitPct.LessThan(a.minProfit) {
			return // sorted descending: nothing further qualifies
		}
		title := fmt.Sprintf("Arbitrage: %s", strings.Join(opp.Route[:], "→"))
		msg := fmt.Sprintf("net %s%% (gross %s%%, slippage %s%%)\nmin leg volume %s, confidence %s",
			opp.NetProfitPct.StringFixed(4),
			opp.GrossProfitPct.StringFixed(4),
			opp.EstSlippagePct.StringFixed(4),
			opp.MinLegVolume.String(),
			opp.Confidence,
		)
		if err := a.notifier.Notify(ctx, EventArbDetected, title, msg); err != nil {
			a.logger.Warn("announcement failed", slog.String("error", err.Error()))
		}
		return // one alert per pass is enough
	}
}

// OnStatus forwards terminal and degraded connection transitions.
func (a *Announcer) OnStatus(ctx context.Context, ev domain.StatusEvent) {
	if ev.Status != domain.StatusFailed {
		return
	}
	title := fmt.Sprintf("Stream connection %d failed", ev.Conn)
	if err := a.notifier.Notify(ctx, EventStreamFailed, title, ev.Reason); err != nil {
		a.logger.Warn("status announcement failed", slog.String("error", err.Error()))
	}
}
