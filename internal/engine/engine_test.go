package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/triarb/internal/domain"
	"github.com/arbiterlabs/triarb/internal/graph"
	"github.com/arbiterlabs/triarb/internal/pricecache"
	"github.com/arbiterlabs/triarb/internal/publish"
	"github.com/arbiterlabs/triarb/internal/scorer"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trianglePairs() []domain.Pair {
	return []domain.Pair{
		{Base: "BTC", Quote: "USDT"},
		{Base: "ETH", Quote: "BTC"},
		{Base: "ETH", Quote: "USDT"},
	}
}

func seedTriangle(t *testing.T, cache *pricecache.Cache) {
	t.Helper()
	prices := map[string]string{"BTCUSDT": "50000", "ETHBTC": "0.05", "ETHUSDT": "2600"}
	for _, p := range trianglePairs() {
		px := dec(prices[p.Symbol()])
		ok := cache.Put(domain.PriceTick{
			Pair:       p,
			BestBid:    px,
			BestAsk:    px,
			BidVolume:  dec("10"),
			AskVolume:  dec("10"),
			ObservedAt: time.Now(),
		})
		require.True(t, ok)
	}
}

func newTestEngine(t *testing.T, pub *publish.Publisher, triggerOnTick bool) (*Engine, *pricecache.Cache) {
	t.Helper()
	pairs := trianglePairs()
	cache := pricecache.New()
	det := graph.NewDetector(graph.New(pairs), 5*time.Second)
	sc := scorer.New(scorer.Config{
		FeeRatePerLeg: dec("0.001"),
		Filters: scorer.Filters{
			MinLegVolume:    dec("1"),
			MaxSpreadPct:    dec("1"),
			MinNetProfitPct: dec("0.1"),
		},
		DepthReference: dec("100"),
	}, nil, nil, slog.Default())

	e := New(Config{
		BaseAssets:    []string{"USDT"},
		Pairs:         pairs,
		Interval:      50 * time.Millisecond,
		TriggerOnTick: triggerOnTick,
	}, cache, det, sc, pub, slog.Default())
	return e, cache
}

func TestPassPublishesSortedBatch(t *testing.T) {
	pub := publish.NewPublisher(slog.Default())
	defer pub.Close()
	e, cache := newTestEngine(t, pub, false)
	seedTriangle(t, cache)

	ch, cancel := pub.Subscribe()
	defer cancel()

	opps := e.Pass(context.Background())
	require.Len(t, opps, 2, "forward and reverse round trips")

	best := opps[0]
	assert.Equal(t, [4]string{"USDT", "BTC", "ETH", "USDT"}, best.Route)
	assert.Equal(t, domain.OpportunityAccepted, best.Status)
	assert.True(t, best.GrossProfitPct.Equal(dec("4")), "gross %s", best.GrossProfitPct)

	worst := opps[1]
	assert.Equal(t, domain.OpportunityRejected, worst.Status)
	assert.Equal(t, scorer.RejectMinNetProfit, worst.RejectReason)
	assert.True(t, worst.NetProfitPct.LessThan(best.NetProfitPct))

	select {
	case batch := <-ch:
		assert.Equal(t, opps, batch)
	case <-time.After(time.Second):
		t.Fatal("batch not published")
	}
}

func TestPassWithEmptyCachePublishesEmptyBatch(t *testing.T) {
	pub := publish.NewPublisher(slog.Default())
	defer pub.Close()
	e, _ := newTestEngine(t, pub, false)

	opps := e.Pass(context.Background())
	assert.Empty(t, opps, "no fresh data, no cycles, no error")
}

func TestNoteTickCoalesces(t *testing.T) {
	pub := publish.NewPublisher(slog.Default())
	defer pub.Close()
	e, _ := newTestEngine(t, pub, true)

	for i := 0; i < 100; i++ {
		e.NoteTick() // must never block, even with no Run loop draining
	}
	assert.Len(t, e.nudge, 1, "burst collapses to a single pending trigger")
}

func TestNoteTickDisabled(t *testing.T) {
	pub := publish.NewPublisher(slog.Default())
	defer pub.Close()
	e, _ := newTestEngine(t, pub, false)

	e.NoteTick()
	assert.Empty(t, e.nudge)
}

func TestRunStopsOnCancel(t *testing.T) {
	pub := publish.NewPublisher(slog.Default())
	defer pub.Close()
	e, cache := newTestEngine(t, pub, false)
	seedTriangle(t, cache)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(120 * time.Millisecond) // at least one timer pass
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
