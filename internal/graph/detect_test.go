package graph

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/triarb/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func triangleGraph() *Graph {
	return New([]domain.Pair{
		{Base: "BTC", Quote: "USDT"},
		{Base: "ETH", Quote: "BTC"},
		{Base: "ETH", Quote: "USDT"},
	})
}

func entry(pair domain.Pair, bid, ask string, receivedAt time.Time) domain.CacheEntry {
	return domain.CacheEntry{
		Latest: domain.PriceTick{
			Pair:       pair,
			BestBid:    decimal.RequireFromString(bid),
			BestAsk:    decimal.RequireFromString(ask),
			BidVolume:  decimal.NewFromInt(10),
			AskVolume:  decimal.NewFromInt(10),
			ObservedAt: receivedAt,
		},
		ReceivedAt: receivedAt,
	}
}

func triangleSnapshot() map[string]domain.CacheEntry {
	return map[string]domain.CacheEntry{
		"BTCUSDT": entry(domain.Pair{Base: "BTC", Quote: "USDT"}, "50000", "50000", testNow),
		"ETHBTC":  entry(domain.Pair{Base: "ETH", Quote: "BTC"}, "0.05", "0.05", testNow),
		"ETHUSDT": entry(domain.Pair{Base: "ETH", Quote: "USDT"}, "2600", "2600", testNow),
	}
}

func frozenDetector(window time.Duration) *Detector {
	return NewDetector(triangleGraph(), window, WithClock(func() time.Time { return testNow }))
}

func TestDetectRoundTripIdentity(t *testing.T) {
	d := frozenDetector(5 * time.Second)

	cycles := d.Detect([]string{"USDT"}, triangleSnapshot())
	require.Len(t, cycles, 2, "forward and reverse round trips are distinct cycles")

	var forward *domain.Cycle
	for i := range cycles {
		if cycles[i].RouteString() == "USDT→BTC→ETH→USDT" {
			forward = &cycles[i]
		}
	}
	require.NotNil(t, forward)

	// (1/50000) × (1/0.05) × 2600 = 1.04, a 4% gross round trip.
	assert.True(t, forward.GrossRate.Equal(decimal.RequireFromString("1.04")),
		"gross rate %s", forward.GrossRate)

	legs := forward.Legs
	assert.Equal(t, "USDT", legs[0].From)
	assert.Equal(t, "BTC", legs[0].To)
	assert.Equal(t, "BTCUSDT", legs[0].Pair.Symbol())
	assert.Equal(t, "ETHBTC", legs[1].Pair.Symbol())
	assert.Equal(t, "ETHUSDT", legs[2].Pair.Symbol())
	assert.True(t, legs[2].Rate.Equal(decimal.RequireFromString("2600")),
		"selling ETH for USDT converts at the bid")
}

func TestDetectSkipsMissingPair(t *testing.T) {
	d := frozenDetector(5 * time.Second)

	snap := triangleSnapshot()
	delete(snap, "ETHUSDT")

	cycles := d.Detect([]string{"USDT"}, snap)
	assert.Empty(t, cycles, "a cycle with an unquoted leg is skipped, not an error")
	assert.NotZero(t, d.Stats().SkippedMissing)
}

func TestDetectSkipsStaleLeg(t *testing.T) {
	d := frozenDetector(5 * time.Second)

	snap := triangleSnapshot()
	old := snap["ETHBTC"]
	old.ReceivedAt = testNow.Add(-6 * time.Second)
	snap["ETHBTC"] = old

	cycles := d.Detect([]string{"USDT"}, snap)
	assert.Empty(t, cycles, "one stale leg invalidates the whole cycle for this pass")
	assert.NotZero(t, d.Stats().SkippedStale)
}

func TestDetectDeduplicatesAcrossBases(t *testing.T) {
	d := frozenDetector(5 * time.Second)

	// USDT and BTC both sit on the same triangle: each directed cycle must
	// still be emitted exactly once per pass.
	cycles := d.Detect([]string{"USDT", "BTC"}, triangleSnapshot())
	assert.Len(t, cycles, 2)
}

func TestDetectIgnoresNonPositiveQuotes(t *testing.T) {
	d := frozenDetector(5 * time.Second)

	snap := triangleSnapshot()
	bad := snap["BTCUSDT"]
	bad.Latest.BestBid = decimal.Zero
	snap["BTCUSDT"] = bad

	assert.Empty(t, d.Detect([]string{"USDT"}, snap))
}

func TestCanonicalRotation(t *testing.T) {
	assert.Equal(t, canonical("USDT", "BTC", "ETH"), canonical("BTC", "ETH", "USDT"))
	assert.Equal(t, canonical("USDT", "BTC", "ETH"), canonical("ETH", "USDT", "BTC"))
	assert.NotEqual(t, canonical("USDT", "BTC", "ETH"), canonical("USDT", "ETH", "BTC"),
		"reverse direction is a distinct cycle")
}

func TestGraphNeighbors(t *testing.T) {
	g := triangleGraph()
	assert.Equal(t, []string{"BTC", "ETH"}, g.Neighbors("USDT"))

	p, ok := g.Market("USDT", "BTC")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", p.Symbol())

	_, ok = g.Market("USDT", "DOGE")
	assert.False(t, ok)
}
