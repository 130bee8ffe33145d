package pricecache

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/triarb/internal/domain"
)

var btcusdt = domain.Pair{Base: "BTC", Quote: "USDT"}

func tick(price string, observedAt time.Time) domain.PriceTick {
	px := decimal.RequireFromString(price)
	return domain.PriceTick{
		Pair:       btcusdt,
		BestBid:    px,
		BestAsk:    px,
		BidVolume:  decimal.NewFromInt(1),
		AskVolume:  decimal.NewFromInt(1),
		ObservedAt: observedAt,
	}
}

func TestPutOrderIndependence(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := tick("50000", base)
	t2 := tick("50100", base.Add(time.Second))

	// Applied in order: t2 wins.
	c := New()
	assert.True(t, c.Put(t1))
	assert.True(t, c.Put(t2))
	e, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.True(t, e.Latest.BestBid.Equal(t2.BestBid))

	// Applied out of order: t2 still wins, t1 is dropped.
	c = New()
	assert.True(t, c.Put(t2))
	assert.False(t, c.Put(t1))
	e, ok = c.Get("BTCUSDT")
	require.True(t, ok)
	assert.True(t, e.Latest.BestBid.Equal(t2.BestBid))
	assert.Equal(t, uint64(1), c.Stats().Dropped)
}

func TestPutDropsDuplicates(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New()

	require.True(t, c.Put(tick("50000", base)))
	assert.False(t, c.Put(tick("50500", base)), "same event time never overwrites")

	e, _ := c.Get("BTCUSDT")
	assert.True(t, e.Latest.BestBid.Equal(decimal.RequireFromString("50000")))
}

func TestStalenessIsReadTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(WithClock(func() time.Time { return now }))
	require.True(t, c.Put(tick("50000", now)))

	e, ok := c.Get("BTCUSDT")
	require.True(t, ok)

	window := 5 * time.Second
	assert.False(t, e.Stale(now.Add(4*time.Second), window))
	assert.True(t, e.Stale(now.Add(6*time.Second), window))

	// The entry is never deleted: still readable long past the window.
	e, ok = c.Get("BTCUSDT")
	assert.True(t, ok)
	assert.True(t, e.Stale(now.Add(time.Hour), window))
}

func TestReceivedAtMonotonic(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clockNow := base
	c := New(WithClock(func() time.Time { return clockNow }))

	require.True(t, c.Put(tick("50000", base)))

	// Local clock steps backwards (NTP correction); ReceivedAt must not.
	clockNow = base.Add(-time.Second)
	require.True(t, c.Put(tick("50100", base.Add(time.Second))))

	e, _ := c.Get("BTCUSDT")
	assert.Equal(t, base, e.ReceivedAt)
}

func TestConcurrentWritersConverge(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put(tick("50000", base.Add(time.Duration(i)*time.Millisecond)))
		}(i)
	}
	wg.Wait()

	e, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, base.Add((n-1)*time.Millisecond), e.Latest.ObservedAt,
		"the newest event time wins regardless of arrival order")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Pairs)
	assert.Equal(t, uint64(n), stats.Accepted+stats.Dropped)
}

func TestSnapshotOnlyRequestedSymbols(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New()
	require.True(t, c.Put(tick("50000", base)))

	eth := domain.PriceTick{
		Pair:       domain.Pair{Base: "ETH", Quote: "USDT"},
		BestBid:    decimal.NewFromInt(2600),
		BestAsk:    decimal.NewFromInt(2600),
		ObservedAt: base,
	}
	require.True(t, c.Put(eth))

	snap := c.Snapshot([]string{"BTCUSDT", "DOGEUSDT"})
	assert.Len(t, snap, 1)
	_, ok := snap["BTCUSDT"]
	assert.True(t, ok)
}
