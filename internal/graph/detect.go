package graph

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbiterlabs/triarb/internal/domain"
)

var one = decimal.NewFromInt(1)

// Detector enumerates triangular cycles over a cache snapshot. Detection is a
// pure function of the snapshot plus the wall clock used for staleness; the
// clock is injectable so tests can freeze it.
type Detector struct {
	graph       *Graph
	staleWindow time.Duration
	clock       func() time.Time

	skippedStale   atomic.Uint64
	skippedMissing atomic.Uint64
}

// DetectorOption customizes a Detector.
type DetectorOption func(*Detector)

// WithClock overrides the wall clock used for the staleness predicate.
func WithClock(clock func() time.Time) DetectorOption {
	return func(d *Detector) { d.clock = clock }
}

// NewDetector creates a detector over the configured market graph.
func NewDetector(g *Graph, staleWindow time.Duration, opts ...DetectorOption) *Detector {
	d := &Detector{graph: g, staleWindow: staleWindow, clock: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stats reports data-quality counters: cycles skipped because a leg was
// stale, and leg lookups that found no usable snapshot entry.
type Stats struct {
	SkippedStale   uint64 `json:"skipped_stale"`
	SkippedMissing uint64 `json:"skipped_missing"`
}

// Stats returns the cumulative data-quality counters.
func (d *Detector) Stats() Stats {
	return Stats{
		SkippedStale:   d.skippedStale.Load(),
		SkippedMissing: d.skippedMissing.Load(),
	}
}

// Detect enumerates every triangular round trip reachable from the given base
// assets over the snapshot. For each base B it walks B→X→Y→B through the
// market graph; a missing market skips the combination silently, a stale leg
// skips the cycle for this pass. Each directed triangle is emitted at most
// once per pass even when several base assets lie on it; the forward and
// reverse directions of a triangle are distinct cycles and both are emitted.
func (d *Detector) Detect(baseAssets []string, snap map[string]domain.CacheEntry) []domain.Cycle {
	now := d.clock()
	seen := make(map[[3]string]struct{})
	var out []domain.Cycle

	for _, base := range baseAssets {
		for _, x := range d.graph.Neighbors(base) {
			if x == base {
				continue
			}
			for _, y := range d.graph.Neighbors(x) {
				if y == base || y == x {
					continue
				}
				if _, ok := d.graph.Market(y, base); !ok {
					continue
				}

				key := canonical(base, x, y)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				cycle, ok := d.buildCycle(base, x, y, snap, now)
				if ok {
					out = append(out, cycle)
				}
			}
		}
	}
	return out
}

// buildCycle assembles the three legs of base→x→y→base, rejecting the cycle
// when any leg has no fresh snapshot entry.
func (d *Detector) buildCycle(base, x, y string, snap map[string]domain.CacheEntry, now time.Time) (domain.Cycle, bool) {
	route := [4]string{base, x, y, base}
	var legs [3]domain.Leg
	rate := one

	for i := 0; i < 3; i++ {
		leg, ok := d.leg(route[i], route[i+1], snap, now)
		if !ok {
			return domain.Cycle{}, false
		}
		legs[i] = leg
		rate = rate.Mul(leg.Rate)
	}

	return domain.Cycle{Base: base, Legs: legs, GrossRate: rate}, true
}

// leg resolves the directional conversion from→to against the snapshot.
// Buying the destination asset (market quoted to/from) converts at 1/ask;
// selling the source asset (market quoted from/to) converts at bid. The two
// directions are never mixed for one leg.
func (d *Detector) leg(from, to string, snap map[string]domain.CacheEntry, now time.Time) (domain.Leg, bool) {
	pair, ok := d.graph.Market(from, to)
	if !ok {
		d.skippedMissing.Add(1)
		return domain.Leg{}, false
	}
	entry, ok := snap[pair.Symbol()]
	if !ok {
		d.skippedMissing.Add(1)
		return domain.Leg{}, false
	}
	if entry.Stale(now, d.staleWindow) {
		d.skippedStale.Add(1)
		return domain.Leg{}, false
	}

	tick := entry.Latest
	if !tick.BestBid.IsPositive() || !tick.BestAsk.IsPositive() {
		d.skippedMissing.Add(1)
		return domain.Leg{}, false
	}

	var r decimal.Decimal
	if pair.Base == to {
		r = one.Div(tick.BestAsk)
	} else {
		r = tick.BestBid
	}

	return domain.Leg{
		Pair:      pair,
		From:      from,
		To:        to,
		Rate:      r,
		Bid:       tick.BestBid,
		Ask:       tick.BestAsk,
		Volume:    tick.MinVolume(),
		SpreadPct: tick.SpreadPct(),
	}, true
}

// canonical rotates a directed triangle so the lexicographically smallest
// asset comes first. Rotations of the same directed cycle collapse to one
// key; the reverse direction keeps its own key.
func canonical(a, b, c string) [3]string {
	switch {
	case a <= b && a <= c:
		return [3]string{a, b, c}
	case b <= a && b <= c:
		return [3]string{b, c, a}
	default:
		return [3]string{c, a, b}
	}
}
