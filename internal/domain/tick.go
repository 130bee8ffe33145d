package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pair identifies a tradable market between a base and a quote asset,
// e.g. {Base: "BTC", Quote: "USDT"}.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ParsePair parses a "BASE/QUOTE" string (e.g. "BTC/USDT") into a Pair.
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Pair{}, fmt.Errorf("domain: pair %q: expected BASE/QUOTE", s)
	}
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return Pair{}, fmt.Errorf("domain: pair %q: empty base or quote", s)
	}
	return Pair{Base: base, Quote: quote}, nil
}

// Symbol returns the exchange wire symbol, e.g. "BTCUSDT".
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// IsZero reports whether the pair is the zero value.
func (p Pair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}

// PriceTick is the top-of-book for one pair at one exchange event time.
// Ticks are immutable once constructed; a newer tick supersedes an older one
// in the price cache, it never mutates it in place.
type PriceTick struct {
	Pair       Pair            `json:"pair"`
	BestBid    decimal.Decimal `json:"best_bid"`
	BestAsk    decimal.Decimal `json:"best_ask"`
	BidVolume  decimal.Decimal `json:"bid_volume"`
	AskVolume  decimal.Decimal `json:"ask_volume"`
	ObservedAt time.Time       `json:"observed_at"`
}

// SpreadPct returns the quoted spread as a percentage of the bid,
// ((ask-bid)/bid)×100, or zero when the bid is not positive.
func (t PriceTick) SpreadPct() decimal.Decimal {
	if !t.BestBid.IsPositive() {
		return decimal.Zero
	}
	return t.BestAsk.Sub(t.BestBid).Div(t.BestBid).Mul(hundred)
}

var hundred = decimal.NewFromInt(100)

// MinVolume returns the worse (smaller) of the two quoted top-of-book volumes.
func (t PriceTick) MinVolume() decimal.Decimal {
	if t.BidVolume.LessThan(t.AskVolume) {
		return t.BidVolume
	}
	return t.AskVolume
}

// CacheEntry wraps the latest tick for a pair together with the local time it
// was accepted into the cache. ReceivedAt is monotonically non-decreasing per
// pair; staleness is a read-time predicate, never a lifecycle state.
type CacheEntry struct {
	Latest     PriceTick `json:"latest"`
	ReceivedAt time.Time `json:"received_at"`
}

// Stale reports whether the entry is older than the staleness window at now.
func (e CacheEntry) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(e.ReceivedAt) > window
}
