package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Leg is one directional conversion in a triangular route: selling or buying
// through a single quoted pair.
type Leg struct {
	Pair      Pair            `json:"pair"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"` // units of To per unit of From
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"` // worse of the two quoted volumes
	SpreadPct decimal.Decimal `json:"spread_pct"`
}

// Cycle is an ordered three-leg round trip starting and ending at Base.
// It is derived from a graph snapshot and never persisted.
type Cycle struct {
	Base      string          `json:"base"`
	Legs      [3]Leg          `json:"legs"`
	GrossRate decimal.Decimal `json:"gross_rate"` // product of the three leg rates
}

// Route returns the four-asset route Base→mid1→mid2→Base.
func (c Cycle) Route() [4]string {
	return [4]string{c.Base, c.Legs[0].To, c.Legs[1].To, c.Base}
}

// RouteString renders the route as "USDT→BTC→ETH→USDT".
func (c Cycle) RouteString() string {
	r := c.Route()
	return strings.Join(r[:], "→")
}

// OpportunityStatus is the lifecycle state of a scored opportunity.
type OpportunityStatus string

const (
	OpportunityCandidate OpportunityStatus = "candidate"
	OpportunityAccepted  OpportunityStatus = "accepted"
	OpportunityRejected  OpportunityStatus = "rejected"
)

// Confidence indicates which data backed the volume estimate of an
// opportunity: full order-book depth, or cached top-of-book only (REST
// enrichment denied or failed).
type Confidence string

const (
	ConfidenceDepth     Confidence = "depth"
	ConfidenceTopOfBook Confidence = "top_of_book"
)

// Opportunity is one scored triangular route from a single detection pass.
// Opportunities carry no identity across passes; each pass produces fresh
// records that supersede the previous pass entirely.
type Opportunity struct {
	ID             string            `json:"id"`
	Route          [4]string         `json:"route"`
	Legs           [3]Leg            `json:"legs"`
	GrossProfitPct decimal.Decimal   `json:"gross_profit_pct"`
	NetProfitPct   decimal.Decimal   `json:"net_profit_pct"`
	EstSlippagePct decimal.Decimal   `json:"est_slippage_pct"`
	MinLegVolume   decimal.Decimal   `json:"min_leg_volume"`
	MaxSpreadPct   decimal.Decimal   `json:"max_spread_pct"`
	Confidence     Confidence        `json:"confidence"`
	DetectedAt     time.Time         `json:"detected_at"`
	Status         OpportunityStatus `json:"status"`
	RejectReason   string            `json:"reject_reason,omitempty"`
}
