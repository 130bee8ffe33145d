// Package scorer turns raw cycles into scored, filtered opportunities.
// Scoring is decimal end to end; binary floats never touch the rate math.
package scorer

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arbiterlabs/triarb/internal/domain"
	"github.com/arbiterlabs/triarb/internal/guard"
	"github.com/arbiterlabs/triarb/internal/platform/binance"
)

// Reject reasons, in filter order. The first failing filter wins.
const (
	RejectMinVolume    = "min_volume"
	RejectMaxSpread    = "max_spread"
	RejectMinNetProfit = "min_net_profit"
)

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// Filters are the externally supplied acceptance thresholds. All values are
// policy, not constants: MinNetProfitPct may legitimately be negative to
// surface near-break-even routes for monitoring.
type Filters struct {
	MinLegVolume    decimal.Decimal
	MaxSpreadPct    decimal.Decimal
	MinNetProfitPct decimal.Decimal
}

// DepthFetcher fetches order-book depth for one pair. *binance.RestClient
// satisfies it.
type DepthFetcher interface {
	Depth(ctx context.Context, pair domain.Pair, limit int) (binance.DepthResponse, error)
}

// CallGuard is the admission interface of the REST guard.
type CallGuard interface {
	Allow(class string) bool
	RecordResult(class string, success bool)
}

// Config holds scorer parameters.
type Config struct {
	FeeRatePerLeg decimal.Decimal
	Filters       Filters
	// DepthReference is the per-leg volume above which execution is assumed
	// to cross only half the quoted spread instead of the full spread.
	DepthReference decimal.Decimal
	// EnrichDepth enables REST order-book lookups to refine per-leg volume
	// beyond top-of-book. Enrichment is strictly best effort.
	EnrichDepth bool
	DepthLimit  int
	RestTimeout time.Duration
}

// Scorer scores cycles from one detection pass. It never blocks a pass on a
// REST round trip: when the guard denies depth enrichment the score falls
// back to cached top-of-book data with a lower-confidence flag.
type Scorer struct {
	cfg    Config
	rest   DepthFetcher
	guard  CallGuard
	logger *slog.Logger
	clock  func() time.Time
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Scorer) { s.clock = clock }
}

// New creates a scorer. rest and g may be nil when depth enrichment is
// disabled.
func New(cfg Config, rest DepthFetcher, g CallGuard, logger *slog.Logger, opts ...Option) *Scorer {
	s := &Scorer{
		cfg:    cfg,
		rest:   rest,
		guard:  g,
		logger: logger.With(slog.String("component", "scorer")),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScorePass scores every cycle of a pass and returns the full record set
// sorted descending by net profit, ties broken by lower estimated slippage.
func (s *Scorer) ScorePass(ctx context.Context, cycles []domain.Cycle) []domain.Opportunity {
	out := make([]domain.Opportunity, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, s.Score(ctx, c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].NetProfitPct.Equal(out[j].NetProfitPct) {
			return out[i].NetProfitPct.GreaterThan(out[j].NetProfitPct)
		}
		return out[i].EstSlippagePct.LessThan(out[j].EstSlippagePct)
	})
	return out
}

// Score scores a single cycle. The result is always produced; rejection is a
// status plus the first failing filter's reason, never an error.
func (s *Scorer) Score(ctx context.Context, cycle domain.Cycle) domain.Opportunity {
	legs := cycle.Legs
	confidence := domain.ConfidenceTopOfBook
	if s.cfg.EnrichDepth && s.rest != nil && s.guard != nil {
		confidence = s.enrich(ctx, &legs)
	}

	minVolume := legs[0].Volume
	maxSpread := legs[0].SpreadPct
	for _, l := range legs[1:] {
		if l.Volume.LessThan(minVolume) {
			minVolume = l.Volume
		}
		if l.SpreadPct.GreaterThan(maxSpread) {
			maxSpread = l.SpreadPct
		}
	}

	grossPct := cycle.GrossRate.Sub(one).Mul(hundred)

	// Fees compound multiplicatively across the three hops, and so does the
	// slippage allowance: executing a leg is assumed to cost half the quoted
	// spread when the book is deep enough, the full spread when it is thin.
	feeFactor := one.Sub(s.cfg.FeeRatePerLeg)
	netRate := cycle.GrossRate.Mul(feeFactor).Mul(feeFactor).Mul(feeFactor)
	slipFactor := one
	for _, l := range legs {
		slipFactor = slipFactor.Mul(one.Sub(s.legSlippage(l)))
	}
	netRate = netRate.Mul(slipFactor)
	netPct := netRate.Sub(one).Mul(hundred)
	slipPct := one.Sub(slipFactor).Mul(hundred)

	opp := domain.Opportunity{
		ID:             uuid.NewString(),
		Route:          cycle.Route(),
		Legs:           legs,
		GrossProfitPct: grossPct,
		NetProfitPct:   netPct,
		EstSlippagePct: slipPct,
		MinLegVolume:   minVolume,
		MaxSpreadPct:   maxSpread,
		Confidence:     confidence,
		DetectedAt:     s.clock(),
		Status:         domain.OpportunityAccepted,
	}

	// Filters run cheapest first and short-circuit on the first failure.
	switch {
	case minVolume.LessThan(s.cfg.Filters.MinLegVolume):
		opp.Status = domain.OpportunityRejected
		opp.RejectReason = RejectMinVolume
	case maxSpread.GreaterThan(s.cfg.Filters.MaxSpreadPct):
		opp.Status = domain.OpportunityRejected
		opp.RejectReason = RejectMaxSpread
	case netPct.LessThan(s.cfg.Filters.MinNetProfitPct):
		opp.Status = domain.OpportunityRejected
		opp.RejectReason = RejectMinNetProfit
	}
	return opp
}

// legSlippage returns the per-leg slippage allowance as a fraction: half the
// quoted spread when the leg's volume reaches the depth reference, the full
// spread otherwise. Crossed books never produce a negative allowance.
func (s *Scorer) legSlippage(l domain.Leg) decimal.Decimal {
	spread := l.SpreadPct.Div(hundred)
	if spread.IsNegative() {
		return decimal.Zero
	}
	if s.cfg.DepthReference.IsPositive() && l.Volume.GreaterThanOrEqual(s.cfg.DepthReference) {
		return spread.Div(two)
	}
	return spread
}

// enrich refines each leg's volume with REST order-book depth, admission
// controlled by the guard. It returns depth confidence only when every leg
// was enriched; any denial or failure degrades to top-of-book and moves on.
func (s *Scorer) enrich(ctx context.Context, legs *[3]domain.Leg) domain.Confidence {
	confidence := domain.ConfidenceDepth
	for i := range legs {
		if !s.guard.Allow(guard.ClassDepth) {
			// Rate-limited or circuit open: score on cached data instead of
			// waiting out the guard.
			return domain.ConfidenceTopOfBook
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RestTimeout)
		depth, err := s.rest.Depth(callCtx, legs[i].Pair, s.cfg.DepthLimit)
		cancel()
		if err != nil {
			s.guard.RecordResult(guard.ClassDepth, false)
			s.logger.Debug("depth enrichment failed, scoring on top-of-book",
				slog.String("pair", legs[i].Pair.String()),
				slog.String("error", err.Error()),
			)
			confidence = domain.ConfidenceTopOfBook
			continue
		}
		s.guard.RecordResult(guard.ClassDepth, true)

		bidVol, askVol, err := binance.DepthVolumes(depth)
		if err != nil {
			confidence = domain.ConfidenceTopOfBook
			continue
		}
		// Execution crosses the ask side when buying the destination asset
		// and the bid side when selling the source.
		if legs[i].Pair.Base == legs[i].To {
			legs[i].Volume = askVol
		} else {
			legs[i].Volume = bidVol
		}
	}
	return confidence
}
