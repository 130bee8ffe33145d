// Package engine drives detection passes. Each pass takes an independent
// best-effort snapshot of the price cache, enumerates cycles, scores them and
// publishes the batch; passes are never reconciled with each other.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/arbiterlabs/triarb/internal/domain"
	"github.com/arbiterlabs/triarb/internal/graph"
	"github.com/arbiterlabs/triarb/internal/pricecache"
	"github.com/arbiterlabs/triarb/internal/publish"
	"github.com/arbiterlabs/triarb/internal/scorer"
)

// Config holds engine parameters.
type Config struct {
	BaseAssets []string
	Pairs      []domain.Pair
	Interval   time.Duration
	// TriggerOnTick additionally runs a pass when a tick arrives between
	// timer firings. Tick triggers are coalesced: a burst of ticks causes at
	// most one extra pass.
	TriggerOnTick bool
}

// Engine owns the pass loop. Construction wires one-directional ownership:
// the engine reads the cache and detector, calls the scorer, and emits
// through the publisher; none of those hold a reference back.
type Engine struct {
	cfg       Config
	symbols   []string
	cache     *pricecache.Cache
	detector  *graph.Detector
	scorer    *scorer.Scorer
	publisher *publish.Publisher
	logger    *slog.Logger

	nudge chan struct{}
}

// New creates an engine over already-constructed components.
func New(cfg Config, cache *pricecache.Cache, det *graph.Detector, sc *scorer.Scorer, pub *publish.Publisher, logger *slog.Logger) *Engine {
	symbols := make([]string, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		symbols = append(symbols, p.Symbol())
	}
	return &Engine{
		cfg:       cfg,
		symbols:   symbols,
		cache:     cache,
		detector:  det,
		scorer:    sc,
		publisher: pub,
		logger:    logger.With(slog.String("component", "engine")),
		nudge:     make(chan struct{}, 1),
	}
}

// NoteTick requests an extra pass. Safe to call from the stream dispatch
// path: it never blocks, bursts coalesce into one pending trigger.
func (e *Engine) NoteTick() {
	if !e.cfg.TriggerOnTick {
		return
	}
	select {
	case e.nudge <- struct{}{}:
	default:
	}
}

// Run executes passes on the configured interval (plus coalesced tick
// triggers) until the context ends.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.logger.Info("detection driver started",
		slog.Duration("interval", e.cfg.Interval),
		slog.Bool("trigger_on_tick", e.cfg.TriggerOnTick),
		slog.Int("pairs", len(e.symbols)),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("detection driver stopped")
			return ctx.Err()
		case <-ticker.C:
			e.Pass(ctx)
		case <-e.nudge:
			e.Pass(ctx)
		}
	}
}

// Pass runs one snapshot→detect→score→publish cycle.
func (e *Engine) Pass(ctx context.Context) []domain.Opportunity {
	started := time.Now()

	snap := e.cache.Snapshot(e.symbols)
	cycles := e.detector.Detect(e.cfg.BaseAssets, snap)
	opps := e.scorer.ScorePass(ctx, cycles)
	e.publisher.Publish(opps)

	accepted := 0
	for _, o := range opps {
		if o.Status == domain.OpportunityAccepted {
			accepted++
		}
	}
	attrs := []any{
		slog.Int("cycles", len(cycles)),
		slog.Int("opportunities", len(opps)),
		slog.Int("accepted", accepted),
		slog.Duration("elapsed", time.Since(started)),
	}
	if len(opps) > 0 {
		attrs = append(attrs,
			slog.String("best_route", opps[0].Route[0]+"→"+opps[0].Route[1]+"→"+opps[0].Route[2]+"→"+opps[0].Route[3]),
			slog.String("best_net_pct", opps[0].NetProfitPct.StringFixed(4)),
		)
	}
	if accepted > 0 {
		e.logger.Info("pass complete", attrs...)
	} else {
		e.logger.Debug("pass complete", attrs...)
	}
	return opps
}
