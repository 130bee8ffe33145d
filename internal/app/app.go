// Package app owns the application lifecycle: it wires the component graph,
// starts the ingestion, detection and serving goroutines, and tears
// everything down in reverse order on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	busredis "github.com/arbiterlabs/triarb/internal/bus/redis"
	"github.com/arbiterlabs/triarb/internal/config"
	"github.com/arbiterlabs/triarb/internal/domain"
	"github.com/arbiterlabs/triarb/internal/guard"
	"github.com/arbiterlabs/triarb/internal/server"
	"github.com/arbiterlabs/triarb/internal/server/handler"
	"github.com/arbiterlabs/triarb/internal/server/ws"
)

// shutdownGrace bounds how long the HTTP server may drain on shutdown.
const shutdownGrace = 10 * time.Second

// App is the root application object.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
}

// New creates an App from validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now(),
	}
}

// Run wires all components, starts the goroutines and blocks until the
// context is cancelled or a component fails terminally.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.Int("pairs", len(a.cfg.Exchange.Pairs)),
		slog.Any("base_assets", a.cfg.Detector.BaseAssets),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := deps.Stream.Subscribe(a.tradablePairs(ctx, deps)); err != nil {
		return fmt.Errorf("app: subscribe: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Stream.Run(ctx) })
	g.Go(func() error { return deps.Engine.Run(ctx) })

	announceCh, cancelAnnounce := deps.Publisher.Subscribe()
	a.closers = append(a.closers, cancelAnnounce)
	g.Go(func() error { return deps.Announcer.Run(ctx, announceCh) })

	if deps.Bus != nil {
		bridgeCh, cancelBridge := deps.Publisher.Subscribe()
		a.closers = append(a.closers, cancelBridge)
		bridge := newBusBridge(deps.Bus, a.logger)
		g.Go(func() error { return bridge.Run(ctx, bridgeCh) })
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startServer builds the observability server and registers its goroutines.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, []string{
			busredis.ChannelOpportunities,
			busredis.ChannelStatus,
		}, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	statusProvider := func() handler.StatusSnapshot {
		return handler.StatusSnapshot{
			Connections: deps.Stream.Status(),
			Cache:       deps.Cache.Stats(),
			Detector:    deps.Detector.Stats(),
			Breakers:    deps.Guard.Snapshot(),
			Publisher:   deps.Publisher.Stats(),
			UptimeSec:   int64(time.Since(a.startedAt).Seconds()),
		}
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health: handler.NewHealthHandler(),
		Status: handler.NewStatusHandler(statusProvider),
	}, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// tradablePairs checks the configured pairs against exchange metadata at
// startup and drops the ones that are unknown or not currently trading, so
// the stream never subscribes to dead symbols. When the check itself cannot
// run the full list is kept: a missing check is loud but not fatal.
func (a *App) tradablePairs(ctx context.Context, deps *Dependencies) []domain.Pair {
	if !deps.Guard.Allow(guard.ClassMetadata) {
		a.logger.Warn("skipping exchange symbol check, metadata budget exhausted")
		return deps.Pairs
	}

	info, err := deps.Rest.ExchangeInfo(ctx)
	deps.Guard.RecordResult(guard.ClassMetadata, err == nil)
	if err != nil {
		a.logger.Warn("exchange symbol check failed", slog.String("error", err.Error()))
		return deps.Pairs
	}

	trading := make(map[string]bool, len(info.Symbols))
	for _, s := range info.Symbols {
		trading[s.Symbol] = s.Trading()
	}
	kept := make([]domain.Pair, 0, len(deps.Pairs))
	for _, p := range deps.Pairs {
		tr, known := trading[p.Symbol()]
		switch {
		case !known:
			a.logger.Warn("configured pair unknown to exchange, excluded", slog.String("pair", p.String()))
		case !tr:
			a.logger.Warn("configured pair not trading, excluded", slog.String("pair", p.String()))
		default:
			kept = append(kept, p)
		}
	}
	return kept
}

// Close tears down resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
