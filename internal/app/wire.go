package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	busredis "github.com/arbiterlabs/triarb/internal/bus/redis"
	"github.com/arbiterlabs/triarb/internal/config"
	"github.com/arbiterlabs/triarb/internal/domain"
	"github.com/arbiterlabs/triarb/internal/engine"
	"github.com/arbiterlabs/triarb/internal/graph"
	"github.com/arbiterlabs/triarb/internal/guard"
	"github.com/arbiterlabs/triarb/internal/notify"
	"github.com/arbiterlabs/triarb/internal/platform/binance"
	"github.com/arbiterlabs/triarb/internal/pricecache"
	"github.com/arbiterlabs/triarb/internal/publish"
	"github.com/arbiterlabs/triarb/internal/scorer"
	"github.com/arbiterlabs/triarb/internal/stream"
)

// Dependencies bundles every constructed component. Ownership is
// one-directional: the stream feeds the cache, the engine reads the cache and
// emits through the publisher; nothing holds a reference back up the chain.
type Dependencies struct {
	Pairs     []domain.Pair
	Cache     *pricecache.Cache
	Detector  *graph.Detector
	Guard     *guard.Guard
	Rest      *binance.RestClient
	Scorer    *scorer.Scorer
	Publisher *publish.Publisher
	Engine    *engine.Engine
	Stream    *stream.Client
	Bus       domain.SignalBus // nil when Redis is disabled
	Notifier  *notify.Notifier
	Announcer *notify.Announcer
}

// Wire constructs the full component graph from configuration and returns it
// with a cleanup function releasing resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pairs := make([]domain.Pair, 0, len(cfg.Exchange.Pairs))
	for _, s := range cfg.Exchange.Pairs {
		p, err := domain.ParsePair(s)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		pairs = append(pairs, p)
	}

	deps := &Dependencies{Pairs: pairs}

	deps.Cache = pricecache.New()
	deps.Detector = graph.NewDetector(graph.New(pairs), cfg.Cache.StaleWindow.Duration)

	deps.Guard = guard.New(guard.Config{
		Budgets: map[string]int{
			guard.ClassDepth:    cfg.Guard.DepthPerMinute,
			guard.ClassMetadata: cfg.Guard.MetadataPerMinute,
		},
		FailureThreshold: cfg.Guard.FailureThreshold,
		CooldownBase:     cfg.Guard.CooldownBase.Duration,
		CooldownMax:      cfg.Guard.CooldownMax.Duration,
	}, logger)

	deps.Rest = binance.NewRestClient(cfg.Exchange.RestURL, cfg.Scorer.RestTimeout.Duration)

	deps.Scorer = scorer.New(scorer.Config{
		FeeRatePerLeg: decimal.NewFromFloat(cfg.Scorer.FeeRatePerLeg),
		Filters: scorer.Filters{
			MinLegVolume:    decimal.NewFromFloat(cfg.Scorer.MinLegVolume),
			MaxSpreadPct:    decimal.NewFromFloat(cfg.Scorer.MaxSpreadPct),
			MinNetProfitPct: decimal.NewFromFloat(cfg.Scorer.MinNetProfitPct),
		},
		DepthReference: decimal.NewFromFloat(cfg.Scorer.DepthReference),
		EnrichDepth:    cfg.Scorer.EnrichDepth,
		DepthLimit:     cfg.Scorer.DepthLimit,
		RestTimeout:    cfg.Scorer.RestTimeout.Duration,
	}, deps.Rest, deps.Guard, logger)

	deps.Publisher = publish.NewPublisher(logger)
	closers = append(closers, deps.Publisher.Close)

	deps.Engine = engine.New(engine.Config{
		BaseAssets:    cfg.Detector.BaseAssets,
		Pairs:         pairs,
		Interval:      cfg.Detector.Interval.Duration,
		TriggerOnTick: cfg.Detector.TriggerOnTick,
	}, deps.Cache, deps.Detector, deps.Scorer, deps.Publisher, logger)

	// Redis signal bus, optional.
	if cfg.Redis.Enabled {
		redisClient, err := busredis.New(ctx, busredis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Bus = busredis.NewSignalBus(redisClient)
	}

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Announcer = notify.NewAnnouncer(deps.Notifier, decimal.NewFromFloat(cfg.Notify.MinProfitPct), logger)

	// Stream client last: its callbacks touch the components above. Accepted
	// ticks nudge the engine; status transitions go to the announcer and,
	// when Redis is up, to the dashboard status channel. Subscription happens
	// in Run, after the symbol metadata check has filtered the pair list.
	onTick := func(tick domain.PriceTick) {
		if deps.Cache.Put(tick) {
			deps.Engine.NoteTick()
		}
	}
	onStatus := func(ev domain.StatusEvent) {
		evCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		deps.Announcer.OnStatus(evCtx, ev)
		if deps.Bus != nil {
			if payload, err := json.Marshal(ev); err == nil {
				_ = deps.Bus.Publish(evCtx, busredis.ChannelStatus, payload)
			}
		}
	}
	deps.Stream = stream.New(stream.Config{
		URL:                 cfg.Exchange.WsURL,
		MaxStreamsPerConn:   cfg.Stream.MaxStreamsPerConn,
		BufferSize:          cfg.Stream.BufferSize,
		HeartbeatInterval:   cfg.Stream.HeartbeatInterval.Duration,
		ReadTimeoutMultiple: cfg.Stream.ReadTimeoutMultiple,
		ConnectTimeout:      cfg.Stream.ConnectTimeout.Duration,
		ReconnectBase:       cfg.Stream.ReconnectBase.Duration,
		ReconnectMax:        cfg.Stream.ReconnectMax.Duration,
	}, onTick, onStatus, logger)

	return deps, cleanup, nil
}
