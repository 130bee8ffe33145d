// Package config defines the top-level configuration for the triangular
// arbitrage detector and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRIARB_* environment variables.
type Config struct {
	Exchange Exchange `toml:"exchange"`
	Stream   Stream   `toml:"stream"`
	Cache    Cache    `toml:"cache"`
	Detector Detector `toml:"detector"`
	Scorer   Scorer   `toml:"scorer"`
	Guard    Guard    `toml:"guard"`
	Redis    Redis    `toml:"redis"`
	Server   Server   `toml:"server"`
	Notify   Notify   `toml:"notify"`
	LogLevel string   `toml:"log_level"`
}

// Exchange holds exchange endpoints and the pair universe.
type Exchange struct {
	WsURL   string `toml:"ws_url"`
	RestURL string `toml:"rest_url"`
	// Pairs is the full list of markets to subscribe to, as "BASE/QUOTE".
	Pairs []string `toml:"pairs"`
}

// Stream holds stream client parameters.
type Stream struct {
	MaxStreamsPerConn int      `toml:"max_streams_per_conn"`
	BufferSize        int      `toml:"buffer_size"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	// ReadTimeoutMultiple × HeartbeatInterval with no inbound traffic declares
	// the connection dead.
	ReadTimeoutMultiple int      `toml:"read_timeout_multiple"`
	ConnectTimeout      duration `toml:"connect_timeout"`
	ReconnectBase       duration `toml:"reconnect_base"`
	ReconnectMax        duration `toml:"reconnect_max"`
}

// Cache holds price cache parameters.
type Cache struct {
	StaleWindow duration `toml:"stale_window"`
}

// Detector holds detection-pass parameters.
type Detector struct {
	// BaseAssets are the assets to triangulate from, e.g. ["USDT", "BTC"].
	BaseAssets []string `toml:"base_assets"`
	Interval   duration `toml:"interval"`
	// TriggerOnTick runs a pass as soon as new ticks arrive. Bursts coalesce
	// into one pass; Interval is the fallback cadence when no ticks come in.
	TriggerOnTick bool `toml:"trigger_on_tick"`
}

// Scorer holds profitability filters. All thresholds are policy, not
// constants; MinNetProfitPct may legitimately be negative to surface
// near-break-even routes for monitoring.
type Scorer struct {
	FeeRatePerLeg   float64 `toml:"fee_rate_per_leg"`
	MinNetProfitPct float64 `toml:"min_net_profit_pct"`
	MinLegVolume    float64 `toml:"min_leg_volume"`
	MaxSpreadPct    float64 `toml:"max_spread_pct"`
	// DepthReference is the top-of-book volume at or above which the slippage
	// allowance is half the quoted spread; below it, the full spread.
	DepthReference float64 `toml:"depth_reference"`
	// EnrichDepth enables REST order-book-depth enrichment through the guard.
	EnrichDepth bool     `toml:"enrich_depth"`
	DepthLimit  int      `toml:"depth_limit"`
	RestTimeout duration `toml:"rest_timeout"`
}

// Guard holds the REST guard budgets and circuit breaker parameters,
// per call class.
type Guard struct {
	DepthPerMinute    int      `toml:"depth_per_minute"`
	MetadataPerMinute int      `toml:"metadata_per_minute"`
	FailureThreshold  int      `toml:"failure_threshold"`
	CooldownBase      duration `toml:"cooldown_base"`
	CooldownMax       duration `toml:"cooldown_max"`
}

// Redis holds connection parameters for the outbound signal bus. Disabled
// means opportunities are only observable via the in-process publisher and
// the websocket hub.
type Redis struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Server holds HTTP/WebSocket push server parameters.
type Server struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the HTTP API when set; empty disables authentication.
	APIKey string `toml:"api_key"`
}

// Notify holds notification channel credentials.
type Notify struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// MinProfitPct gates arb_detected notifications so operators are not
	// paged for monitoring-only routes.
	MinProfitPct float64 `toml:"min_profit_pct"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "500ms", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: Exchange{
			WsURL:   "wss://stream.binance.com:9443/ws",
			RestURL: "https://api.binance.com/api/v3",
			Pairs: []string{
				"BTC/USDT", "ETH/USDT", "ETH/BTC",
				"BNB/USDT", "BNB/BTC", "BNB/ETH",
			},
		},
		Stream: Stream{
			MaxStreamsPerConn:   128,
			BufferSize:          4096,
			HeartbeatInterval:   duration{30 * time.Second},
			ReadTimeoutMultiple: 2,
			ConnectTimeout:      duration{15 * time.Second},
			ReconnectBase:       duration{500 * time.Millisecond},
			ReconnectMax:        duration{60 * time.Second},
		},
		Cache: Cache{
			StaleWindow: duration{5 * time.Second},
		},
		Detector: Detector{
			BaseAssets:    []string{"USDT", "BTC", "ETH"},
			Interval:      duration{500 * time.Millisecond},
			TriggerOnTick: true,
		},
		Scorer: Scorer{
			FeeRatePerLeg:   0.001,
			MinNetProfitPct: 0.1,
			MinLegVolume:    0.01,
			MaxSpreadPct:    2.0,
			DepthReference:  1.0,
			EnrichDepth:     false,
			DepthLimit:      20,
			RestTimeout:     duration{800 * time.Millisecond},
		},
		Guard: Guard{
			DepthPerMinute:    600,
			MetadataPerMinute: 20,
			FailureThreshold:  5,
			CooldownBase:      duration{10 * time.Second},
			CooldownMax:       duration{5 * time.Minute},
		},
		Redis: Redis{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Server: Server{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: Notify{
			Events:       []string{"arb_detected", "stream_failed"},
			MinProfitPct: 0.2,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Invalid configuration is
// fatal: continuing would silently produce meaningless output.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.WsURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if c.Exchange.RestURL == "" {
		errs = append(errs, "exchange: rest_url must not be empty")
	}
	if len(c.Exchange.Pairs) == 0 {
		errs = append(errs, "exchange: at least one pair is required")
	}
	for _, p := range c.Exchange.Pairs {
		if !strings.Contains(p, "/") {
			errs = append(errs, fmt.Sprintf("exchange: pair %q must be BASE/QUOTE", p))
		}
	}

	// Stream
	if c.Stream.MaxStreamsPerConn < 1 {
		errs = append(errs, "stream: max_streams_per_conn must be >= 1")
	}
	if c.Stream.BufferSize < 1 {
		errs = append(errs, "stream: buffer_size must be >= 1")
	}
	if c.Stream.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "stream: heartbeat_interval must be > 0")
	}
	if c.Stream.ReadTimeoutMultiple < 1 {
		errs = append(errs, "stream: read_timeout_multiple must be >= 1")
	}
	if c.Stream.ReconnectBase.Duration <= 0 {
		errs = append(errs, "stream: reconnect_base must be > 0")
	}
	if c.Stream.ReconnectMax.Duration < c.Stream.ReconnectBase.Duration {
		errs = append(errs, "stream: reconnect_max must be >= reconnect_base")
	}

	// Cache
	if c.Cache.StaleWindow.Duration <= 0 {
		errs = append(errs, "cache: stale_window must be > 0")
	}

	// Detector
	if len(c.Detector.BaseAssets) == 0 {
		errs = append(errs, "detector: at least one base asset is required")
	}
	if c.Detector.Interval.Duration <= 0 {
		errs = append(errs, "detector: interval must be > 0")
	}

	// Scorer. MinNetProfitPct may be negative on purpose.
	if c.Scorer.FeeRatePerLeg < 0 {
		errs = append(errs, "scorer: fee_rate_per_leg must be >= 0")
	}
	if c.Scorer.MinLegVolume < 0 {
		errs = append(errs, "scorer: min_leg_volume must be >= 0")
	}
	if c.Scorer.MaxSpreadPct <= 0 {
		errs = append(errs, "scorer: max_spread_pct must be > 0")
	}
	if c.Scorer.EnrichDepth {
		if c.Scorer.DepthLimit < 1 {
			errs = append(errs, "scorer: depth_limit must be >= 1 when enrich_depth is set")
		}
		if c.Scorer.RestTimeout.Duration <= 0 {
			errs = append(errs, "scorer: rest_timeout must be > 0 when enrich_depth is set")
		}
	}

	// Guard
	if c.Guard.DepthPerMinute < 1 {
		errs = append(errs, "guard: depth_per_minute must be >= 1")
	}
	if c.Guard.MetadataPerMinute < 1 {
		errs = append(errs, "guard: metadata_per_minute must be >= 1")
	}
	if c.Guard.FailureThreshold < 1 {
		errs = append(errs, "guard: failure_threshold must be >= 1")
	}
	if c.Guard.CooldownBase.Duration <= 0 {
		errs = append(errs, "guard: cooldown_base must be > 0")
	}
	if c.Guard.CooldownMax.Duration < c.Guard.CooldownBase.Duration {
		errs = append(errs, "guard: cooldown_max must be >= cooldown_base")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify. Token and chat id must be set together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
