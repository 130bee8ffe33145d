package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRIARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRIARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject endpoints and secrets at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.WsURL, "TRIARB_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.RestURL, "TRIARB_EXCHANGE_REST_URL")
	setStringSlice(&cfg.Exchange.Pairs, "TRIARB_EXCHANGE_PAIRS")

	// ── Stream ──
	setInt(&cfg.Stream.MaxStreamsPerConn, "TRIARB_STREAM_MAX_STREAMS_PER_CONN")
	setInt(&cfg.Stream.BufferSize, "TRIARB_STREAM_BUFFER_SIZE")
	setDuration(&cfg.Stream.HeartbeatInterval, "TRIARB_STREAM_HEARTBEAT_INTERVAL")
	setInt(&cfg.Stream.ReadTimeoutMultiple, "TRIARB_STREAM_READ_TIMEOUT_MULTIPLE")
	setDuration(&cfg.Stream.ConnectTimeout, "TRIARB_STREAM_CONNECT_TIMEOUT")
	setDuration(&cfg.Stream.ReconnectBase, "TRIARB_STREAM_RECONNECT_BASE")
	setDuration(&cfg.Stream.ReconnectMax, "TRIARB_STREAM_RECONNECT_MAX")

	// ── Cache ──
	setDuration(&cfg.Cache.StaleWindow, "TRIARB_CACHE_STALE_WINDOW")

	// ── Detector ──
	setStringSlice(&cfg.Detector.BaseAssets, "TRIARB_DETECTOR_BASE_ASSETS")
	setDuration(&cfg.Detector.Interval, "TRIARB_DETECTOR_INTERVAL")
	setBool(&cfg.Detector.TriggerOnTick, "TRIARB_DETECTOR_TRIGGER_ON_TICK")

	// ── Scorer ──
	setFloat64(&cfg.Scorer.FeeRatePerLeg, "TRIARB_SCORER_FEE_RATE_PER_LEG")
	setFloat64(&cfg.Scorer.MinNetProfitPct, "TRIARB_SCORER_MIN_NET_PROFIT_PCT")
	setFloat64(&cfg.Scorer.MinLegVolume, "TRIARB_SCORER_MIN_LEG_VOLUME")
	setFloat64(&cfg.Scorer.MaxSpreadPct, "TRIARB_SCORER_MAX_SPREAD_PCT")
	setFloat64(&cfg.Scorer.DepthReference, "TRIARB_SCORER_DEPTH_REFERENCE")
	setBool(&cfg.Scorer.EnrichDepth, "TRIARB_SCORER_ENRICH_DEPTH")
	setInt(&cfg.Scorer.DepthLimit, "TRIARB_SCORER_DEPTH_LIMIT")
	setDuration(&cfg.Scorer.RestTimeout, "TRIARB_SCORER_REST_TIMEOUT")

	// ── Guard ──
	setInt(&cfg.Guard.DepthPerMinute, "TRIARB_GUARD_DEPTH_PER_MINUTE")
	setInt(&cfg.Guard.MetadataPerMinute, "TRIARB_GUARD_METADATA_PER_MINUTE")
	setInt(&cfg.Guard.FailureThreshold, "TRIARB_GUARD_FAILURE_THRESHOLD")
	setDuration(&cfg.Guard.CooldownBase, "TRIARB_GUARD_COOLDOWN_BASE")
	setDuration(&cfg.Guard.CooldownMax, "TRIARB_GUARD_COOLDOWN_MAX")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRIARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRIARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRIARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRIARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRIARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRIARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRIARB_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRIARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRIARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRIARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRIARB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRIARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRIARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRIARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRIARB_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.MinProfitPct, "TRIARB_NOTIFY_MIN_PROFIT_PCT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "TRIARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
