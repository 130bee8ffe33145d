package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.Exchange.WsURL = ""
	cfg.Exchange.Pairs = []string{"BTCUSDT"} // missing slash
	cfg.Stream.MaxStreamsPerConn = 0
	cfg.Guard.CooldownMax = duration{time.Second}
	cfg.Guard.CooldownBase = duration{time.Minute}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "log_level")
	assert.Contains(t, msg, "ws_url")
	assert.Contains(t, msg, "BTCUSDT")
	assert.Contains(t, msg, "max_streams_per_conn")
	assert.Contains(t, msg, "cooldown_max")
}

func TestValidateNegativeProfitThresholdAllowed(t *testing.T) {
	cfg := Defaults()
	cfg.Scorer.MinNetProfitPct = -0.5
	assert.NoError(t, cfg.Validate(), "negative thresholds surface near-break-even routes")
}

func TestValidateTelegramPairing(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.TelegramToken = "tok"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")

	cfg.Notify.TelegramChatID = "chat"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
log_level = "debug"

[exchange]
pairs = ["BTC/USDT", "ETH/USDT", "ETH/BTC"]

[detector]
interval = "250ms"
base_assets = ["USDT"]

[scorer]
min_net_profit_pct = -0.1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT", "ETH/BTC"}, cfg.Exchange.Pairs)
	assert.Equal(t, 250*time.Millisecond, cfg.Detector.Interval.Duration)
	assert.Equal(t, []string{"USDT"}, cfg.Detector.BaseAssets)
	assert.InDelta(t, -0.1, cfg.Scorer.MinNetProfitPct, 1e-9)

	// Untouched sections keep their defaults.
	assert.Equal(t, "wss://stream.binance.com:9443/ws", cfg.Exchange.WsURL)
	assert.Equal(t, 30*time.Second, cfg.Stream.HeartbeatInterval.Duration)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	t.Setenv("TRIARB_EXCHANGE_WS_URL", "wss://testnet.example/ws")
	t.Setenv("TRIARB_DETECTOR_BASE_ASSETS", "USDT, BTC")
	t.Setenv("TRIARB_CACHE_STALE_WINDOW", "2s")
	t.Setenv("TRIARB_SCORER_ENRICH_DEPTH", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://testnet.example/ws", cfg.Exchange.WsURL)
	assert.Equal(t, []string{"USDT", "BTC"}, cfg.Detector.BaseAssets)
	assert.Equal(t, 2*time.Second, cfg.Cache.StaleWindow.Duration)
	assert.True(t, cfg.Scorer.EnrichDepth)
}
