package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/triarb/internal/domain"
	"github.com/arbiterlabs/triarb/internal/guard"
	"github.com/arbiterlabs/triarb/internal/platform/binance"
)

func testDeps(t *testing.T, exchangeInfoJSON string, metadataBudget int) (*App, *Dependencies) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(exchangeInfoJSON))
	}))
	t.Cleanup(srv.Close)

	pairs := []domain.Pair{
		{Base: "BTC", Quote: "USDT"},
		{Base: "ETH", Quote: "USDT"},
		{Base: "ETH", Quote: "BTC"},
	}
	deps := &Dependencies{
		Pairs: pairs,
		Guard: guard.New(guard.Config{
			Budgets:          map[string]int{guard.ClassMetadata: metadataBudget},
			FailureThreshold: 3,
			CooldownBase:     10 * time.Second,
			CooldownMax:      time.Minute,
		}, slog.Default()),
		Rest: binance.NewRestClient(srv.URL, time.Second),
	}
	return &App{logger: slog.Default()}, deps
}

func TestTradablePairsExcludesHaltedAndUnknown(t *testing.T) {
	a, deps := testDeps(t, `{"symbols":[
		{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
		{"symbol":"ETHUSDT","status":"BREAK","baseAsset":"ETH","quoteAsset":"USDT"}
	]}`, 10)

	kept := a.tradablePairs(context.Background(), deps)

	require.Len(t, kept, 1, "halted and unknown pairs are not subscribed")
	assert.Equal(t, "BTCUSDT", kept[0].Symbol())
}

func TestTradablePairsKeepsAllWhenCheckUnavailable(t *testing.T) {
	// Zero metadata budget: the guard denies the check and the full list
	// stays subscribed.
	a, deps := testDeps(t, `{"symbols":[]}`, 0)

	kept := a.tradablePairs(context.Background(), deps)
	assert.Len(t, kept, len(deps.Pairs))
}
