package binance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbiterlabs/triarb/internal/domain"
)

// WSCommand is the stream control message format: {"method":"SUBSCRIBE",
// "params":["btcusdt@ticker"],"id":1}.
type WSCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// WSResponse is the acknowledgement for a WSCommand, or an error frame.
type WSResponse struct {
	Result any    `json:"result"`
	ID     uint64 `json:"id"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

// TickerMessage is the 24hr rolling ticker stream payload (<symbol>@ticker).
// Only the fields the normalizer needs are decoded.
type TickerMessage struct {
	EventType string `json:"e"` // "24hrTicker"
	EventTime int64  `json:"E"` // exchange event time, ms
	Symbol    string `json:"s"`
	BidPrice  string `json:"b"`
	BidQty    string `json:"B"`
	AskPrice  string `json:"a"`
	AskQty    string `json:"A"`
}

// DepthResponse is the REST order-book depth payload (GET /depth).
type DepthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"` // [price, qty]
	Asks         [][2]string `json:"asks"`
}

// ExchangeInfo is the REST symbol-metadata payload (GET /exchangeInfo),
// reduced to trading-status fields.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo is one market's metadata.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"` // "TRADING" when live
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// Trading reports whether the market is currently open for trading.
func (s SymbolInfo) Trading() bool {
	return s.Status == "TRADING"
}

// NormalizeTicker validates a raw ticker payload and converts it into a
// canonical domain.PriceTick. This is the single ingestion boundary: anything
// malformed (unknown symbol, non-numeric field, non-positive price) is
// rejected here with domain.ErrMalformed and never reaches the pipeline.
func NormalizeTicker(msg TickerMessage, pair domain.Pair) (domain.PriceTick, error) {
	if msg.Symbol == "" || msg.Symbol != pair.Symbol() {
		return domain.PriceTick{}, fmt.Errorf("binance: ticker symbol %q does not match pair %s: %w",
			msg.Symbol, pair, domain.ErrMalformed)
	}

	bid, err := decimal.NewFromString(msg.BidPrice)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("binance: ticker %s bid %q: %w", msg.Symbol, msg.BidPrice, domain.ErrMalformed)
	}
	ask, err := decimal.NewFromString(msg.AskPrice)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("binance: ticker %s ask %q: %w", msg.Symbol, msg.AskPrice, domain.ErrMalformed)
	}
	bidQty, err := decimal.NewFromString(msg.BidQty)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("binance: ticker %s bid qty %q: %w", msg.Symbol, msg.BidQty, domain.ErrMalformed)
	}
	askQty, err := decimal.NewFromString(msg.AskQty)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("binance: ticker %s ask qty %q: %w", msg.Symbol, msg.AskQty, domain.ErrMalformed)
	}

	if !bid.IsPositive() || !ask.IsPositive() {
		return domain.PriceTick{}, fmt.Errorf("binance: ticker %s non-positive quote: %w", msg.Symbol, domain.ErrMalformed)
	}
	if msg.EventTime <= 0 {
		return domain.PriceTick{}, fmt.Errorf("binance: ticker %s missing event time: %w", msg.Symbol, domain.ErrMalformed)
	}

	return domain.PriceTick{
		Pair:       pair,
		BestBid:    bid,
		BestAsk:    ask,
		BidVolume:  bidQty,
		AskVolume:  askQty,
		ObservedAt: time.UnixMilli(msg.EventTime),
	}, nil
}

// DepthVolumes sums the quoted quantity over the top levels of each side of a
// depth response. The scorer uses this to refine the per-leg volume estimate
// beyond top-of-book.
func DepthVolumes(d DepthResponse) (bidVol, askVol decimal.Decimal, err error) {
	for _, lvl := range d.Bids {
		q, perr := decimal.NewFromString(lvl[1])
		if perr != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("binance: depth bid qty %q: %w", lvl[1], domain.ErrMalformed)
		}
		bidVol = bidVol.Add(q)
	}
	for _, lvl := range d.Asks {
		q, perr := decimal.NewFromString(lvl[1])
		if perr != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("binance: depth ask qty %q: %w", lvl[1], domain.ErrMalformed)
		}
		askVol = askVol.Add(q)
	}
	return bidVol, askVol, nil
}

// StreamName returns the ticker stream name for a pair, e.g. "btcusdt@ticker".
func StreamName(p domain.Pair) string {
	return strings.ToLower(p.Symbol()) + "@ticker"
}
