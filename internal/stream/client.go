// Package stream owns the persistent connections to the exchange streaming
// endpoint. It multiplexes many symbol subscriptions over a bounded number of
// websocket connections, reconnects with jittered exponential backoff, and
// pushes normalized ticks to a handler. All retry policy lives here, in one
// place, with explicit parameters.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbiterlabs/triarb/internal/domain"
	"github.com/arbiterlabs/triarb/internal/platform/binance"
)

// TickHandler receives every normalized tick. It must be fast: it runs on the
// connection's dispatch goroutine, and a slow handler eventually pauses
// socket reads (the exchange, not this client, becomes the buffer).
type TickHandler func(domain.PriceTick)

// StatusHandler receives every connection state transition.
type StatusHandler func(domain.StatusEvent)

// Config holds stream client parameters.
type Config struct {
	URL                 string
	MaxStreamsPerConn   int
	BufferSize          int
	HeartbeatInterval   time.Duration
	ReadTimeoutMultiple int
	ConnectTimeout      time.Duration
	ReconnectBase       time.Duration
	ReconnectMax        time.Duration
}

// ConnStatus is the observable state of one physical connection.
type ConnStatus struct {
	ID         int                     `json:"id"`
	Status     domain.ConnectionStatus `json:"status"`
	Streams    int                     `json:"streams"`
	LastChange time.Time               `json:"last_change"`
}

// Client multiplexes symbol subscriptions over one or more websocket
// connections. Subscriptions survive reconnects: on every (re)connect each
// connection resubscribes its full current symbol set, because the exchange
// does not remember subscriptions across connections.
type Client struct {
	cfg      Config
	onTick   TickHandler
	onStatus StatusHandler
	logger   *slog.Logger

	mu      sync.Mutex
	conns   []*conn
	assign  map[string]*conn // symbol → owning connection
	g       *errgroup.Group
	runCtx  context.Context
	running bool
}

// New creates a stream client. onStatus may be nil.
func New(cfg Config, onTick TickHandler, onStatus StatusHandler, logger *slog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		onTick:   onTick,
		onStatus: onStatus,
		logger:   logger.With(slog.String("component", "stream_client")),
		assign:   make(map[string]*conn),
	}
}

// Subscribe adds pairs to the subscription set, assigning each to a
// connection with spare stream capacity and opening a new connection when
// all are full. Safe to call before or during Run; subscriptions added
// before Run start when Run does.
func (c *Client) Subscribe(pairs []domain.Pair) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range pairs {
		sym := p.Symbol()
		if _, ok := c.assign[sym]; ok {
			continue
		}
		cn := c.pickConnLocked()
		cn.addSymbol(sym, p)
		c.assign[sym] = cn

		// Best effort on a live connection; the reconnect path restores the
		// full set anyway.
		if err := cn.subscribeLive([]string{binance.StreamName(p)}); err != nil {
			c.logger.Warn("live subscribe failed, will restore on reconnect",
				slog.String("pair", p.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Unsubscribe removes pairs from the subscription set.
func (c *Client) Unsubscribe(pairs []domain.Pair) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range pairs {
		sym := p.Symbol()
		cn, ok := c.assign[sym]
		if !ok {
			continue
		}
		delete(c.assign, sym)
		cn.removeSymbol(sym)

		if err := cn.unsubscribeLive([]string{binance.StreamName(p)}); err != nil {
			c.logger.Warn("live unsubscribe failed",
				slog.String("pair", p.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Status returns the current state of every connection.
func (c *Client) Status() []ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ConnStatus, 0, len(c.conns))
	for _, cn := range c.conns {
		out = append(out, cn.snapshot())
	}
	return out
}

// Run starts one goroutine per connection and blocks until the context is
// cancelled or a connection fails terminally (auth rejection). On cancel it
// closes the sockets and drains in-flight buffered messages through the tick
// handler before returning.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	g, ctx := errgroup.WithContext(ctx)
	c.g = g
	c.runCtx = ctx
	c.running = true
	for _, cn := range c.conns {
		cn := cn
		g.Go(func() error { return cn.run(ctx) })
	}
	c.mu.Unlock()

	c.logger.Info("stream client started", slog.Int("connections", len(c.conns)))
	err := g.Wait()
	c.logger.Info("stream client stopped")

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	return err
}

// pickConnLocked returns a connection with spare capacity, creating and
// (if running) starting a new one when all are full. Caller holds c.mu.
func (c *Client) pickConnLocked() *conn {
	for _, cn := range c.conns {
		if cn.streamCount() < c.cfg.MaxStreamsPerConn {
			return cn
		}
	}

	cn := newConn(len(c.conns), c)
	c.conns = append(c.conns, cn)
	if c.running {
		c.g.Go(func() error { return cn.run(c.runCtx) })
	}
	return cn
}

// ---------------------------------------------------------------------------
// Single connection
// ---------------------------------------------------------------------------

type conn struct {
	id     int
	parent *Client
	logger *slog.Logger

	mu         sync.Mutex
	ws         *binance.WSConn
	symbols    map[string]domain.Pair
	status     domain.ConnectionStatus
	lastChange time.Time

	buf chan []byte
}

func newConn(id int, parent *Client) *conn {
	return &conn{
		id:      id,
		parent:  parent,
		logger:  parent.logger.With(slog.Int("conn", id)),
		symbols: make(map[string]domain.Pair),
		status:  domain.StatusDisconnected,
		buf:     make(chan []byte, parent.cfg.BufferSize),
	}
}

// run owns the connection lifecycle: dial, resubscribe, pump, backoff,
// repeat. Reconnection is unlimited except for terminal protocol rejections.
func (cn *conn) run(ctx context.Context) error {
	cfg := cn.parent.cfg
	readTimeout := cfg.HeartbeatInterval * time.Duration(cfg.ReadTimeoutMultiple)

	// The dispatcher outlives individual connection attempts so buffered
	// messages survive a reconnect and are drained on shutdown.
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for raw := range cn.buf {
			cn.dispatch(raw)
		}
	}()
	defer func() {
		close(cn.buf)
		<-dispatchDone
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			cn.setStatus(domain.StatusDisconnected, "shutdown")
			return ctx.Err()
		}

		if attempt == 0 {
			cn.setStatus(domain.StatusConnecting, "")
		} else {
			cn.setStatus(domain.StatusReconnecting, fmt.Sprintf("attempt %d", attempt))
		}

		ws, err := binance.DialWS(ctx, cfg.URL, cfg.ConnectTimeout, readTimeout)
		if err != nil {
			if errors.Is(err, domain.ErrStreamFailed) {
				cn.setStatus(domain.StatusFailed, err.Error())
				cn.logger.Error("terminal stream failure, operator intervention required",
					slog.String("error", err.Error()),
				)
				return err
			}
			cn.logger.Warn("connect failed", slog.String("error", err.Error()))
			if !sleepBackoff(ctx, cfg.ReconnectBase, cfg.ReconnectMax, attempt) {
				cn.setStatus(domain.StatusDisconnected, "shutdown")
				return ctx.Err()
			}
			attempt++
			continue
		}

		cn.setWS(ws)

		// The exchange forgets subscriptions across connections: restore the
		// full current set before declaring the connection healthy.
		if err := ws.Subscribe(cn.streamNames()); err != nil {
			cn.logger.Warn("resubscribe failed", slog.String("error", err.Error()))
			ws.Close()
			cn.setWS(nil)
			if !sleepBackoff(ctx, cfg.ReconnectBase, cfg.ReconnectMax, attempt) {
				cn.setStatus(domain.StatusDisconnected, "shutdown")
				return ctx.Err()
			}
			attempt++
			continue
		}

		cn.setStatus(domain.StatusConnected, "")
		cn.logger.Info("connected", slog.Int("streams", cn.streamCount()))
		attempt = 0

		err = cn.pump(ctx, ws)
		ws.Close()
		cn.setWS(nil)

		if ctx.Err() != nil {
			cn.setStatus(domain.StatusDisconnected, "shutdown")
			return ctx.Err()
		}

		cn.logger.Warn("disconnected, reconnecting", slog.String("error", err.Error()))
		if !sleepBackoff(ctx, cfg.ReconnectBase, cfg.ReconnectMax, attempt) {
			cn.setStatus(domain.StatusDisconnected, "shutdown")
			return ctx.Err()
		}
		attempt++
	}
}

// pump reads messages until the connection dies. A heartbeat goroutine pings
// at the configured interval; the read deadline is extended by any inbound
// traffic, so the connection is declared dead only after a full timeout
// multiple with neither data nor pong.
func (cn *conn) pump(ctx context.Context, ws *binance.WSConn) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the read when the context ends, and stop pinging.
	go func() {
		ticker := time.NewTicker(cn.parent.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pumpCtx.Done():
				ws.Close()
				return
			case <-ticker.C:
				if err := ws.Ping(); err != nil {
					ws.Close()
					return
				}
			}
		}
	}()

	for {
		msg, err := ws.Read()
		if err != nil {
			return err
		}
		// Blocking push: when the buffer is full the socket read pauses and
		// the exchange buffers. Ticks are never silently dropped here.
		select {
		case cn.buf <- msg:
		case <-pumpCtx.Done():
			return pumpCtx.Err()
		}
	}
}

// dispatch decodes one raw message and routes it. Malformed messages are
// logged and discarded, never fatal.
func (cn *conn) dispatch(raw []byte) {
	var env struct {
		Event string `json:"e"`
		ID    uint64 `json:"id"`
		Code  int    `json:"code"`
		Msg   string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		cn.logger.Debug("dropping unparseable message", slog.String("error", err.Error()))
		return
	}

	switch env.Event {
	case "24hrTicker":
		var tm binance.TickerMessage
		if err := json.Unmarshal(raw, &tm); err != nil {
			cn.logger.Debug("dropping malformed ticker", slog.String("error", err.Error()))
			return
		}
		pair, ok := cn.lookup(tm.Symbol)
		if !ok {
			cn.logger.Debug("ticker for unassigned symbol", slog.String("symbol", tm.Symbol))
			return
		}
		tick, err := binance.NormalizeTicker(tm, pair)
		if err != nil {
			cn.logger.Debug("rejected tick at ingestion boundary", slog.String("error", err.Error()))
			return
		}
		cn.parent.onTick(tick)

	case "":
		// Control acknowledgement or command error.
		if env.Code != 0 {
			cn.logger.Warn("stream command rejected",
				slog.Int("code", env.Code),
				slog.String("msg", env.Msg),
			)
		}
	}
}

func (cn *conn) setWS(ws *binance.WSConn) {
	cn.mu.Lock()
	cn.ws = ws
	cn.mu.Unlock()
}

func (cn *conn) setStatus(s domain.ConnectionStatus, reason string) {
	cn.mu.Lock()
	changed := cn.status != s
	cn.status = s
	cn.lastChange = time.Now()
	cn.mu.Unlock()

	if changed && cn.parent.onStatus != nil {
		cn.parent.onStatus(domain.StatusEvent{
			Conn:   cn.id,
			Status: s,
			At:     time.Now(),
			Reason: reason,
		})
	}
}

func (cn *conn) snapshot() ConnStatus {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return ConnStatus{
		ID:         cn.id,
		Status:     cn.status,
		Streams:    len(cn.symbols),
		LastChange: cn.lastChange,
	}
}

func (cn *conn) addSymbol(sym string, p domain.Pair) {
	cn.mu.Lock()
	cn.symbols[sym] = p
	cn.mu.Unlock()
}

func (cn *conn) removeSymbol(sym string) {
	cn.mu.Lock()
	delete(cn.symbols, sym)
	cn.mu.Unlock()
}

func (cn *conn) lookup(sym string) (domain.Pair, bool) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	p, ok := cn.symbols[sym]
	return p, ok
}

func (cn *conn) streamCount() int {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return len(cn.symbols)
}

func (cn *conn) streamNames() []string {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	out := make([]string, 0, len(cn.symbols))
	for _, p := range cn.symbols {
		out = append(out, binance.StreamName(p))
	}
	return out
}

func (cn *conn) subscribeLive(streams []string) error {
	cn.mu.Lock()
	ws := cn.ws
	cn.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Subscribe(streams)
}

func (cn *conn) unsubscribeLive(streams []string) error {
	cn.mu.Lock()
	ws := cn.ws
	cn.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Unsubscribe(streams)
}

// ---------------------------------------------------------------------------
// Backoff
// ---------------------------------------------------------------------------

// backoffDelay returns the deterministic delay for a reconnect attempt:
// base doubled per attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// withJitter spreads a delay over [d/2, d) so reconnecting clients do not
// storm the exchange in lockstep.
func withJitter(d time.Duration) time.Duration {
	if d < 2 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}

// sleepBackoff sleeps for the jittered backoff delay, honouring ctx. It
// returns false when the context ended first.
func sleepBackoff(ctx context.Context, base, max time.Duration, attempt int) bool {
	timer := time.NewTimer(withJitter(backoffDelay(base, max, attempt)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
