// Package guard gates outbound REST calls behind a per-class token bucket
// and circuit breaker. Every caller of a class shares one budget and one
// breaker, so retry pressure cannot multiply across call sites.
package guard

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Call classes known to the guard.
const (
	ClassDepth    = "order-book-depth"
	ClassMetadata = "exchange-metadata"
)

// State is the circuit breaker state for one call class.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds guard parameters.
type Config struct {
	// Budgets maps call class to its request-per-minute budget.
	Budgets map[string]int
	// FailureThreshold is the consecutive-failure count that opens a breaker.
	FailureThreshold int
	// CooldownBase is the first open cool-down; each failed probe doubles it
	// up to CooldownMax.
	CooldownBase time.Duration
	CooldownMax  time.Duration
}

// Guard is the single choke point for REST traffic.
type Guard struct {
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time
	limiters map[string]*rate.Limiter
	breakers map[string]*breaker
}

// Option customizes a Guard.
type Option func(*Guard)

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Guard) { g.clock = clock }
}

// New creates a guard with one limiter and one breaker per configured class.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "rest_guard")),
		clock:    time.Now,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(g)
	}
	for class, perMin := range cfg.Budgets {
		g.limiters[class] = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
		g.breakers[class] = &breaker{cooldown: cfg.CooldownBase}
	}
	return g
}

// Allow reports whether one call of the given class may proceed right now.
// It consumes a token on success. Unknown classes are always denied.
func (g *Guard) Allow(class string) bool {
	br, ok := g.breakers[class]
	if !ok {
		g.logger.Warn("unknown call class denied", slog.String("class", class))
		return false
	}
	if !br.allow(g.clock()) {
		return false
	}
	if !g.limiters[class].Allow() {
		// The denied call may have been the half-open probe; give the slot
		// back so the probe happens once the budget refills.
		br.cancelProbe()
		g.logger.Debug("rate budget exhausted", slog.String("class", class))
		return false
	}
	return true
}

// RecordResult feeds a call outcome back into the breaker for its class.
func (g *Guard) RecordResult(class string, success bool) {
	br, ok := g.breakers[class]
	if !ok {
		return
	}
	transition := br.record(success, g.clock(), g.cfg)
	if transition != "" {
		g.logger.Warn("circuit breaker transition",
			slog.String("class", class),
			slog.String("state", transition),
			slog.Duration("cooldown", br.currentCooldown()),
		)
	}
}

// BreakerStatus is the observable breaker state for one class.
type BreakerStatus struct {
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Cooldown            time.Duration `json:"cooldown"`
}

// Snapshot returns the breaker state of every class, for status reporting.
func (g *Guard) Snapshot() map[string]BreakerStatus {
	out := make(map[string]BreakerStatus, len(g.breakers))
	for class, br := range g.breakers {
		out[class] = br.status()
	}
	return out
}

// breaker is a per-class circuit breaker. closed → open after
// FailureThreshold consecutive failures; open → half_open after the
// cool-down; the single half-open probe either closes the breaker or
// re-opens it with a doubled, capped cool-down.
type breaker struct {
	mu       sync.Mutex
	state    State
	fails    int
	openedAt time.Time
	cooldown time.Duration
}

func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		// One probe is already in flight.
		return false
	default:
		return true
	}
}

// cancelProbe reverts a half-open breaker to open, keeping openedAt so the
// next allow can hand out the probe again immediately. Used when the probe
// was denied before any call went out.
func (b *breaker) cancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.state = StateOpen
	}
}

// record applies a call outcome and returns the new state name when a
// transition happened, empty string otherwise.
func (b *breaker) record(success bool, now time.Time, cfg Config) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		prev := b.state
		b.state = StateClosed
		b.fails = 0
		b.cooldown = cfg.CooldownBase
		if prev != StateClosed && prev != "" {
			return string(StateClosed)
		}
		return ""
	}

	switch b.state {
	case StateHalfOpen:
		// Failed probe: back to open with a longer cool-down.
		b.state = StateOpen
		b.openedAt = now
		b.cooldown = min(b.cooldown*2, cfg.CooldownMax)
		return string(StateOpen)
	case StateOpen:
		return ""
	default:
		b.fails++
		if b.fails >= cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
			b.cooldown = cfg.CooldownBase
			return string(StateOpen)
		}
		return ""
	}
}

func (b *breaker) status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state
	if s == "" {
		s = StateClosed
	}
	return BreakerStatus{State: s, ConsecutiveFailures: b.fails, Cooldown: b.cooldown}
}

func (b *breaker) currentCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}
