package guard

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGuard(t *testing.T, clock *fakeClock, depthBudget int) *Guard {
	t.Helper()
	return New(Config{
		Budgets: map[string]int{
			ClassDepth:    depthBudget,
			ClassMetadata: 10,
		},
		FailureThreshold: 3,
		CooldownBase:     10 * time.Second,
		CooldownMax:      60 * time.Second,
	}, slog.Default(), WithClock(clock.Now))
}

func TestAllowConsumesBudget(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newTestGuard(t, clock, 2)

	assert.True(t, g.Allow(ClassDepth))
	assert.True(t, g.Allow(ClassDepth))
	assert.False(t, g.Allow(ClassDepth), "bucket exhausted")

	// Another class keeps its own budget.
	assert.True(t, g.Allow(ClassMetadata))
}

func TestAllowDeniesUnknownClass(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newTestGuard(t, clock, 2)

	assert.False(t, g.Allow("order-placement"))
	g.RecordResult("order-placement", false) // no-op, no panic
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newTestGuard(t, clock, 100)

	for i := 0; i < 2; i++ {
		g.RecordResult(ClassDepth, false)
		assert.True(t, g.Allow(ClassDepth), "below threshold stays closed")
	}
	g.RecordResult(ClassDepth, false) // third consecutive failure

	assert.False(t, g.Allow(ClassDepth), "open circuit rejects without a network attempt")
	assert.Equal(t, StateOpen, g.Snapshot()[ClassDepth].State)
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newTestGuard(t, clock, 100)

	for i := 0; i < 3; i++ {
		g.RecordResult(ClassDepth, false)
	}
	require.False(t, g.Allow(ClassDepth))

	clock.Advance(10 * time.Second)
	assert.True(t, g.Allow(ClassDepth), "cool-down elapsed, one probe allowed")
	assert.False(t, g.Allow(ClassDepth), "only a single probe in half-open")
	assert.Equal(t, StateHalfOpen, g.Snapshot()[ClassDepth].State)

	g.RecordResult(ClassDepth, true)
	assert.Equal(t, StateClosed, g.Snapshot()[ClassDepth].State)
	assert.True(t, g.Allow(ClassDepth))
}

func TestRateDeniedProbeReturnsToOpen(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newTestGuard(t, clock, 1)

	require.True(t, g.Allow(ClassDepth), "drain the bucket")
	for i := 0; i < 3; i++ {
		g.RecordResult(ClassDepth, false)
	}
	require.Equal(t, StateOpen, g.Snapshot()[ClassDepth].State)

	clock.Advance(10 * time.Second)
	assert.False(t, g.Allow(ClassDepth), "empty bucket denies the probe")
	assert.Equal(t, StateOpen, g.Snapshot()[ClassDepth].State,
		"denied probe must not leave the breaker half_open")

	// Budget refills: the probe slot is still available.
	g.limiters[ClassDepth] = rate.NewLimiter(rate.Limit(1.0/60.0), 1)
	assert.True(t, g.Allow(ClassDepth), "refilled bucket releases the probe")
	assert.Equal(t, StateHalfOpen, g.Snapshot()[ClassDepth].State)

	g.RecordResult(ClassDepth, true)
	assert.Equal(t, StateClosed, g.Snapshot()[ClassDepth].State)
}

func TestBreakerFailedProbeDoublesCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newTestGuard(t, clock, 100)

	for i := 0; i < 3; i++ {
		g.RecordResult(ClassDepth, false)
	}

	// First probe fails: cool-down doubles from 10s to 20s.
	clock.Advance(10 * time.Second)
	require.True(t, g.Allow(ClassDepth))
	g.RecordResult(ClassDepth, false)

	clock.Advance(10 * time.Second)
	assert.False(t, g.Allow(ClassDepth), "doubled cool-down not yet elapsed")
	clock.Advance(10 * time.Second)
	assert.True(t, g.Allow(ClassDepth))

	// Repeated probe failures stay capped at the maximum.
	g.RecordResult(ClassDepth, false)
	for i := 0; i < 10; i++ {
		clock.Advance(60 * time.Second)
		require.True(t, g.Allow(ClassDepth), "cool-down is bounded by the cap")
		g.RecordResult(ClassDepth, false)
	}
	assert.Equal(t, 60*time.Second, g.Snapshot()[ClassDepth].Cooldown)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	g := newTestGuard(t, clock, 100)

	g.RecordResult(ClassDepth, false)
	g.RecordResult(ClassDepth, false)
	g.RecordResult(ClassDepth, true)
	g.RecordResult(ClassDepth, false)
	g.RecordResult(ClassDepth, false)

	assert.True(t, g.Allow(ClassDepth), "failures are consecutive, success resets the count")
	assert.Equal(t, StateClosed, g.Snapshot()[ClassDepth].State)
}
