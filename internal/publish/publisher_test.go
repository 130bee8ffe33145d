package publish

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/triarb/internal/domain"
)

func batch(id string) []domain.Opportunity {
	return []domain.Opportunity{{ID: id, Status: domain.OpportunityAccepted}}
}

func TestSubscriberReceivesLatest(t *testing.T) {
	p := NewPublisher(slog.Default())
	defer p.Close()

	ch, cancel := p.Subscribe()
	defer cancel()

	p.Publish(batch("pass-1"))

	select {
	case got := <-ch:
		require.Len(t, got, 1)
		assert.Equal(t, "pass-1", got[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no batch delivered")
	}
}

func TestUnreadBatchIsReplacedNotQueued(t *testing.T) {
	p := NewPublisher(slog.Default())
	defer p.Close()

	ch, cancel := p.Subscribe()
	defer cancel()

	p.Publish(batch("pass-1"))
	p.Publish(batch("pass-2"))
	p.Publish(batch("pass-3"))

	got := <-ch
	assert.Equal(t, "pass-3", got[0].ID, "only the newest batch survives")

	select {
	case extra := <-ch:
		t.Fatalf("unexpected queued batch %v", extra)
	default:
	}
	assert.Equal(t, uint64(2), p.Stats().Replaced)
}

func TestSlowConsumerDoesNotBlockOthers(t *testing.T) {
	p := NewPublisher(slog.Default())
	defer p.Close()

	_, cancelSlow := p.Subscribe() // never reads
	defer cancelSlow()
	fast, cancelFast := p.Subscribe()
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			p.Publish(batch("pass"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stalled on a consumer that never reads")
	}
	assert.NotEmpty(t, <-fast, "the reading consumer still gets the latest batch")
}

func TestCancelStopsDelivery(t *testing.T) {
	p := NewPublisher(slog.Default())
	defer p.Close()

	ch, cancel := p.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open, "cancelled subscription closes its channel")

	p.Publish(batch("pass-1")) // no panic on closed subscriber
	assert.Equal(t, 0, p.Stats().Subscribers)
}

func TestCloseIsTerminal(t *testing.T) {
	p := NewPublisher(slog.Default())

	ch, _ := p.Subscribe()
	p.Close()

	_, open := <-ch
	assert.False(t, open)

	p.Publish(batch("pass-1"))
	late, _ := p.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
}
