// Package publish fans detection-pass results out to consumers with
// latest-value semantics. A slow or absent consumer never blocks the
// detection driver: each subscriber holds at most the newest batch, and a
// new batch replaces an unread one.
package publish

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/arbiterlabs/triarb/internal/domain"
)

// Publisher distributes opportunity batches. Batches carry no history: each
// pass supersedes the previous one entirely.
type Publisher struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]chan []domain.Opportunity
	nextID uint64
	closed bool

	passes   atomic.Uint64
	replaced atomic.Uint64
}

// NewPublisher creates an empty publisher.
func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{
		logger: logger.With(slog.String("component", "publisher")),
		subs:   make(map[uint64]chan []domain.Opportunity),
	}
}

// Subscribe registers a consumer and returns its channel plus a cancel
// function. The channel delivers the newest batch available at read time.
func (p *Publisher) Subscribe() (<-chan []domain.Opportunity, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan []domain.Opportunity, 1)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	p.subs[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

// Publish hands a batch to every subscriber without blocking. When a
// subscriber has not consumed the previous batch it is replaced, not queued.
func (p *Publisher) Publish(opps []domain.Opportunity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.passes.Add(1)

	for _, ch := range p.subs {
		select {
		case ch <- opps:
			continue
		default:
		}
		// Drop the unread batch and offer the new one. Another publisher
		// cannot race here; p.mu serializes writers, and a consumer reading
		// concurrently only makes room.
		select {
		case <-ch:
			p.replaced.Add(1)
		default:
		}
		select {
		case ch <- opps:
		default:
		}
	}
}

// Stats reports pass and replacement counters.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Passes      uint64 `json:"passes"`
	Replaced    uint64 `json:"replaced"`
}

// Stats returns current publisher counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	n := len(p.subs)
	p.mu.Unlock()
	return Stats{
		Subscribers: n,
		Passes:      p.passes.Load(),
		Replaced:    p.replaced.Load(),
	}
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
