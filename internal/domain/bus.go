package domain

import "context"

// SignalBus is the outbound fan-out transport to external collaborators
// (dashboard, AI analyzer). The core only publishes; consumers subscribe
// read-only and the core has no dependency on their availability.
type SignalBus interface {
	// Publish sends a payload to an ephemeral pub/sub channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads for the given channel. The
	// subscription closes when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	// StreamAppend appends a payload to a bounded, ordered stream so slow
	// external consumers can catch up without back-pressuring the core.
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
