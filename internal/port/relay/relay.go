// Package relay defines the port for relaying live events between
// server instances.
//
// A single-node deployment serves every observer from its local fan-out
// registry; the relay exists so that an observer connected to one node
// still sees events ingested on another.
package relay

import "context"

// Handler processes a relayed message for a run.
type Handler func(ctx context.Context, runID string, data []byte)

// Relay publishes run events across instances and delivers remote ones.
type Relay interface {
	// Publish sends an encoded event for the given run to other instances.
	Publish(ctx context.Context, runID string, data []byte) error

	// Subscribe registers a handler for events relayed by other
	// instances. The returned function cancels the subscription.
	Subscribe(ctx context.Context, handler Handler) (cancel func(), err error)

	// Close shuts down the relay connection.
	Close() error
}
