// Package broadcast defines the port for fanning out live run events to
// connected observers.
package broadcast

import (
	"context"

	"github.com/argussec/argus/internal/domain/event"
)

// Broadcaster fans an event out to every observer of its run, except an
// optional originating connection. Broadcasting to a run with no
// observers is a no-op.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, runID string, ev event.Event, exclude string)
}
