// Package analysis defines the port for pluggable finding sources.
package analysis

import (
	"context"

	"github.com/argussec/argus/internal/domain/event"
	"github.com/argussec/argus/internal/domain/finding"
)

// Analyzer produces findings from a run's ordered event timeline.
// Implementations must be safe to call from concurrent end-run requests.
// An error means best-effort analysis failed; callers degrade to zero
// findings rather than failing the run end.
type Analyzer interface {
	Analyze(ctx context.Context, events []event.Event) ([]finding.Finding, error)
}

// Func adapts a plain function to the Analyzer interface.
type Func func(ctx context.Context, events []event.Event) ([]finding.Finding, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, events []event.Event) ([]finding.Finding, error) {
	return f(ctx, events)
}
