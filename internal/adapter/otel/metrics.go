package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "argus"

// Metrics holds all Argus metric instruments.
type Metrics struct {
	RunsStarted    metric.Int64Counter
	RunsEnded      metric.Int64Counter
	RunsReaped     metric.Int64Counter
	EventsIngested metric.Int64Counter
	Findings       metric.Int64Counter
	RunDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("argus.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsEnded, err = meter.Int64Counter("argus.runs.ended",
		metric.WithDescription("Number of runs ended by clients"))
	if err != nil {
		return nil, err
	}

	m.RunsReaped, err = meter.Int64Counter("argus.runs.reaped",
		metric.WithDescription("Number of stale runs force-failed by the reaper"))
	if err != nil {
		return nil, err
	}

	m.EventsIngested, err = meter.Int64Counter("argus.events.ingested",
		metric.WithDescription("Number of events ingested across both transports"))
	if err != nil {
		return nil, err
	}

	m.Findings, err = meter.Int64Counter("argus.findings",
		metric.WithDescription("Number of findings produced by analysis"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("argus.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
