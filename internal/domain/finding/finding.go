// Package finding defines security findings produced by run analysis.
package finding

import "time"

// Severity ranks how urgent a finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Finding is a single detected security issue within a run. EventID
// points at the event that triggered the detection when one event is
// solely responsible; pattern findings spanning several events leave it
// empty.
type Finding struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Rule        string    `json:"rule"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Evidence    string    `json:"evidence,omitempty"`
	EventID     string    `json:"event_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
