// Package event defines telemetry events emitted by monitored agents.
//
// Events are append-only: once persisted they are never updated. Payload
// shape varies by type, so the body is carried as raw JSON and decoded
// leniently by consumers that care about specific fields.
package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Type enumerates the event kinds producers emit.
type Type string

const (
	TypeAction        Type = "action"
	TypeReasoning     Type = "reasoning"
	TypeStepStart     Type = "step_start"
	TypeStepReasoning Type = "step_reasoning"
	TypeScreenshot    Type = "screenshot"
	TypeCustom        Type = "custom"
)

// Event is a single telemetry record within a run.
type Event struct {
	ID             string          `json:"id"`
	RunID          string          `json:"run_id"`
	Type           Type            `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	VideoTimestamp *float64        `json:"video_timestamp,omitempty"`
}

// Ingest is the wire shape producers send, before the server assigns an
// identifier and associates the run.
type Ingest struct {
	Type           string          `json:"type"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	VideoTimestamp *float64        `json:"video_timestamp,omitempty"`
}

// ActionPayload is the decoded body of an action event. All fields are
// optional on the wire; absent fields decode to zero values.
type ActionPayload struct {
	Kind     string `json:"kind"`
	Selector string `json:"selector,omitempty"`
	URL      string `json:"url,omitempty"`
	Value    string `json:"value,omitempty"`
}

// ReasoningPayload is the decoded body of a reasoning event.
type ReasoningPayload struct {
	Content string `json:"content"`
}

// StepReasoningPayload is the decoded body of a step_reasoning event.
type StepReasoningPayload struct {
	StepNumber int    `json:"step_number"`
	Evaluation string `json:"evaluation,omitempty"`
	Memory     string `json:"memory,omitempty"`
	NextGoal   string `json:"next_goal,omitempty"`
}

// Action decodes the payload as an action body. Malformed or absent
// payloads yield the zero value; analysis treats missing fields as
// non-matching rather than erroring on producer sloppiness.
func (e Event) Action() ActionPayload {
	var p ActionPayload
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &p)
	}
	return p
}

// Reasoning decodes the payload as a reasoning body, falling back to the
// zero value on malformed input.
func (e Event) Reasoning() ReasoningPayload {
	var p ReasoningPayload
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &p)
	}
	return p
}

// ReasoningText returns the free-text content of a reasoning-bearing
// event, or "" when the event carries none. step_reasoning events expose
// their next_goal, evaluation and memory joined so keyword scans see all
// of the model's stated thinking.
func (e Event) ReasoningText() string {
	switch e.Type {
	case TypeReasoning:
		return e.Reasoning().Content
	case TypeStepReasoning:
		var p StepReasoningPayload
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &p)
		}
		parts := make([]string, 0, 3)
		for _, s := range []string{p.Evaluation, p.Memory, p.NextGoal} {
			if s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}
