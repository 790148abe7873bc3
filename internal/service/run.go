package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/argussec/argus/internal/adapter/otel"
	"github.com/argussec/argus/internal/domain"
	"github.com/argussec/argus/internal/domain/event"
	"github.com/argussec/argus/internal/domain/finding"
	"github.com/argussec/argus/internal/domain/run"
	"github.com/argussec/argus/internal/port/analysis"
	"github.com/argussec/argus/internal/port/broadcast"
	"github.com/argussec/argus/internal/port/database"
)

// defaultRunName is used when a producer starts a run without a name.
const defaultRunName = "Run"

// Timeline is a run with its full ordered event and finding history.
type Timeline struct {
	Run      run.Run           `json:"run"`
	Events   []event.Event     `json:"events"`
	Findings []finding.Finding `json:"findings"`
}

// RunService owns the run lifecycle: start, event ingestion, end with
// analysis, and reads.
type RunService struct {
	store       database.Store
	broadcaster broadcast.Broadcaster
	analyzer    analysis.Analyzer
	extra       analysis.Analyzer // optional LLM-backed layer, may be nil
	publicHost  string
	log         *slog.Logger
	now         func() time.Time
}

// NewRunService creates a run service. extra may be nil; its findings
// are layered on top of the baseline analyzer's.
func NewRunService(store database.Store, b broadcast.Broadcaster, analyzer, extra analysis.Analyzer, publicHost string, log *slog.Logger) *RunService {
	return &RunService{
		store:       store,
		broadcaster: b,
		analyzer:    analyzer,
		extra:       extra,
		publicHost:  publicHost,
		log:         log,
		now:         time.Now,
	}
}

// Start creates a running run and returns its identifier plus the live
// channel locator. Duplicate names within a project get a "(n) " prefix.
func (s *RunService) Start(ctx context.Context, projectID string, req run.StartRequest) (*run.StartResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultRunName
	}
	name, err := s.store.NextRunName(ctx, projectID, name)
	if err != nil {
		return nil, err
	}

	r := &run.Run{
		ID:        newRunID(),
		ProjectID: projectID,
		Name:      name,
		Task:      req.Task,
		Status:    run.StatusRunning,
		StartTime: s.now().UTC(),
	}
	if err := s.store.CreateRun(ctx, r); err != nil {
		return nil, err
	}

	s.log.Info("run started", "run_id", r.ID, "project_id", projectID, "name", name)
	return &run.StartResponse{
		RunID: r.ID,
		WSURL: fmt.Sprintf("ws://%s/ws/%s", s.publicHost, r.ID),
	}, nil
}

// End transitions a run to a terminal status, analyzes its timeline,
// and persists the findings. Idempotent: ending an already-terminal run
// skips analysis and returns the existing finding count. Analysis
// failures are absorbed — once authorization passes, ending a run never
// fails because of analysis trouble.
func (s *RunService) End(ctx context.Context, projectID, runID string, req run.EndRequest) (int, error) {
	status, err := run.ParseTerminalStatus(req.Status)
	if err != nil {
		return 0, err
	}

	ended, err := s.store.EndRun(ctx, projectID, runID, status, s.now().UTC(), req.TraceID)
	if err != nil {
		return 0, err
	}
	if !ended {
		// Already terminal, or not visible to this project. The
		// lookup distinguishes the two.
		if _, err := s.store.GetRun(ctx, projectID, runID); err != nil {
			return 0, err
		}
		return s.store.CountFindings(ctx, runID)
	}

	findings := s.analyzeRun(ctx, runID)
	if len(findings) > 0 {
		if err := s.store.InsertFindings(ctx, findings); err != nil {
			s.log.Error("persist findings failed", "run_id", runID, "error", err)
			return 0, nil
		}
	}

	s.log.Info("run ended", "run_id", runID, "status", status, "findings", len(findings))
	return len(findings), nil
}

// analyzeRun loads the timeline and runs the analyzers over it. Any
// failure degrades to zero findings.
func (s *RunService) analyzeRun(ctx context.Context, runID string) []finding.Finding {
	events, err := s.store.ListEvents(ctx, runID)
	if err != nil {
		s.log.Error("load timeline failed", "run_id", runID, "error", err)
		return nil
	}

	ctx, span := otel.StartAnalysisSpan(ctx, runID, len(events))
	defer span.End()

	findings, err := s.analyzer.Analyze(ctx, events)
	if err != nil {
		s.log.Error("analysis failed", "run_id", runID, "error", err)
		findings = nil
	}

	if s.extra != nil {
		more, err := s.extra.Analyze(ctx, events)
		if err != nil {
			s.log.Warn("llm analysis failed", "run_id", runID, "error", err)
		} else {
			findings = append(findings, more...)
		}
	}

	for i := range findings {
		findings[i].RunID = runID
	}
	return findings
}

// IngestEvents persists a batch of events for a run and fans each one
// out to the run's other live observers. Events are accepted even after
// the run turns terminal; they are stored but not re-analyzed.
func (s *RunService) IngestEvents(ctx context.Context, projectID, runID string, batch []event.Ingest, origin string) error {
	if len(batch) == 0 {
		return nil
	}

	ok, err := s.store.RunExists(ctx, projectID, runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}

	events := make([]event.Event, 0, len(batch))
	for _, in := range batch {
		if in.Type == "" {
			return fmt.Errorf("%w: event type is required", domain.ErrValidation)
		}
		ts := s.now().UTC()
		if in.Timestamp != nil {
			ts = in.Timestamp.UTC()
		}
		events = append(events, event.Event{
			ID:             "evt_" + uuid.NewString(),
			RunID:          runID,
			Type:           event.Type(in.Type),
			Timestamp:      ts,
			Payload:        in.Payload,
			VideoTimestamp: in.VideoTimestamp,
		})
	}

	if err := s.store.AppendEvents(ctx, runID, events); err != nil {
		return err
	}

	for _, ev := range events {
		s.broadcaster.BroadcastEvent(ctx, runID, ev, origin)
	}
	return nil
}

// RunExists reports whether the run belongs to the project.
func (s *RunService) RunExists(ctx context.Context, projectID, runID string) (bool, error) {
	return s.store.RunExists(ctx, projectID, runID)
}

// Get returns a run owned by the project.
func (s *RunService) Get(ctx context.Context, projectID, runID string) (*run.Run, error) {
	return s.store.GetRun(ctx, projectID, runID)
}

// List returns the project's runs, newest first.
func (s *RunService) List(ctx context.Context, projectID string) ([]run.Summary, error) {
	return s.store.ListRuns(ctx, projectID)
}

// GetTimeline returns a run with its ordered events and findings.
func (s *RunService) GetTimeline(ctx context.Context, projectID, runID string) (*Timeline, error) {
	r, err := s.store.GetRun(ctx, projectID, runID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	findings, err := s.store.ListFindings(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Timeline{Run: *r, Events: events, Findings: findings}, nil
}

// newRunID builds a short, prefixed run identifier.
func newRunID() string {
	return "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
