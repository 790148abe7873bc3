package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/argussec/argus/internal/domain"
	"github.com/argussec/argus/internal/domain/event"
	"github.com/argussec/argus/internal/domain/finding"
	"github.com/argussec/argus/internal/domain/project"
	"github.com/argussec/argus/internal/domain/run"
	"github.com/argussec/argus/internal/domain/user"
	"github.com/argussec/argus/internal/port/analysis"
)

// fakeStore is an in-memory database.Store mirroring the SQL adapter's
// visible semantics.
type fakeStore struct {
	mu       sync.Mutex
	runs     map[string]*run.Run
	events   map[string][]event.Event
	findings map[string][]finding.Finding
	projects map[string]*project.Project // id -> project
	keyHash  map[string]string           // api key hash -> project id
	users    map[string]*user.User       // id -> user
	sessions map[string]*user.Session    // token hash -> session

	failReap error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:     make(map[string]*run.Run),
		events:   make(map[string][]event.Event),
		findings: make(map[string][]finding.Finding),
		projects: make(map[string]*project.Project),
		keyHash:  make(map[string]string),
		users:    make(map[string]*user.User),
		sessions: make(map[string]*user.Session),
	}
}

func (f *fakeStore) CreateRun(_ context.Context, r *run.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.runs[r.ID] = &cp
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, projectID, runID string) (*run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok || r.ProjectID != projectID {
		return nil, fmt.Errorf("get run %s: %w", runID, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ListRuns(_ context.Context, projectID string) ([]run.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []run.Summary
	for _, r := range f.runs {
		if r.ProjectID == projectID {
			out = append(out, run.Summary{ID: r.ID, ProjectID: r.ProjectID, Name: r.Name, Status: r.Status, StartTime: r.StartTime, EndTime: r.EndTime})
		}
	}
	return out, nil
}

func (f *fakeStore) EndRun(_ context.Context, projectID, runID string, status run.Status, endTime time.Time, traceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok || r.ProjectID != projectID || r.Status != run.StatusRunning {
		return false, nil
	}
	r.Status = status
	r.EndTime = &endTime
	if traceID != "" {
		r.TraceID = traceID
	}
	return true, nil
}

func (f *fakeStore) ReapStale(_ context.Context, cutoff, endTime time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReap != nil {
		return nil, f.failReap
	}
	var reaped []string
	for id, r := range f.runs {
		if r.Status != run.StatusRunning {
			continue
		}
		last := r.StartTime
		for _, ev := range f.events[id] {
			if ev.Timestamp.After(last) {
				last = ev.Timestamp
			}
		}
		if last.Before(cutoff) {
			r.Status = run.StatusFailed
			r.EndTime = &endTime
			reaped = append(reaped, id)
		}
	}
	return reaped, nil
}

func (f *fakeStore) NextRunName(_ context.Context, projectID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	taken := make(map[string]bool)
	for _, r := range f.runs {
		if r.ProjectID == projectID {
			taken[r.Name] = true
		}
	}
	if !taken[name] {
		return name, nil
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("(%d) %s", n, name)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

func (f *fakeStore) AppendEvents(_ context.Context, runID string, events []event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[runID] = append(f.events[runID], events...)
	return nil
}

func (f *fakeStore) ListEvents(_ context.Context, runID string) ([]event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.events[runID]...), nil
}

func (f *fakeStore) RunExists(_ context.Context, projectID, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	return ok && r.ProjectID == projectID, nil
}

func (f *fakeStore) InsertFindings(_ context.Context, findings []finding.Finding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fd := range findings {
		f.findings[fd.RunID] = append(f.findings[fd.RunID], fd)
	}
	return nil
}

func (f *fakeStore) ListFindings(_ context.Context, runID string) ([]finding.Finding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]finding.Finding(nil), f.findings[runID]...), nil
}

func (f *fakeStore) CountFindings(_ context.Context, runID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.findings[runID]), nil
}

func (f *fakeStore) CreateProject(_ context.Context, p *project.Project, keyHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.projects[p.ID] = &cp
	f.keyHash[keyHash] = p.ID
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, userID, projectID string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok || p.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListProjects(_ context.Context, userID string) ([]project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []project.Project
	for _, p := range f.projects {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) RenameProject(_ context.Context, userID, projectID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok || p.UserID != userID {
		return domain.ErrNotFound
	}
	p.Name = name
	return nil
}

func (f *fakeStore) DeleteProject(_ context.Context, userID, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok || p.UserID != userID {
		return domain.ErrNotFound
	}
	delete(f.projects, projectID)
	return nil
}

func (f *fakeStore) ProjectByKeyHash(_ context.Context, keyHash string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.keyHash[keyHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *f.projects[id]
	return &cp, nil
}

func (f *fakeStore) ProjectStats(context.Context, string, string) (*project.Stats, error) {
	return nil, nil
}

func (f *fakeStore) CreateUser(_ context.Context, u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeStore) UserByEmail(_ context.Context, email string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) UserByID(_ context.Context, id string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) CreateSession(_ context.Context, s *user.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.TokenHash] = &cp
	return nil
}

func (f *fakeStore) SessionByTokenHash(_ context.Context, tokenHash string) (*user.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[tokenHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) DeleteSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[tokenHash]; !ok {
		return domain.ErrNotFound
	}
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, s := range f.sessions {
		if s.ExpiresAt.Before(now) {
			delete(f.sessions, k)
			n++
		}
	}
	return n, nil
}

// fakeBroadcaster records fan-out calls.
type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []string // "runID/eventType/exclude"
}

func (b *fakeBroadcaster) BroadcastEvent(_ context.Context, runID string, ev event.Event, exclude string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, fmt.Sprintf("%s/%s/%s", runID, ev.Type, exclude))
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticAnalyzer returns one finding per event.
var staticAnalyzer = analysis.Func(func(_ context.Context, events []event.Event) ([]finding.Finding, error) {
	var out []finding.Finding
	for _, ev := range events {
		out = append(out, finding.Finding{
			Rule:        "test_rule",
			Severity:    finding.SeverityLow,
			Description: "test",
			EventID:     ev.ID,
		})
	}
	return out, nil
})

func newRunService(store *fakeStore, b *fakeBroadcaster, a analysis.Analyzer) *RunService {
	return NewRunService(store, b, a, nil, "localhost:8000", discard())
}

func TestStartAssignsIDAndWSURL(t *testing.T) {
	store := newFakeStore()
	svc := newRunService(store, &fakeBroadcaster{}, staticAnalyzer)

	resp, err := svc.Start(t.Context(), "proj_1", run.StartRequest{Name: "scan", Task: "buy socks"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.RunID, "run_") {
		t.Errorf("run id %q must have run_ prefix", resp.RunID)
	}
	if want := "ws://localhost:8000/ws/" + resp.RunID; resp.WSURL != want {
		t.Errorf("ws url = %q, want %q", resp.WSURL, want)
	}

	r, err := svc.Get(t.Context(), "proj_1", resp.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != run.StatusRunning {
		t.Errorf("new run status = %q", r.Status)
	}
	if r.Task != "buy socks" {
		t.Errorf("task = %q", r.Task)
	}
}

func TestStartDeduplicatesNames(t *testing.T) {
	store := newFakeStore()
	svc := newRunService(store, &fakeBroadcaster{}, staticAnalyzer)

	first, err := svc.Start(t.Context(), "proj_1", run.StartRequest{Name: "scan"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Start(t.Context(), "proj_1", run.StartRequest{Name: "scan"})
	if err != nil {
		t.Fatal(err)
	}

	r1, _ := svc.Get(t.Context(), "proj_1", first.RunID)
	r2, _ := svc.Get(t.Context(), "proj_1", second.RunID)
	if r1.Name != "scan" {
		t.Errorf("first run name = %q, want scan", r1.Name)
	}
	if r2.Name != "(1) scan" {
		t.Errorf("second run name = %q, want (1) scan", r2.Name)
	}

	// A different project is not affected by the first one's names.
	third, err := svc.Start(t.Context(), "proj_2", run.StartRequest{Name: "scan"})
	if err != nil {
		t.Fatal(err)
	}
	r3, _ := svc.Get(t.Context(), "proj_2", third.RunID)
	if r3.Name != "scan" {
		t.Errorf("other-project run name = %q, want scan", r3.Name)
	}
}

func TestEndRunsAnalysisAndPersistsFindings(t *testing.T) {
	store := newFakeStore()
	svc := newRunService(store, &fakeBroadcaster{}, staticAnalyzer)
	ctx := t.Context()

	resp, _ := svc.Start(ctx, "proj_1", run.StartRequest{})
	if err := svc.IngestEvents(ctx, "proj_1", resp.RunID, []event.Ingest{
		{Type: "action"}, {Type: "reasoning"},
	}, ""); err != nil {
		t.Fatal(err)
	}

	count, err := svc.End(ctx, "proj_1", resp.RunID, run.EndRequest{Status: "completed"})
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("finding count = %d, want 2", count)
	}

	r, _ := svc.Get(ctx, "proj_1", resp.RunID)
	if r.Status != run.StatusCompleted {
		t.Errorf("status = %q", r.Status)
	}
	if r.EndTime == nil {
		t.Error("end time must be set on terminal run")
	}
}

func TestEndIsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newRunService(store, &fakeBroadcaster{}, staticAnalyzer)
	ctx := t.Context()

	resp, _ := svc.Start(ctx, "proj_1", run.StartRequest{})
	_ = svc.IngestEvents(ctx, "proj_1", resp.RunID, []event.Ingest{{Type: "action"}}, "")

	first, err := svc.End(ctx, "proj_1", resp.RunID, run.EndRequest{Status: "completed"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.End(ctx, "proj_1", resp.RunID, run.EndRequest{Status: "failed"})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("double end counts differ: %d vs %d", first, second)
	}
	if got, _ := store.CountFindings(ctx, resp.RunID); got != first {
		t.Fatalf("findings duplicated: stored %d, want %d", got, first)
	}

	// The first terminal status wins.
	r, _ := svc.Get(ctx, "proj_1", resp.RunID)
	if r.Status != run.StatusCompleted {
		t.Errorf("status overwritten to %q", r.Status)
	}
}

func TestEndRejectsInvalidStatus(t *testing.T) {
	svc := newRunService(newFakeStore(), &fakeBroadcaster{}, staticAnalyzer)
	resp, _ := svc.Start(t.Context(), "proj_1", run.StartRequest{})

	_, err := svc.End(t.Context(), "proj_1", resp.RunID, run.EndRequest{Status: "done"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEndUnknownRunIsNotFound(t *testing.T) {
	svc := newRunService(newFakeStore(), &fakeBroadcaster{}, staticAnalyzer)

	_, err := svc.End(t.Context(), "proj_1", "run_missing", run.EndRequest{Status: "completed"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEndOtherProjectRunIsNotFound(t *testing.T) {
	svc := newRunService(newFakeStore(), &fakeBroadcaster{}, staticAnalyzer)
	resp, _ := svc.Start(t.Context(), "proj_1", run.StartRequest{})

	_, err := svc.End(t.Context(), "proj_2", resp.RunID, run.EndRequest{Status: "completed"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign run must look missing, got %v", err)
	}
}

func TestEndAbsorbsAnalyzerFailure(t *testing.T) {
	failing := analysis.Func(func(context.Context, []event.Event) ([]finding.Finding, error) {
		return nil, errors.New("boom")
	})
	svc := newRunService(newFakeStore(), &fakeBroadcaster{}, failing)
	ctx := t.Context()

	resp, _ := svc.Start(ctx, "proj_1", run.StartRequest{})
	_ = svc.IngestEvents(ctx, "proj_1", resp.RunID, []event.Ingest{{Type: "action"}}, "")

	count, err := svc.End(ctx, "proj_1", resp.RunID, run.EndRequest{Status: "completed"})
	if err != nil {
		t.Fatalf("end must succeed despite analyzer failure, got %v", err)
	}
	if count != 0 {
		t.Fatalf("finding count = %d, want 0", count)
	}
}

func TestIngestBroadcastsEachEvent(t *testing.T) {
	b := &fakeBroadcaster{}
	svc := newRunService(newFakeStore(), b, staticAnalyzer)
	ctx := t.Context()

	resp, _ := svc.Start(ctx, "proj_1", run.StartRequest{})
	err := svc.IngestEvents(ctx, "proj_1", resp.RunID, []event.Ingest{
		{Type: "action"}, {Type: "reasoning"},
	}, "conn_7")
	if err != nil {
		t.Fatal(err)
	}
	if b.count() != 2 {
		t.Fatalf("broadcast calls = %d, want 2", b.count())
	}
	if !strings.HasSuffix(b.calls[0], "/conn_7") {
		t.Errorf("origin not propagated to fan-out: %q", b.calls[0])
	}
}

func TestIngestUnknownRunIsNotFound(t *testing.T) {
	svc := newRunService(newFakeStore(), &fakeBroadcaster{}, staticAnalyzer)

	err := svc.IngestEvents(t.Context(), "proj_1", "run_missing", []event.Ingest{{Type: "action"}}, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIngestAfterTerminalStillStores(t *testing.T) {
	store := newFakeStore()
	svc := newRunService(store, &fakeBroadcaster{}, staticAnalyzer)
	ctx := t.Context()

	resp, _ := svc.Start(ctx, "proj_1", run.StartRequest{})
	count, _ := svc.End(ctx, "proj_1", resp.RunID, run.EndRequest{Status: "completed"})

	if err := svc.IngestEvents(ctx, "proj_1", resp.RunID, []event.Ingest{{Type: "action"}}, ""); err != nil {
		t.Fatalf("late events must be accepted, got %v", err)
	}
	events, _ := store.ListEvents(ctx, resp.RunID)
	if len(events) != 1 {
		t.Fatalf("stored events = %d, want 1", len(events))
	}
	// Late events do not trigger re-analysis.
	if got, _ := store.CountFindings(ctx, resp.RunID); got != count {
		t.Fatalf("findings changed after terminal ingest: %d", got)
	}
}
