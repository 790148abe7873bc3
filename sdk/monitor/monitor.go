// Package monitor is the agent-side SDK for Argus. It opens a run,
// streams telemetry events in the background without ever blocking the
// agent, and closes the run when the agent finishes.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// flushGrace bounds how long End waits for queued events to drain
// before the terminal status is reported.
const flushGrace = 500 * time.Millisecond

// Config configures a monitored run.
type Config struct {
	// ServerURL is the Argus base URL, e.g. "http://localhost:8000".
	ServerURL string
	// APIKey is the project API key ("ak_" prefixed).
	APIKey string
	// Name is the run name; the server de-duplicates within the project.
	Name string
	// Task describes what the agent has been asked to do.
	Task string
	// Logger receives debug output. nil discards everything.
	Logger *slog.Logger
}

// Monitor is a handle on one active run.
type Monitor struct {
	runID string
	cfg   Config
	httpc *http.Client
	t     *transport
	log   *slog.Logger
}

type startRequest struct {
	Name string `json:"name,omitempty"`
	Task string `json:"task,omitempty"`
}

type startResponse struct {
	RunID string `json:"run_id"`
	WSURL string `json:"ws_url"`
}

type endRequest struct {
	Status string `json:"status"`
}

type endResponse struct {
	FindingCount int `json:"finding_count"`
}

// Start opens a run on the server and begins streaming in the
// background. The returned Monitor must be finished with End.
func Start(ctx context.Context, cfg Config) (*Monitor, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpc := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimRight(cfg.ServerURL, "/")

	var resp startResponse
	err := postJSON(ctx, httpc, base+"/api/v1/runs", cfg.APIKey,
		startRequest{Name: cfg.Name, Task: cfg.Task}, &resp)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	// The server returns the websocket locator without credentials;
	// the key travels as a query parameter on connect.
	wsURL := resp.WSURL + "?api_key=" + cfg.APIKey
	fallbackURL := fmt.Sprintf("%s/api/v1/runs/%s/events", base, resp.RunID)

	m := &Monitor{
		runID: resp.RunID,
		cfg:   cfg,
		httpc: httpc,
		t:     newTransport(wsURL, fallbackURL, cfg.APIKey, log),
		log:   log,
	}
	log.Debug("run started", "run_id", m.runID)
	return m, nil
}

// RunID returns the server-assigned run identifier.
func (m *Monitor) RunID() string {
	return m.runID
}

// Emit queues one event for delivery. It never blocks and never fails:
// if every transport is down the event is silently dropped.
func (m *Monitor) Emit(eventType string, payload any) {
	now := time.Now().UTC()
	m.t.Enqueue(Event{Type: eventType, Timestamp: &now, Payload: payload})
}

// EmitAt queues one event with a recording offset attached.
func (m *Monitor) EmitAt(eventType string, payload any, videoOffset float64) {
	now := time.Now().UTC()
	m.t.Enqueue(Event{
		Type:           eventType,
		Timestamp:      &now,
		Payload:        payload,
		VideoTimestamp: &videoOffset,
	})
}

// End drains queued events (bounded by a short grace period), stops the
// transport, and reports the terminal status. status is "completed",
// "failed", or "cancelled". Returns the number of findings the server's
// analysis produced.
func (m *Monitor) End(ctx context.Context, status string) (int, error) {
	m.t.Flush(flushGrace)
	m.t.Close()

	base := strings.TrimRight(m.cfg.ServerURL, "/")
	var resp endResponse
	err := postJSON(ctx, m.httpc, fmt.Sprintf("%s/api/v1/runs/%s/end", base, m.runID),
		m.cfg.APIKey, endRequest{Status: status}, &resp)
	if err != nil {
		return 0, fmt.Errorf("end run: %w", err)
	}

	m.log.Debug("run ended", "run_id", m.runID, "status", status, "findings", resp.FindingCount)
	return resp.FindingCount, nil
}

func postJSON(ctx context.Context, c *http.Client, url, apiKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
