package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// recorder is a fake Argus server that captures everything an SDK
// client sends. When wsEnabled is true the live channel accepts frames;
// otherwise ws_url points at a closed port so the client must use the
// HTTP fallback.
type recorder struct {
	mu        sync.Mutex
	events    []Event
	endStatus string
	wsEnabled bool
	srv       *httptest.Server
}

func newRecorder(t *testing.T, wsEnabled bool) *recorder {
	t.Helper()
	rec := &recorder{wsEnabled: wsEnabled}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws://127.0.0.1:1/ws/run_test"
		if rec.wsEnabled {
			wsURL = "ws" + strings.TrimPrefix(rec.srv.URL, "http") + "/ws/run_test"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"run_id":"run_test","ws_url":%q}`, wsURL)
	})
	mux.HandleFunc("POST /api/v1/runs/run_test/events", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rec.add(body.Events...)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /api/v1/runs/run_test/end", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec.mu.Lock()
		rec.endStatus = body.Status
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"finding_count":2}`)
	})
	mux.HandleFunc("GET /ws/run_test", func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer sock.CloseNow()
		for {
			_, data, err := sock.Read(r.Context())
			if err != nil {
				return
			}
			var ev Event
			if json.Unmarshal(data, &ev) == nil {
				rec.add(ev)
			}
		}
	})

	rec.srv = httptest.NewServer(mux)
	t.Cleanup(rec.srv.Close)
	return rec
}

func (r *recorder) add(evs ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// waitForEvents polls until n events arrived or the deadline passes.
func (r *recorder) waitForEvents(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if evs := r.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(r.snapshot()))
	return nil
}

func startMonitor(t *testing.T, rec *recorder) *Monitor {
	t.Helper()
	m, err := Start(t.Context(), Config{
		ServerURL: rec.srv.URL,
		APIKey:    "ak_test",
		Name:      "scan",
		Task:      "audit the checkout flow",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m
}

func TestRunLifecycleOverFallback(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)

	if m.RunID() != "run_test" {
		t.Errorf("run id = %q", m.RunID())
	}

	m.Emit("reasoning", map[string]string{"content": "navigating to the store"})
	m.Emit("action", Action{Kind: "click", Selector: "#buy", URL: "https://shop.example"})

	count, err := m.End(t.Context(), "completed")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if count != 2 {
		t.Errorf("finding count = %d, want 2", count)
	}

	evs := rec.waitForEvents(t, 2)
	if evs[0].Type != "reasoning" || evs[1].Type != "action" {
		t.Errorf("event types = %s, %s", evs[0].Type, evs[1].Type)
	}
	if rec.endStatus != "completed" {
		t.Errorf("end status = %q", rec.endStatus)
	}
}

func TestRunLifecycleOverWebSocket(t *testing.T) {
	rec := newRecorder(t, true)
	m := startMonitor(t, rec)

	for i := 0; i < 5; i++ {
		m.Emit("action", Action{Kind: "click", Selector: "#next"})
	}
	rec.waitForEvents(t, 5)

	if _, err := m.End(t.Context(), "failed"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if rec.endStatus != "failed" {
		t.Errorf("end status = %q", rec.endStatus)
	}
}

func TestEmitNeverBlocksWithoutServer(t *testing.T) {
	tr := newTransport("ws://127.0.0.1:1/ws/x", "http://127.0.0.1:1/api/v1/runs/x/events", "ak_test", discardLogger())
	defer tr.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			tr.Enqueue(Event{Type: "action"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked")
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	rec := newRecorder(t, false)
	m := startMonitor(t, rec)

	if _, err := m.End(t.Context(), "completed"); err != nil {
		t.Fatalf("End: %v", err)
	}
	m.Emit("action", Action{Kind: "click"}) // must not panic

	time.Sleep(50 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("events after close = %d, want 0", n)
	}
}

func TestStartErrorsOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := Start(context.Background(), Config{ServerURL: srv.URL, APIKey: "ak_bad"}); err == nil {
		t.Fatal("expected error for rejected start")
	}
}
