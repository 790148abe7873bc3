package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	fallbackTimeout = 2 * time.Second
	dialTimeout     = 2 * time.Second
)

// Event is the wire envelope for one telemetry event.
type Event struct {
	Type           string     `json:"type"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	Payload        any        `json:"payload,omitempty"`
	VideoTimestamp *float64   `json:"video_timestamp,omitempty"`
}

// transport delivers events in the background. Enqueue never blocks the
// caller: events go into an in-memory queue and a single worker drains
// it. Delivery is best-effort: the open websocket is tried first, then
// one POST to the fallback endpoint, then the batch is dropped. No
// delivery error ever reaches the instrumented agent.
type transport struct {
	wsURL       string
	fallbackURL string
	apiKey      string
	httpc       *http.Client
	log         *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	inFlight bool
	closed   bool

	sock *websocket.Conn
	done chan struct{}
}

func newTransport(wsURL, fallbackURL, apiKey string, log *slog.Logger) *transport {
	t := &transport{
		wsURL:       wsURL,
		fallbackURL: fallbackURL,
		apiKey:      apiKey,
		httpc:       &http.Client{Timeout: fallbackTimeout},
		log:         log,
		done:        make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	t.dial()
	go t.worker()
	return t
}

// Enqueue appends an event to the queue and returns immediately.
// Calling after Close drops the event.
func (t *transport) Enqueue(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.queue = append(t.queue, ev)
	t.cond.Signal()
}

// Flush waits until the queue drains or the grace period elapses.
func (t *transport) Flush(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for {
		t.mu.Lock()
		drained := len(t.queue) == 0 && !t.inFlight
		t.mu.Unlock()
		if drained || time.Now().After(deadline) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Close stops the worker after it drains what is already queued, then
// closes the websocket.
func (t *transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.cond.Broadcast()
	t.mu.Unlock()

	<-t.done
	if t.sock != nil {
		_ = t.sock.Close(websocket.StatusNormalClosure, "run ended")
	}
}

func (t *transport) worker() {
	defer close(t.done)
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.closed {
			t.cond.Wait()
		}
		if len(t.queue) == 0 && t.closed {
			t.mu.Unlock()
			return
		}
		batch := t.queue
		t.queue = nil
		t.inFlight = true
		t.mu.Unlock()

		t.send(batch)

		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}
}

// send tries the websocket first, the HTTP fallback second, and drops
// the batch if both fail.
func (t *transport) send(batch []Event) {
	if t.sendWS(batch) {
		return
	}
	if t.sendHTTP(batch) {
		return
	}
	t.log.Debug("dropping events after transport failures", "count", len(batch))
}

func (t *transport) sendWS(batch []Event) bool {
	if t.sock == nil && !t.dial() {
		return false
	}
	for i, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			t.log.Debug("skipping unencodable event", "type", ev.Type, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), fallbackTimeout)
		err = t.sock.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			// Connection is dead; the remainder of the batch goes
			// through the fallback.
			_ = t.sock.CloseNow()
			t.sock = nil
			return t.sendHTTP(batch[i:])
		}
	}
	return true
}

func (t *transport) sendHTTP(batch []Event) bool {
	body, err := json.Marshal(map[string][]Event{"events": batch})
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), fallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.fallbackURL, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", t.apiKey)

	resp, err := t.httpc.Do(req)
	if err != nil {
		t.log.Debug("fallback post failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		t.log.Debug("fallback post rejected", "status", resp.StatusCode)
		return false
	}
	return true
}

// dial opens the websocket. Failure is non-fatal; events flow through
// the HTTP fallback until a later batch redials successfully.
func (t *transport) dial() bool {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	sock, _, err := websocket.Dial(ctx, t.wsURL, nil)
	if err != nil {
		t.log.Debug("websocket dial failed", "error", err)
		return false
	}
	t.sock = sock
	return true
}
