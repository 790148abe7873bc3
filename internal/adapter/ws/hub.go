// Package ws implements the WebSocket adapter: the live event channel
// for producers and the per-run fan-out registry for observers.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/argussec/argus/internal/domain/event"
	"github.com/argussec/argus/internal/port/relay"
)

// Message is the envelope for all WebSocket messages sent to observers.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection subscribed to one run.
type conn struct {
	id     string
	runID  string
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub is the fan-out registry: it tracks live connections per run and
// broadcasts events to every observer of that run. All methods are safe
// for concurrent use.
type Hub struct {
	log   *slog.Logger
	relay relay.Relay // nil when running single-node

	mu   sync.RWMutex
	runs map[string]map[*conn]struct{}
}

// NewHub creates a fan-out registry. relay may be nil; when set, local
// events are also published for observers connected to other instances.
func NewHub(log *slog.Logger, r relay.Relay) *Hub {
	return &Hub{
		log:   log,
		relay: r,
		runs:  make(map[string]map[*conn]struct{}),
	}
}

// StartRelay subscribes to events relayed from other instances and fans
// them out locally. Returns the subscription cancel function.
func (h *Hub) StartRelay(ctx context.Context) (func(), error) {
	if h.relay == nil {
		return func() {}, nil
	}
	return h.relay.Subscribe(ctx, func(ctx context.Context, runID string, data []byte) {
		h.fanOut(ctx, runID, data, "")
	})
}

// add registers a connection under its run.
func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runs[c.runID] == nil {
		h.runs[c.runID] = make(map[*conn]struct{})
	}
	h.runs[c.runID][c] = struct{}{}
}

// remove unregisters a connection, dropping the run's slot when it was
// the last one. Safe to call more than once per connection.
func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.runs[c.runID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	c.cancel()
	delete(set, c)
	if len(set) == 0 {
		delete(h.runs, c.runID)
	}
	h.log.Info("websocket disconnected", "run_id", c.runID)
}

// BroadcastEvent fans an event out to every observer of its run except
// the originating connection, then relays it to other instances. A run
// with no observers is a no-op.
func (h *Hub) BroadcastEvent(ctx context.Context, runID string, ev event.Event, exclude string) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("websocket marshal failed", "error", err)
		return
	}
	data, err := json.Marshal(Message{Type: "event", Payload: payload})
	if err != nil {
		h.log.Error("websocket marshal failed", "error", err)
		return
	}

	h.fanOut(ctx, runID, data, exclude)

	if h.relay != nil {
		if err := h.relay.Publish(ctx, runID, data); err != nil {
			h.log.Warn("relay publish failed", "run_id", runID, "error", err)
		}
	}
}

// fanOut writes pre-encoded data to the run's local connections.
func (h *Hub) fanOut(ctx context.Context, runID string, data []byte, exclude string) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.runs[runID]))
	for c := range h.runs[runID] {
		if c.id != exclude {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			h.log.Debug("websocket write failed", "run_id", runID, "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections for a run.
func (h *Hub) ConnectionCount(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs[runID])
}
