package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/argussec/argus/internal/domain/event"
)

// Authz resolves the credentials presented at connect time. Producers
// authenticate with their project API key; dashboard observers with a
// session token.
type Authz interface {
	// ProjectIDForKey resolves a plain API key to its project.
	ProjectIDForKey(ctx context.Context, key string) (string, error)

	// ProjectIDForSession resolves a session token to the project owning
	// runID, verifying the session's user owns that project.
	ProjectIDForSession(ctx context.Context, token, runID string) (string, error)
}

// Ingestor persists a batch of incoming events and fans them out to the
// run's other observers. origin identifies the producing connection so
// fan-out can skip it.
type Ingestor interface {
	IngestEvents(ctx context.Context, projectID, runID string, batch []event.Ingest, origin string) error
	RunExists(ctx context.Context, projectID, runID string) (bool, error)
}

// Handler upgrades /ws/{runID} requests and runs the per-connection
// read loop.
type Handler struct {
	hub      *Hub
	authz    Authz
	ingestor Ingestor
	log      *slog.Logger
}

// NewHandler creates a WebSocket handler bound to the hub.
func NewHandler(hub *Hub, authz Authz, ingestor Ingestor, log *slog.Logger) *Handler {
	return &Handler{hub: hub, authz: authz, ingestor: ingestor, log: log}
}

// HandleWS upgrades the connection, authenticates it, and reads events
// until the peer disconnects. Authentication failures close the socket
// with policy-violation (1008) after the upgrade, so clients observe a
// WebSocket close instead of an HTTP error.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())

	projectID, err := h.authorize(ctx, r, runID)
	if err != nil {
		h.log.Info("websocket auth rejected", "run_id", runID, "error", err)
		_ = sock.Close(websocket.StatusPolicyViolation, "unauthorized")
		cancel()
		return
	}

	if ok, err := h.ingestor.RunExists(ctx, projectID, runID); err != nil || !ok {
		h.log.Info("websocket run rejected", "run_id", runID, "error", err)
		_ = sock.Close(websocket.StatusPolicyViolation, "unknown run")
		cancel()
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		runID:  runID,
		ws:     sock,
		cancel: cancel,
	}
	h.hub.add(c)
	h.log.Info("websocket connected", "run_id", runID, "remote", r.RemoteAddr)

	// Block until the peer disconnects: net/http cancels r.Context()
	// as soon as ServeHTTP returns, hijacked or not, which would kill
	// the read immediately.
	h.readLoop(ctx, c, projectID)
}

// authorize resolves either credential form from the query string.
func (h *Handler) authorize(ctx context.Context, r *http.Request, runID string) (string, error) {
	q := r.URL.Query()
	if key := q.Get("api_key"); key != "" {
		return h.authz.ProjectIDForKey(ctx, key)
	}
	return h.authz.ProjectIDForSession(ctx, q.Get("token"), runID)
}

// readLoop consumes incoming messages until disconnect. Each text frame
// is one event from the producer: it is persisted and rebroadcast to the
// run's other connections. Malformed frames are dropped, not fatal.
func (h *Handler) readLoop(ctx context.Context, c *conn, projectID string) {
	defer func() {
		h.hub.remove(c)
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}

		var in event.Ingest
		if err := json.Unmarshal(data, &in); err != nil {
			h.log.Debug("websocket frame dropped", "run_id", c.runID, "error", err)
			continue
		}

		if err := h.ingestor.IngestEvents(ctx, projectID, c.runID, []event.Ingest{in}, c.id); err != nil {
			h.log.Warn("websocket ingest failed", "run_id", c.runID, "error", err)
		}
	}
}
