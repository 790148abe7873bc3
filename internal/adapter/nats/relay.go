// Package nats implements the cross-instance event relay using NATS.
//
// The relay uses core NATS pub/sub rather than JetStream: live fan-out
// is ephemeral by nature, and durable redelivery would replay stale
// events to freshly connected observers.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/argussec/argus/internal/port/relay"
)

// subjectPrefix namespaces relay traffic; the run ID is the last token.
const subjectPrefix = "argus.runs."

// envelope wraps a relayed event with its origin instance so each node
// can drop its own publishes.
type envelope struct {
	Origin string          `json:"origin"`
	RunID  string          `json:"run_id"`
	Data   json.RawMessage `json:"data"`
}

// Relay implements relay.Relay over a NATS connection.
type Relay struct {
	nc       *nats.Conn
	instance string
	log      *slog.Logger
}

// Connect establishes a NATS connection for the relay.
func Connect(url string, log *slog.Logger) (*Relay, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	r := &Relay{
		nc:       nc,
		instance: uuid.NewString(),
		log:      log,
	}
	log.Info("nats relay connected", "url", url, "instance", r.instance)
	return r, nil
}

// Conn exposes the underlying connection for other NATS-backed
// adapters to share.
func (r *Relay) Conn() *nats.Conn {
	return r.nc
}

// Publish sends an encoded event for the given run to other instances.
func (r *Relay) Publish(_ context.Context, runID string, data []byte) error {
	env, err := json.Marshal(envelope{Origin: r.instance, RunID: runID, Data: data})
	if err != nil {
		return fmt.Errorf("relay marshal: %w", err)
	}
	if err := r.nc.Publish(subjectPrefix+runID, env); err != nil {
		return fmt.Errorf("relay publish %s: %w", runID, err)
	}
	return nil
}

// Subscribe delivers events published by other instances. Messages that
// originated on this instance are dropped.
func (r *Relay) Subscribe(ctx context.Context, handler relay.Handler) (func(), error) {
	sub, err := r.nc.Subscribe(subjectPrefix+">", func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			r.log.Warn("relay message dropped", "error", err)
			return
		}
		if env.Origin == r.instance {
			return
		}
		handler(ctx, env.RunID, env.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			r.log.Warn("relay unsubscribe failed", "error", err)
		}
	}, nil
}

// Close shuts down the NATS connection.
func (r *Relay) Close() error {
	r.nc.Close()
	return nil
}
