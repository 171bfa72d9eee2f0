package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/nullstackai/conductor/store"
)

// PulseClient is the subset of goa.design/pulse's streaming client this
// package depends on, narrowed the way the teacher narrows its Pulse
// wrapper (features/stream/pulse/clients/pulse/client.go) so tests can fake
// it without standing up Redis.
type PulseClient interface {
	Stream(name string, opts ...streamopts.Stream) (PulseStream, error)
}

// PulseStream is the subset of a Pulse stream handle this package uses.
type PulseStream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
}

// DurableBus wraps a Bus so every published event is additionally appended
// to the run's append-only store.EventStore log (spec.md §3 Event entity)
// and mirrored onto a Pulse stream for SSE replay-on-reconnect. Local
// subscribers still see the event synchronously via the wrapped Bus.
type DurableBus struct {
	inner  Bus
	events store.EventStore
	pulse  PulseClient
}

// NewDurableBus builds a DurableBus. pulse may be nil, in which case events
// are persisted to the store but not mirrored to a Pulse stream (suitable
// for single-process deployments with only in-process SSE fan-out).
func NewDurableBus(inner Bus, eventStore store.EventStore, pulse PulseClient) *DurableBus {
	return &DurableBus{inner: inner, events: eventStore, pulse: pulse}
}

// Publish persists ev to the durable event log, mirrors it to Pulse if
// configured, and then fans it out to in-process subscribers.
func (b *DurableBus) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("events: marshal %s payload: %w", ev.Type, err)
	}
	rec := &store.Event{RunID: ev.RunID, EventType: string(ev.Type), Payload: payload, CreatedAt: time.Now()}
	if _, err := b.events.Append(ctx, rec); err != nil {
		return fmt.Errorf("events: append durable record: %w", err)
	}
	if b.pulse != nil {
		stream, err := b.pulse.Stream(streamName(ev.RunID))
		if err != nil {
			return fmt.Errorf("events: open pulse stream: %w", err)
		}
		envelope, err := json.Marshal(pulseEnvelope{Type: string(ev.Type), RunID: ev.RunID, Seq: rec.ID, Payload: payload})
		if err != nil {
			return fmt.Errorf("events: marshal pulse envelope: %w", err)
		}
		if _, err := stream.Add(ctx, string(ev.Type), envelope); err != nil {
			return fmt.Errorf("events: publish to pulse: %w", err)
		}
	}
	return b.inner.Publish(ctx, ev)
}

// Register delegates to the wrapped Bus.
func (b *DurableBus) Register(sub Subscriber) (Subscription, error) {
	return b.inner.Register(sub)
}

// ReplaySince returns every durable event for runID after afterID, for a
// client reconnecting to an SSE stream mid-run.
func (b *DurableBus) ReplaySince(ctx context.Context, runID string, afterID int64) ([]store.Event, error) {
	return b.events.ListSince(ctx, runID, afterID)
}

func streamName(runID string) string { return "run/" + runID }

type pulseEnvelope struct {
	Type    string          `json:"type"`
	RunID   string          `json:"run_id"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// decodePulseEvent is a convenience used by SSE transport code subscribing
// directly to the raw Pulse stream rather than the in-process Bus.
func decodePulseEvent(raw *streaming.Event) (pulseEnvelope, error) {
	var env pulseEnvelope
	err := json.Unmarshal(raw.Payload, &env)
	return env, err
}
