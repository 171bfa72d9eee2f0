package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nullstackai/conductor/store"
)

const defaultEventsCollection = "run_events"

// EventStore implements store.EventStore against MongoDB. Like
// MessageStore it hands out monotonic IDs from a per-run counter rather
// than relying on timestamps (spec.md §3).
type EventStore struct {
	coll     *mongo.Collection
	counters *mongo.Collection
	timeout  time.Duration
}

// NewEventStore builds a Mongo-backed EventStore and ensures indexes.
func NewEventStore(ctx context.Context, opts Options) (*EventStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	db := opts.Client.Database(opts.Database)
	coll := db.Collection(defaultEventsCollection)
	ictx, cancel := withTimeout(ctx, opts.timeout())
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	return &EventStore{coll: coll, counters: db.Collection(defaultCountersCollection), timeout: opts.timeout()}, nil
}

type eventDocument struct {
	Seq       int64          `bson:"seq"`
	RunID     string         `bson:"run_id"`
	EventType string         `bson:"event_type"`
	Payload   map[string]any `bson:"payload"`
	CreatedAt time.Time      `bson:"created_at"`
}

// Append implements store.EventStore.
func (s *EventStore) Append(ctx context.Context, ev *store.Event) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	after := options.After
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "event:" + ev.RunID},
		bson.M{"$inc": bson.M{"seq": 1}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after, Upsert: boolPtr(true)},
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	var payload map[string]any
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return 0, err
		}
	}
	doc := eventDocument{Seq: counter.Seq, RunID: ev.RunID, EventType: ev.EventType, Payload: payload, CreatedAt: ev.CreatedAt}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return 0, err
	}
	ev.ID = counter.Seq
	return counter.Seq, nil
}

// ListSince implements store.EventStore.
func (s *EventStore) ListSince(ctx context.Context, runID string, afterID int64) ([]store.Event, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.coll.Find(ctx,
		bson.M{"run_id": runID, "seq": bson.M{"$gt": afterID}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []store.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		payload, err := json.Marshal(doc.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, store.Event{ID: doc.Seq, RunID: doc.RunID, EventType: doc.EventType, Payload: payload, CreatedAt: doc.CreatedAt})
	}
	return out, cur.Err()
}
