package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
)

const (
	defaultThreadsCollection  = "threads"
	defaultMessagesCollection = "messages"
	defaultCountersCollection = "message_counters"
)

// ThreadStore implements store.ThreadStore against MongoDB.
type ThreadStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewThreadStore builds a Mongo-backed ThreadStore and ensures indexes.
func NewThreadStore(ctx context.Context, opts Options) (*ThreadStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Client.Database(opts.Database).Collection(defaultThreadsCollection)
	ictx, cancel := withTimeout(ctx, opts.timeout())
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "agent_id", Value: 1}},
		Options: options.Index(),
	}); err != nil {
		return nil, err
	}
	return &ThreadStore{coll: coll, timeout: opts.timeout()}, nil
}

type threadDocument struct {
	ID         string `bson:"_id"`
	OwnerID    string `bson:"owner_id"`
	AgentID    string `bson:"agent_id"`
	Supervisor bool   `bson:"supervisor"`
}

// Create implements store.ThreadStore.
func (s *ThreadStore) Create(ctx context.Context, th *store.Thread) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.InsertOne(ctx, threadDocument{ID: th.ID, OwnerID: th.OwnerID, AgentID: th.AgentID})
	return err
}

// Get implements store.ThreadStore.
func (s *ThreadStore) Get(ctx context.Context, id string) (*store.Thread, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	var doc threadDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &store.Thread{ID: doc.ID, OwnerID: doc.OwnerID, AgentID: doc.AgentID}, nil
}

// FindOrCreateSupervisor implements store.ThreadStore.
func (s *ThreadStore) FindOrCreateSupervisor(ctx context.Context, ownerID, agentID string) (*store.Thread, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	after := options.After
	var doc threadDocument
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"owner_id": ownerID, "agent_id": agentID, "supervisor": true},
		bson.M{"$setOnInsert": threadDocument{ID: uuid.NewString(), OwnerID: ownerID, AgentID: agentID, Supervisor: true}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after, Upsert: boolPtr(true)},
	).Decode(&doc)
	if err != nil {
		return nil, err
	}
	return &store.Thread{ID: doc.ID, OwnerID: doc.OwnerID, AgentID: doc.AgentID}, nil
}

func boolPtr(b bool) *bool { return &b }

// MessageStore implements store.MessageStore against MongoDB, using a
// per-thread counter document to hand out strictly increasing IDs, since
// ordering must be by monotonic insertion id rather than timestamp
// (spec.md §3).
type MessageStore struct {
	coll     *mongo.Collection
	counters *mongo.Collection
	timeout  time.Duration
}

// NewMessageStore builds a Mongo-backed MessageStore and ensures indexes.
func NewMessageStore(ctx context.Context, opts Options) (*MessageStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	db := opts.Client.Database(opts.Database)
	coll := db.Collection(defaultMessagesCollection)
	ictx, cancel := withTimeout(ctx, opts.timeout())
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	return &MessageStore{coll: coll, counters: db.Collection(defaultCountersCollection), timeout: opts.timeout()}, nil
}

type messageDocument struct {
	Seq       int64               `bson:"seq"`
	ThreadID  string              `bson:"thread_id"`
	Role      string              `bson:"role"`
	Parts     []model.EncodedPart `bson:"parts"`
	Processed bool                `bson:"processed"`
	Internal  bool                `bson:"internal"`
	Meta      map[string]any      `bson:"meta,omitempty"`
}

func (s *MessageStore) nextSeq(ctx context.Context, threadID string) (int64, error) {
	after := options.After
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": threadID},
		bson.M{"$inc": bson.M{"seq": 1}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after, Upsert: boolPtr(true)},
	).Decode(&doc)
	return doc.Seq, err
}

// Append implements store.MessageStore. Parts are marshaled through
// model's JSON encoding (each Part implementation already knows its own
// JSON shape) and stored as opaque bson.M so the store package does not
// need a switch over every part kind.
func (s *MessageStore) Append(ctx context.Context, msg *model.Message) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	seq, err := s.nextSeq(ctx, msg.ThreadID)
	if err != nil {
		return 0, err
	}
	parts, err := model.EncodeParts(msg.Parts)
	if err != nil {
		return 0, err
	}
	doc := messageDocument{
		Seq: seq, ThreadID: msg.ThreadID, Role: string(msg.Role), Parts: parts,
		Processed: msg.Processed, Internal: msg.Internal, Meta: msg.Meta,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return 0, err
	}
	msg.ID = seq
	return seq, nil
}

// List implements store.MessageStore.
func (s *MessageStore) List(ctx context.Context, threadID string) ([]model.Message, error) {
	return s.ListSince(ctx, threadID, 0)
}

// ListSince implements store.MessageStore.
func (s *MessageStore) ListSince(ctx context.Context, threadID string, afterID int64) ([]model.Message, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.coll.Find(ctx,
		bson.M{"thread_id": threadID, "seq": bson.M{"$gt": afterID}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []model.Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		parts, err := model.DecodeParts(doc.Parts)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Message{
			ID: doc.Seq, ThreadID: doc.ThreadID, Role: model.ConversationRole(doc.Role),
			Parts: parts, Processed: doc.Processed, Internal: doc.Internal, Meta: doc.Meta,
		})
	}
	return out, cur.Err()
}

// MarkProcessed implements store.MessageStore.
func (s *MessageStore) MarkProcessed(ctx context.Context, threadID string, ids []int64) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"thread_id": threadID, "seq": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"processed": true}},
	)
	return err
}

// Delete implements store.MessageStore.
func (s *MessageStore) Delete(ctx context.Context, threadID string, ids []int64) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.DeleteMany(ctx, bson.M{"thread_id": threadID, "seq": bson.M{"$in": ids}})
	return err
}
