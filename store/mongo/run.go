package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nullstackai/conductor/store"
)

const defaultRunsCollection = "runs"

// RunStore implements store.RunStore against MongoDB.
type RunStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewRunStore builds a Mongo-backed RunStore and ensures its indexes exist.
func NewRunStore(ctx context.Context, opts Options) (*RunStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Client.Database(opts.Database).Collection(defaultRunsCollection)
	ictx, cancel := withTimeout(ctx, opts.timeout())
	defer cancel()
	_, err := coll.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}},
		Options: options.Index(),
	})
	if err != nil {
		return nil, err
	}
	return &RunStore{coll: coll, timeout: opts.timeout()}, nil
}

type runDocument struct {
	ID                  string     `bson:"_id"`
	OwnerID             string     `bson:"owner_id"`
	ThreadID            string     `bson:"thread_id"`
	AgentID             string     `bson:"agent_id"`
	Status              string     `bson:"status"`
	StartedAt           time.Time  `bson:"started_at"`
	FinishedAt          *time.Time `bson:"finished_at,omitempty"`
	DurationMs          int64      `bson:"duration_ms"`
	TotalTokens         *int       `bson:"total_tokens,omitempty"`
	AssistantMessageID  string     `bson:"assistant_message_id"`
	PendingToolCallID   string     `bson:"pending_tool_call_id,omitempty"`
	ContinuationOfRunID *string    `bson:"continuation_of_run_id,omitempty"`
	RootRunID           string     `bson:"root_run_id"`
	ContinuationDepth   int        `bson:"continuation_depth"`
	TraceID             string     `bson:"trace_id,omitempty"`
	Model               string     `bson:"model"`
	ReasoningEffort     string     `bson:"reasoning_effort,omitempty"`
}

func fromRun(r *store.Run) runDocument {
	return runDocument{
		ID:                  r.ID,
		OwnerID:             r.OwnerID,
		ThreadID:            r.ThreadID,
		AgentID:             r.AgentID,
		Status:              string(r.Status),
		StartedAt:           r.StartedAt,
		FinishedAt:          r.FinishedAt,
		DurationMs:          r.DurationMs,
		TotalTokens:         r.TotalTokens,
		AssistantMessageID:  r.AssistantMessageID,
		PendingToolCallID:   r.PendingToolCallID,
		ContinuationOfRunID: r.ContinuationOfRunID,
		RootRunID:           r.RootRunID,
		ContinuationDepth:   r.ContinuationDepth,
		TraceID:             r.TraceID,
		Model:               r.Model,
		ReasoningEffort:     r.ReasoningEffort,
	}
}

func (d runDocument) toRun() *store.Run {
	return &store.Run{
		ID:                  d.ID,
		OwnerID:             d.OwnerID,
		ThreadID:            d.ThreadID,
		AgentID:             d.AgentID,
		Status:              store.RunStatus(d.Status),
		StartedAt:           d.StartedAt,
		FinishedAt:          d.FinishedAt,
		DurationMs:          d.DurationMs,
		TotalTokens:         d.TotalTokens,
		AssistantMessageID:  d.AssistantMessageID,
		PendingToolCallID:   d.PendingToolCallID,
		ContinuationOfRunID: d.ContinuationOfRunID,
		RootRunID:           d.RootRunID,
		ContinuationDepth:   d.ContinuationDepth,
		TraceID:             d.TraceID,
		Model:               d.Model,
		ReasoningEffort:     d.ReasoningEffort,
	}
}

// Create implements store.RunStore.
func (s *RunStore) Create(ctx context.Context, run *store.Run) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.InsertOne(ctx, fromRun(run))
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrCASFailed
	}
	return err
}

// Get implements store.RunStore.
func (s *RunStore) Get(ctx context.Context, id string) (*store.Run, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	var doc runDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return doc.toRun(), nil
}

// CASStatus implements store.RunStore.
func (s *RunStore) CASStatus(ctx context.Context, id string, from, to store.RunStatus) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to)}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrCASFailed
	}
	return nil
}

// Update implements store.RunStore.
func (s *RunStore) Update(ctx context.Context, run *store.Run) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": run.ID}, fromRun(run))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FindByContinuationOf implements store.RunStore.
func (s *RunStore) FindByContinuationOf(ctx context.Context, runID string) (*store.Run, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	var doc runDocument
	err := s.coll.FindOne(ctx, bson.M{"continuation_of_run_id": runID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return doc.toRun(), nil
}
