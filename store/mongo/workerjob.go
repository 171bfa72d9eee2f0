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

const defaultWorkerJobsCollection = "worker_jobs"

// WorkerJobStore implements store.WorkerJobStore against MongoDB.
type WorkerJobStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewWorkerJobStore builds a Mongo-backed WorkerJobStore and ensures indexes.
func NewWorkerJobStore(ctx context.Context, opts Options) (*WorkerJobStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Client.Database(opts.Database).Collection(defaultWorkerJobsCollection)
	ictx, cancel := withTimeout(ctx, opts.timeout())
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "supervisor_run_id", Value: 1}, {Key: "tool_call_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	if _, err := coll.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}},
		Options: options.Index(),
	}); err != nil {
		return nil, err
	}
	return &WorkerJobStore{coll: coll, timeout: opts.timeout()}, nil
}

type workerJobDocument struct {
	ID              string                 `bson:"_id"`
	OwnerID         string                 `bson:"owner_id"`
	SupervisorRunID string                 `bson:"supervisor_run_id"`
	ToolCallID      string                 `bson:"tool_call_id"`
	Task            string                 `bson:"task"`
	Model           string                 `bson:"model"`
	ReasoningEffort string                 `bson:"reasoning_effort,omitempty"`
	Status          string                 `bson:"status"`
	WorkerID        string                 `bson:"worker_id,omitempty"`
	Error           string                 `bson:"error,omitempty"`
	CreatedAt       time.Time              `bson:"created_at"`
	StartedAt       *time.Time             `bson:"started_at,omitempty"`
	FinishedAt      *time.Time             `bson:"finished_at,omitempty"`
	Config          *store.WorkerJobConfig `bson:"config,omitempty"`
	Acknowledged    bool                   `bson:"acknowledged"`
	AcknowledgedAt  *time.Time             `bson:"acknowledged_at,omitempty"`
}

func fromWorkerJob(j *store.WorkerJob) workerJobDocument {
	return workerJobDocument{
		ID: j.ID, OwnerID: j.OwnerID, SupervisorRunID: j.SupervisorRunID, ToolCallID: j.ToolCallID,
		Task: j.Task, Model: j.Model, ReasoningEffort: j.ReasoningEffort, Status: string(j.Status),
		WorkerID: j.WorkerID, Error: j.Error, CreatedAt: j.CreatedAt, StartedAt: j.StartedAt,
		FinishedAt: j.FinishedAt, Config: j.Config, Acknowledged: j.Acknowledged, AcknowledgedAt: j.AcknowledgedAt,
	}
}

func (d workerJobDocument) toWorkerJob() *store.WorkerJob {
	return &store.WorkerJob{
		ID: d.ID, OwnerID: d.OwnerID, SupervisorRunID: d.SupervisorRunID, ToolCallID: d.ToolCallID,
		Task: d.Task, Model: d.Model, ReasoningEffort: d.ReasoningEffort, Status: store.WorkerJobStatus(d.Status),
		WorkerID: d.WorkerID, Error: d.Error, CreatedAt: d.CreatedAt, StartedAt: d.StartedAt,
		FinishedAt: d.FinishedAt, Config: d.Config, Acknowledged: d.Acknowledged, AcknowledgedAt: d.AcknowledgedAt,
	}
}

// FindByToolCall implements store.WorkerJobStore.
func (s *WorkerJobStore) FindByToolCall(ctx context.Context, supervisorRunID, toolCallID string) (*store.WorkerJob, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	var doc workerJobDocument
	err := s.coll.FindOne(ctx, bson.M{"supervisor_run_id": supervisorRunID, "tool_call_id": toolCallID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toWorkerJob(), nil
}

// Create implements store.WorkerJobStore.
func (s *WorkerJobStore) Create(ctx context.Context, job *store.WorkerJob) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err := s.coll.InsertOne(ctx, fromWorkerJob(job))
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrCASFailed
	}
	return err
}

// Get implements store.WorkerJobStore.
func (s *WorkerJobStore) Get(ctx context.Context, id string) (*store.WorkerJob, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	var doc workerJobDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return doc.toWorkerJob(), nil
}

// FlipCreatedToQueued implements store.WorkerJobStore.
func (s *WorkerJobStore) FlipCreatedToQueued(ctx context.Context, ids []string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": string(store.JobCreated)},
		bson.M{"$set": bson.M{"status": string(store.JobQueued)}},
	)
	if err != nil {
		return err
	}
	if int(res.MatchedCount) != len(ids) {
		return store.ErrCASFailed
	}
	return nil
}

// ClaimQueued implements store.WorkerJobStore using FindOneAndUpdate as the
// claim primitive: the matching document is atomically flipped to running
// and handed to exactly the caller that matched it.
func (s *WorkerJobStore) ClaimQueued(ctx context.Context) (*store.WorkerJob, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	now := time.Now()
	after := options.After
	var doc workerJobDocument
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"status": string(store.JobQueued)},
		bson.M{"$set": bson.M{"status": string(store.JobRunning), "started_at": now}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after, Sort: bson.D{{Key: "created_at", Value: 1}}},
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toWorkerJob(), nil
}

// Finish implements store.WorkerJobStore.
func (s *WorkerJobStore) Finish(ctx context.Context, id, workerID string, status store.WorkerJobStatus, errMsg string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	now := time.Now()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"worker_id": workerID, "status": string(status), "error": errMsg, "finished_at": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListOrphans implements store.WorkerJobStore.
func (s *WorkerJobStore) ListOrphans(ctx context.Context, olderThan time.Time) ([]*store.WorkerJob, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.coll.Find(ctx, bson.M{"status": string(store.JobCreated), "created_at": bson.M{"$lt": olderThan}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*store.WorkerJob
	for cur.Next(ctx) {
		var doc workerJobDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toWorkerJob())
	}
	return out, cur.Err()
}

// ListByOwner implements store.WorkerJobStore.
func (s *WorkerJobStore) ListByOwner(ctx context.Context, ownerID string) ([]*store.WorkerJob, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.coll.Find(ctx, bson.M{"owner_id": ownerID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*store.WorkerJob
	for cur.Next(ctx) {
		var doc workerJobDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toWorkerJob())
	}
	return out, cur.Err()
}

// Acknowledge implements store.WorkerJobStore.
func (s *WorkerJobStore) Acknowledge(ctx context.Context, ids []string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	now := time.Now()
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"acknowledged": true, "acknowledged_at": now}},
	)
	return err
}
