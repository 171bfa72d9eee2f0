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

const (
	defaultBarriersCollection    = "worker_barriers"
	defaultBarrierJobsCollection = "worker_barrier_jobs"
)

// BarrierStore implements store.BarrierStore against MongoDB. The
// completedCount increment is a single FindOneAndUpdate, which Mongo
// executes atomically per-document; the waiting->resuming transition is a
// separate UpdateOne filtered on status=waiting, so only one caller can
// match it - this is the row lock spec.md §4.4 and §5 call for.
type BarrierStore struct {
	client  *mongo.Client
	db      *mongo.Database
	barr    *mongo.Collection
	jobs    *mongo.Collection
	timeout time.Duration
}

// NewBarrierStore builds a Mongo-backed BarrierStore and ensures indexes.
func NewBarrierStore(ctx context.Context, opts Options) (*BarrierStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	db := opts.Client.Database(opts.Database)
	barr := db.Collection(defaultBarriersCollection)
	jobs := db.Collection(defaultBarrierJobsCollection)

	ictx, cancel := withTimeout(ctx, opts.timeout())
	defer cancel()
	if _, err := barr.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	if _, err := jobs.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "barrier_id", Value: 1}, {Key: "job_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, err
	}
	return &BarrierStore{client: opts.Client, db: db, barr: barr, jobs: jobs, timeout: opts.timeout()}, nil
}

type barrierDocument struct {
	ID             string    `bson:"_id"`
	RunID          string    `bson:"run_id"`
	ExpectedCount  int       `bson:"expected_count"`
	CompletedCount int       `bson:"completed_count"`
	Status         string    `bson:"status"`
	DeadlineAt     time.Time `bson:"deadline_at"`
	// ReapClaimed is a lock distinct from Status: the reaper claims a
	// barrier here without disturbing the waiting/resuming state machine
	// that CompleteJob's CAS depends on.
	ReapClaimed bool `bson:"reap_claimed,omitempty"`
}

func fromBarrier(b *store.WorkerBarrier) barrierDocument {
	return barrierDocument{
		ID: b.ID, RunID: b.RunID, ExpectedCount: b.ExpectedCount,
		CompletedCount: b.CompletedCount, Status: string(b.Status), DeadlineAt: b.DeadlineAt,
	}
}

func (d barrierDocument) toBarrier() *store.WorkerBarrier {
	return &store.WorkerBarrier{
		ID: d.ID, RunID: d.RunID, ExpectedCount: d.ExpectedCount,
		CompletedCount: d.CompletedCount, Status: store.BarrierStatus(d.Status), DeadlineAt: d.DeadlineAt,
	}
}

type barrierJobDocument struct {
	BarrierID   string     `bson:"barrier_id"`
	JobID       string     `bson:"job_id"`
	ToolCallID  string     `bson:"tool_call_id"`
	Status      string     `bson:"status"`
	Result      string     `bson:"result,omitempty"`
	Error       string     `bson:"error,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
}

func fromBarrierJob(j *store.WorkerBarrierJob) barrierJobDocument {
	return barrierJobDocument{
		BarrierID: j.BarrierID, JobID: j.JobID, ToolCallID: j.ToolCallID,
		Status: string(j.Status), Result: j.Result, Error: j.Error, CompletedAt: j.CompletedAt,
	}
}

func (d barrierJobDocument) toBarrierJob() *store.WorkerBarrierJob {
	return &store.WorkerBarrierJob{
		BarrierID: d.BarrierID, JobID: d.JobID, ToolCallID: d.ToolCallID,
		Status: store.BarrierJobStatus(d.Status), Result: d.Result, Error: d.Error, CompletedAt: d.CompletedAt,
	}
}

// Install implements store.BarrierStore using a session transaction so the
// barrier insert, job inserts, and WorkerJob status flips commit atomically
// (spec.md §4.4 steps 1-3).
func (s *BarrierStore) Install(ctx context.Context, barrier *store.WorkerBarrier, jobs []*store.WorkerBarrierJob) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		if _, err := s.barr.InsertOne(sc, fromBarrier(barrier)); err != nil {
			return nil, err
		}
		docs := make([]any, len(jobs))
		ids := make([]string, len(jobs))
		for i, j := range jobs {
			docs[i] = fromBarrierJob(j)
			ids[i] = j.JobID
		}
		if len(docs) > 0 {
			if _, err := s.jobs.InsertMany(sc, docs); err != nil {
				return nil, err
			}
		}
		res, err := s.db.Collection(defaultWorkerJobsCollection).UpdateMany(sc,
			bson.M{"_id": bson.M{"$in": ids}, "status": string(store.JobCreated)},
			bson.M{"$set": bson.M{"status": string(store.JobQueued)}},
		)
		if err != nil {
			return nil, err
		}
		if int(res.MatchedCount) != len(ids) {
			return nil, store.ErrCASFailed
		}
		return nil, nil
	})
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrCASFailed
	}
	return err
}

// Get implements store.BarrierStore.
func (s *BarrierStore) Get(ctx context.Context, id string) (*store.WorkerBarrier, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	var doc barrierDocument
	if err := s.barr.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return doc.toBarrier(), nil
}

// GetByRun implements store.BarrierStore.
func (s *BarrierStore) GetByRun(ctx context.Context, runID string) (*store.WorkerBarrier, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	var doc barrierDocument
	if err := s.barr.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return doc.toBarrier(), nil
}

// CompleteJob implements store.BarrierStore. It first CASes the
// WorkerBarrierJob from non-terminal to terminal (so a second call for the
// same job observes AlreadyDone rather than double-incrementing), then
// atomically increments the barrier's completedCount with a FindOneAndUpdate
// and, once all jobs are in, flips waiting->resuming with a conditional
// UpdateOne whose single winner gets ShouldResume.
func (s *BarrierStore) CompleteJob(ctx context.Context, barrierID, jobID string, status store.BarrierJobStatus, result, errMsg string) (store.BarrierCompletionOutcome, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now()
	jobRes, err := s.jobs.UpdateOne(ctx,
		bson.M{
			"barrier_id": barrierID, "job_id": jobID,
			"status": bson.M{"$nin": []string{string(store.BarrierJobCompleted), string(store.BarrierJobFailed), string(store.BarrierJobTimeout)}},
		},
		bson.M{"$set": bson.M{"status": string(status), "result": result, "error": errMsg, "completed_at": now}},
	)
	if err != nil {
		return store.BarrierCompletionOutcome{}, err
	}
	if jobRes.MatchedCount == 0 {
		b, err := s.Get(ctx, barrierID)
		if err != nil {
			return store.BarrierCompletionOutcome{}, err
		}
		return store.BarrierCompletionOutcome{AlreadyDone: true, Barrier: b}, nil
	}

	after := options.After
	var doc barrierDocument
	err = s.barr.FindOneAndUpdate(ctx,
		bson.M{"_id": barrierID},
		bson.M{"$inc": bson.M{"completed_count": 1}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	).Decode(&doc)
	if err != nil {
		return store.BarrierCompletionOutcome{}, err
	}

	outcome := store.BarrierCompletionOutcome{
		CompletedCount: doc.CompletedCount,
		ExpectedCount:  doc.ExpectedCount,
		Barrier:        doc.toBarrier(),
	}
	if doc.CompletedCount >= doc.ExpectedCount && doc.Status == string(store.BarrierWaiting) {
		claimRes, err := s.barr.UpdateOne(ctx,
			bson.M{"_id": barrierID, "status": string(store.BarrierWaiting)},
			bson.M{"$set": bson.M{"status": string(store.BarrierResuming)}},
		)
		if err != nil {
			return store.BarrierCompletionOutcome{}, err
		}
		outcome.ShouldResume = claimRes.MatchedCount == 1
	}
	jobs, err := s.ListJobs(ctx, barrierID)
	if err != nil {
		return store.BarrierCompletionOutcome{}, err
	}
	outcome.Jobs = jobs
	return outcome, nil
}

// ListJobs implements store.BarrierStore.
func (s *BarrierStore) ListJobs(ctx context.Context, barrierID string) ([]*store.WorkerBarrierJob, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.jobs.Find(ctx, bson.M{"barrier_id": barrierID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*store.WorkerBarrierJob
	for cur.Next(ctx) {
		var doc barrierJobDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toBarrierJob())
	}
	return out, cur.Err()
}

// Reinstall implements store.BarrierStore.
func (s *BarrierStore) Reinstall(ctx context.Context, barrierID string, jobs []*store.WorkerBarrierJob) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		if _, err := s.jobs.DeleteMany(sc, bson.M{"barrier_id": barrierID}); err != nil {
			return nil, err
		}
		docs := make([]any, len(jobs))
		for i, j := range jobs {
			docs[i] = fromBarrierJob(j)
		}
		if len(docs) > 0 {
			if _, err := s.jobs.InsertMany(sc, docs); err != nil {
				return nil, err
			}
		}
		_, err := s.barr.UpdateOne(sc, bson.M{"_id": barrierID}, bson.M{"$set": bson.M{
			"completed_count": 0, "expected_count": len(jobs), "status": string(store.BarrierWaiting),
		}})
		return nil, err
	})
	return err
}

// MarkResumed implements store.BarrierStore.
func (s *BarrierStore) MarkResumed(ctx context.Context, barrierID string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.barr.UpdateOne(ctx, bson.M{"_id": barrierID}, bson.M{"$set": bson.M{"status": string(store.BarrierComplete)}})
	return err
}

// ListExpiredWaiting implements store.BarrierStore.
func (s *BarrierStore) ListExpiredWaiting(ctx context.Context, now time.Time) ([]*store.WorkerBarrier, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.barr.Find(ctx, bson.M{"status": string(store.BarrierWaiting), "deadline_at": bson.M{"$lt": now}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*store.WorkerBarrier
	for cur.Next(ctx) {
		var doc barrierDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toBarrier())
	}
	return out, cur.Err()
}

// ClaimForReap implements store.BarrierStore using a no-wait CAS on a lock
// field separate from Status: if reap_claimed is already true (another
// reaper pass already owns it), the update matches nothing and we report
// ErrCASFailed. Status itself is left alone so CompleteJob's normal
// waiting->resuming CAS keeps working during the reap.
func (s *BarrierStore) ClaimForReap(ctx context.Context, barrierID string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.barr.UpdateOne(ctx,
		bson.M{"_id": barrierID, "reap_claimed": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"reap_claimed": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrCASFailed
	}
	return nil
}
