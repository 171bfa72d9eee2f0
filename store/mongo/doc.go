// Package mongo implements the store.* interfaces against MongoDB
// (grounded on features/run/mongo, features/session/mongo, and
// features/runlog/mongo), using the v2 mongo-driver. The WorkerBarrier CAS
// completion path additionally uses FindOneAndUpdate as the store-level row
// lock, standing in for a Postgres SELECT ... FOR UPDATE (spec.md §4.4,
// §5).
package mongo
