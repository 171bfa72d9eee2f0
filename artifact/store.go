// Package artifact implements the content-addressed artifact store
// (spec.md §6): the out-of-store blob holding a worker's final result text
// and sidecar metadata, addressed by the worker's opaque workerId.
package artifact

import (
	"context"
	"errors"
)

// Kind identifies which blob of a worker's artifact is being addressed.
type Kind string

const (
	// KindResult is the worker's final assistant text.
	KindResult Kind = "result"
	// KindMetadata is sidecar JSON: summary, duration, token usage.
	KindMetadata Kind = "metadata"
)

// ErrNotFound indicates no artifact exists for the given workerID/kind.
var ErrNotFound = errors.New("artifact: not found")

// ErrForbidden indicates the caller's ownerID does not match the artifact's
// owner.
var ErrForbidden = errors.New("artifact: forbidden")

// Metadata is the sidecar payload written alongside a worker's result.
type Metadata struct {
	OwnerID  string `json:"owner_id"`
	WorkerID string `json:"worker_id"`
	Summary  string `json:"summary"`
	// DurationMs is the worker's total wall-clock execution time.
	DurationMs int64 `json:"duration_ms"`
	// TotalTokens mirrors the worker run's accumulated token usage, 0 when
	// unset (usage was never reported) and non-zero otherwise; callers that
	// need the nil-vs-zero distinction should consult the worker job record
	// directly rather than this summary.
	TotalTokens int `json:"total_tokens"`
}

// Store persists and retrieves worker artifacts.
//
// Implementations are content-addressed by (workerID, kind) - Put is
// idempotent (last write wins) and Get never mutates state, so callers may
// retry freely.
type Store interface {
	// Put stores content under (workerID, kind), replacing any existing
	// blob.
	Put(ctx context.Context, workerID string, kind Kind, content []byte) error

	// Get retrieves content for (workerID, kind). Returns ErrNotFound when
	// absent.
	Get(ctx context.Context, workerID string, kind Kind) ([]byte, error)

	// Metadata retrieves and decodes the sidecar metadata for workerID,
	// checking it belongs to ownerID. Returns ErrForbidden when the owner
	// does not match, ErrNotFound when no metadata exists.
	Metadata(ctx context.Context, workerID, ownerID string) (Metadata, error)

	// Search performs a best-effort grep across stored result artifacts
	// restricted to workerIDs, matching pattern against raw content as a
	// plain substring. Each entry of globs names a kind to search, matched
	// exactly; wildcards are not expanded (defaults to KindResult when globs
	// is empty). Optional: implementations may return
	// ErrSearchUnsupported.
	Search(ctx context.Context, pattern string, globs []string, workerIDs []string) ([]SearchHit, error)
}

// SearchHit is one match returned by Store.Search.
type SearchHit struct {
	WorkerID string
	Kind     Kind
	Line     string
	LineNo   int
}

// ErrSearchUnsupported is returned by Store implementations that do not
// support Search.
var ErrSearchUnsupported = errors.New("artifact: search not supported")
