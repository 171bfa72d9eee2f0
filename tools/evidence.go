package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nullstackai/conductor/artifact"
)

// GetWorkerEvidenceName is the supplemented tool (SPEC_FULL.md §6.1,
// grounded on original_source's get_commis_evidence reference inside
// commis_resume.py) that lets the supervisor re-fetch a worker's full
// result when the truncated summary injected at resume time isn't enough.
const GetWorkerEvidenceName Ident = "get_worker_evidence"

type evidenceArgs struct {
	WorkerID string `json:"worker_id"`
}

// GetWorkerEvidenceSpec builds the evidence-lookup tool bound to store.
// ownerID scopes the lookup so a supervisor can never read another tenant's
// worker artifact.
func GetWorkerEvidenceSpec(store artifact.Store, ownerID string) Tool {
	return Tool{
		Spec: Spec{
			Name:        GetWorkerEvidenceName,
			Description: "Fetch the full result text for a previously completed worker by its worker_id.",
			PayloadSchema: []byte(`{
  "type": "object",
  "properties": {"worker_id": {"type": "string"}},
  "required": ["worker_id"]
}`),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (Result, error) {
			var args evidenceArgs
			if err := json.Unmarshal(raw, &args); err != nil || args.WorkerID == "" {
				return Result{}, &ValidationError{Tool: GetWorkerEvidenceName, Message: "worker_id is required"}
			}
			if _, err := store.Metadata(ctx, args.WorkerID, ownerID); err != nil {
				if errors.Is(err, artifact.ErrForbidden) {
					return Result{}, fmt.Errorf("worker %s is not visible to this owner", args.WorkerID)
				}
				return Result{}, fmt.Errorf("worker %s has no recorded evidence: %w", args.WorkerID, err)
			}
			content, err := store.Get(ctx, args.WorkerID, artifact.KindResult)
			if err != nil {
				return Result{}, fmt.Errorf("fetch evidence for %s: %w", args.WorkerID, err)
			}
			return Result{Content: string(content)}, nil
		},
	}
}
