package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/artifact"
)

func seedEvidence(t *testing.T, store artifact.Store, ownerID, workerID, content string) {
	t.Helper()
	md, err := json.Marshal(artifact.Metadata{OwnerID: ownerID, WorkerID: workerID, Summary: "summary"})
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), workerID, artifact.KindMetadata, md))
	require.NoError(t, store.Put(context.Background(), workerID, artifact.KindResult, []byte(content)))
}

func TestGetWorkerEvidenceReturnsFullContent(t *testing.T) {
	store := artifact.NewInMemStore()
	seedEvidence(t, store, "owner-1", "worker-1", "the full worker output")

	tool := GetWorkerEvidenceSpec(store, "owner-1")
	result, err := tool.Handler(context.Background(), []byte(`{"worker_id":"worker-1"}`))
	require.NoError(t, err)
	require.Equal(t, "the full worker output", result.Content)
}

func TestGetWorkerEvidenceRejectsMissingWorkerID(t *testing.T) {
	store := artifact.NewInMemStore()
	tool := GetWorkerEvidenceSpec(store, "owner-1")

	_, err := tool.Handler(context.Background(), []byte(`{}`))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestGetWorkerEvidenceDeniesCrossOwnerAccess(t *testing.T) {
	store := artifact.NewInMemStore()
	seedEvidence(t, store, "owner-1", "worker-1", "secret output")

	tool := GetWorkerEvidenceSpec(store, "owner-2")
	_, err := tool.Handler(context.Background(), []byte(`{"worker_id":"worker-1"}`))
	require.Error(t, err)
}

func TestGetWorkerEvidenceUnknownWorker(t *testing.T) {
	store := artifact.NewInMemStore()
	tool := GetWorkerEvidenceSpec(store, "owner-1")

	_, err := tool.Handler(context.Background(), []byte(`{"worker_id":"nope"}`))
	require.Error(t, err)
}
