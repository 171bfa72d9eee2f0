package artifact

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemStorePutGetRoundTrip(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "worker-1", KindResult, []byte("the answer")))

	got, err := s.Get(ctx, "worker-1", KindResult)
	require.NoError(t, err)
	require.Equal(t, "the answer", string(got))
}

func TestInMemStoreGetMissingReturnsNotFound(t *testing.T) {
	s := NewInMemStore()
	_, err := s.Get(context.Background(), "worker-1", KindResult)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemStoreMetadataEnforcesOwnership(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	md, err := json.Marshal(Metadata{OwnerID: "owner-1", WorkerID: "worker-1", Summary: "done"})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "worker-1", KindMetadata, md))

	got, err := s.Metadata(ctx, "worker-1", "owner-1")
	require.NoError(t, err)
	require.Equal(t, "done", got.Summary)

	_, err = s.Metadata(ctx, "worker-1", "owner-2")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestInMemStoreMetadataMissingReturnsNotFound(t *testing.T) {
	s := NewInMemStore()
	_, err := s.Metadata(context.Background(), "worker-1", "owner-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemStoreSearchDefaultsToResultKind(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "worker-1", KindResult, []byte("line one\nmatch here\nline three")))

	hits, err := s.Search(ctx, "match", nil, []string{"worker-1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, 2, hits[0].LineNo)
	require.Equal(t, KindResult, hits[0].Kind)
}

func TestInMemStoreSearchHonorsKindGlobs(t *testing.T) {
	s := NewInMemStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "worker-1", KindResult, []byte("no match here")))
	md, err := json.Marshal(Metadata{Summary: "a summary with match"})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "worker-1", KindMetadata, md))

	hits, err := s.Search(ctx, "match", []string{string(KindMetadata)}, []string{"worker-1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, KindMetadata, hits[0].Kind)
}
