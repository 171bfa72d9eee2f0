package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/store"
)

func TestEventStoreAppendAssignsMonotonicIDsAcrossRuns(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	id1, err := s.Append(ctx, &store.Event{RunID: "run-1", EventType: "a"})
	require.NoError(t, err)
	id2, err := s.Append(ctx, &store.Event{RunID: "run-2", EventType: "b"})
	require.NoError(t, err)
	require.Greater(t, id2, id1)
}

func TestEventStoreListSinceScopedToRun(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()
	id1, err := s.Append(ctx, &store.Event{RunID: "run-1", EventType: "a"})
	require.NoError(t, err)
	_, err = s.Append(ctx, &store.Event{RunID: "run-1", EventType: "b"})
	require.NoError(t, err)
	_, err = s.Append(ctx, &store.Event{RunID: "run-2", EventType: "c"})
	require.NoError(t, err)

	since, err := s.ListSince(ctx, "run-1", id1)
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.Equal(t, "b", since[0].EventType)
}
