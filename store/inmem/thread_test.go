package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
)

func TestThreadStoreFindOrCreateSupervisorIsIdempotent(t *testing.T) {
	s := NewThreadStore()
	ctx := context.Background()

	first, err := s.FindOrCreateSupervisor(ctx, "owner-1", "agent-1")
	require.NoError(t, err)

	second, err := s.FindOrCreateSupervisor(ctx, "owner-1", "agent-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	other, err := s.FindOrCreateSupervisor(ctx, "owner-1", "agent-2")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
}

func TestMessageStoreAppendAssignsMonotonicIDs(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()

	id1, err := s.Append(ctx, &model.Message{ThreadID: "t1", Role: model.RoleUser})
	require.NoError(t, err)
	id2, err := s.Append(ctx, &model.Message{ThreadID: "t1", Role: model.RoleAssistant})
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	msgs, err := s.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestMessageStoreListSinceExcludesOlderMessages(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()
	id1, err := s.Append(ctx, &model.Message{ThreadID: "t1"})
	require.NoError(t, err)
	_, err = s.Append(ctx, &model.Message{ThreadID: "t1"})
	require.NoError(t, err)

	since, err := s.ListSince(ctx, "t1", id1)
	require.NoError(t, err)
	require.Len(t, since, 1)
}

func TestMessageStoreMarkProcessedOnlyAffectsGivenIDs(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()
	id1, err := s.Append(ctx, &model.Message{ThreadID: "t1"})
	require.NoError(t, err)
	id2, err := s.Append(ctx, &model.Message{ThreadID: "t1"})
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ctx, "t1", []int64{id1}))

	msgs, err := s.List(ctx, "t1")
	require.NoError(t, err)
	for _, m := range msgs {
		if m.ID == id1 {
			require.True(t, m.Processed)
		}
		if m.ID == id2 {
			require.False(t, m.Processed)
		}
	}
}

func TestMessageStoreDeleteRemovesOnlyGivenIDs(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()
	id1, err := s.Append(ctx, &model.Message{ThreadID: "t1"})
	require.NoError(t, err)
	id2, err := s.Append(ctx, &model.Message{ThreadID: "t1"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "t1", []int64{id1}))

	msgs, err := s.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, id2, msgs[0].ID)
}
