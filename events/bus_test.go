package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusPublishDeliversToAllSubscribers(t *testing.T) {
	b := NewBus()
	var got1, got2 []Type
	_, err := b.Register(SubscriberFunc(func(_ context.Context, ev Event) error {
		got1 = append(got1, ev.Type)
		return nil
	}))
	require.NoError(t, err)
	_, err = b.Register(SubscriberFunc(func(_ context.Context, ev Event) error {
		got2 = append(got2, ev.Type)
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), Event{Type: SupervisorStarted}))

	require.Equal(t, []Type{SupervisorStarted}, got1)
	require.Equal(t, []Type{SupervisorStarted}, got2)
}

func TestBusPublishStopsAtFirstSubscriberError(t *testing.T) {
	b := NewBus()
	boom := errors.New("boom")
	called := false
	_, err := b.Register(SubscriberFunc(func(_ context.Context, _ Event) error {
		return boom
	}))
	require.NoError(t, err)
	_, err = b.Register(SubscriberFunc(func(_ context.Context, _ Event) error {
		called = true
		return nil
	}))
	require.NoError(t, err)

	err = b.Publish(context.Background(), Event{Type: SupervisorStarted})
	require.ErrorIs(t, err, boom)
	require.False(t, called, "publish must stop at the first subscriber error in registration order")
}

func TestBusRegisterRejectsNilSubscriber(t *testing.T) {
	b := NewBus()
	_, err := b.Register(nil)
	require.Error(t, err)
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	b := NewBus()
	var calls int
	sub, err := b.Register(SubscriberFunc(func(_ context.Context, _ Event) error {
		calls++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), Event{Type: SupervisorStarted}))
	require.NoError(t, sub.Close())
	require.NoError(t, b.Publish(context.Background(), Event{Type: SupervisorStarted}))

	require.Equal(t, 1, calls)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	b := NewBus()
	sub, err := b.Register(SubscriberFunc(func(_ context.Context, _ Event) error { return nil }))
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}
