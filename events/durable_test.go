package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	streamopts "goa.design/pulse/streaming/options"

	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/store"
)

type fakeEventStore struct {
	mu   sync.Mutex
	recs []store.Event
}

func (f *fakeEventStore) Append(_ context.Context, ev *store.Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = int64(len(f.recs) + 1)
	f.recs = append(f.recs, *ev)
	return ev.ID, nil
}

func (f *fakeEventStore) ListSince(_ context.Context, runID string, afterID int64) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Event
	for _, r := range f.recs {
		if r.RunID == runID && r.ID > afterID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakePulseStream struct {
	mu   sync.Mutex
	adds []string
}

func (s *fakePulseStream) Add(_ context.Context, event string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds = append(s.adds, event)
	return "id", nil
}

type fakePulseClient struct {
	streams map[string]*fakePulseStream
	openErr error
}

func (c *fakePulseClient) Stream(name string, _ ...streamopts.Stream) (PulseStream, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	if c.streams == nil {
		c.streams = map[string]*fakePulseStream{}
	}
	s, ok := c.streams[name]
	if !ok {
		s = &fakePulseStream{}
		c.streams[name] = s
	}
	return s, nil
}

func TestDurableBusPublishPersistsBeforeFanOut(t *testing.T) {
	es := &fakeEventStore{}
	inner := NewBus()
	var seenAfterPersist bool
	_, err := inner.Register(SubscriberFunc(func(_ context.Context, _ Event) error {
		seenAfterPersist = len(es.recs) == 1
		return nil
	}))
	require.NoError(t, err)

	db := NewDurableBus(inner, es, nil)
	require.NoError(t, db.Publish(context.Background(), Event{RunID: "run-1", Type: SupervisorStarted}))

	require.True(t, seenAfterPersist)
	require.Len(t, es.recs, 1)
	require.Equal(t, "run-1", es.recs[0].RunID)
	require.Equal(t, string(SupervisorStarted), es.recs[0].EventType)
}

func TestDurableBusPublishMirrorsToPulseWhenConfigured(t *testing.T) {
	es := &fakeEventStore{}
	pulse := &fakePulseClient{}
	db := NewDurableBus(NewBus(), es, pulse)

	require.NoError(t, db.Publish(context.Background(), Event{RunID: "run-1", Type: WorkerSpawned}))

	stream := pulse.streams[streamName("run-1")]
	require.NotNil(t, stream)
	require.Equal(t, []string{string(WorkerSpawned)}, stream.adds)
}

func TestDurableBusPublishSkipsPulseWhenNil(t *testing.T) {
	es := &fakeEventStore{}
	db := NewDurableBus(NewBus(), es, nil)
	require.NoError(t, db.Publish(context.Background(), Event{RunID: "run-1", Type: SupervisorStarted}))
	require.Len(t, es.recs, 1)
}

func TestDurableBusPublishPropagatesPulseErrors(t *testing.T) {
	es := &fakeEventStore{}
	boom := errors.New("pulse unavailable")
	db := NewDurableBus(NewBus(), es, &fakePulseClient{openErr: boom})

	err := db.Publish(context.Background(), Event{RunID: "run-1", Type: SupervisorStarted})
	require.ErrorIs(t, err, boom)
}

func TestDurableBusReplaySinceDelegatesToStore(t *testing.T) {
	es := &fakeEventStore{}
	db := NewDurableBus(NewBus(), es, nil)
	ctx := context.Background()
	require.NoError(t, db.Publish(ctx, Event{RunID: "run-1", Type: SupervisorStarted}))
	require.NoError(t, db.Publish(ctx, Event{RunID: "run-1", Type: SupervisorComplete}))

	replayed, err := db.ReplaySince(ctx, "run-1", 1)
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	require.Equal(t, string(SupervisorComplete), replayed[0].EventType)
}

func TestDurableBusRegisterDelegatesToInnerBus(t *testing.T) {
	inner := NewBus()
	db := NewDurableBus(inner, &fakeEventStore{}, nil)
	var called bool
	_, err := db.Register(SubscriberFunc(func(_ context.Context, _ Event) error {
		called = true
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, db.Publish(context.Background(), Event{RunID: "run-1", Type: SupervisorStarted}))
	require.True(t, called)
}
