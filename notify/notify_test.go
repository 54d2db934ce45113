package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/logging"
	"github.com/warp/costledger/notify"
	"github.com/warp/costledger/store/sqlstore"
)

// countingSink records deliveries and fails the first failures attempts.
type countingSink struct {
	mu        sync.Mutex
	name      string
	failures  int
	attempts  int
	delivered []notify.Event
}

func (s *countingSink) Name() string { return s.name }

func (s *countingSink) Deliver(_ context.Context, e notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("sink unavailable")
	}
	s.delivered = append(s.delivered, e)
	return nil
}

func (s *countingSink) snapshot() (attempts int, delivered []notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, append([]notify.Event(nil), s.delivered...)
}

func newDispatcher(sinks ...notify.Sink) *notify.Dispatcher {
	return notify.NewDispatcher(
		notify.WithSinks(sinks...),
		notify.WithRetry(3, time.Millisecond),
		notify.WithLogger(logging.Discard()),
	)
}

func closeNow(t *testing.T, d *notify.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

// =============================================================================
// DISPATCHER
// =============================================================================

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	// GIVEN: A dispatcher with two sinks
	a := &countingSink{name: "a"}
	b := &countingSink{name: "b"}
	d := newDispatcher(a, b)

	// WHEN: Five events are published and the dispatcher closed
	for i := 0; i < 5; i++ {
		d.Publish(context.Background(), notify.Event{Type: notify.EventCostCreated, EntityID: "c1"})
	}
	closeNow(t, d)

	// THEN: Both sinks saw every event, stamped with id and time
	_, got := a.snapshot()
	require.Len(t, got, 5)
	_, gotB := b.snapshot()
	assert.Len(t, gotB, 5)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].OccurredAt.IsZero())
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	flaky := &countingSink{name: "flaky", failures: 2}
	d := newDispatcher(flaky)

	d.Publish(context.Background(), notify.Event{Type: notify.EventPaymentCompleted})
	closeNow(t, d)

	attempts, got := flaky.snapshot()
	assert.Equal(t, 3, attempts)
	assert.Len(t, got, 1)
}

func TestDispatcher_GivesUpWithoutBlockingOtherSinks(t *testing.T) {
	// GIVEN: A sink that never recovers next to a healthy one
	broken := &countingSink{name: "broken", failures: 100}
	healthy := &countingSink{name: "healthy"}
	d := newDispatcher(broken, healthy)

	// WHEN: One event is published
	d.Publish(context.Background(), notify.Event{Type: notify.EventPaymentFailed})
	closeNow(t, d)

	// THEN: The broken sink was tried maxTries times, the healthy one still got it
	attempts, got := broken.snapshot()
	assert.Equal(t, 3, attempts)
	assert.Empty(t, got)
	_, ok := healthy.snapshot()
	assert.Len(t, ok, 1)
}

func TestDispatcher_PublishAfterCloseIsDropped(t *testing.T) {
	sink := &countingSink{name: "s"}
	d := newDispatcher(sink)
	closeNow(t, d)

	assert.NotPanics(t, func() {
		d.Publish(context.Background(), notify.Event{Type: notify.EventInvoiceGenerated})
	})
	closeNow(t, d)

	attempts, _ := sink.snapshot()
	assert.Zero(t, attempts)
}

// =============================================================================
// SINKS
// =============================================================================

func TestStoreSink_OneRowPerRecipientIdempotent(t *testing.T) {
	// GIVEN: A store-backed sink
	store, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	sink := notify.StoreSink{Store: store}
	ctx := context.Background()

	e := notify.Event{
		ID:         "evt-1",
		Type:       notify.EventInvoiceGenerated,
		OccurredAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Recipients: []core.UserID{"alice", "bob"},
		EntityType: "invoice",
		EntityID:   "inv-1",
		Message:    "Invoice ready",
	}

	// WHEN: The same event is delivered twice
	require.NoError(t, sink.Deliver(ctx, e))
	require.NoError(t, sink.Deliver(ctx, e))

	// THEN: Each recipient has exactly one notification
	for _, r := range e.Recipients {
		got, err := store.ListNotifications(ctx, r, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "invoice.generated", got[0].Event)
		assert.Equal(t, "inv-1", got[0].EntityID)
		assert.Nil(t, got[0].ReadAt)
	}
}

func TestLogSink_NeverFails(t *testing.T) {
	sink := notify.LogSink{Logger: logging.Discard()}

	assert.NoError(t, sink.Deliver(context.Background(), notify.Event{Type: notify.EventCostCreated}))
	assert.Equal(t, "log", sink.Name())
}
