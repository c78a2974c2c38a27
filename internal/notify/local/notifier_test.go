package local

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-companion/internal/notify"
)

type sinkRecorder struct {
	mu  sync.Mutex
	got []notify.Delivered
}

func (s *sinkRecorder) sink(ctx context.Context, d notify.Delivered) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, d)
	return nil
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestDelayTriggerFires(t *testing.T) {
	rec := &sinkRecorder{}
	n := New(WithSink(rec.sink))
	ctx := context.Background()

	require.NoError(t, n.Schedule(ctx, notify.Request{
		ID:      "scheduler-alert-1",
		Title:   "Bills due today",
		Trigger: notify.After(10 * time.Millisecond),
	}))

	pending, err := n.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	pending, err = n.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	delivered, err := n.ListDelivered(ctx)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, "scheduler-alert-1", delivered[0].ID)

	require.NoError(t, n.ClearDelivered(ctx))
	delivered, _ = n.ListDelivered(ctx)
	assert.Empty(t, delivered)
}

func TestCancelAndReplace(t *testing.T) {
	rec := &sinkRecorder{}
	n := New(WithSink(rec.sink))
	ctx := context.Background()

	require.NoError(t, n.Schedule(ctx, notify.Request{ID: "a", Trigger: notify.After(20 * time.Millisecond)}))
	require.NoError(t, n.Cancel(ctx, "a", "unknown"))

	// replacing keeps only the newest request
	require.NoError(t, n.Schedule(ctx, notify.Request{ID: "b", Title: "old", Trigger: notify.After(20 * time.Millisecond)}))
	require.NoError(t, n.Schedule(ctx, notify.Request{ID: "b", Title: "new", Trigger: notify.After(20 * time.Millisecond)}))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	delivered, _ := n.ListDelivered(ctx)
	require.Len(t, delivered, 1)
	assert.Equal(t, "new", delivered[0].Title)
}

func TestCalendarPendingAndPrefixCancel(t *testing.T) {
	n := New(WithLocation(time.UTC))
	n.now = func() time.Time { return time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, n.Schedule(ctx, notify.Request{ID: "scheduler-reminder-0", Trigger: notify.DailyAt(13, 0)}))
	require.NoError(t, n.Schedule(ctx, notify.Request{ID: "scheduler-reminder-1", Trigger: notify.DailyAt(8, 30)}))
	require.NoError(t, n.Schedule(ctx, notify.Request{ID: "other", Trigger: notify.DailyAt(21, 0)}))

	pending, err := n.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "scheduler-reminder-1", pending[0].ID)
	assert.Equal(t, time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC), pending[0].NextFire)

	ids, err := notify.CancelPrefix(ctx, n, "scheduler-reminder-")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	pending, _ = n.ListPending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, "other", pending[0].ID)

	require.NoError(t, n.Stop(ctx))
}

func TestScheduleValidation(t *testing.T) {
	ctx := context.Background()

	denied := New(WithAuthorization(notify.Denied))
	assert.ErrorIs(t, denied.Schedule(ctx, notify.Request{ID: "x", Trigger: notify.After(time.Second)}), notify.ErrNotAuthorized)
	status, err := denied.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.Denied, status)

	n := New()
	assert.Error(t, n.Schedule(ctx, notify.Request{Trigger: notify.After(time.Second)}))
	assert.ErrorIs(t, n.Schedule(ctx, notify.Request{ID: "x"}), notify.ErrInvalidTrigger)
}

func TestDeliveredListIsBounded(t *testing.T) {
	n := New(WithMaxDelivered(2))
	for _, id := range []string{"a", "b", "c"} {
		e := &entry{req: notify.Request{ID: id, Trigger: notify.After(time.Hour)}}
		n.pending[id] = e
		n.fire(id, e)
	}
	delivered, _ := n.ListDelivered(context.Background())
	require.Len(t, delivered, 2)
	assert.Equal(t, "b", delivered[0].ID)
	assert.Equal(t, "c", delivered[1].ID)
}
