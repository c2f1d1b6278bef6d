package eventqueue

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) (*Queue, *ManualClock) {
	t.Helper()
	clock := NewManualClock(epoch)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return New(WithClock(clock), WithLogger(logger)), clock
}

func record(log *[]string, name string) Item {
	return Action(name, func() { *log = append(*log, name) })
}

func TestQueue_ReadyItemsRunInFIFOOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	var got []string

	for _, n := range []string{"a", "b", "c", "d"} {
		q.Enqueue(record(&got, n))
	}

	more := q.Process(context.Background(), 10)
	assert.False(t, more)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestQueue_DelayIsALowerBound(t *testing.T) {
	q, clock := newTestQueue(t)
	var got []string

	q.EnqueueAfter(record(&got, "late"), 500*time.Millisecond)

	clock.Advance(499 * time.Millisecond)
	q.Process(context.Background(), DefaultBudget)
	assert.Empty(t, got, "item must not run before its due time")
	assert.Equal(t, 1, q.Pending())

	clock.Advance(time.Millisecond)
	q.Process(context.Background(), DefaultBudget)
	assert.Equal(t, []string{"late"}, got)
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_EqualDueTimesKeepInsertionOrder(t *testing.T) {
	q, clock := newTestQueue(t)
	var got []string

	q.EnqueueAfter(record(&got, "x"), 100*time.Millisecond)
	q.EnqueueAfter(record(&got, "y"), 100*time.Millisecond)
	q.EnqueueAfter(record(&got, "early"), 50*time.Millisecond)
	q.EnqueueAfter(record(&got, "z"), 100*time.Millisecond)

	clock.Advance(200 * time.Millisecond)
	q.Process(context.Background(), 10)

	assert.Equal(t, []string{"early", "x", "y", "z"}, got)
}

func TestQueue_NegativeDelayIsImmediate(t *testing.T) {
	q, _ := newTestQueue(t)
	var got []string

	q.EnqueueAfter(record(&got, "now"), -time.Second)
	q.Process(context.Background(), 1)

	assert.Equal(t, []string{"now"}, got)
}

func TestQueue_ZeroDelayDuringProcessingWaitsForNextCall(t *testing.T) {
	q, _ := newTestQueue(t)
	var got []string

	q.Enqueue(Action("first", func() {
		got = append(got, "first")
		q.EnqueueAfter(record(&got, "deferred"), 0)
	}))

	q.Process(context.Background(), 10)
	assert.Equal(t, []string{"first"}, got)

	q.Process(context.Background(), 10)
	assert.Equal(t, []string{"first", "deferred"}, got)
}

func TestQueue_ReadyItemEnqueuedDuringProcessingMayRunSameCall(t *testing.T) {
	q, _ := newTestQueue(t)
	var got []string

	q.Enqueue(Action("first", func() {
		got = append(got, "first")
		q.Enqueue(record(&got, "second"))
	}))

	q.Process(context.Background(), 2)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestQueue_BudgetCapsExecutionsPerCall(t *testing.T) {
	q, _ := newTestQueue(t)
	count := 0
	for i := 0; i < 12; i++ {
		q.Enqueue(Action("inc", func() { count++ }))
	}

	assert.True(t, q.Process(context.Background(), 5))
	assert.Equal(t, 5, count)
	assert.Equal(t, 7, q.Len())

	assert.True(t, q.Process(context.Background(), 5))
	assert.False(t, q.Process(context.Background(), 5))
	assert.Equal(t, 12, count)
}

func TestQueue_NonPositiveBudgetRunsOneItem(t *testing.T) {
	q, _ := newTestQueue(t)
	count := 0
	for i := 0; i < 3; i++ {
		q.Enqueue(Action("inc", func() { count++ }))
	}

	q.Process(context.Background(), 0)
	assert.Equal(t, 1, count)
	q.Process(context.Background(), -4)
	assert.Equal(t, 2, count)
}

func TestQueue_InboxBatchPrecedesLaterEnqueues(t *testing.T) {
	q, _ := newTestQueue(t)
	var got []string

	q.Enqueue(record(&got, "already-ready"))
	q.Post(record(&got, "inbox-1"), record(&got, "inbox-2"))
	assert.Equal(t, 0, q.Len(), "posted items are not ready until drained")

	n := q.DrainInbox()
	require.Equal(t, 2, n)
	q.Enqueue(record(&got, "after-drain"))

	q.Process(context.Background(), 10)
	assert.Equal(t, []string{"already-ready", "inbox-1", "inbox-2", "after-drain"}, got)
}

func TestQueue_TickDrainsThenProcesses(t *testing.T) {
	q, _ := newTestQueue(t)
	var got []string

	go q.Post(record(&got, "remote"))
	require.Eventually(t, func() bool { return q.Stats().Inbox == 1 }, time.Second, time.Millisecond)

	q.Tick(context.Background(), DefaultBudget)
	assert.Equal(t, []string{"remote"}, got)
}

func TestQueue_RepeatingCadence(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	r, err := q.EnqueueRepeating(Action("beat", func() {}), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, r.Interval())

	for elapsed := time.Duration(0); elapsed < time.Second; elapsed += 10 * time.Millisecond {
		clock.Advance(10 * time.Millisecond)
		q.Tick(ctx, DefaultBudget)
	}

	assert.InDelta(t, 10, r.Fired(), 1)
	assert.Equal(t, 1, q.Pending(), "exactly one occurrence stays armed")
}

func TestQueue_RepeatingCatchesUpOnePerTick(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	r, err := q.EnqueueRepeating(Action("beat", func() {}), 100*time.Millisecond)
	require.NoError(t, err)

	clock.Advance(350 * time.Millisecond)

	q.Tick(ctx, DefaultBudget)
	assert.EqualValues(t, 1, r.Fired())
	q.Tick(ctx, DefaultBudget)
	assert.EqualValues(t, 2, r.Fired())
	q.Tick(ctx, DefaultBudget)
	assert.EqualValues(t, 3, r.Fired())
	q.Tick(ctx, DefaultBudget)
	assert.EqualValues(t, 3, r.Fired(), "next occurrence is due at 400ms")

	clock.Advance(50 * time.Millisecond)
	q.Tick(ctx, DefaultBudget)
	assert.EqualValues(t, 4, r.Fired())
}

func TestQueue_CancelStopsFutureOccurrences(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	r, err := q.EnqueueRepeating(Action("beat", func() {}), 100*time.Millisecond)
	require.NoError(t, err)

	for r.Fired() < 3 {
		clock.Advance(100 * time.Millisecond)
		q.Tick(ctx, DefaultBudget)
	}
	r.Cancel()
	r.Cancel()

	for i := 0; i < 10; i++ {
		clock.Advance(100 * time.Millisecond)
		q.Tick(ctx, DefaultBudget)
	}

	assert.EqualValues(t, 3, r.Fired())
	assert.True(t, r.Cancelled())
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_CancelAfterPromotionSkipsExecution(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	ran := 0

	var r *Repeating
	q.EnqueueAfter(Action("canceller", func() { r.Cancel() }), 100*time.Millisecond)
	r, err := q.EnqueueRepeating(Action("beat", func() { ran++ }), 100*time.Millisecond)
	require.NoError(t, err)

	clock.Advance(100 * time.Millisecond)
	q.Process(ctx, DefaultBudget)

	assert.Equal(t, 0, ran)
	assert.EqualValues(t, 0, r.Fired())
}

func TestQueue_InvalidRepeatInterval(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.EnqueueRepeating(Action("beat", func() {}), 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = q.EnqueueRepeating(Action("beat", func() {}), -time.Second)
	assert.ErrorIs(t, err, ErrInvalidInterval)
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_FailuresAreIsolated(t *testing.T) {
	var buf bytes.Buffer
	clock := NewManualClock(epoch)
	var failures []error
	q := New(
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
		WithErrorHandler(func(_ context.Context, _ Item, err error) {
			failures = append(failures, err)
		}),
	)
	var got []string
	boom := errors.New("boom")

	q.Enqueue(NewItem("fails", func(context.Context) error { return boom }))
	q.Enqueue(Action("panics", func() { panic("kaboom") }))
	q.Enqueue(record(&got, "survivor"))

	q.Process(context.Background(), 10)

	assert.Equal(t, []string{"survivor"}, got)
	require.Len(t, failures, 2)
	assert.ErrorIs(t, failures[0], boom)
	assert.ErrorIs(t, failures[1], ErrItemPanicked)
	assert.Contains(t, buf.String(), "event_failed")

	stats := q.Stats()
	assert.EqualValues(t, 3, stats.Executed)
	assert.EqualValues(t, 2, stats.Failed)
}

func TestQueue_PanickingRepeatingItemKeepsFiring(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	r, err := q.EnqueueRepeating(Action("flaky", func() { panic("tick") }), 10*time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Millisecond)
		q.Tick(ctx, DefaultBudget)
	}
	assert.EqualValues(t, 5, r.Fired())
}

func TestQueue_CancelledContextStopsProcessing(t *testing.T) {
	q, _ := newTestQueue(t)
	count := 0
	q.Enqueue(Action("inc", func() { count++ }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, q.Process(ctx, 10))
	assert.Equal(t, 0, count)
}

func TestBind_CapturesArguments(t *testing.T) {
	q, _ := newTestQueue(t)
	var got []string

	word := "apple"
	q.Enqueue(Bind("show", func(_ context.Context, w string) error {
		got = append(got, w)
		return nil
	}, word))
	q.Enqueue(Bind2("pair", func(_ context.Context, w string, n int) error {
		got = append(got, w+"#"+string(rune('0'+n)))
		return nil
	}, word, 3))
	word = "changed"

	q.Process(context.Background(), 10)
	assert.Equal(t, []string{"apple", "apple#3"}, got)
}
