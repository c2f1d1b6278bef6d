package eventqueue

import (
	"context"
	"sync/atomic"
	"time"
)

// Repeating is a handle to an item that re-arms itself every interval until
// cancelled.
//
// Occurrences are due at start+interval, start+2*interval, ... (the next due
// time is computed from the previous due time, not from when it ran), so
// late ticks do not accumulate drift. At most one occurrence is pending at a
// time; an occurrence that falls behind is caught up one per tick.
type Repeating struct {
	item     Item
	interval time.Duration

	// due is only touched on the scheduler goroutine.
	due time.Time

	cancelled atomic.Bool
	fired     atomic.Int64
}

// Cancel prevents every occurrence that has not executed yet. It is safe to
// call from any goroutine and more than once.
func (r *Repeating) Cancel() {
	r.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (r *Repeating) Cancelled() bool {
	return r.cancelled.Load()
}

// Fired returns the number of occurrences executed so far.
func (r *Repeating) Fired() int64 {
	return r.fired.Load()
}

// Interval is the spacing between occurrences.
func (r *Repeating) Interval() time.Duration {
	return r.interval
}

// occurrence returns the ready-queue item for the currently due occurrence.
// Running it arms the next occurrence before invoking the wrapped item.
func (r *Repeating) occurrence(q *Queue) Item {
	return Item{
		Name: r.item.Name,
		Fn: func(ctx context.Context) error {
			if r.Cancelled() {
				return nil
			}
			r.fired.Add(1)
			r.due = r.due.Add(r.interval)
			q.push(scheduled{due: r.due, rep: r})
			return r.item.run(ctx)
		},
	}
}
