package eventqueue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrInvalidInterval is returned when a repeating item has a non-positive interval.
var ErrInvalidInterval = errors.New("repeat interval must be positive")

// DefaultBudget is the number of ready items processed per tick when the host
// does not configure one.
const DefaultBudget = 5

// Queue holds ready, delayed and repeating items and executes them on the
// goroutine that calls Process.
//
// Enqueue, EnqueueAfter, EnqueueRepeating, DrainInbox and Process must only be
// called from the scheduler goroutine. Post is the only method safe to call
// from other goroutines.
type Queue struct {
	clock   Clock
	logger  *slog.Logger
	onError func(ctx context.Context, it Item, err error)

	ingress Ingress
	ready   []Item
	timers  scheduleHeap
	seq     uint64

	executed int64
	failed   int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithLogger sets the logger used to report failing items.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithErrorHandler registers fn to be called, on the scheduler goroutine,
// after an item fails or panics.
func WithErrorHandler(fn func(ctx context.Context, it Item, err error)) Option {
	return func(q *Queue) {
		q.onError = fn
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Now returns the queue clock's current time.
func (q *Queue) Now() time.Time {
	return q.clock.Now()
}

// Enqueue appends it to the ready queue.
func (q *Queue) Enqueue(it Item) {
	q.ready = append(q.ready, it)
}

// EnqueueAfter schedules it to become ready once delay has elapsed. A delay is
// a lower bound; the item runs on the first Process call at or after its due
// time.
func (q *Queue) EnqueueAfter(it Item, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	q.push(scheduled{due: q.clock.Now().Add(delay), item: it})
}

// EnqueueRepeating schedules it every interval, first firing one interval
// from now, until the returned handle is cancelled.
func (q *Queue) EnqueueRepeating(it Item, interval time.Duration) (*Repeating, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	r := &Repeating{
		item:     it,
		interval: interval,
		due:      q.clock.Now().Add(interval),
	}
	q.push(scheduled{due: r.due, rep: r})
	return r, nil
}

// Post deposits items into the ingress buffer. Safe from any goroutine; the
// items become ready at the next DrainInbox.
func (q *Queue) Post(items ...Item) {
	q.ingress.Post(items...)
}

// DrainInbox moves every buffered ingress item to the tail of the ready queue
// and returns how many were moved.
func (q *Queue) DrainInbox() int {
	batch := q.ingress.Drain()
	q.ready = append(q.ready, batch...)
	return len(batch)
}

// Process promotes due delayed and repeating items, then runs at most budget
// ready items. Items made ready while processing may run in the same call if
// budget remains. It reports whether ready work remains.
func (q *Queue) Process(ctx context.Context, budget int) bool {
	if budget <= 0 {
		budget = 1
	}
	q.promote()

	for n := 0; n < budget && len(q.ready) > 0; n++ {
		if ctx.Err() != nil {
			break
		}
		it := q.ready[0]
		q.ready[0] = Item{}
		q.ready = q.ready[1:]
		q.exec(ctx, it)
	}
	return len(q.ready) > 0
}

// Tick is one host-loop iteration: drain the ingress buffer, then Process.
func (q *Queue) Tick(ctx context.Context, budget int) bool {
	q.DrainInbox()
	return q.Process(ctx, budget)
}

// Len returns the number of ready items.
func (q *Queue) Len() int {
	return len(q.ready)
}

// Pending returns the number of delayed and armed repeating items.
func (q *Queue) Pending() int {
	return len(q.timers)
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Ready    int
	Pending  int
	Inbox    int
	Executed int64
	Failed   int64
}

// Stats returns the current counters. Call it on the scheduler goroutine.
func (q *Queue) Stats() Stats {
	return Stats{
		Ready:    len(q.ready),
		Pending:  len(q.timers),
		Inbox:    q.ingress.Len(),
		Executed: q.executed,
		Failed:   q.failed,
	}
}

func (q *Queue) push(s scheduled) {
	q.seq++
	s.seq = q.seq
	heap.Push(&q.timers, s)
}

// promote moves every entry due at the current time to the ready queue, in
// due order.
func (q *Queue) promote() {
	now := q.clock.Now()
	for len(q.timers) > 0 && !q.timers[0].due.After(now) {
		s := heap.Pop(&q.timers).(scheduled)
		if s.rep != nil {
			if s.rep.Cancelled() {
				continue
			}
			q.ready = append(q.ready, s.rep.occurrence(q))
			continue
		}
		q.ready = append(q.ready, s.item)
	}
}

func (q *Queue) exec(ctx context.Context, it Item) {
	err := it.run(ctx)
	q.executed++
	if err == nil {
		return
	}
	q.failed++
	q.logger.ErrorContext(ctx, "event_failed",
		slog.String("event", it.Name),
		slog.Any("error", err),
	)
	if q.onError != nil {
		q.onError(ctx, it, err)
	}
}
