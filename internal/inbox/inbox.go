// Package inbox lets goroutines other than the scheduler hand payloads to
// handlers that run on the scheduler goroutine.
//
// Handlers are single-shot: a Deliver consumes every handler registered so far.
// A handler that wants the next payload too re-registers itself when it runs.
package inbox

import (
	"context"
	"sync"

	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
)

// Handler receives one delivered payload on the scheduler goroutine.
type Handler[P any] func(ctx context.Context, payload P) error

// Sink accepts a batch of items from any goroutine. *eventqueue.Queue
// satisfies it.
type Sink interface {
	Post(items ...eventqueue.Item)
}

type registration[P any] struct {
	name string
	fn   Handler[P]
}

// Inbox is a thread-safe set of pending single-shot handlers for payloads of
// type P.
type Inbox[P any] struct {
	mu       sync.Mutex
	sink     Sink
	handlers []registration[P]
}

// New creates an inbox whose deliveries are posted to sink.
func New[P any](sink Sink) *Inbox[P] {
	return &Inbox[P]{sink: sink}
}

// Register adds h to the pending set. Safe from any goroutine, including from
// inside a running handler.
func (in *Inbox[P]) Register(name string, h Handler[P]) {
	if h == nil {
		return
	}
	in.mu.Lock()
	in.handlers = append(in.handlers, registration[P]{name: name, fn: h})
	in.mu.Unlock()
}

// Deliver removes every registered handler and posts one item per handler, in
// registration order, as a single batch. It returns the number of handlers
// the payload was routed to. Safe from any goroutine.
//
// A registration racing a delivery either makes this batch or waits for the
// next one; it is never lost and never posted twice.
func (in *Inbox[P]) Deliver(payload P) int {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.handlers) == 0 {
		return 0
	}
	batch := make([]eventqueue.Item, 0, len(in.handlers))
	for _, r := range in.handlers {
		batch = append(batch, eventqueue.Bind(r.name, func(ctx context.Context, p P) error {
			return r.fn(ctx, p)
		}, payload))
	}
	in.handlers = nil

	// Posting under the lock keeps batches from concurrent deliveries in the
	// same order as the handler swaps.
	in.sink.Post(batch...)
	return len(batch)
}

// Pending returns the number of registered handlers.
func (in *Inbox[P]) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.handlers)
}

// Clear drops every registered handler without running it.
func (in *Inbox[P]) Clear() {
	in.mu.Lock()
	in.handlers = nil
	in.mu.Unlock()
}
