package eventqueue

import "sync"

// Ingress is the multi-producer / single-consumer buffer through which other
// goroutines hand items to the scheduler goroutine.
type Ingress struct {
	mu    sync.Mutex
	items []Item
}

// Post appends items as one batch. Safe from any goroutine.
func (in *Ingress) Post(items ...Item) {
	if len(items) == 0 {
		return
	}
	in.mu.Lock()
	in.items = append(in.items, items...)
	in.mu.Unlock()
}

// Drain removes and returns everything buffered so far, in deposit order.
func (in *Ingress) Drain() []Item {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.items
	in.items = nil
	return out
}

func (in *Ingress) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}
