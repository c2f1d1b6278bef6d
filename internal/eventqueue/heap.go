package eventqueue

import "time"

// scheduled is one entry of the timer heap: either a one-shot delayed item or
// the armed occurrence of a repeating item.
type scheduled struct {
	due  time.Time
	seq  uint64
	item Item
	rep  *Repeating
}

// scheduleHeap implements container/heap.Interface ordered by due time, then
// by insertion sequence so equal due times keep FIFO order.
type scheduleHeap []scheduled

func (h scheduleHeap) Len() int { return len(h) }

func (h scheduleHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h scheduleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scheduleHeap) Push(x any) {
	*h = append(*h, x.(scheduled))
}

func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = scheduled{}
	*h = old[:n-1]
	return x
}
