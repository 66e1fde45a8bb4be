package notify

import (
	"container/heap"
	"sort"
	"sync"
)

// entry wraps an [Item] with scheduling metadata. seq gives FIFO order within
// one priority tier.
type entry struct {
	item *Item
	seq  uint64
}

// itemHeap implements [container/heap.Interface] as a max-heap ordered by
// priority (descending), with FIFO tie-breaking on seq (ascending).
type itemHeap []entry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is the in-memory notification queue. Every operation is atomic under
// a single mutex.
type Queue struct {
	mu  sync.Mutex
	h   itemHeap
	seq uint64
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue { return &Queue{} }

// Push adds a copy of item.
func (q *Queue) Push(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.h, entry{item: &item, seq: q.seq})
}

// Pop removes the highest-priority, oldest item.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return Item{}, false
	}
	return *heap.Pop(&q.h).(entry).item, true
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Items returns a copy of the queue in pop order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	sorted := make(itemHeap, len(q.h))
	for i, e := range q.h {
		cp := *e.item
		sorted[i] = entry{item: &cp, seq: e.seq}
	}
	q.mu.Unlock()

	sort.Sort(sorted)
	out := make([]Item, len(sorted))
	for i, e := range sorted {
		out[i] = *e.item
	}
	return out
}

// Announce marks the oldest unannounced item of priority p as announced and
// returns it.
func (q *Queue) Announce(p Priority) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var first *entry
	for i := range q.h {
		e := &q.h[i]
		if e.item.Priority != p || e.item.Announced {
			continue
		}
		if first == nil || e.seq < first.seq {
			first = e
		}
	}
	if first == nil {
		return Item{}, false
	}
	first.item.Announced = true
	return *first.item, true
}
