// Package stream provides a concrete [audio.Player] backed by a priority
// queue. It plays synthesized clips one after another in submission order,
// lets higher-priority clips overtake queued ones, drops queued clips by key
// and inserts a configurable silence gap between consecutive clips.
package stream

import "github.com/MrWong99/murmur/pkg/audio"

// entry wraps an [audio.Clip] with scheduling metadata for the priority
// queue. The seq field provides FIFO ordering within the same priority level.
type entry struct {
	clip     audio.Clip
	priority int
	seq      uint64 // monotonic insertion order for FIFO tie-breaking
}

// clipHeap implements [container/heap.Interface] as a max-heap ordered by
// priority (descending), with FIFO tie-breaking on seq (ascending).
type clipHeap []entry

func (h clipHeap) Len() int { return len(h) }

// Less reports whether element i should be dequeued before element j.
// Higher priority wins; equal priority falls back to insertion order.
func (h clipHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h clipHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *clipHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *clipHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
