package cluster

import (
	"cmp"
	"math"
	"slices"
	"sort"
)

type (
	loadElement struct {
		handle   Handle
		priority uint32
	}
	// LoadQueue orders sample clusters awaiting population from storage.
	// It is a dense array rather than a heap because consumers cancel
	// pending loads from the middle.
	// Obtained from [Arena.LoadQueue].
	LoadQueue struct {
		arena    *Arena
		elements []loadElement
	}
)

// LowestUrgency is the priority used when the caller has no deadline.
const LowestUrgency = math.MaxUint32

// Enqueue schedules an empty sample cluster for loading.
// Lower priority values load sooner; equal priorities load in arrival order.
// Enqueueing a cluster that is already enqueued only ever tightens its
// priority, and enqueueing one that is loading or loaded does nothing.
// Reports whether the queue changed.
func (q *LoadQueue) Enqueue(h Handle, priority uint32) bool {
	s, ok := q.arena.lookup(h)
	if !ok || s.kind != KindSample || s.origin.Length == 0 {
		return false
	}
	switch s.state {
	case LoadEmpty:
		s.state = LoadEnqueued
	case LoadEnqueued:
		at := q.find(h)
		if at < 0 || q.elements[at].priority <= priority {
			return false
		}
		q.elements = slices.Delete(q.elements, at, at+1)
	default:
		return false
	}
	q.insert(loadElement{handle: h, priority: priority})
	return true
}

// EnqueueDefault is [LoadQueue.Enqueue] at [LowestUrgency].
func (q *LoadQueue) EnqueueDefault(h Handle) bool {
	return q.Enqueue(h, LowestUrgency)
}

// GrabHead removes and returns the most urgent cluster.
// The cluster returns to the empty state; the caller is expected to populate it.
func (q *LoadQueue) GrabHead() (Handle, bool) {
	if len(q.elements) == 0 {
		return Handle{}, false
	}
	head := q.elements[0].handle
	q.elements = slices.Delete(q.elements, 0, 1)
	q.arena.slots[head.index].state = LoadEmpty
	return head, true
}

// Peek returns the most urgent cluster and its priority without removing it.
func (q *LoadQueue) Peek() (Handle, uint32, bool) {
	if len(q.elements) == 0 {
		return Handle{}, 0, false
	}
	head := q.elements[0]
	return head.handle, head.priority, true
}

// RemoveIfPresent cancels a pending load.
// Reports whether h was queued.
func (q *LoadQueue) RemoveIfPresent(h Handle) bool {
	at := q.find(h)
	if at < 0 {
		return false
	}
	q.elements = slices.Delete(q.elements, at, at+1)
	q.arena.slots[h.index].state = LoadEmpty
	return true
}

// Len returns the number of pending loads.
func (q *LoadQueue) Len() int { return len(q.elements) }

// Priorities returns the queued priorities from head to tail.
func (q *LoadQueue) Priorities() []uint32 {
	priorities := make([]uint32, len(q.elements))
	for i, element := range q.elements {
		priorities[i] = element.priority
	}
	return priorities
}

func (q *LoadQueue) insert(element loadElement) {
	at := sort.Search(len(q.elements), func(i int) bool {
		return q.elements[i].priority > element.priority
	})
	q.elements = slices.Insert(q.elements, at, element)
	if debugging {
		assert(slices.IsSortedFunc(q.elements, func(a, b loadElement) int {
			return cmp.Compare(a.priority, b.priority)
		}), "load queue out of order")
	}
}

func (q *LoadQueue) find(h Handle) int {
	return slices.IndexFunc(q.elements, func(element loadElement) bool {
		return element.handle == h
	})
}

// remove drops whatever element occupies slot index, regardless of generation.
func (q *LoadQueue) remove(index uint32) {
	at := slices.IndexFunc(q.elements, func(element loadElement) bool {
		return element.handle.index == index
	})
	if at >= 0 {
		q.elements = slices.Delete(q.elements, at, at+1)
	}
}
