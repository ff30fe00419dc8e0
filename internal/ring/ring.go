// Package ring is a specialized adaption of `container/ring`
// used to thread arena slots through stealable queues.
//
// Each queue is anchored by a sentinel element whose Value is unused;
// the element after the sentinel is the queue's head (first to be stolen)
// and the element before it is the tail (most recently released).
package ring

import "iter"

type (
	// A Ring is an element of a circular list, or ring.
	// Rings do not have a beginning or end; a pointer to any ring element
	// serves as reference to the entire ring. The zero value for a Ring
	// is a one-element ring.
	Ring[Value any] struct {
		next, prev *Ring[Value]
		Value      Value
		Metadata
	}
	// Metadata records which queue (if any) an element is linked into.
	Metadata struct {
		// Queue is the category index of the owning queue.
		// Only meaningful while Linked is true.
		Queue int
		// Linked is true while the element is part of a queue
		// (as opposed to detached and alone).
		Linked bool
	}
)

func (r *Ring[Value]) init() *Ring[Value] {
	r.next = r
	r.prev = r
	return r
}

// Next returns the next ring element. r must not be empty.
func (r *Ring[Value]) Next() *Ring[Value] {
	if r.next == nil {
		return r.init()
	}
	return r.next
}

// Prev returns the previous ring element. r must not be empty.
func (r *Ring[Value]) Prev() *Ring[Value] {
	if r.next == nil {
		return r.init()
	}
	return r.prev
}

// Link connects ring r with ring s such that r.Next()
// becomes s and returns the original value for r.Next().
// r must not be empty.
//
// If r and s point to the same ring, linking
// them removes the elements between r and s from the ring.
// If r and s point to different rings, linking
// them creates a single ring with the elements of s inserted
// after r.
func (r *Ring[Value]) Link(s *Ring[Value]) *Ring[Value] {
	n := r.Next()
	if s != nil {
		p := s.Prev()
		// Note: Cannot use multiple assignment because
		// evaluation order of LHS is not specified.
		r.next = s
		s.prev = r
		n.prev = p
		p.next = n
	}
	return n
}

// PushBack links the detached element e in front of sentinel r,
// making it the tail of the queue anchored at r.
func (r *Ring[Value]) PushBack(e *Ring[Value], queue int) {
	r.Prev().Link(e.init())
	e.Queue = queue
	e.Linked = true
}

// Detach removes r from whatever ring it belongs to,
// leaving it as a one-element ring.
func (r *Ring[Value]) Detach() {
	if r.next == nil || r.next == r {
		r.Linked = false
		return
	}
	r.prev.Link(r.next)
	r.init()
	r.Linked = false
}

// Empty reports whether the sentinel r anchors no elements.
func (r *Ring[Value]) Empty() bool {
	return r.next == nil || r.next == r
}

// Len computes the number of elements anchored by sentinel r.
// It executes in time proportional to the number of elements.
func (r *Ring[Value]) Len() int {
	n := 0
	for range r.Iter() {
		n++
	}
	return n
}

// Iter yields the elements anchored by sentinel r from head to tail.
// The element being yielded may be detached by the consumer.
func (r *Ring[Value]) Iter() iter.Seq[*Ring[Value]] {
	return func(yield func(*Ring[Value]) bool) {
		for p := r.Next(); p != r; {
			next := p.next
			if !yield(p) {
				return
			}
			p = next
		}
	}
}
