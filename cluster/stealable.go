package cluster

import (
	"fmt"

	"github.com/djdv/go-streamsynth"
)

// AddReason claims residency of the cluster h refers to.
// A zero-reason cluster leaves its stealable queue.
// If h is stale (the cluster was stolen or deallocated),
// an error wrapping [streamsynth.ErrNotFound] is returned.
func (a *Arena) AddReason(h Handle) error {
	s, ok := a.lookup(h)
	if !ok {
		return fmt.Errorf("%w: %v is no longer resident", streamsynth.ErrNotFound, h)
	}
	if s.reasons == 0 {
		s.link.Detach()
	}
	s.reasons++
	return nil
}

// RemoveReason drops a claim made by [Arena.AddReason] or [Arena.Allocate].
// When the last reason goes the cluster is kept warm, at the
// most valuable end of its stealable queue, until it is actually stolen.
// Removing a reason that was never held is fatal; tag names the caller
// in the resulting [*streamsynth.ConsistencyError].
func (a *Arena) RemoveReason(h Handle, tag string) {
	s, ok := a.lookup(h)
	if !ok {
		streamsynth.Fatal(tag, fmt.Sprintf("reason removed from stale %v", h))
	}
	if s.reasons <= 0 {
		streamsynth.Fatal(tag, fmt.Sprintf("reason count underflow on %v", h))
	}
	s.reasons--
	if s.reasons == 0 {
		a.makeStealable(h.index)
	}
}

// Touch marks a zero-reason cluster as recently useful,
// moving it to the most valuable end of its queue.
func (a *Arena) Touch(h Handle) {
	s, ok := a.lookup(h)
	if !ok || s.reasons != 0 || !s.link.Linked {
		return
	}
	s.link.Detach()
	a.makeStealable(h.index)
}

// StealOne reclaims the least valuable zero-reason cluster able to hold
// size bytes, scanning queues in steal order, and puts it on the free list.
// The returned handle is the victim's former identity; it is already stale.
func (a *Arena) StealOne(size int) (Handle, bool) {
	if size > a.clusterSize {
		return Handle{}, false
	}
	for i := range a.queues {
		queue := &a.queues[i]
		if queue.Empty() {
			continue
		}
		var (
			head   = queue.Next()
			index  = head.Value
			s      = &a.slots[index]
			victim = Handle{index: index, generation: s.generation}
		)
		if debugging {
			assert(s.reasons == 0, "stealable queue holds a reasoned cluster")
			assert(head.Queue == i, "cluster linked into the wrong queue")
		}
		a.discard(index)
		a.free = append(a.free, index)
		a.counters.steals++
		return victim, true
	}
	return Handle{}, false
}

// SetCurrentSong changes which song's clusters are protected longest,
// re-filing every stealable cluster whose category changes as a result.
// Relative order within each queue is preserved.
func (a *Arena) SetCurrentSong(song SongID) {
	if song == a.current {
		return
	}
	a.current = song
	var moved []uint32
	for i := range a.queues {
		for element := range a.queues[i].Iter() {
			s := &a.slots[element.Value]
			if a.queueFor(s) != Queue(i) {
				element.Detach()
				moved = append(moved, element.Value)
			}
		}
	}
	for _, index := range moved {
		a.makeStealable(index)
	}
}

func (a *Arena) queueFor(s *slot) Queue {
	current := s.owner != 0 && s.owner == a.current
	return categorize(s.kind, current)
}

func (a *Arena) makeStealable(index uint32) {
	s := &a.slots[index]
	queue := a.queueFor(s)
	if queue == QueueNone {
		return
	}
	a.queues[queue].PushBack(&s.link, int(queue))
}
