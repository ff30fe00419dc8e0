package cluster

import (
	"fmt"
	"math/bits"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/internal/ring"
	"github.com/djdv/go-streamsynth/storage"
)

type (
	link = ring.Ring[uint32]
	slot struct {
		link       link // Value is the slot's own index.
		data       []byte
		origin     Origin
		generation uint32
		reasons    int32
		length     int
		owner      SongID
		kind       Kind
		state      LoadState
	}
	// Origin is the byte range a sample cluster is populated from.
	Origin struct {
		File   storage.File
		Offset int64
		Length int
	}
	// Config sizes an [Arena].
	Config struct {
		// Clusters is the number of slots in the pool.
		Clusters int
		// ClusterSize is the size of every slot in bytes; a power of two.
		ClusterSize int
	}
	// Arena utilizes a fixed pool of equally sized clusters.
	// Concurrent access must be guarded by the caller.
	// Constructed by [New].
	Arena struct {
		slots       []slot
		free        []uint32
		queues      [QueueCount]link
		loads       LoadQueue
		current     SongID
		clusterSize int
		shift       uint
		counters    counters
	}
	counters struct {
		steals, loads, loadFailures uint64
	}
)

// Arena bounds supported by [New].
const (
	MinimumClusters    = 1
	MinimumClusterSize = 256
)

// New creates an [Arena] and its backing store.
// The whole store is allocated once, up front.
func New(config Config) (*Arena, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	var (
		count   = config.Clusters
		size    = config.ClusterSize
		backing = make([]byte, count*size)
		arena   = &Arena{
			slots:       make([]slot, count),
			free:        make([]uint32, 0, count),
			clusterSize: size,
			shift:       uint(bits.TrailingZeros(uint(size))),
		}
	)
	arena.loads.arena = arena
	for i := range arena.slots {
		s := &arena.slots[i]
		s.link.Value = uint32(i)
		s.data = backing[i*size : (i+1)*size : (i+1)*size]
		s.generation = 1
	}
	// Lowest index is handed out first.
	for i := count - 1; i >= 0; i-- {
		arena.free = append(arena.free, uint32(i))
	}
	return arena, nil
}

func (c Config) validate() error {
	if c.Clusters < MinimumClusters {
		return fmt.Errorf(
			"%w: cluster count must be >=%d but %d was requested",
			streamsynth.ErrInvalidConfig, MinimumClusters, c.Clusters)
	}
	if c.ClusterSize < MinimumClusterSize ||
		c.ClusterSize&(c.ClusterSize-1) != 0 {
		return fmt.Errorf(
			"%w: cluster size must be a power of two >=%d but %d was requested",
			streamsynth.ErrInvalidConfig, MinimumClusterSize, c.ClusterSize)
	}
	return nil
}

// ClusterSize returns the size of every cluster in bytes.
func (a *Arena) ClusterSize() int { return a.clusterSize }

// ClusterShift returns log2 of [Arena.ClusterSize].
func (a *Arena) ClusterShift() uint { return a.shift }

// Capacity returns the number of clusters in the pool.
func (a *Arena) Capacity() int { return len(a.slots) }

// LoadQueue returns the queue of clusters awaiting population.
func (a *Arena) LoadQueue() *LoadQueue { return &a.loads }

// CurrentSong returns the song whose clusters are stolen last.
func (a *Arena) CurrentSong() SongID { return a.current }

// Allocate assigns a cluster of the given kind to owner.
// A free slot is used when one exists; otherwise the least valuable
// stealable cluster is reclaimed. Allocation never touches storage.
//
// Sample clusters start out empty and must be given an [Origin] before
// they can be enqueued; every other kind is immediately usable as scratch memory.
// If addReason is false, the cluster is stealable as soon as it is returned.
func (a *Arena) Allocate(kind Kind, owner SongID, addReason bool) (Handle, error) {
	if kind == KindEmpty {
		streamsynth.Fatal("allocate", "cannot allocate a cluster of kind empty")
	}
	index, ok := a.popFree()
	if !ok {
		if _, stolen := a.StealOne(a.clusterSize); !stolen {
			return Handle{}, fmt.Errorf(
				"%w: all %d clusters are in use",
				streamsynth.ErrInsufficientMemory, len(a.slots))
		}
		index, _ = a.popFree()
	}
	s := &a.slots[index]
	s.kind = kind
	s.owner = owner
	s.state = LoadEmpty
	if kind != KindSample {
		s.state = Loaded
		s.length = a.clusterSize
	}
	handle := Handle{index: index, generation: s.generation}
	if addReason {
		s.reasons = 1
	} else {
		a.makeStealable(index)
	}
	return handle, nil
}

// Deallocate returns a zero-reason cluster to the free list,
// for owners that no longer want it kept warm.
// Deallocating a stale handle (double free) or a reasoned cluster is fatal.
func (a *Arena) Deallocate(h Handle) {
	s, ok := a.lookup(h)
	if !ok {
		streamsynth.Fatal("deallocate", fmt.Sprintf("%v was already released", h))
	}
	if s.reasons != 0 {
		streamsynth.Fatal("deallocate",
			fmt.Sprintf("%v still has %d reasons", h, s.reasons))
	}
	a.discard(h.index)
	a.free = append(a.free, h.index)
}

// Valid reports whether h still refers to the cluster it was issued for.
func (a *Arena) Valid(h Handle) bool {
	_, ok := a.lookup(h)
	return ok
}

// Kind returns the kind of a valid cluster, or [KindEmpty].
func (a *Arena) Kind(h Handle) Kind {
	if s, ok := a.lookup(h); ok {
		return s.kind
	}
	return KindEmpty
}

// State returns the load state of a valid cluster, or [LoadEmpty].
func (a *Arena) State(h Handle) LoadState {
	if s, ok := a.lookup(h); ok {
		return s.state
	}
	return LoadEmpty
}

// Reasons returns the reason count of a valid cluster, or 0.
func (a *Arena) Reasons(h Handle) int {
	if s, ok := a.lookup(h); ok {
		return int(s.reasons)
	}
	return 0
}

// Owner returns the song a valid cluster was allocated for.
func (a *Arena) Owner(h Handle) SongID {
	if s, ok := a.lookup(h); ok {
		return s.owner
	}
	return 0
}

// Origin returns where a valid sample cluster is loaded from.
func (a *Arena) Origin(h Handle) (Origin, bool) {
	s, ok := a.lookup(h)
	if !ok || s.kind != KindSample || s.origin.Length == 0 {
		return Origin{}, false
	}
	return s.origin, true
}

// SetOrigin records the byte range an empty sample cluster loads from.
func (a *Arena) SetOrigin(h Handle, origin Origin) error {
	s, ok := a.lookup(h)
	switch {
	case !ok:
		return fmt.Errorf("%w: %v", streamsynth.ErrNotFound, h)
	case s.kind != KindSample:
		return fmt.Errorf("%w: %v is a %v cluster, not a sample cluster",
			streamsynth.ErrInvalidConfig, h, s.kind)
	case s.state != LoadEmpty:
		return fmt.Errorf("%w: %v is already %v",
			streamsynth.ErrInvalidConfig, h, s.state)
	case origin.Length <= 0 || origin.Length > a.clusterSize:
		return fmt.Errorf("%w: origin length %d outside (0,%d]",
			streamsynth.ErrInvalidConfig, origin.Length, a.clusterSize)
	}
	s.origin = origin
	return nil
}

// Bytes returns the populated contents of a cluster.
// The slice stays valid for as long as the caller holds a reason;
// without one it is only valid until control returns to the arena.
func (a *Arena) Bytes(h Handle) ([]byte, bool) {
	s, ok := a.lookup(h)
	if !ok || s.state != Loaded {
		return nil, false
	}
	return s.data[:s.length], true
}

// Writable returns the full buffer of a reasoned, non-sample cluster,
// for owners that derive data into it (caches, scratch memory).
func (a *Arena) Writable(h Handle) ([]byte, bool) {
	s, ok := a.lookup(h)
	if !ok || s.reasons == 0 || s.kind == KindSample {
		return nil, false
	}
	return s.data, true
}

func (a *Arena) lookup(h Handle) (*slot, bool) {
	if h.IsZero() || int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.index]
	if s.generation != h.generation || s.kind == KindEmpty {
		return nil, false
	}
	return s, true
}

func (a *Arena) popFree() (uint32, bool) {
	last := len(a.free) - 1
	if last < 0 {
		return 0, false
	}
	index := a.free[last]
	a.free = a.free[:last]
	return index, true
}

// discard forgets a slot's contents and invalidates every handle to it.
// The slot is left unowned but not yet on the free list.
func (a *Arena) discard(index uint32) {
	s := &a.slots[index]
	if s.state == LoadEnqueued {
		a.loads.remove(index)
	}
	s.link.Detach()
	s.kind = KindEmpty
	s.state = LoadEmpty
	s.origin = Origin{}
	s.owner = 0
	s.length = 0
	s.reasons = 0
	s.generation++
	if s.generation == 0 { // Zero is reserved for the nil handle.
		s.generation = 1
	}
}

// Stats is a point-in-time summary of an [Arena].
type Stats struct {
	Capacity     int             `json:"capacity"`
	Free         int             `json:"free"`
	Assigned     int             `json:"assigned"`
	Stealable    int             `json:"stealable"`
	Enqueued     int             `json:"enqueued"`
	Queues       [QueueCount]int `json:"queues"`
	Steals       uint64          `json:"steals"`
	Loads        uint64          `json:"loads"`
	LoadFailures uint64          `json:"load_failures"`
}

// Stats walks the arena and reports its occupancy.
// It executes in time proportional to the number of clusters.
func (a *Arena) Stats() Stats {
	stats := Stats{
		Capacity:     len(a.slots),
		Free:         len(a.free),
		Assigned:     len(a.slots) - len(a.free),
		Enqueued:     a.loads.Len(),
		Steals:       a.counters.steals,
		Loads:        a.counters.loads,
		LoadFailures: a.counters.loadFailures,
	}
	for i := range a.queues {
		length := a.queues[i].Len()
		stats.Queues[i] = length
		stats.Stealable += length
	}
	return stats
}
