package sample

import (
	"fmt"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/cluster"
	"github.com/djdv/go-streamsynth/storage"
)

type (
	// Holder is anything a voice can stream frames from.
	Holder interface {
		Info() storage.Info
		// Clusters returns the number of cluster-sized pieces of data.
		Clusters() int
		// Claim takes a reason on piece index, scheduling a load
		// at priority if it is not resident.
		Claim(index int, priority uint32) (cluster.Handle, error)
		// Release drops a reason taken by Claim.
		Release(h cluster.Handle, tag string)
		// Loop returns the looped frame range, if any.
		Loop() (start, end int64, ok bool)
		// Cache returns the repitch cache for increment,
		// or nil if the holder does not cache.
		Cache(increment uint64) *Cache
	}

	// Sample is a file whose PCM data streams through the arena.
	Sample struct {
		arena     *cluster.Arena
		name      string
		file      storage.File
		info      storage.Info
		owner     cluster.SongID
		pieces    []cluster.Handle
		loopStart int64
		loopEnd   int64
		caches    map[uint64]*Cache
	}
)

// New describes file to the arena.
// Nothing is allocated or read until pieces are claimed.
func New(arena *cluster.Arena, name string, file storage.File,
	info storage.Info, owner cluster.SongID,
) (*Sample, error) {
	frameSize := info.FrameSize()
	if frameSize == 0 || info.DataLength <= 0 {
		return nil, fmt.Errorf("%w: %s has no sample data",
			streamsynth.ErrCorrupted, name)
	}
	if arena.ClusterSize()%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d-byte frames do not tile %d-byte clusters",
			streamsynth.ErrInvalidConfig, frameSize, arena.ClusterSize())
	}
	var (
		size   = int64(arena.ClusterSize())
		pieces = (info.DataLength + size - 1) / size
	)
	return &Sample{
		arena:  arena,
		name:   name,
		file:   file,
		info:   info,
		owner:  owner,
		pieces: make([]cluster.Handle, pieces),
		caches: make(map[uint64]*Cache),
	}, nil
}

// Name identifies the sample in logs and errors.
func (s *Sample) Name() string { return s.name }

// Info returns the location and format of the PCM data.
func (s *Sample) Info() storage.Info { return s.info }

// Clusters returns the number of cluster-sized pieces of data.
func (s *Sample) Clusters() int { return len(s.pieces) }

// Owner returns the song the sample's clusters are allocated for.
func (s *Sample) Owner() cluster.SongID { return s.owner }

// SetLoop makes playback wrap from end back to start (in frames).
// An empty range disables looping.
func (s *Sample) SetLoop(start, end int64) error {
	if start == end {
		s.loopStart, s.loopEnd = 0, 0
		return nil
	}
	if start < 0 || end > s.info.Frames() || start > end {
		return fmt.Errorf("%w: loop [%d,%d) outside %d frames",
			streamsynth.ErrInvalidConfig, start, end, s.info.Frames())
	}
	s.loopStart, s.loopEnd = start, end
	return nil
}

// Loop returns the frame range set by [Sample.SetLoop].
func (s *Sample) Loop() (start, end int64, ok bool) {
	return s.loopStart, s.loopEnd, s.loopEnd > s.loopStart
}

// Resident reports whether piece index is loaded and readable.
func (s *Sample) Resident(index int) bool {
	if index < 0 || index >= len(s.pieces) {
		return false
	}
	return s.arena.State(s.pieces[index]) == cluster.Loaded
}

// Claim returns a reasoned handle to piece index.
// A resident piece is reused (even one with no other reasons);
// otherwise a cluster is allocated and enqueued for loading at priority.
// A piece that is already enqueued has its priority tightened.
func (s *Sample) Claim(index int, priority uint32) (cluster.Handle, error) {
	if index < 0 || index >= len(s.pieces) {
		return cluster.Handle{}, fmt.Errorf("%w: piece %d of %s (%d pieces)",
			streamsynth.ErrNotFound, index, s.name, len(s.pieces))
	}
	var (
		arena = s.arena
		loads = arena.LoadQueue()
		h     = s.pieces[index]
	)
	if arena.AddReason(h) == nil {
		switch arena.State(h) {
		case cluster.LoadEmpty, cluster.LoadEnqueued:
			// Never loaded, or an earlier load failed.
			loads.Enqueue(h, priority)
		}
		return h, nil
	}
	h, err := arena.Allocate(cluster.KindSample, s.owner, true)
	if err != nil {
		return cluster.Handle{}, fmt.Errorf("claiming piece %d of %s: %w", index, s.name, err)
	}
	var (
		size   = int64(arena.ClusterSize())
		offset = int64(index) * size
		origin = cluster.Origin{
			File:   s.file,
			Offset: s.info.DataOffset + offset,
			Length: int(min(size, s.info.DataLength-offset)),
		}
	)
	if err := arena.SetOrigin(h, origin); err != nil {
		arena.RemoveReason(h, "sample claim")
		arena.Deallocate(h)
		return cluster.Handle{}, err
	}
	s.pieces[index] = h
	loads.Enqueue(h, priority)
	return h, nil
}

// Release drops a reason taken by [Sample.Claim].
// If it was the last one and the load is still pending,
// the load is cancelled; the data is no longer wanted.
func (s *Sample) Release(h cluster.Handle, tag string) {
	arena := s.arena
	if arena.Reasons(h) == 1 && arena.State(h) == cluster.LoadEnqueued {
		arena.LoadQueue().RemoveIfPresent(h)
	}
	arena.RemoveReason(h, tag)
}

// Cache returns the repitch cache for a Q32.32 playback increment,
// creating it on first use.
func (s *Sample) Cache(increment uint64) *Cache {
	c, ok := s.caches[increment]
	if !ok {
		c = newCache(s.arena, s.owner, increment, s.info.Frames())
		s.caches[increment] = c
	}
	return c
}

// Unload returns every idle cluster of the sample to the arena.
// Clusters that are still reasoned are left alone; the count
// of those is returned.
func (s *Sample) Unload() int {
	var inUse int
	for i, h := range s.pieces {
		if !s.arena.Valid(h) {
			s.pieces[i] = cluster.Handle{}
			continue
		}
		if s.arena.Reasons(h) > 0 {
			inUse++
			continue
		}
		s.arena.Deallocate(h)
		s.pieces[i] = cluster.Handle{}
	}
	for increment, c := range s.caches {
		if n := c.unload(); n > 0 {
			inUse += n
			continue
		}
		delete(s.caches, increment)
	}
	return inUse
}
