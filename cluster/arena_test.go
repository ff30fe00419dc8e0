package cluster_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/cluster"
)

const (
	testClusterSize = cluster.MinimumClusterSize
	songA           = cluster.SongID(1)
	songB           = cluster.SongID(2)
)

func TestArena(t *testing.T) {
	t.Run("invalid config", invalidConfig)
	t.Run("allocate free", allocateFree)
	t.Run("steal for new kind", stealForNewKind)
	t.Run("insufficient memory", insufficientMemory)
	t.Run("steal order", stealOrder)
	t.Run("steal skips reasoned", stealSkipsReasoned)
	t.Run("steal size", stealSize)
	t.Run("reason underflow", reasonUnderflow)
	t.Run("double free", doubleFree)
	t.Run("deallocate reasoned", deallocateReasoned)
	t.Run("stale handle", staleHandle)
	t.Run("current song", currentSong)
	t.Run("touch", touch)
	t.Run("capacity bound", capacityBound)
}

func invalidConfig(t *testing.T) {
	for _, config := range []cluster.Config{
		{Clusters: 0, ClusterSize: testClusterSize},
		{Clusters: -1, ClusterSize: testClusterSize},
		{Clusters: 4, ClusterSize: testClusterSize - 1},
		{Clusters: 4, ClusterSize: testClusterSize + 1},
		{Clusters: 4, ClusterSize: 3 * testClusterSize},
	} {
		t.Run(fmt.Sprintf("%d×%d", config.Clusters, config.ClusterSize), func(t *testing.T) {
			t.Parallel()
			arena, err := cluster.New(config)
			if arena != nil || !errors.Is(err, streamsynth.ErrInvalidConfig) {
				t.Errorf(
					"New did not reject an invalid config: %+v (%v)",
					config, err,
				)
			}
		})
	}
}

func allocateFree(t *testing.T) {
	t.Parallel()
	const capacity = 4
	arena := newArena(t, capacity)
	for i := range capacity {
		h := mustAllocate(t, arena, cluster.KindSample, songA, true)
		checkReasons(t, arena, h, 1, "fresh allocation")
		if got := arena.State(h); got != cluster.LoadEmpty {
			t.Fatalf("sample cluster %d should start empty, got %v", i, got)
		}
	}
	stats := arena.Stats()
	if stats.Assigned != capacity || stats.Free != 0 || stats.Steals != 0 {
		t.Fatalf("unexpected stats after filling arena: %+v", stats)
	}
}

func stealForNewKind(t *testing.T) {
	t.Parallel()
	const capacity = 4
	arena := newArena(t, capacity)
	samples := make([]cluster.Handle, 3)
	for i := range samples {
		samples[i] = mustAllocate(t, arena, cluster.KindSample, songA, true)
	}
	if steals := arena.Stats().Steals; steals != 0 {
		t.Fatalf("three allocations into four free slots stole %d clusters", steals)
	}
	pinned := mustAllocate(t, arena, cluster.KindOther, songA, true)
	arena.RemoveReason(samples[1], "test")
	got := mustAllocate(t, arena, cluster.KindGeneralMemory, songA, true)
	if kind := arena.Kind(got); kind != cluster.KindGeneralMemory {
		t.Fatalf("reallocated cluster kind\n\tgot: %v\n\twant: %v",
			kind, cluster.KindGeneralMemory)
	}
	if arena.Valid(samples[1]) {
		t.Fatal("stolen cluster's old handle is still valid")
	}
	for _, h := range []cluster.Handle{samples[0], samples[2], pinned} {
		if !arena.Valid(h) {
			t.Fatalf("reasoned cluster %v was stolen", h)
		}
	}
	if steals := arena.Stats().Steals; steals != 1 {
		t.Fatalf("expected exactly one steal, got %d", steals)
	}
}

func insufficientMemory(t *testing.T) {
	t.Parallel()
	const capacity = 2
	arena := newArena(t, capacity)
	mustAllocate(t, arena, cluster.KindSample, songA, true)
	mustAllocate(t, arena, cluster.KindOther, songA, false) // Never stealable.
	_, err := arena.Allocate(cluster.KindSample, songA, true)
	if !errors.Is(err, streamsynth.ErrInsufficientMemory) {
		t.Fatalf("expected insufficient memory, got: %v", err)
	}
}

func stealOrder(t *testing.T) {
	t.Parallel()
	arena := newArena(t, 5)
	arena.SetCurrentSong(songA)
	var (
		currentCache  = mustAllocate(t, arena, cluster.KindSampleCache, songA, false)
		currentSample = mustAllocate(t, arena, cluster.KindSample, songA, false)
		currentScrap  = mustAllocate(t, arena, cluster.KindGeneralMemory, songA, false)
		closedSample  = mustAllocate(t, arena, cluster.KindSample, songB, false)
		closedScrap   = mustAllocate(t, arena, cluster.KindGeneralMemory, songB, false)
	)
	want := []cluster.Handle{
		closedScrap, closedSample,
		currentScrap, currentSample, currentCache,
	}
	for i, expected := range want {
		got, ok := arena.StealOne(testClusterSize)
		if !ok {
			t.Fatalf("steal %d found nothing", i)
		}
		if got != expected {
			t.Fatalf("steal %d out of order\n\tgot: %v\n\twant: %v", i, got, expected)
		}
	}
	if _, ok := arena.StealOne(testClusterSize); ok {
		t.Fatal("stole from an arena with nothing left to steal")
	}
}

func stealSkipsReasoned(t *testing.T) {
	t.Parallel()
	const (
		capacity = 64
		rounds   = 512
	)
	var (
		arena   = newArena(t, capacity)
		rng     = rand.New(rand.NewSource(1))
		handles []cluster.Handle
	)
	for range rounds {
		switch rng.Intn(3) {
		case 0:
			h, err := arena.Allocate(cluster.KindSample, songA, true)
			if err == nil {
				handles = append(handles, h)
			}
		case 1:
			if len(handles) == 0 {
				continue
			}
			at := rng.Intn(len(handles))
			h := handles[at]
			if arena.Reasons(h) > 0 {
				arena.RemoveReason(h, "test")
			}
		case 2:
			reasoned := make(map[cluster.Handle]bool)
			for _, h := range handles {
				if arena.Reasons(h) > 0 {
					reasoned[h] = true
				}
			}
			victim, ok := arena.StealOne(testClusterSize)
			if ok && reasoned[victim] {
				t.Fatalf("stole reasoned cluster %v", victim)
			}
		}
		checkCapacity(t, arena)
	}
}

func stealSize(t *testing.T) {
	t.Parallel()
	arena := newArena(t, 1)
	mustAllocate(t, arena, cluster.KindGeneralMemory, songA, false)
	if _, ok := arena.StealOne(testClusterSize + 1); ok {
		t.Fatal("stole a cluster smaller than the requested size")
	}
}

func reasonUnderflow(t *testing.T) {
	t.Parallel()
	arena := newArena(t, 1)
	h := mustAllocate(t, arena, cluster.KindSample, songA, true)
	arena.RemoveReason(h, "first")
	mustBeFatal(t, "second", func() {
		arena.RemoveReason(h, "second")
	})
}

func doubleFree(t *testing.T) {
	t.Parallel()
	arena := newArena(t, 1)
	h := mustAllocate(t, arena, cluster.KindGeneralMemory, songA, false)
	arena.Deallocate(h)
	if kind := arena.Kind(h); kind != cluster.KindEmpty {
		t.Fatalf("deallocated cluster kind is %v", kind)
	}
	mustBeFatal(t, "deallocate", func() {
		arena.Deallocate(h)
	})
}

func deallocateReasoned(t *testing.T) {
	t.Parallel()
	arena := newArena(t, 1)
	h := mustAllocate(t, arena, cluster.KindGeneralMemory, songA, true)
	mustBeFatal(t, "deallocate", func() {
		arena.Deallocate(h)
	})
}

func staleHandle(t *testing.T) {
	t.Parallel()
	arena := newArena(t, 1)
	old := mustAllocate(t, arena, cluster.KindSample, songA, false)
	fresh := mustAllocate(t, arena, cluster.KindSample, songA, true)
	if old == fresh {
		t.Fatal("reassigned slot kept its handle")
	}
	if err := arena.AddReason(old); !errors.Is(err, streamsynth.ErrNotFound) {
		t.Fatalf("expected not found for stale handle, got: %v", err)
	}
	checkReasons(t, arena, fresh, 1, "after stale add")
	mustBeFatal(t, "stale", func() {
		arena.RemoveReason(old, "stale")
	})
}

func currentSong(t *testing.T) {
	t.Parallel()
	arena := newArena(t, 2)
	arena.SetCurrentSong(songA)
	var (
		mine   = mustAllocate(t, arena, cluster.KindSample, songA, false)
		theirs = mustAllocate(t, arena, cluster.KindSample, songB, false)
	)
	checkQueue(t, arena, cluster.QueueCurrentSongSampleData, 1)
	checkQueue(t, arena, cluster.QueueNoSongSampleData, 1)
	arena.SetCurrentSong(songB)
	checkQueue(t, arena, cluster.QueueCurrentSongSampleData, 1)
	checkQueue(t, arena, cluster.QueueNoSongSampleData, 1)
	victim, ok := arena.StealOne(testClusterSize)
	if !ok || victim != mine {
		t.Fatalf("expected the closed song's cluster to go first"+
			"\n\tgot: %v"+
			"\n\twant: %v",
			victim, mine)
	}
	if !arena.Valid(theirs) {
		t.Fatal("current song's cluster was stolen")
	}
}

func touch(t *testing.T) {
	t.Parallel()
	arena := newArena(t, 2)
	var (
		first  = mustAllocate(t, arena, cluster.KindGeneralMemory, songA, false)
		second = mustAllocate(t, arena, cluster.KindGeneralMemory, songA, false)
	)
	arena.Touch(first)
	victim, _ := arena.StealOne(testClusterSize)
	if victim != second {
		t.Fatalf("touched cluster was not protected"+
			"\n\tgot: %v"+
			"\n\twant: %v",
			victim, second)
	}
}

func capacityBound(t *testing.T) {
	t.Parallel()
	const capacity = 8
	arena := newArena(t, capacity)
	for i := range capacity * 4 {
		kind := cluster.KindSample
		if i%3 == 0 {
			kind = cluster.KindSampleCache
		}
		mustAllocate(t, arena, kind, songA, false)
		checkCapacity(t, arena)
	}
	if steals := arena.Stats().Steals; steals != capacity*3 {
		t.Fatalf("expected %d steals, got %d", capacity*3, steals)
	}
}

func newArena(tb testing.TB, capacity int) *cluster.Arena {
	tb.Helper()
	arena, err := cluster.New(cluster.Config{
		Clusters:    capacity,
		ClusterSize: testClusterSize,
	})
	if err != nil {
		tb.Fatal(err)
	}
	return arena
}

func mustAllocate(
	tb testing.TB, arena *cluster.Arena,
	kind cluster.Kind, owner cluster.SongID, addReason bool,
) cluster.Handle {
	tb.Helper()
	h, err := arena.Allocate(kind, owner, addReason)
	if err != nil {
		tb.Fatalf("allocate %v: %v", kind, err)
	}
	return h
}

func mustBeFatal(tb testing.TB, tag string, fn func()) {
	tb.Helper()
	defer func() {
		tb.Helper()
		recovered := recover()
		ce, ok := recovered.(*streamsynth.ConsistencyError)
		if !ok {
			tb.Fatalf("expected a consistency error, recovered: %v", recovered)
		}
		if ce.Tag != tag {
			tb.Fatalf("consistency error tag"+
				"\n\tgot: %q"+
				"\n\twant: %q",
				ce.Tag, tag)
		}
	}()
	fn()
}

func checkReasons(tb testing.TB, arena *cluster.Arena, h cluster.Handle, want int, msg string) {
	tb.Helper()
	if got := arena.Reasons(h); got != want {
		tb.Fatalf("unexpected reason count %s"+
			"\n\tgot: %d"+
			"\n\twant: %d",
			msg, got, want)
	}
}

func checkQueue(tb testing.TB, arena *cluster.Arena, queue cluster.Queue, want int) {
	tb.Helper()
	if got := arena.Stats().Queues[queue]; got != want {
		tb.Fatalf("unexpected length of queue %v"+
			"\n\tgot: %d"+
			"\n\twant: %d",
			queue, got, want)
	}
}

func checkCapacity(tb testing.TB, arena *cluster.Arena) {
	tb.Helper()
	stats := arena.Stats()
	if stats.Assigned > stats.Capacity ||
		stats.Assigned+stats.Free != stats.Capacity ||
		stats.Stealable > stats.Assigned {
		tb.Fatalf("arena accounting out of bounds: %+v", stats)
	}
}
