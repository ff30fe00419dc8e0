package cluster

import "fmt"

type (
	// Kind describes what a cluster's bytes are used for.
	Kind uint8
	// LoadState tracks population of a cluster from storage.
	LoadState uint8
	// Queue identifies a stealable queue category.
	Queue int
	// SongID scopes clusters to the song that caused them to be allocated.
	// The zero value belongs to no song.
	SongID uint32
)

// Cluster kinds. Empty clusters are on the free list;
// KindOther clusters are pinned rather than stolen.
const (
	KindEmpty Kind = iota
	KindSample
	KindGeneralMemory
	KindSampleCache
	KindPercCacheForward
	KindPercCacheReversed
	KindOther
)

// Load states, in the order a sample cluster passes through them.
// A failed load returns the cluster to LoadEmpty.
const (
	LoadEmpty LoadState = iota
	LoadEnqueued
	LoadInProgress
	Loaded
)

// Stealable queues, in the order they are scanned by [Arena.StealOne].
// Closed songs give up memory before the current song does;
// within a song, general scratch memory goes first and derived caches last.
const (
	QueueNoSongGeneralMemory Queue = iota
	QueueNoSongSampleData
	QueueNoSongSampleCache
	QueueNoSongPercCache
	QueueCurrentSongGeneralMemory
	QueueCurrentSongSampleData
	QueueCurrentSongPercCache
	QueueCurrentSongSampleCache
	QueueCount

	// QueueNone marks clusters that are never stolen.
	QueueNone Queue = -1
)

// categorize maps a kind and song scope to its stealable queue.
func categorize(kind Kind, currentSong bool) Queue {
	var queue Queue
	switch kind {
	case KindGeneralMemory:
		queue = QueueNoSongGeneralMemory
	case KindSample:
		queue = QueueNoSongSampleData
	case KindSampleCache:
		queue = QueueNoSongSampleCache
	case KindPercCacheForward, KindPercCacheReversed:
		queue = QueueNoSongPercCache
	default:
		return QueueNone
	}
	if currentSong {
		queue += QueueCurrentSongGeneralMemory
	}
	return queue
}

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindSample:
		return "sample"
	case KindGeneralMemory:
		return "general-memory"
	case KindSampleCache:
		return "sample-cache"
	case KindPercCacheForward:
		return "perc-cache-forward"
	case KindPercCacheReversed:
		return "perc-cache-reversed"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (s LoadState) String() string {
	switch s {
	case LoadEmpty:
		return "empty"
	case LoadEnqueued:
		return "enqueued"
	case LoadInProgress:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (q Queue) String() string {
	names := [...]string{
		"no-song-general-memory",
		"no-song-sample-data",
		"no-song-sample-cache",
		"no-song-perc-cache",
		"current-song-general-memory",
		"current-song-sample-data",
		"current-song-perc-cache",
		"current-song-sample-cache",
	}
	if q >= 0 && int(q) < len(names) {
		return names[q]
	}
	return "none"
}
