package cluster

import "fmt"

// Handle is a weak reference to a cluster.
// Convert it into a residency guarantee with [Arena.AddReason].
// The zero Handle refers to nothing.
type Handle struct {
	index, generation uint32
}

// IsZero reports whether h was never issued by an arena.
func (h Handle) IsZero() bool { return h.generation == 0 }

func (h Handle) String() string {
	if h.IsZero() {
		return "cluster(nil)"
	}
	return fmt.Sprintf("cluster(%d@%d)", h.index, h.generation)
}
