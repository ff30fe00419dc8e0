package render

import (
	"sync/atomic"

	"github.com/djdv/go-streamsynth"
)

// Guard is a non-reentrant lock for the render pass.
// Acquisition never waits: a second caller is simply refused,
// which is what a re-entered render must do.
type Guard struct {
	held atomic.Bool
}

// TryAcquire takes the guard if nobody holds it.
func (g *Guard) TryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

// Release gives the guard back.
// Releasing a guard that is not held is fatal.
func (g *Guard) Release() {
	if !g.held.CompareAndSwap(true, false) {
		streamsynth.Fatal("render guard", "released while not held")
	}
}

// Held reports whether a render pass is in progress.
func (g *Guard) Held() bool { return g.held.Load() }
