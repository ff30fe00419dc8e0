// Package transport provides the frame rings render passes write into:
// an in-memory ring for tests and offline rendering, and an
// audio device ring played through oto.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/render"
)

// ring is a bounded FIFO of frames shared between the render
// context (producer) and the device (consumer).
type ring struct {
	mu        sync.Mutex
	frames    []render.Frame
	head      int
	size      int
	window    int
	space     chan struct{}
	underruns uint64
}

func newRing(capacity, window int) (*ring, error) {
	if window < 4 || window%4 != 0 {
		return nil, fmt.Errorf("%w: window %d must be a positive multiple of 4",
			streamsynth.ErrInvalidConfig, window)
	}
	if capacity < window {
		return nil, fmt.Errorf("%w: ring of %d frames cannot hold a %d frame window",
			streamsynth.ErrInvalidConfig, capacity, window)
	}
	return &ring{
		frames: make([]render.Frame, capacity),
		window: window,
		space:  make(chan struct{}, 1),
	}, nil
}

func (r *ring) AvailableWriteSlots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames) - r.size
}

func (r *ring) MaxWindowSize() int { return r.window }

// ReadInput reports no input; these transports are output only.
func (*ring) ReadInput([]render.Frame) int { return 0 }

func (r *ring) Write(frames []render.Frame) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(len(frames), len(r.frames)-r.size)
	for i := range n {
		r.frames[(r.head+r.size+i)%len(r.frames)] = frames[i]
	}
	r.size += n
	return n
}

// take moves up to len(dst) frames out of the ring.
func (r *ring) take(dst []render.Frame) int {
	r.mu.Lock()
	n := min(len(dst), r.size)
	for i := range n {
		dst[i] = r.frames[(r.head+i)%len(r.frames)]
	}
	r.head = (r.head + n) % len(r.frames)
	r.size -= n
	if n < len(dst) {
		r.underruns++
	}
	r.mu.Unlock()
	if n > 0 {
		select {
		case r.space <- struct{}{}:
		default:
		}
	}
	return n
}

// Buffered returns the number of frames waiting for the device.
func (r *ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Underruns counts device reads that found the ring short.
func (r *ring) Underruns() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.underruns
}

// Wait blocks until the device has consumed frames since the last call,
// or ctx is done.
func (r *ring) Wait(ctx context.Context) error {
	select {
	case <-r.space:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", streamsynth.ErrAborted, ctx.Err())
	}
}
