package transport

import (
	"sync"

	"github.com/djdv/go-streamsynth/render"
)

// Memory is a transport whose consumer is the caller.
// Use it for offline rendering and to drive the scheduler in tests.
// Input, if any, is supplied with [Memory.FeedInput].
type Memory struct {
	*ring
	inputMu sync.Mutex
	input   []render.Frame
}

var _ render.Transport = (*Memory)(nil)

// NewMemory holds up to capacity frames and renders at most window per pass.
func NewMemory(capacity, window int) (*Memory, error) {
	r, err := newRing(capacity, window)
	if err != nil {
		return nil, err
	}
	return &Memory{ring: r}, nil
}

// Drain moves up to len(dst) frames out of the ring,
// as the audio device would.
func (m *Memory) Drain(dst []render.Frame) int { return m.take(dst) }

// Discard consumes n frames without looking at them.
func (m *Memory) Discard(n int) int {
	var (
		scratch [256]render.Frame
		total   int
	)
	for total < n {
		got := m.take(scratch[:min(n-total, len(scratch))])
		if got == 0 {
			break
		}
		total += got
	}
	return total
}

// FeedInput queues frames for later passes to read as input.
func (m *Memory) FeedInput(frames []render.Frame) {
	m.inputMu.Lock()
	defer m.inputMu.Unlock()
	m.input = append(m.input, frames...)
}

// ReadInput moves queued input into dst.
func (m *Memory) ReadInput(dst []render.Frame) int {
	m.inputMu.Lock()
	defer m.inputMu.Unlock()
	n := copy(dst, m.input)
	m.input = m.input[:copy(m.input, m.input[n:])]
	return n
}
