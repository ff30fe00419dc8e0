package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/render"
)

// maxAccrual bounds the time credited by a single look at the clock.
const maxAccrual = time.Second

// pacer grants write slots at the sample rate of wall-clock time,
// so a device that pulls in large bursts still looks like one
// draining a DMA buffer frame by frame.
// The window a pass sees is then a measure of how late it is.
type pacer struct {
	*ring
	rate  int
	now   func() time.Time
	mu    sync.Mutex
	grant int
	last  time.Time
	carry time.Duration
}

func newPacer(r *ring, sampleRate int, now func() time.Time) (*pacer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", streamsynth.ErrInvalidConfig, sampleRate)
	}
	if now == nil {
		now = time.Now
	}
	return &pacer{
		ring:  r,
		rate:  sampleRate,
		now:   now,
		grant: len(r.frames), // Prefill.
		last:  now(),
	}, nil
}

func (p *pacer) accrue() {
	var (
		now     = p.now()
		elapsed = min(now.Sub(p.last), maxAccrual) + p.carry
		frames  = int(elapsed * time.Duration(p.rate) / time.Second)
	)
	p.carry = elapsed - time.Duration(frames)*time.Second/time.Duration(p.rate)
	p.last = now
	p.grant = min(p.grant+frames, len(p.ring.frames))
}

func (p *pacer) AvailableWriteSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrue()
	return min(p.grant, p.ring.AvailableWriteSlots())
}

func (p *pacer) Write(frames []render.Frame) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrue()
	n := p.ring.Write(frames[:min(len(frames), p.grant)])
	p.grant -= n
	return n
}

// Wait sleeps for a quarter window of device time, or until ctx is done.
func (p *pacer) Wait(ctx context.Context) error {
	timer := time.NewTimer(time.Duration(p.window/4) * time.Second / time.Duration(p.rate))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", streamsynth.ErrAborted, ctx.Err())
	}
}
