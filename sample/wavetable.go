package sample

import (
	"errors"
	"fmt"

	"github.com/djdv/go-streamsynth/cluster"
)

// Wavetable is a short single-cycle sample that stays resident.
// Every piece is claimed up front and held until Close,
// so playback never waits on storage once the initial load completes.
type Wavetable struct {
	*Sample
	pinned []cluster.Handle
}

// NewWavetable pins every piece of s and loops its whole length.
func NewWavetable(s *Sample) (*Wavetable, error) {
	wt := &Wavetable{
		Sample: s,
		pinned: make([]cluster.Handle, 0, s.Clusters()),
	}
	for i := range s.Clusters() {
		h, err := s.Claim(i, 0)
		if err != nil {
			return nil, errors.Join(
				fmt.Errorf("pinning wavetable %s: %w", s.Name(), err),
				wt.Close(),
			)
		}
		wt.pinned = append(wt.pinned, h)
	}
	if err := s.SetLoop(0, s.Info().Frames()); err != nil {
		return nil, errors.Join(err, wt.Close())
	}
	return wt, nil
}

// Cache is always nil: single cycles are cheap to interpolate.
func (*Wavetable) Cache(uint64) *Cache { return nil }

// Close releases the pins. The wavetable remains usable
// as a plain looping sample afterwards.
func (wt *Wavetable) Close() error {
	for _, h := range wt.pinned {
		wt.Release(h, "wavetable")
	}
	wt.pinned = nil
	return nil
}
