package voice

import (
	"fmt"
	"slices"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/cluster"
	"github.com/djdv/go-streamsynth/render"
	"github.com/djdv/go-streamsynth/sample"
)

type clip struct {
	source  Source
	gain    int32
	fading  bool
	fade    int32
	started uint64
}

// ClipSet plays whole samples at their recorded pitch,
// outside the voice pool, such as launched audio clips.
type ClipSet struct {
	arena   *cluster.Arena
	clips   []*clip
	spare   []*clip
	size    int
	started uint64
}

var _ Secondary = (*ClipSet)(nil)

// NewClipSet allows up to size clips to play at once.
func NewClipSet(arena *cluster.Arena, size int) *ClipSet {
	cs := &ClipSet{
		arena: arena,
		size:  size,
		clips: make([]*clip, 0, size),
		spare: make([]*clip, size),
	}
	for i := range cs.spare {
		cs.spare[i] = new(clip)
	}
	return cs
}

// Launch starts holder at the Q16 gain.
func (cs *ClipSet) Launch(holder sample.Holder, gain int32) error {
	last := len(cs.spare) - 1
	if last < 0 {
		return fmt.Errorf("%w: all %d clips are playing",
			streamsynth.ErrInsufficientMemory, cs.size)
	}
	c := cs.spare[last]
	cs.spare = cs.spare[:last]
	cs.started++
	*c = clip{gain: gain, fade: unity, started: cs.started}
	c.source.start(cs.arena, holder, UnityIncrement)
	cs.clips = append(cs.clips, c)
	return nil
}

// StopAll silences every clip immediately.
func (cs *ClipSet) StopAll() {
	for len(cs.clips) > 0 {
		cs.remove(0)
	}
}

// Sounding returns the number of clips playing.
func (cs *ClipSet) Sounding() int { return len(cs.clips) }

// Cull fades out (fastOnly) or stops the longest running clip.
func (cs *ClipSet) Cull(fastOnly bool) bool {
	victim := -1
	for i, c := range cs.clips {
		if fastOnly && c.fading {
			continue
		}
		if victim < 0 || c.started < cs.clips[victim].started {
			victim = i
		}
	}
	if victim < 0 {
		return false
	}
	if fastOnly {
		cs.clips[victim].fading = true
		return true
	}
	cs.remove(victim)
	return true
}

func (cs *ClipSet) remove(i int) {
	c := cs.clips[i]
	c.source.stop()
	cs.clips = slices.Delete(cs.clips, i, i+1)
	cs.spare = append(cs.spare, c)
}

// Render mixes every clip into buf, dropping clips that end or finish fading.
func (cs *ClipSet) Render(buf []render.StereoSample, _ []int32, q Quality) {
	const fadeStep = unity / FastReleaseFrames
	for i := 0; i < len(cs.clips); {
		c := cs.clips[i]
		for n := range buf {
			if c.fading {
				if c.fade -= fadeStep; c.fade <= 0 {
					break
				}
			}
			l, r := c.source.next(q)
			if c.source.done {
				break
			}
			g := int64(c.gain) * int64(c.fade) >> 16
			buf[n].L = render.Saturate(int64(buf[n].L) + int64(l)*g>>16)
			buf[n].R = render.Saturate(int64(buf[n].R) + int64(r)*g>>16)
		}
		if c.source.done || c.fade <= 0 {
			cs.remove(i)
			continue
		}
		c.source.refill()
		i++
	}
}
