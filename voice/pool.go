package voice

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/cluster"
	"github.com/djdv/go-streamsynth/render"
)

// Secondary is a sound generator outside the pool
// that can also be shed under load, such as launched clips.
// The pool only turns to one when it has no eligible voice of its own.
type Secondary interface {
	Cull(fastOnly bool) bool
	Render(buf []render.StereoSample, send []int32, q Quality)
	Sounding() int
}

// Pool is a fixed set of voices. It renders them as the song graph
// and sheds them for the scheduler.
type Pool struct {
	arena     *cluster.Arena
	state     *render.State
	voices    []Voice
	free      []*Voice
	active    []*Voice
	secondary []Secondary
	logger    *slog.Logger
}

var (
	_ render.Graph  = (*Pool)(nil)
	_ render.Culler = (*Pool)(nil)
)

// NewPool preallocates size voices.
func NewPool(arena *cluster.Arena, state *render.State, size int, logger *slog.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: voice pool of %d", streamsynth.ErrInvalidConfig, size)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Pool{
		arena:  arena,
		state:  state,
		voices: make([]Voice, size),
		free:   make([]*Voice, 0, size),
		active: make([]*Voice, 0, size),
		logger: logger,
	}
	for i := range p.voices {
		p.free = append(p.free, &p.voices[i])
	}
	return p, nil
}

// AddSecondary makes s a fallback for culling and renders it with the pool.
func (p *Pool) AddSecondary(s Secondary) { p.secondary = append(p.secondary, s) }

// Active returns the number of assigned voices.
func (p *Pool) Active() int { return len(p.active) }

// Voices returns the assigned voices in assignment order.
func (p *Pool) Voices() []*Voice { return slices.Clone(p.active) }

// Sounding counts assigned voices and every secondary's sounds.
func (p *Pool) Sounding() int {
	n := len(p.active)
	for _, s := range p.secondary {
		n += s.Sounding()
	}
	return n
}

// Solicit assigns a free voice, culling the least valuable one
// when none is free. It returns nil only when nothing can be culled.
func (p *Pool) Solicit() *Voice {
	var v *Voice
	if last := len(p.free) - 1; last >= 0 {
		v = p.free[last]
		p.free = p.free[:last]
	} else if v = p.CullVoice(true, false); v == nil {
		return nil
	}
	v.active = true
	p.active = append(p.active, v)
	return v
}

// NoteOn starts note on a solicited voice.
func (p *Pool) NoteOn(note Note) (*Voice, error) {
	if err := note.validate(); err != nil {
		return nil, err
	}
	v := p.Solicit()
	if v == nil {
		return nil, fmt.Errorf("%w: no voice available for key %d",
			streamsynth.ErrInsufficientMemory, note.Key)
	}
	v.start(p, note)
	if note.Sidechain > 0 {
		p.state.HitSidechain(note.Sidechain)
	}
	return v, nil
}

// NoteOff releases every voice playing key.
func (p *Pool) NoteOff(key int) (released int) {
	for _, v := range p.active {
		if v.note.Key == key && !v.env.stage.releasing() {
			v.env.release()
			released++
		}
	}
	return released
}

// ReleaseAll starts the release of every voice.
func (p *Pool) ReleaseAll() {
	for _, v := range p.active {
		v.env.release()
	}
}

// CullVoice stops the highest rated voice.
// With fastOnly, the voice is fast-released instead of stopped,
// and voices already fast-releasing are not considered.
// With saveForReuse, a stopped voice is handed back to the caller
// rather than the free list.
// If the pool has nothing eligible, the secondaries are asked instead.
// Returns the reusable voice if one was requested and produced.
func (p *Pool) CullVoice(saveForReuse, fastOnly bool) *Voice {
	v, ok := p.cull(saveForReuse, fastOnly)
	if !ok {
		return nil
	}
	return v
}

// CullOne implements [render.Culler].
func (p *Pool) CullOne(fastOnly bool) bool {
	_, ok := p.cull(false, fastOnly)
	return ok
}

func (p *Pool) cull(saveForReuse, fastOnly bool) (*Voice, bool) {
	var (
		victim *Voice
		best   uint64
	)
	for _, v := range p.active {
		if fastOnly && v.env.stage == StageFastRelease {
			continue
		}
		if rating := v.Rating(); victim == nil || rating > best {
			victim, best = v, rating
		}
	}
	if victim == nil {
		if saveForReuse {
			return nil, false
		}
		for _, s := range p.secondary {
			if s.Cull(fastOnly) {
				return nil, true
			}
		}
		return nil, false
	}
	if fastOnly {
		victim.env.fastRelease()
		return nil, true
	}
	p.logger.Debug("voice culled",
		"key", victim.note.Key,
		"stage", victim.env.stage.String(),
		"sounded", victim.sounded)
	if saveForReuse {
		p.detach(victim)
		return victim, true
	}
	p.Unassign(victim)
	return nil, true
}

// Unassign stops v and returns it to the free list.
// Unassigning a voice the pool doesn't consider active is fatal.
func (p *Pool) Unassign(v *Voice) {
	p.detach(v)
	p.free = append(p.free, v)
}

func (p *Pool) detach(v *Voice) {
	at := slices.Index(p.active, v)
	if at < 0 || !v.active {
		streamsynth.Fatal("unassign", "voice is not assigned")
	}
	p.active = slices.Delete(p.active, at, at+1)
	v.stop()
	v.active = false
}

// Render implements [render.Graph].
// Voices that finish during the window are unassigned afterwards.
func (p *Pool) Render(buf []render.StereoSample, send []int32, _ int32) {
	q := QualityFor(p.state.Direness)
	for i := 0; i < len(p.active); {
		v := p.active[i]
		if v.render(buf, send, q) {
			i++
			continue
		}
		p.Unassign(v)
	}
	for _, s := range p.secondary {
		s.Render(buf, send, q)
	}
}
