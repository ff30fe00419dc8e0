package voice

import (
	"fmt"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/render"
	"github.com/djdv/go-streamsynth/sample"
)

// MaxLayers bounds the sample sources of a single note.
const MaxLayers = 2

type (
	// Layer is one sample played by a note.
	Layer struct {
		Holder sample.Holder
		// Increment is the Q32.32 playback rate; zero plays at unity.
		Increment uint64
		// Gain is a Q16 level; zero means unity.
		Gain int32
	}

	// Note describes a voice to start.
	Note struct {
		Key      int
		Velocity int
		// Priority ranks sounds against each other when culling;
		// higher values survive longer.
		Priority uint8
		Envelope EnvelopeParams
		// Layers is copied when the note starts;
		// the caller may reuse the slice afterwards.
		Layers []Layer
		// ReverbSend is the Q16 level sent to the reverb bus.
		ReverbSend int32
		// Sidechain is the Q16 strength with which this note ducks the reverb.
		Sidechain int32
	}

	// Voice is one sounding note.
	Voice struct {
		note    Note
		gain    int32
		gains   [MaxLayers]int32
		sources [MaxLayers]Source
		layers  int
		env     envelope
		sounded uint64
		active  bool
	}
)

func (n *Note) validate() error {
	if len(n.Layers) == 0 || len(n.Layers) > MaxLayers {
		return fmt.Errorf("%w: note with %d layers (1 to %d supported)",
			streamsynth.ErrInvalidConfig, len(n.Layers), MaxLayers)
	}
	for i, layer := range n.Layers {
		if layer.Holder == nil {
			return fmt.Errorf("%w: layer %d has no sample", streamsynth.ErrInvalidConfig, i)
		}
	}
	return nil
}

// Key returns the note the voice was started for.
func (v *Voice) Key() int { return v.note.Key }

// Stage returns the voice's envelope stage.
func (v *Voice) Stage() Stage { return v.env.stage }

// Sounded returns the number of frames the voice has rendered.
func (v *Voice) Sounded() uint64 { return v.sounded }

// Source returns the streaming state of layer i.
func (v *Voice) Source(i int) *Source { return &v.sources[i] }

// Rating orders voices by how little would be lost by stopping them;
// the highest rated voice is culled first.
// Voices already fading out rank above releasing ones, which rank
// above those still sounding. Ties go to the lower note priority,
// then to the voice furthest through its release,
// or for sounding voices, the one that has played longest.
func (v *Voice) Rating() uint64 {
	var stage, progress uint64
	switch v.env.stage {
	case StageOff:
		stage = 4
	case StageFastRelease:
		stage, progress = 3, uint64(unity-v.env.level)
	case StageRelease:
		stage, progress = 2, uint64(unity-v.env.level)
	default:
		stage, progress = 1, min(v.sounded, 1<<48-1)
	}
	return stage<<56 | uint64(^v.note.Priority)<<48 | progress
}

func (v *Voice) start(p *Pool, note Note) {
	v.note = note
	v.gain = int32(min(max(note.Velocity, 1), 127) * unity / 127)
	v.layers = len(note.Layers)
	v.sounded = 0
	for i, layer := range note.Layers {
		increment := layer.Increment
		if increment == 0 {
			increment = UnityIncrement
		}
		v.gains[i] = layer.Gain
		if v.gains[i] == 0 {
			v.gains[i] = unity
		}
		v.sources[i].start(p.arena, layer.Holder, increment)
	}
	v.note.Layers = nil
	v.env.trigger(note.Envelope)
}

func (v *Voice) stop() {
	for i := range v.layers {
		v.sources[i].stop()
	}
	v.layers = 0
	v.env = envelope{}
}

// render mixes the voice into buf and reports whether it is still sounding.
func (v *Voice) render(buf []render.StereoSample, send []int32, q Quality) bool {
	for i := range v.layers {
		v.sources[i].refill()
	}
	for i := range buf {
		level := v.env.next()
		if v.env.stage == StageOff {
			return false
		}
		var (
			left, right int64
			live        bool
		)
		for k := range v.layers {
			src := &v.sources[k]
			if src.done {
				continue
			}
			live = true
			l, r := src.next(q)
			left += int64(l) * int64(v.gains[k]) >> 16
			right += int64(r) * int64(v.gains[k]) >> 16
		}
		if !live {
			return false
		}
		g := int64(level) * int64(v.gain) >> 16
		left, right = left*g>>16, right*g>>16
		buf[i].L = render.Saturate(int64(buf[i].L) + left)
		buf[i].R = render.Saturate(int64(buf[i].R) + right)
		if v.note.ReverbSend > 0 {
			wet := (left + right) / 2 * int64(v.note.ReverbSend) >> 16
			send[i] = render.Saturate(int64(send[i]) + wet)
		}
	}
	v.sounded += uint64(len(buf))
	return true
}
