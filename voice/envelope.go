package voice

// Stage is the position of a voice in its amplitude envelope.
type Stage uint8

const (
	StageOff Stage = iota
	StageAttack
	StageDecay
	StageSustain
	StageRelease
	StageFastRelease
)

// FastReleaseFrames is the length of a fade-out forced by culling.
const FastReleaseFrames = 128

// Q16 full level.
const unity = 1 << 16

// EnvelopeParams describes a linear ADSR envelope.
// Times are in frames; Sustain is a Q16 level.
type EnvelopeParams struct {
	Attack  int
	Decay   int
	Sustain int32
	Release int
}

type envelope struct {
	params EnvelopeParams
	stage  Stage
	level  int32
	step   int32
}

func (s Stage) String() string {
	switch s {
	case StageOff:
		return "off"
	case StageAttack:
		return "attack"
	case StageDecay:
		return "decay"
	case StageSustain:
		return "sustain"
	case StageRelease:
		return "release"
	case StageFastRelease:
		return "fast release"
	default:
		return "invalid"
	}
}

// releasing reports whether the voice is on its way out.
func (s Stage) releasing() bool { return s >= StageRelease }

func stepFor(distance int32, frames int) int32 {
	return max(distance/int32(max(frames, 1)), 1)
}

func (e *envelope) trigger(params EnvelopeParams) {
	params.Sustain = min(max(params.Sustain, 0), unity)
	e.params = params
	e.level = 0
	if params.Attack <= 0 {
		e.level = unity
		e.enterDecay()
		return
	}
	e.stage = StageAttack
	e.step = stepFor(unity, params.Attack)
}

func (e *envelope) enterDecay() {
	if e.params.Decay <= 0 || e.level <= e.params.Sustain {
		e.level = min(e.level, e.params.Sustain)
		e.stage = StageSustain
		return
	}
	e.stage = StageDecay
	e.step = stepFor(e.level-e.params.Sustain, e.params.Decay)
}

func (e *envelope) release() {
	if e.stage.releasing() || e.stage == StageOff {
		return
	}
	e.stage = StageRelease
	e.step = stepFor(e.level, e.params.Release)
}

func (e *envelope) fastRelease() {
	if e.stage == StageFastRelease || e.stage == StageOff {
		return
	}
	e.stage = StageFastRelease
	e.step = stepFor(unity, FastReleaseFrames)
}

// next advances one frame and returns the Q16 level to apply.
func (e *envelope) next() int32 {
	switch e.stage {
	case StageAttack:
		if e.level += e.step; e.level >= unity {
			e.level = unity
			e.enterDecay()
		}
	case StageDecay:
		if e.level -= e.step; e.level <= e.params.Sustain {
			e.level = e.params.Sustain
			e.stage = StageSustain
		}
	case StageRelease, StageFastRelease:
		if e.level -= e.step; e.level <= 0 {
			e.level = 0
			e.stage = StageOff
		}
	}
	return e.level
}
