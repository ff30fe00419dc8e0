package render

// Comb and all-pass lengths in frames at 44.1kHz.
// Scaled to the configured rate by [NewReverb].
var (
	combTunings    = [...]int{1116, 1188, 1277, 1356}
	allPassTunings = [...]int{556, 441}
	// Right channel delay lines are offset to decorrelate the channels.
	stereoSpread = 23
)

const (
	referenceRate = 44100
	allPassGain   = 1 << 14 // 0.5 in Q15
)

type comb struct {
	line     []int32
	pos      int
	filtered int32
}

func (c *comb) next(in int32, feedback, damp int32) int32 {
	out := c.line[c.pos]
	c.filtered = int32((int64(out)*int64(1<<15-damp) + int64(c.filtered)*int64(damp)) >> 15)
	c.line[c.pos] = Saturate(int64(in) + int64(c.filtered)*int64(feedback)>>15)
	if c.pos++; c.pos == len(c.line) {
		c.pos = 0
	}
	return out
}

type allPass struct {
	line []int32
	pos  int
}

func (a *allPass) next(in int32) int32 {
	delayed := a.line[a.pos]
	out := Saturate(int64(delayed) - int64(in))
	a.line[a.pos] = Saturate(int64(in) + int64(delayed)*allPassGain>>15)
	if a.pos++; a.pos == len(a.line) {
		a.pos = 0
	}
	return out
}

type reverbChannel struct {
	combs     [len(combTunings)]comb
	allPasses [len(allPassTunings)]allPass
}

// FeedbackReverb is a small Schroeder reverberator:
// parallel damped combs feeding series all-passes, per channel.
type FeedbackReverb struct {
	left, right reverbChannel
	feedback    int32 // Q15
	damp        int32 // Q15
}

// NewReverb sizes the delay lines for sampleRate.
// room and damping are fractions in [0, 1].
func NewReverb(sampleRate int, room, damping float64) *FeedbackReverb {
	scale := func(frames int) int {
		return max(frames*sampleRate/referenceRate, 1)
	}
	build := func(ch *reverbChannel, spread int) {
		for i, t := range combTunings {
			ch.combs[i].line = make([]int32, scale(t+spread))
		}
		for i, t := range allPassTunings {
			ch.allPasses[i].line = make([]int32, scale(t+spread))
		}
	}
	r := &FeedbackReverb{
		feedback: int32((0.7 + 0.28*clamp01(room)) * (1 << 15)),
		damp:     int32(0.4 * clamp01(damping) * (1 << 15)),
	}
	build(&r.left, 0)
	build(&r.right, stereoSpread)
	return r
}

func clamp01(f float64) float64 { return min(max(f, 0), 1) }

// Process implements [Reverb].
func (r *FeedbackReverb) Process(send []int32, wet []StereoSample) {
	for i, in := range send {
		in >>= 3 // input gain; the combs sum four lines
		wet[i] = StereoSample{
			L: r.left.process(in, r.feedback, r.damp),
			R: r.right.process(in, r.feedback, r.damp),
		}
	}
}

func (ch *reverbChannel) process(in, feedback, damp int32) int32 {
	var sum int64
	for i := range ch.combs {
		sum += int64(ch.combs[i].next(in, feedback, damp))
	}
	out := Saturate(sum)
	for i := range ch.allPasses {
		out = ch.allPasses[i].next(out)
	}
	return out
}
