// Package tempo generates musical clock ticks on the render timeline.
//
// A [Clock] implements [render.TickSource]: the scheduler shortens
// windows so each tick lands exactly on a window boundary, then calls
// [Clock.ActionTick], which fans the tick out to MIDI clock and
// analog gate sinks and to tick listeners such as a sequencer.
package tempo

import (
	"fmt"
	"math"

	"gitlab.com/gomidi/midi/v2"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/render"
)

const (
	// PPQN is the tick resolution, the MIDI clock standard.
	PPQN = 24
	// TicksPerStep is one sixteenth note.
	TicksPerStep = PPQN / 4
	// Gate pulses are high for the first half of each step.
	gateLength = TicksPerStep / 2

	MinBPM       = 20
	MaxBPM       = 400
	MinSwing     = 50
	MaxSwing     = 75
	DefaultSwing = 50
)

type (
	// Config parameterizes a [Clock].
	Config struct {
		SampleRate int
		BPM        float64
		// Swing is the share (in percent) of each pair of steps
		// given to the first one. 50 is straight time.
		Swing int
	}

	// Clock schedules ticks in frames of render time.
	Clock struct {
		sampleRate int
		bpm        float64
		swing      int
		period     uint64 // Q32.32 frames per straight tick

		running  bool
		tick     uint64
		next     uint64
		nextFrac uint32

		midiOut   []func(midi.Message)
		gates     []func(high bool)
		listeners []func(tick uint64)
	}
)

var _ render.TickSource = (*Clock)(nil)

func (cfg *Config) validate() error {
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", streamsynth.ErrInvalidConfig, cfg.SampleRate)
	}
	if cfg.Swing == 0 {
		cfg.Swing = DefaultSwing
	}
	if cfg.Swing < MinSwing || cfg.Swing > MaxSwing {
		return fmt.Errorf("%w: swing %d%% outside [%d,%d]",
			streamsynth.ErrInvalidConfig, cfg.Swing, MinSwing, MaxSwing)
	}
	return validBPM(cfg.BPM)
}

func validBPM(bpm float64) error {
	if math.IsNaN(bpm) || bpm < MinBPM || bpm > MaxBPM {
		return fmt.Errorf("%w: tempo %g BPM outside [%d,%d]",
			streamsynth.ErrInvalidConfig, bpm, MinBPM, MaxBPM)
	}
	return nil
}

// New returns a stopped clock.
func New(cfg Config) (*Clock, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Clock{
		sampleRate: cfg.SampleRate,
		swing:      cfg.Swing,
	}
	c.setBPM(cfg.BPM)
	return c, nil
}

// SetBPM changes the tempo from the next scheduled tick on.
func (c *Clock) SetBPM(bpm float64) error {
	if err := validBPM(bpm); err != nil {
		return err
	}
	c.setBPM(bpm)
	return nil
}

func (c *Clock) setBPM(bpm float64) {
	c.bpm = bpm
	frames := float64(c.sampleRate) * 60 / (bpm * PPQN)
	c.period = uint64(frames * (1 << 32))
}

// BPM returns the current tempo.
func (c *Clock) BPM() float64 { return c.bpm }

// Tick returns the number of ticks actioned since the last start.
func (c *Clock) Tick() uint64 { return c.tick }

// Running reports whether ticks are being scheduled.
func (c *Clock) Running() bool { return c.running }

// OnMIDI registers a sink for MIDI real-time messages.
func (c *Clock) OnMIDI(sink func(midi.Message)) { c.midiOut = append(c.midiOut, sink) }

// OnGate registers an analog clock output.
func (c *Clock) OnGate(sink func(high bool)) { c.gates = append(c.gates, sink) }

// OnTick registers a listener called for every tick after the sinks.
func (c *Clock) OnTick(listener func(tick uint64)) {
	c.listeners = append(c.listeners, listener)
}

// Start schedules the first tick at frame now.
func (c *Clock) Start(now uint64) {
	c.running = true
	c.tick = 0
	c.next, c.nextFrac = now, 0
	c.sendMIDI(midi.Start())
}

// Stop halts the clock, sending a MIDI stop and dropping the gates.
func (c *Clock) Stop() {
	if !c.running {
		return
	}
	c.running = false
	c.sendMIDI(midi.Stop())
	c.setGates(false)
}

// NextTick implements [render.TickSource].
func (c *Clock) NextTick() (uint64, bool) { return c.next, c.running }

// ActionTick implements [render.TickSource].
func (c *Clock) ActionTick(now uint64) {
	if !c.running || now < c.next {
		return
	}
	c.sendMIDI(midi.TimingClock())
	switch c.tick % TicksPerStep {
	case 0:
		c.setGates(true)
	case gateLength:
		c.setGates(false)
	}
	for _, listener := range c.listeners {
		listener(c.tick)
	}
	c.schedule()
	c.tick++
}

// schedule advances next past the current tick.
// Ticks of the first step of each pair are stretched by the swing
// and those of the second compressed, so pairs keep straight time.
func (c *Clock) schedule() {
	period := c.period
	if c.swing != DefaultSwing {
		share := uint64(c.swing)
		if (c.tick/TicksPerStep)%2 == 1 {
			share = 100 - share
		}
		period = period / 50 * share
	}
	frac := uint64(c.nextFrac) + period&math.MaxUint32
	c.next += period>>32 + frac>>32
	c.nextFrac = uint32(frac)
}

func (c *Clock) sendMIDI(msg midi.Message) {
	for _, sink := range c.midiOut {
		sink(msg)
	}
}

func (c *Clock) setGates(high bool) {
	for _, sink := range c.gates {
		sink(high)
	}
}
