package engine

import (
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"time"

	"github.com/djdv/go-streamsynth/config"
	"github.com/djdv/go-streamsynth/sample"
	"github.com/djdv/go-streamsynth/tempo"
	"github.com/djdv/go-streamsynth/voice"
)

const (
	steps        = 16
	stepVelocity = 100
)

// mapping plays one sample across a range of keys.
type mapping struct {
	cfg    config.SampleConfig
	holder sample.Holder
	gain   int32
	// rate corrects for files recorded at another sample rate.
	rate    float64
	sustain bool // Sounds until released rather than to its end.
}

func (e *Engine) open(sc *config.SampleConfig) error {
	file, info, err := e.disk.Open(sc.Path)
	if err != nil {
		return err
	}
	smp, err := sample.New(e.arena, filepath.Base(sc.Path), file, info, song)
	if err != nil {
		return err
	}
	m := &mapping{
		cfg:     *sc,
		holder:  smp,
		gain:    level(sc.Gain),
		rate:    float64(info.SampleRate) / float64(e.cfg.Render.SampleRate),
		sustain: sc.Loop != nil || sc.Wavetable,
	}
	if sc.Loop != nil {
		if err := smp.SetLoop(sc.Loop.Start, sc.Loop.End); err != nil {
			return fmt.Errorf("%s: %w", sc.Path, err)
		}
	}
	if sc.Wavetable {
		wt, err := sample.NewWavetable(smp)
		if err != nil {
			return err
		}
		m.holder = wt
		e.closers = append(e.closers, wt.Close)
	}
	for key := sc.Low; key <= sc.High; key++ {
		if previous := e.keys[key]; previous != nil {
			e.logger.Debug("key remapped", "key", key,
				"from", previous.cfg.Path, "to", sc.Path)
		}
		e.keys[key] = m
	}
	e.samples = append(e.samples, m)
	if len(sc.Steps) > 0 {
		e.sequenced = append(e.sequenced, m)
	}
	e.logger.Debug("sample opened",
		"path", sc.Path,
		"frames", info.Frames(),
		"channels", info.Channels,
		"clusters", smp.Clusters())
	return nil
}

// increment is the Q32.32 playback rate of key.
func (m *mapping) increment(key int) uint64 {
	ratio := math.Exp2(float64(key-m.cfg.Root)/12) * m.rate
	return uint64(ratio * voice.UnityIncrement)
}

func (e *Engine) noteOn(key, velocity int) {
	if key < 0 || key >= len(e.keys) || e.keys[key] == nil {
		e.logger.Debug("unmapped key", "key", key)
		return
	}
	m := e.keys[key]
	if _, err := e.pool.NoteOn(voice.Note{
		Key:      key,
		Velocity: velocity,
		Priority: m.cfg.Priority,
		Envelope: e.envelope,
		Layers: []voice.Layer{{
			Holder:    m.holder,
			Increment: m.increment(key),
			Gain:      m.gain,
		}},
		ReverbSend: e.sendLevel,
		Sidechain:  e.sidechain,
	}); err != nil {
		e.logger.Warn("note dropped", "key", key, "error", err)
	}
}

// sequence plays the step pattern; it runs on every clock tick.
// Sustaining samples are released at the next step,
// others play to their end.
func (e *Engine) sequence(tick uint64) {
	if tick%tempo.TicksPerStep != 0 || len(e.sequenced) == 0 {
		return
	}
	step := int(tick / tempo.TicksPerStep % steps)
	for _, key := range e.held {
		e.pool.NoteOff(key)
	}
	e.held = e.held[:0]
	for _, m := range e.sequenced {
		if !slices.Contains(m.cfg.Steps, step) {
			continue
		}
		e.noteOn(m.cfg.Root, stepVelocity)
		if m.sustain {
			e.held = append(e.held, m.cfg.Root)
		}
	}
}

// level converts a gain in [0, 1] (or above, for boosts) to Q16.
func level(gain float64) int32 { return int32(math.Round(gain * (1 << 16))) }

func ms(milliseconds, sampleRate int) int { return milliseconds * sampleRate / 1000 }

func msDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
