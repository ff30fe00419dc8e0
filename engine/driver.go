package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/sync/errgroup"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/record"
)

// HandleMIDI queues msg for the driver.
// Note on and off play the mapped samples; start and stop control
// the tempo clock. Other messages are ignored.
// It is safe to call from any goroutine.
func (e *Engine) HandleMIDI(msg midi.Message) error {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		return e.post(func() { e.noteOn(int(key), int(vel)) })
	case msg.GetNoteEnd(&ch, &key):
		return e.post(func() { e.pool.NoteOff(int(key)) })
	case bytes.Equal(msg, midi.Start()):
		return e.post(func() { e.clock.Start(e.state.Timer) })
	case bytes.Equal(msg, midi.Stop()):
		return e.post(func() {
			e.clock.Stop()
			e.pool.ReleaseAll()
		})
	}
	e.logger.Debug("unhandled MIDI message", "msg", msg.String())
	return nil
}

// Launch queues the sample at index (in configuration order)
// to play once, in full, at its recorded pitch.
func (e *Engine) Launch(index int) error {
	if index < 0 || index >= len(e.samples) {
		return fmt.Errorf("%w: no sample %d", streamsynth.ErrNotFound, index)
	}
	m := e.samples[index]
	return e.post(func() {
		if err := e.clips.Launch(m.holder, m.gain); err != nil {
			e.logger.Warn("clip dropped", "path", m.cfg.Path, "error", err)
		}
	})
}

// Silence queues the release of every voice and stops every clip.
func (e *Engine) Silence() error {
	return e.post(func() {
		e.pool.ReleaseAll()
		e.clips.StopAll()
	})
}

func (e *Engine) post(event func()) error {
	select {
	case e.events <- event:
		return nil
	default:
		return fmt.Errorf("%w: %d events already waiting",
			streamsynth.ErrInsufficientMemory, eventQueue)
	}
}

func (e *Engine) dispatch() {
	for {
		select {
		case event := <-e.events:
			event()
		default:
			return
		}
	}
}

// Run drives the engine until ctx is done,
// reporting stats periodically if configured to.
func (e *Engine) Run(ctx context.Context) error {
	if device, ok := e.transport.(interface{ Start() }); ok {
		device.Start()
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return e.drive(ctx, math.MaxUint64) })
	if e.cfg.Stats.IntervalMS > 0 {
		group.Go(func() error { return e.report(ctx) })
	}
	return stopped(group.Wait())
}

// Render drives the engine until at least frames have been rendered
// since it was built, or ctx is done.
func (e *Engine) Render(ctx context.Context, frames uint64) error {
	if device, ok := e.transport.(interface{ Start() }); ok {
		device.Start()
	}
	return stopped(e.drive(ctx, frames))
}

func stopped(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (e *Engine) drive(ctx context.Context, until uint64) error {
	for e.state.Timer < until {
		if err := e.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// step is one turn of the driver: events, a render pass,
// idle loading (rendering again between loads), then
// flushing recordings while the device plays.
func (e *Engine) step(ctx context.Context) error {
	e.dispatch()
	if e.offline {
		// Offline passes are never late, so every load completes first.
		if err := e.load(ctx, e.arena.LoadQueue().Len(), nil); err != nil {
			return err
		}
	}
	e.scheduler.Routine()
	if err := e.load(ctx, e.cfg.Storage.LoadBatch, e.scheduler.Routine); err != nil {
		return err
	}
	e.flush()
	e.publish()
	return e.transport.Wait(ctx)
}

func (e *Engine) load(ctx context.Context, batch int, yield func()) error {
	if batch <= 0 {
		return nil
	}
	_, err := e.loader.LoadAnyEnqueued(ctx, batch, yield)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, streamsynth.ErrAborted):
		return err
	default:
		// The clusters stay empty; their voices hear silence and
		// enqueue them again, up to voice.LoadRetries times.
		e.logger.Warn("cluster loads failed", "error", err)
		return nil
	}
}

func (e *Engine) flush() {
	e.recorders = slices.DeleteFunc(e.recorders, func(r *record.WAV) bool {
		err := r.Flush()
		if err != nil {
			e.logger.Error("recording stopped", "error", err)
		}
		return err != nil
	})
}

func (e *Engine) report(ctx context.Context) error {
	ticker := time.NewTicker(msDuration(e.cfg.Stats.IntervalMS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			data, err := e.StatsJSON()
			if err != nil {
				return err
			}
			e.logger.Info("engine stats", "stats", string(data))
		}
	}
}
