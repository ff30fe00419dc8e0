// Package engine assembles a complete streaming sampler from a
// [config.Config]: the cluster arena and its loader, the samples,
// the voice pool, the render scheduler, and an output transport.
//
// All of it runs on one driver goroutine that alternates between
// render passes and idle work (loading clusters, flushing recordings).
// Other goroutines talk to the engine through [Engine.HandleMIDI]
// and [Engine.Launch], which queue events for the driver.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/cluster"
	"github.com/djdv/go-streamsynth/config"
	"github.com/djdv/go-streamsynth/record"
	"github.com/djdv/go-streamsynth/render"
	"github.com/djdv/go-streamsynth/storage"
	"github.com/djdv/go-streamsynth/tempo"
	"github.com/djdv/go-streamsynth/transport"
	"github.com/djdv/go-streamsynth/voice"
)

// Transport is an output the driver can sleep on between passes.
type Transport interface {
	render.Transport
	Wait(ctx context.Context) error
}

// song scopes every cluster the engine allocates.
const song cluster.SongID = 1

// eventQueue bounds the events waiting for the driver.
const eventQueue = 256

type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	arena     *cluster.Arena
	disk      *storage.Disk
	loader    *cluster.Loader
	state     *render.State
	pool      *voice.Pool
	clips     *voice.ClipSet
	scheduler *render.Scheduler
	clock     *tempo.Clock
	transport Transport
	closers   []func() error
	offline   bool

	keys      [128]*mapping
	samples   []*mapping
	sequenced []*mapping
	held      []int // Keys started by the previous step.
	envelope  voice.EnvelopeParams
	sendLevel int32
	sidechain int32

	recorders []*record.WAV

	events chan func()

	statsMu  sync.Mutex
	snapshot Stats
}

// New builds an engine and opens every sample cfg names.
// Without a device, output is rendered offline and discarded
// once the recorders have seen it.
// A nil logger discards messages.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	own := *cfg
	own.Samples = slices.Clone(cfg.Samples)
	own.ApplyDefaults()
	if err := own.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		cfg:    own,
		logger: logger,
		state:  render.NewState(),
		events: make(chan func(), eventQueue),
	}
	if err := e.build(); err != nil {
		return nil, errors.Join(err, e.Close())
	}
	return e, nil
}

func (e *Engine) build() error {
	var (
		cfg  = &e.cfg
		rate = cfg.Render.SampleRate
		err  error
	)
	if e.arena, err = cluster.New(cluster.Config{
		Clusters:    cfg.Arena.Clusters,
		ClusterSize: cfg.Arena.ClusterSize,
	}); err != nil {
		return err
	}
	e.arena.SetCurrentSong(song)
	if e.disk, err = storage.NewDisk(cfg.Storage.MaxOpenFiles, cfg.Storage.HeaderCache); err != nil {
		return err
	}
	e.closers = append(e.closers, e.disk.Close)
	e.loader = cluster.NewLoader(e.arena, e.disk, e.logger.With("component", "loader"))

	if err := e.openTransport(); err != nil {
		return err
	}
	if e.pool, err = voice.NewPool(e.arena, e.state, cfg.Voices.Polyphony,
		e.logger.With("component", "voices")); err != nil {
		return err
	}
	e.clips = voice.NewClipSet(e.arena, cfg.Voices.Clips)
	e.pool.AddSecondary(e.clips)
	threshold, cullLimit := cfg.Render.DirenessThreshold, cfg.Render.CullLimit
	if e.offline {
		// Every pass finds the ring empty, which would read as late.
		threshold, cullLimit = cfg.Transport.Window+1, 0
	}
	if e.scheduler, err = render.NewScheduler(render.Config{
		SampleRate:        rate,
		DirenessThreshold: threshold,
		CullLimit:         cullLimit,
		Volume:            level(cfg.Render.Volume),
		Pan:               cfg.Render.Pan,
		DCFilter:          cfg.Render.DCFilter,
		DitherSeed:        cfg.Render.DitherSeed,
	}, e.state, e.transport, e.pool, e.pool, e.logger.With("component", "render")); err != nil {
		return err
	}
	if cfg.Reverb.Enabled {
		e.scheduler.SetReverb(render.NewReverb(rate, cfg.Reverb.Room, cfg.Reverb.Damping))
	}
	if e.clock, err = tempo.New(tempo.Config{
		SampleRate: rate,
		BPM:        cfg.Tempo.BPM,
		Swing:      cfg.Tempo.Swing,
	}); err != nil {
		return err
	}
	e.clock.OnTick(e.sequence)
	e.scheduler.SetTickSource(e.clock)
	if cfg.Record.Path != "" {
		if err := e.record(cfg.Record.Path, cfg.Record.Source); err != nil {
			return err
		}
	}

	e.envelope = voice.EnvelopeParams{
		Attack:  ms(cfg.Voices.AttackMS, rate),
		Decay:   ms(cfg.Voices.DecayMS, rate),
		Sustain: level(cfg.Voices.Sustain),
		Release: ms(cfg.Voices.ReleaseMS, rate),
	}
	e.sendLevel = level(cfg.Voices.ReverbSend)
	e.sidechain = level(cfg.Voices.Sidechain)
	for i := range cfg.Samples {
		if err := e.open(&cfg.Samples[i]); err != nil {
			return err
		}
	}
	if cfg.Tempo.Run {
		e.clock.Start(e.state.Timer)
	}
	e.publish()
	return nil
}

func (e *Engine) openTransport() error {
	cfg := &e.cfg
	if !cfg.Transport.Device {
		mem, err := transport.NewMemory(cfg.Transport.Capacity, cfg.Transport.Window)
		if err != nil {
			return err
		}
		e.transport, e.offline = offline{mem}, true
		return nil
	}
	device, err := transport.NewDevice(transport.DeviceConfig{
		SampleRate: cfg.Render.SampleRate,
		Capacity:   cfg.Transport.Capacity,
		Window:     cfg.Transport.Window,
		Latency:    msDuration(cfg.Transport.LatencyMS),
	})
	if err != nil {
		return err
	}
	e.transport = device
	e.closers = append(e.closers, device.Close)
	return nil
}

func (e *Engine) record(path, source string) error {
	src := record.SourceMix
	if source == config.SourceInput {
		src = record.SourceInput
	}
	recorder, err := record.Create(path, e.cfg.Render.SampleRate, e.cfg.Record.StagingFrames, src)
	if err != nil {
		return err
	}
	e.recorders = append(e.recorders, recorder)
	e.closers = append(e.closers, recorder.Close)
	e.scheduler.AddRecorder(recorder)
	return nil
}

// Clock returns the tempo clock, for attaching MIDI and gate outputs.
// Listeners run inside render passes and must not block.
func (e *Engine) Clock() *tempo.Clock { return e.clock }

// Close releases samples, recordings, files, and the device,
// in the reverse order they were opened.
// The engine must not be running.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// offline renders as fast as the driver loops.
type offline struct{ *transport.Memory }

func (o offline) Wait(ctx context.Context) error {
	o.Discard(o.Buffered())
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", streamsynth.ErrAborted, err)
	}
	return nil
}
