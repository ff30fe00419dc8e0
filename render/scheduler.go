package render

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/djdv/go-streamsynth"
)

const (
	// DefaultCullMargin places the hard cull limit this many frames
	// above the direness threshold when no limit is configured.
	DefaultCullMargin = 17
	// Sidechain ducking recovers over this fraction of a second.
	duckRecoveryDivisor = 4
)

// Config parameterizes a [Scheduler].
type Config struct {
	SampleRate int
	// DirenessThreshold is the window size at which a pass is considered late.
	DirenessThreshold int
	// CullLimit is the window size past which voices are hard-culled.
	// Zero selects DirenessThreshold + DefaultCullMargin.
	CullLimit int
	// Volume is the master gain in Q16 (65536 is unity).
	Volume int32
	// Pan is the master balance in [-64, 64].
	Pan      int
	DCFilter bool
	// DitherSeed seeds the output dither noise.
	DitherSeed uint64
}

func (cfg *Config) validate(maxWindow int) error {
	switch {
	case cfg.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", streamsynth.ErrInvalidConfig, cfg.SampleRate)
	case maxWindow < 4 || maxWindow%4 != 0:
		return fmt.Errorf("%w: transport window %d must be a positive multiple of 4",
			streamsynth.ErrInvalidConfig, maxWindow)
	case cfg.DirenessThreshold <= 0:
		return fmt.Errorf("%w: direness threshold %d", streamsynth.ErrInvalidConfig, cfg.DirenessThreshold)
	}
	if cfg.CullLimit == 0 {
		cfg.CullLimit = cfg.DirenessThreshold + DefaultCullMargin
	}
	if cfg.CullLimit < cfg.DirenessThreshold {
		return fmt.Errorf("%w: cull limit %d below direness threshold %d",
			streamsynth.ErrInvalidConfig, cfg.CullLimit, cfg.DirenessThreshold)
	}
	if cfg.Pan < -64 || cfg.Pan > 64 {
		return fmt.Errorf("%w: pan %d", streamsynth.ErrInvalidConfig, cfg.Pan)
	}
	return nil
}

// Scheduler runs render passes against a transport.
type Scheduler struct {
	cfg       Config
	maxWindow int
	cooldown  uint64

	state     *State
	transport Transport
	graph     Graph
	culler    Culler
	ticks     TickSource
	reverb    Reverb
	recorders []Recorder

	guard   Guard
	master  master
	dither  ditherer
	mix     []StereoSample
	wet     []StereoSample
	send    []int32
	input   []Frame
	out     []Frame
	pending []Frame

	logger *slog.Logger
}

// NewScheduler prepares a scheduler and all of its buffers.
// Nothing is allocated during a pass.
func NewScheduler(cfg Config, state *State, transport Transport,
	graph Graph, culler Culler, logger *slog.Logger,
) (*Scheduler, error) {
	maxWindow := transport.MaxWindowSize()
	if err := cfg.validate(maxWindow); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cfg:       cfg,
		maxWindow: maxWindow,
		cooldown:  uint64(max(cfg.SampleRate/8, 1)),
		state:     state,
		transport: transport,
		graph:     graph,
		culler:    culler,
		master: newMaster(cfg.Volume, cfg.Pan, cfg.DCFilter,
			cfg.SampleRate/duckRecoveryDivisor),
		dither: newDitherer(cfg.DitherSeed),
		mix:    make([]StereoSample, maxWindow),
		wet:    make([]StereoSample, maxWindow),
		send:   make([]int32, maxWindow),
		input:  make([]Frame, maxWindow),
		out:    make([]Frame, maxWindow),
		logger: logger,
	}, nil
}

// SetTickSource aligns future windows to ticks.
func (s *Scheduler) SetTickSource(ticks TickSource) { s.ticks = ticks }

// SetReverb routes the send bus through reverb.
func (s *Scheduler) SetReverb(reverb Reverb) { s.reverb = reverb }

// AddRecorder feeds every future window to r.
func (s *Scheduler) AddRecorder(r Recorder) { s.recorders = append(s.recorders, r) }

// MaxWindow returns the largest window a pass will render.
func (s *Scheduler) MaxWindow() int { return s.maxWindow }

// Pending returns the number of rendered frames still waiting for the transport.
func (s *Scheduler) Pending() int { return len(s.pending) }

// Routine performs one render pass.
// It returns immediately if a pass is already running.
// If output from the previous pass is still waiting,
// this pass only drains it.
func (s *Scheduler) Routine() {
	if !s.guard.TryAcquire() {
		return
	}
	defer s.guard.Release()
	if len(s.pending) > 0 {
		s.drain()
		return
	}
	available := s.transport.AvailableWriteSlots()
	if available <= 0 {
		return
	}
	window := min(available, s.maxWindow)
	s.assess(window)
	window = s.widen(window)
	window = s.align(window)
	s.renderWindow(window)
	s.state.Timer += uint64(window)
	s.state.Passes++
	s.state.LastWindow = window
	s.pending = s.out[:window]
	s.drain()
}

func (s *Scheduler) drain() {
	written := s.transport.Write(s.pending)
	s.pending = s.pending[written:]
	if written > 0 {
		s.state.Drains++
	}
}

// assess adjusts direness and sheds voices.
// The window size before widening is a direct measure of how late this pass is.
func (s *Scheduler) assess(window int) {
	var (
		st        = s.state
		threshold = s.cfg.DirenessThreshold
		previous  = st.Direness
	)
	switch {
	case window >= threshold:
		if level := min(window-threshold+1, MaxDireness); level >= st.Direness {
			st.Direness = level
			st.DirenessChangedAt = st.Timer
		}
	case window < threshold*3/4:
		if st.Direness > 0 && st.Timer-st.DirenessChangedAt >= s.cooldown {
			st.Direness--
			st.DirenessChangedAt = st.Timer
		}
	default:
		// Close to late; don't let the cooldown elapse.
		st.DirenessChangedAt = st.Timer
	}
	if st.Direness != previous && s.logger.Enabled(context.Background(), slog.LevelDebug) {
		s.logger.Debug("direness changed",
			"from", previous, "to", st.Direness, "window", window)
	}

	if s.culler.Sounding() == 0 {
		return
	}
	if window >= s.cfg.CullLimit {
		for range (window-s.cfg.CullLimit)/8 + 1 {
			if !s.culler.CullOne(false) {
				break
			}
			st.Culls++
		}
		return
	}
	if window >= threshold && s.culler.CullOne(true) {
		st.FastReleases++
	}
}

// widen enlarges small windows so per-pass overhead is amortized,
// then rounds up to a multiple of 4.
// Anything beyond what the transport can take is drained by later passes.
func (s *Scheduler) widen(window int) int {
	if half := s.maxWindow / 2; window < half {
		window = min(window*2, half)
	}
	return min((window+3)&^3, s.maxWindow)
}

// align actions every tick due at the start of the window,
// and shortens the window so that it ends on the next one.
func (s *Scheduler) align(window int) int {
	if s.ticks == nil {
		return window
	}
	now := s.state.Timer
	for {
		at, ok := s.ticks.NextTick()
		if !ok || at >= now+uint64(window) {
			return window
		}
		if at <= now {
			s.ticks.ActionTick(now)
			continue
		}
		return int(at - now)
	}
}

func (s *Scheduler) renderWindow(window int) {
	var (
		mix   = s.mix[:window]
		send  = s.send[:window]
		input = s.input[:window]
		hit   = s.state.SidechainHitPending
	)
	clear(mix)
	clear(send)
	s.state.SidechainHitPending = 0
	s.graph.Render(mix, send, hit)
	if hit > 0 {
		s.master.duck.hit(hit)
	}
	if s.reverb != nil {
		wet := s.wet[:window]
		s.reverb.Process(send, wet)
		for i := range mix {
			g := int64(s.master.duck.next())
			mix[i].L = Saturate(int64(mix[i].L) + int64(wet[i].L)*g>>16)
			mix[i].R = Saturate(int64(mix[i].R) + int64(wet[i].R)*g>>16)
		}
	} else {
		for range window {
			s.master.duck.next()
		}
	}
	s.master.process(mix)
	n := s.transport.ReadInput(input)
	clear(input[n:])
	for _, r := range s.recorders {
		r.Feed(mix, input)
	}
	s.dither.frames(s.out[:window], mix)
}
