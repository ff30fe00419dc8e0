// Package config loads the YAML description of an engine.
//
// Every field has a default (see [Default]), so a file only needs
// to name what it changes. [Load] applies the file over the defaults
// and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/djdv/go-streamsynth"
)

type (
	Config struct {
		Arena     ArenaConfig     `yaml:"arena"`
		Storage   StorageConfig   `yaml:"storage"`
		Render    RenderConfig    `yaml:"render"`
		Transport TransportConfig `yaml:"transport"`
		Reverb    ReverbConfig    `yaml:"reverb"`
		Tempo     TempoConfig     `yaml:"tempo"`
		Voices    VoicesConfig    `yaml:"voices"`
		Samples   []SampleConfig  `yaml:"samples"`
		Record    RecordConfig    `yaml:"record"`
		Stats     StatsConfig     `yaml:"stats"`
		Logging   LoggingConfig   `yaml:"logging"`
	}

	ArenaConfig struct {
		Clusters    int `yaml:"clusters"`
		ClusterSize int `yaml:"cluster_size"`
	}

	StorageConfig struct {
		MaxOpenFiles int `yaml:"max_open_files"`
		HeaderCache  int `yaml:"header_cache"`
		// LoadBatch bounds the loads issued between two render passes.
		LoadBatch int `yaml:"load_batch"`
	}

	RenderConfig struct {
		SampleRate        int     `yaml:"sample_rate"`
		DirenessThreshold int     `yaml:"direness_threshold"`
		CullLimit         int     `yaml:"cull_limit"`
		Volume            float64 `yaml:"volume"`
		Pan               int     `yaml:"pan"`
		DCFilter          bool    `yaml:"dc_filter"`
		DitherSeed        uint64  `yaml:"dither_seed"`
	}

	TransportConfig struct {
		// Device selects the system audio output; otherwise rendering is offline.
		Device    bool `yaml:"device"`
		Capacity  int  `yaml:"capacity"`
		Window    int  `yaml:"window"`
		LatencyMS int  `yaml:"latency_ms"`
	}

	ReverbConfig struct {
		Enabled bool    `yaml:"enabled"`
		Room    float64 `yaml:"room"`
		Damping float64 `yaml:"damping"`
	}

	TempoConfig struct {
		BPM   float64 `yaml:"bpm"`
		Swing int     `yaml:"swing"`
		// Run starts the clock with the engine.
		Run bool `yaml:"run"`
	}

	VoicesConfig struct {
		Polyphony int `yaml:"polyphony"`
		Clips     int `yaml:"clips"`
		AttackMS  int `yaml:"attack_ms"`
		DecayMS   int `yaml:"decay_ms"`
		ReleaseMS int `yaml:"release_ms"`
		// Sustain, ReverbSend, and Sidechain are levels in [0, 1].
		Sustain    float64 `yaml:"sustain"`
		ReverbSend float64 `yaml:"reverb_send"`
		Sidechain  float64 `yaml:"sidechain"`
	}

	// SampleConfig maps a WAV file onto a range of MIDI keys.
	SampleConfig struct {
		Path string `yaml:"path"`
		// Root is the key that plays the file at its recorded pitch.
		Root int `yaml:"root"`
		// Low and High bound the keys that play this sample.
		// Both default to Root.
		Low       int         `yaml:"low"`
		High      int         `yaml:"high"`
		Priority  uint8       `yaml:"priority"`
		Gain      float64     `yaml:"gain"`
		Loop      *LoopConfig `yaml:"loop"`
		Wavetable bool        `yaml:"wavetable"`
		// Steps trigger the sample on these sequencer steps (0 to 15)
		// while the tempo clock runs.
		Steps []int `yaml:"steps"`
	}

	LoopConfig struct {
		Start int64 `yaml:"start"`
		End   int64 `yaml:"end"`
	}

	RecordConfig struct {
		Path   string `yaml:"path"`
		Source string `yaml:"source"`
		// StagingFrames bounds what is held between flushes.
		StagingFrames int `yaml:"staging_frames"`
	}

	StatsConfig struct {
		IntervalMS int `yaml:"interval_ms"`
	}

	LoggingConfig struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	}
)

// Record sources.
const (
	SourceMix   = "mix"
	SourceInput = "input"
)

// Default returns a configuration suited to a desktop audio device:
// 64MiB of 32KiB clusters and 44.1kHz output in 256 frame windows.
func Default() Config {
	return Config{
		Arena: ArenaConfig{
			Clusters:    2048,
			ClusterSize: 32 << 10,
		},
		Storage: StorageConfig{
			MaxOpenFiles: 16,
			HeaderCache:  64,
			LoadBatch:    4,
		},
		Render: RenderConfig{
			SampleRate:        44100,
			DirenessThreshold: 192,
			Volume:            1,
			DCFilter:          true,
		},
		Transport: TransportConfig{
			Device:    true,
			Capacity:  4096,
			Window:    256,
			LatencyMS: 50,
		},
		Reverb: ReverbConfig{
			Room:    0.5,
			Damping: 0.5,
		},
		Tempo: TempoConfig{
			BPM:   120,
			Swing: 50,
		},
		Voices: VoicesConfig{
			Polyphony: 64,
			Clips:     8,
			AttackMS:  2,
			DecayMS:   100,
			ReleaseMS: 200,
			Sustain:   0.8,
		},
		Record: RecordConfig{
			Source:        SourceMix,
			StagingFrames: 1 << 14,
		},
		Stats: StatsConfig{
			IntervalMS: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse yaml: %w", streamsynth.ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in the sample fields that default to other fields.
func (c *Config) ApplyDefaults() {
	for i := range c.Samples {
		c.Samples[i].applyDefaults()
	}
}

func (s *SampleConfig) applyDefaults() {
	if s.Low == 0 && s.High == 0 {
		s.Low, s.High = s.Root, s.Root
	}
	if s.Gain == 0 {
		s.Gain = 1
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format,
				append([]any{streamsynth.ErrInvalidConfig}, args...)...))
		}
	}
	check(c.Arena.Clusters > 0, "arena.clusters %d", c.Arena.Clusters)
	check(c.Arena.ClusterSize > 0 && c.Arena.ClusterSize&(c.Arena.ClusterSize-1) == 0,
		"arena.cluster_size %d is not a power of two", c.Arena.ClusterSize)
	check(c.Storage.MaxOpenFiles > 0, "storage.max_open_files %d", c.Storage.MaxOpenFiles)
	check(c.Storage.LoadBatch > 0, "storage.load_batch %d", c.Storage.LoadBatch)
	check(c.Render.SampleRate > 0, "render.sample_rate %d", c.Render.SampleRate)
	check(c.Render.Volume >= 0 && c.Render.Volume <= 4, "render.volume %g", c.Render.Volume)
	check(c.Render.Pan >= -64 && c.Render.Pan <= 64, "render.pan %d", c.Render.Pan)
	check(c.Transport.Window >= 4 && c.Transport.Window%4 == 0,
		"transport.window %d must be a positive multiple of 4", c.Transport.Window)
	check(c.Transport.Capacity >= c.Transport.Window,
		"transport.capacity %d is smaller than the window", c.Transport.Capacity)
	check(c.Render.DirenessThreshold > 0 && c.Render.DirenessThreshold <= c.Transport.Window,
		"render.direness_threshold %d must be in (0, transport.window]", c.Render.DirenessThreshold)
	check(c.Render.CullLimit == 0 || c.Render.CullLimit >= c.Render.DirenessThreshold,
		"render.cull_limit %d is below the direness threshold", c.Render.CullLimit)
	check(c.Voices.Polyphony > 0, "voices.polyphony %d", c.Voices.Polyphony)
	check(c.Voices.Clips >= 0, "voices.clips %d", c.Voices.Clips)
	for _, level := range []struct {
		name  string
		value float64
	}{
		{"voices.sustain", c.Voices.Sustain},
		{"voices.reverb_send", c.Voices.ReverbSend},
		{"voices.sidechain", c.Voices.Sidechain},
	} {
		check(level.value >= 0 && level.value <= 1,
			"%s %g is outside [0, 1]", level.name, level.value)
	}
	for i, s := range c.Samples {
		check(s.Path != "", "samples[%d] has no path", i)
		check(s.Low <= s.Root && s.Root <= s.High && s.Low >= 0 && s.High < 128,
			"samples[%d] keys %d..%d do not contain root %d", i, s.Low, s.High, s.Root)
		if s.Loop != nil {
			check(s.Loop.Start >= 0 && s.Loop.Start < s.Loop.End,
				"samples[%d] loop [%d, %d)", i, s.Loop.Start, s.Loop.End)
		}
		for _, step := range s.Steps {
			check(step >= 0 && step < 16, "samples[%d] step %d", i, step)
		}
	}
	check(c.Record.Source == SourceMix || c.Record.Source == SourceInput,
		"record.source %q", c.Record.Source)
	check(c.Record.StagingFrames > 0, "record.staging_frames %d", c.Record.StagingFrames)
	if _, err := c.Logging.level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (l LoggingConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: logging.level: %w", streamsynth.ErrInvalidConfig, err)
	}
	return level, nil
}

// Logger builds the handler described by l, writing to w.
func (l LoggingConfig) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	if l.JSON {
		return slog.New(slog.NewJSONHandler(w, options)), nil
	}
	return slog.New(slog.NewTextHandler(w, options)), nil
}
