package config_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/config"
)

func TestConfig(t *testing.T) {
	t.Run("defaults", configDefaults)
	t.Run("load", configLoad)
	t.Run("empty", configEmpty)
	t.Run("unknown field", configUnknownField)
	t.Run("invalid", configInvalid)
	t.Run("sample defaults", configSampleDefaults)
	t.Run("logger", configLogger)
}

func configDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func configLoad(t *testing.T) {
	t.Parallel()
	const yamlContent = `
arena:
  clusters: 512
render:
  sample_rate: 48000
  pan: -10
transport:
  device: false
tempo:
  bpm: 96
  swing: 60
  run: true
samples:
  - path: kick.wav
    root: 36
    steps: [0, 4, 8, 12]
  - path: pad.wav
    root: 60
    low: 48
    high: 72
    loop:
      start: 100
      end: 4000
logging:
  level: debug
  json: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Arena.Clusters != 512 {
		t.Errorf("clusters\n\tgot: %d\n\twant: %d", cfg.Arena.Clusters, 512)
	}
	if want := config.Default().Arena.ClusterSize; cfg.Arena.ClusterSize != want {
		t.Errorf("unset cluster size lost its default\n\tgot: %d\n\twant: %d",
			cfg.Arena.ClusterSize, want)
	}
	if cfg.Render.SampleRate != 48000 || cfg.Render.Pan != -10 {
		t.Errorf("render: %+v", cfg.Render)
	}
	if cfg.Transport.Device {
		t.Error("transport.device was not overridden")
	}
	if !cfg.Tempo.Run || cfg.Tempo.Swing != 60 {
		t.Errorf("tempo: %+v", cfg.Tempo)
	}
	if len(cfg.Samples) != 2 {
		t.Fatalf("samples\n\tgot: %d\n\twant: %d", len(cfg.Samples), 2)
	}
	if pad := cfg.Samples[1]; pad.Loop == nil || pad.Loop.End != 4000 || pad.Low != 48 {
		t.Errorf("pad sample: %+v", pad)
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Errorf("logging: %+v", cfg.Logging)
	}
}

func configEmpty(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := config.Default(); cfg.Render != want.Render {
		t.Errorf("empty document\n\tgot: %+v\n\twant: %+v", cfg.Render, want.Render)
	}
}

func configUnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.Parse([]byte("render:\n  sample_rat: 48000\n"))
	if !errors.Is(err, streamsynth.ErrInvalidConfig) {
		t.Fatalf("misspelled field\n\tgot: %v\n\twant: %v", err, streamsynth.ErrInvalidConfig)
	}
}

func configInvalid(t *testing.T) {
	t.Parallel()
	for _, test := range []struct {
		name, document, mentions string
	}{
		{"cluster size", "arena: {cluster_size: 3000}", "cluster_size"},
		{"window", "transport: {window: 6}", "transport.window"},
		{"threshold", "render: {direness_threshold: 1000}", "direness_threshold"},
		{"cull limit", "render: {cull_limit: 10}", "cull_limit"},
		{"sustain", "voices: {sustain: 2}", "voices.sustain"},
		{"keys", "samples: [{path: a.wav, root: 60, low: 61, high: 70}]", "root 60"},
		{"loop", "samples: [{path: a.wav, loop: {start: 9, end: 9}}]", "loop"},
		{"step", "samples: [{path: a.wav, steps: [16]}]", "step 16"},
		{"path", "samples: [{root: 60}]", "no path"},
		{"record source", "record: {source: both}", "record.source"},
		{"log level", "logging: {level: loud}", "logging.level"},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.Parse([]byte(test.document))
			if !errors.Is(err, streamsynth.ErrInvalidConfig) {
				t.Fatalf("accepted: %v", err)
			}
			if !strings.Contains(err.Error(), test.mentions) {
				t.Errorf("error does not mention %q: %v", test.mentions, err)
			}
		})
	}
}

func configSampleDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte("samples: [{path: a.wav, root: 64}]"))
	if err != nil {
		t.Fatal(err)
	}
	got := cfg.Samples[0]
	if got.Low != 64 || got.High != 64 || got.Gain != 1 {
		t.Errorf("sample defaults\n\tgot: %+v\n\twant: keys 64..64, gain 1", got)
	}
}

func configLogger(t *testing.T) {
	t.Parallel()
	var (
		buf     bytes.Buffer
		logging = config.LoggingConfig{Level: "warn", JSON: true}
	)
	logger, err := logging.Logger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("quiet")
	logger.Warn("loud", "window", 128)
	if got := buf.String(); strings.Contains(got, "quiet") ||
		!strings.Contains(got, `"msg":"loud"`) || !strings.Contains(got, `"window":128`) {
		t.Errorf("unexpected log output: %s", got)
	}
}
