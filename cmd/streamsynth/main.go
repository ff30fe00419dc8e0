// Command streamsynth plays WAV files through the streaming engine.
//
//	streamsynth [-config synth.yaml] [-offline -record out.wav] [-duration 10s] files...
//
// Each file is mapped to its own key, starting at middle C,
// and launched once at startup. Samples named in the config
// file are mapped as configured.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/djdv/go-streamsynth/config"
	"github.com/djdv/go-streamsynth/engine"
)

const firstKey = 60

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run() error {
	var (
		cfgPath  = flag.String("config", "", "YAML configuration file")
		offline  = flag.Bool("offline", false, "render without an audio device")
		record   = flag.String("record", "", "record the mix to this WAV file")
		duration = flag.Duration("duration", 0, "stop after this much audio (0 plays until interrupted)")
		bpm      = flag.Float64("bpm", 0, "override the configured tempo")
		stats    = flag.Bool("stats", false, "print final stats as JSON")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = *loaded
	}
	if *offline {
		cfg.Transport.Device = false
	}
	if *record != "" {
		cfg.Record.Path = *record
	}
	if *bpm != 0 {
		cfg.Tempo.BPM = *bpm
	}
	if cfg.Voices.Clips < flag.NArg() {
		cfg.Voices.Clips = flag.NArg()
	}
	var (
		first  = len(cfg.Samples)
		opened = flag.NArg()
	)
	for i, path := range flag.Args() {
		cfg.Samples = append(cfg.Samples, config.SampleConfig{
			Path: path,
			Root: firstKey + i,
		})
	}
	if !cfg.Transport.Device && *duration == 0 {
		return errors.New("offline rendering needs a -duration")
	}

	logger, err := cfg.Logging.Logger(os.Stderr)
	if err != nil {
		return err
	}
	eng, err := engine.New(&cfg, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("closing engine", "error", err)
		}
	}()
	for i := range opened {
		if err := eng.Launch(first + i); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration == 0 {
		err = eng.Run(ctx)
	} else {
		err = eng.Render(ctx, uint64(duration.Seconds()*float64(cfg.Render.SampleRate)))
	}
	if err != nil {
		return err
	}
	if *stats {
		data, err := eng.StatsJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	}
	return nil
}
