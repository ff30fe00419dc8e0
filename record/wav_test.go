package record_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/record"
	"github.com/djdv/go-streamsynth/render"
)

const testRate = 44100

func TestWAV(t *testing.T) {
	t.Run("invalid", wavInvalid)
	t.Run("round trip", wavRoundTrip)
	t.Run("input", wavInput)
	t.Run("staging overflow", wavStagingOverflow)
}

func wavInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "invalid.wav")
	if _, err := record.Create(path, 0, 16, record.SourceMix); !errors.Is(err, streamsynth.ErrInvalidConfig) {
		t.Fatalf("zero sample rate accepted: %v", err)
	}
}

func wavRoundTrip(t *testing.T) {
	t.Parallel()
	var (
		path     = filepath.Join(t.TempDir(), "mix.wav")
		recorder = mustCreate(t, path, 64, record.SourceMix)
		window   = make([]render.StereoSample, 32)
	)
	for i := range window {
		window[i] = render.StereoSample{
			L: int32(i) << render.HeadroomBits,
			R: -int32(i) << render.HeadroomBits,
		}
	}
	for range 3 {
		recorder.Feed(window, nil)
		if err := recorder.Flush(); err != nil {
			t.Fatal(err)
		}
	}
	if err := recorder.Close(); err != nil {
		t.Fatal(err)
	}
	if got := recorder.Frames(); got != 96 {
		t.Fatalf("frames written\n\tgot: %d\n\twant: %d", got, 96)
	}
	data := decode(t, path)
	if len(data) != 96*2 {
		t.Fatalf("decoded samples\n\tgot: %d\n\twant: %d", len(data), 96*2)
	}
	for i := 0; i < len(data); i += 2 {
		frame := i / 2 % len(window)
		if data[i] != frame || data[i+1] != -frame {
			t.Fatalf("frame %d\n\tgot: %d %d\n\twant: %d %d", i/2, data[i], data[i+1], frame, -frame)
		}
	}
}

func wavInput(t *testing.T) {
	t.Parallel()
	var (
		path     = filepath.Join(t.TempDir(), "input.wav")
		recorder = mustCreate(t, path, 64, record.SourceInput)
	)
	recorder.Feed(make([]render.StereoSample, 4), []render.Frame{{L: 7, R: 9}, {L: -7, R: -9}})
	if err := recorder.Close(); err != nil {
		t.Fatal(err)
	}
	data := decode(t, path)
	want := []int{7, 9, -7, -9}
	if len(data) != len(want) {
		t.Fatalf("decoded\n\tgot: %v\n\twant: %v", data, want)
	}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("decoded\n\tgot: %v\n\twant: %v", data, want)
		}
	}
}

func wavStagingOverflow(t *testing.T) {
	t.Parallel()
	var (
		path     = filepath.Join(t.TempDir(), "overflow.wav")
		recorder = mustCreate(t, path, 16, record.SourceMix)
	)
	recorder.Feed(make([]render.StereoSample, 12), nil)
	recorder.Feed(make([]render.StereoSample, 12), nil)
	if got := recorder.Dropped(); got != 8 {
		t.Fatalf("dropped frames\n\tgot: %d\n\twant: %d", got, 8)
	}
	if err := recorder.Close(); err != nil {
		t.Fatal(err)
	}
	if got := recorder.Frames(); got != 16 {
		t.Fatalf("frames written\n\tgot: %d\n\twant: %d", got, 16)
	}
}

func mustCreate(tb testing.TB, path string, staging int, source record.Source) *record.WAV {
	tb.Helper()
	recorder, err := record.Create(path, testRate, staging, source)
	if err != nil {
		tb.Fatal(err)
	}
	return recorder
}

func decode(tb testing.TB, path string) []int {
	tb.Helper()
	f, err := os.Open(path)
	if err != nil {
		tb.Fatal(err)
	}
	defer f.Close()
	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		tb.Fatalf("%s is not a valid WAV file", path)
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		tb.Fatal(err)
	}
	if buf.Format.NumChannels != 2 || buf.Format.SampleRate != testRate {
		tb.Fatalf("decoded format: %+v", buf.Format)
	}
	return buf.Data
}
