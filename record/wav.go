// Package record captures rendered audio to WAV files.
//
// Capture happens in two halves: [WAV.Feed] runs inside the render
// pass and only copies into a preallocated staging buffer, and
// [WAV.Flush] encodes the staged frames to disk from the idle context.
// If the idle context falls behind, the staging buffer fills and
// frames are dropped (and counted) rather than stalling the render.
package record

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/render"
)

// Source selects what a recorder captures.
type Source uint8

const (
	SourceMix Source = iota
	SourceInput
)

const (
	channels = 2
	bitDepth = 16
	pcm      = 1
)

// WAV records 16-bit stereo audio.
// Feed and Flush must be called from the same goroutine.
type WAV struct {
	closer  io.Closer
	enc     *wav.Encoder
	source  Source
	staged  *audio.IntBuffer
	limit   int
	frames  uint64
	dropped uint64
	err     error
}

var _ render.Recorder = (*WAV)(nil)

// Create records to a new file at path,
// staging up to stagingFrames between flushes.
func Create(path string, sampleRate, stagingFrames int, source Source) (*WAV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", streamsynth.ErrStorageFailure, err)
	}
	w, err := New(f, sampleRate, stagingFrames, source)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	w.closer = f
	return w, nil
}

// New records to out. The caller keeps ownership of out.
func New(out io.WriteSeeker, sampleRate, stagingFrames int, source Source) (*WAV, error) {
	if sampleRate <= 0 || stagingFrames <= 0 {
		return nil, fmt.Errorf("%w: recorder at %dHz staging %d frames",
			streamsynth.ErrInvalidConfig, sampleRate, stagingFrames)
	}
	return &WAV{
		enc:    wav.NewEncoder(out, sampleRate, bitDepth, channels, pcm),
		source: source,
		limit:  stagingFrames * channels,
		staged: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			Data:           make([]int, 0, stagingFrames*channels),
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// Feed stages a rendered window. It never allocates or blocks.
func (w *WAV) Feed(out []render.StereoSample, input []render.Frame) {
	if w.err != nil {
		return
	}
	frames := len(out)
	if w.source == SourceInput {
		frames = len(input)
	}
	room := (w.limit - len(w.staged.Data)) / channels
	if frames > room {
		w.dropped += uint64(frames - room)
		frames = room
	}
	switch w.source {
	case SourceInput:
		for _, f := range input[:frames] {
			w.staged.Data = append(w.staged.Data, int(f.L), int(f.R))
		}
	default:
		for _, s := range out[:frames] {
			w.staged.Data = append(w.staged.Data, toInt16(s.L), toInt16(s.R))
		}
	}
}

func toInt16(v int32) int {
	v >>= render.HeadroomBits
	return int(min(max(v, -1<<15), 1<<15-1))
}

// Flush encodes everything staged so far.
// The first error is sticky; later feeds are ignored.
func (w *WAV) Flush() error {
	if w.err != nil {
		return w.err
	}
	if len(w.staged.Data) == 0 {
		return nil
	}
	if err := w.enc.Write(w.staged); err != nil {
		w.err = fmt.Errorf("%w: writing recording: %w", streamsynth.ErrStorageFailure, err)
		return w.err
	}
	w.frames += uint64(len(w.staged.Data) / channels)
	w.staged.Data = w.staged.Data[:0]
	return nil
}

// Frames returns the number of frames written to disk.
func (w *WAV) Frames() uint64 { return w.frames }

// Dropped returns the number of frames lost to a full staging buffer.
func (w *WAV) Dropped() uint64 { return w.dropped }

// Close flushes, finalizes the header, and closes a file opened by [Create].
func (w *WAV) Close() error {
	var errs []error
	if err := w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := w.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: finalizing recording: %w",
			streamsynth.ErrStorageFailure, err))
	}
	if w.closer != nil {
		errs = append(errs, w.closer.Close())
	}
	return errors.Join(errs...)
}
