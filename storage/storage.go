// Package storage is the block-oriented view of removable media
// that clusters are populated from.
//
// Reads are synchronous and slow relative to a render pass;
// they must only be issued from the idle (non-render) context.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/djdv/go-streamsynth"
)

type (
	// File identifies an opened audio file.
	// The zero value is never issued.
	File uint32

	// Reader fills buf with the bytes of file starting at offset.
	// A short read is reported as an error; buf is never partially valid.
	Reader interface {
		ReadBlock(ctx context.Context, file File, offset int64, buf []byte) error
	}

	// Format describes interleaved PCM sample data.
	Format struct {
		Channels   int
		BitDepth   int
		SampleRate int
	}

	// Info locates the PCM data inside a file.
	Info struct {
		Format
		DataOffset int64
		DataLength int64
	}
)

// FrameSize returns the size in bytes of one interleaved frame.
func (f Format) FrameSize() int { return f.Channels * f.BitDepth / 8 }

// Frames returns the number of whole frames in the data range.
func (i Info) Frames() int64 {
	size := int64(i.FrameSize())
	if size == 0 {
		return 0
	}
	return i.DataLength / size
}

func (f Format) validate() error {
	if f.BitDepth != 16 {
		return fmt.Errorf("%w: %d-bit samples are not supported",
			streamsynth.ErrCorrupted, f.BitDepth)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: %d channels are not supported",
			streamsynth.ErrCorrupted, f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d",
			streamsynth.ErrCorrupted, f.SampleRate)
	}
	return nil
}

// classify makes sure err carries one of the storage error kinds.
func classify(err error) error {
	for _, kind := range []error{
		streamsynth.ErrNotFound,
		streamsynth.ErrCorrupted,
		streamsynth.ErrAborted,
		streamsynth.ErrStorageFailure,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", streamsynth.ErrStorageFailure, err)
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", streamsynth.ErrAborted, err)
	}
	return nil
}
