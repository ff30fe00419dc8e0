package transport

import (
	"encoding/binary"

	"github.com/djdv/go-streamsynth/render"
)

const bytesPerFrame = 4 // Stereo signed 16-bit little-endian.

// pcmReader adapts a ring to the io.Reader an audio device pulls from.
// A short ring is padded with silence rather than stalling the device.
type pcmReader struct {
	ring    *ring
	scratch []render.Frame
}

func (pr *pcmReader) Read(p []byte) (int, error) {
	frames := len(p) / bytesPerFrame
	if cap(pr.scratch) < frames {
		pr.scratch = make([]render.Frame, frames)
	}
	var (
		scratch = pr.scratch[:frames]
		got     = pr.ring.take(scratch)
	)
	clear(scratch[got:])
	for i, frame := range scratch {
		binary.LittleEndian.PutUint16(p[i*bytesPerFrame:], uint16(frame.L))
		binary.LittleEndian.PutUint16(p[i*bytesPerFrame+2:], uint16(frame.R))
	}
	return frames * bytesPerFrame, nil
}
