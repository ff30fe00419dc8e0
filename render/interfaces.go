package render

type (
	// StereoSample is one frame of the mix bus.
	// Full scale is ±[FullScale]; the remaining bits are headroom.
	StereoSample struct{ L, R int32 }

	// Frame is one frame in the transport's hardware format.
	Frame struct{ L, R int16 }

	// Transport is the double-buffered hardware ring the scheduler feeds.
	Transport interface {
		// AvailableWriteSlots returns how many frames can be written right now.
		AvailableWriteSlots() int
		// Write accepts as many leading frames as fit and returns that count.
		Write(frames []Frame) int
		// ReadInput fills dst with captured input and returns the frame count.
		ReadInput(dst []Frame) int
		// MaxWindowSize bounds a single render window.
		MaxWindowSize() int
	}

	// Graph renders the song into the mix bus.
	// Implementations add into buf and send (they are pre-cleared),
	// and must not call back into the scheduler.
	Graph interface {
		Render(buf []StereoSample, reverbSend []int32, sidechainHit int32)
	}

	// Culler sheds sounding voices under load.
	Culler interface {
		// CullOne stops (or, if fastOnly, fast-releases) the least
		// valuable voice and reports whether there was one.
		CullOne(fastOnly bool) bool
		// Sounding returns the number of voices currently producing sound.
		Sounding() int
	}

	// TickSource is a musical clock whose ticks windows are aligned to.
	TickSource interface {
		// NextTick returns the sample time of the next scheduled tick.
		NextTick() (at uint64, ok bool)
		// ActionTick performs the tick due at or before now
		// and schedules the following one.
		ActionTick(now uint64)
	}

	// Reverb turns the mono send bus into a wet stereo signal.
	// Implementations overwrite wet.
	Reverb interface {
		Process(send []int32, wet []StereoSample)
	}

	// Recorder receives every rendered window after master processing.
	Recorder interface {
		Feed(out []StereoSample, input []Frame)
	}
)

const (
	// HeadroomBits is the gap between a 16-bit frame and the mix bus scale.
	HeadroomBits = 11
	// FullScale is the mix bus value of a full scale 16-bit sample.
	FullScale = 1 << (15 + HeadroomBits)
)

// Saturate clamps v to the int32 range.
func Saturate(v int64) int32 {
	const (
		upper = 1<<31 - 1
		lower = -1 << 31
	)
	switch {
	case v > upper:
		return upper
	case v < lower:
		return lower
	default:
		return int32(v)
	}
}
