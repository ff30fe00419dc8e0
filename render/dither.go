package render

import "math/rand/v2"

// ditherer reduces the mix bus to 16 bits with triangular noise.
type ditherer struct {
	rng *rand.Rand
}

func newDitherer(seed uint64) ditherer {
	return ditherer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

const ditherMask = 1<<HeadroomBits - 1

// quantize converts one mix value to a 16-bit sample.
// The noise is the difference of two uniform values spanning one output step,
// giving a triangular distribution of ±1 LSB.
func (d *ditherer) quantize(v int32) int16 {
	noise := int64(d.rng.Uint32()&ditherMask) - int64(d.rng.Uint32()&ditherMask)
	q := (int64(v) + noise + 1<<(HeadroomBits-1)) >> HeadroomBits
	switch {
	case q > 1<<15-1:
		return 1<<15 - 1
	case q < -1<<15:
		return -1 << 15
	default:
		return int16(q)
	}
}

func (d *ditherer) frames(dst []Frame, src []StereoSample) {
	for i, s := range src {
		dst[i] = Frame{L: d.quantize(s.L), R: d.quantize(s.R)}
	}
}
