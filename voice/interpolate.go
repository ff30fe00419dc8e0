package voice

import "math"

// Quality selects the interpolation kernel used when repitching.
type Quality uint8

const (
	QualitySinc16 Quality = iota
	QualitySinc8
	QualityCubic
	QualityLinear
)

// QualityFor trades interpolation accuracy for CPU as direness rises.
func QualityFor(direness int) Quality {
	switch {
	case direness >= 13:
		return QualityLinear
	case direness >= 10:
		return QualityCubic
	case direness >= 6:
		return QualitySinc8
	default:
		return QualitySinc16
	}
}

func (q Quality) String() string {
	switch q {
	case QualitySinc16:
		return "sinc16"
	case QualitySinc8:
		return "sinc8"
	case QualityCubic:
		return "cubic"
	case QualityLinear:
		return "linear"
	default:
		return "invalid"
	}
}

// taps returns how many frames before and after the play-head the kernel reads.
func (q Quality) taps() (before, after int64) {
	switch q {
	case QualitySinc16:
		return 7, 8
	case QualitySinc8:
		return 3, 4
	case QualityCubic:
		return 1, 2
	default:
		return 0, 1
	}
}

const (
	sincPhaseBits = 6
	sincPhases    = 1 << sincPhaseBits
	sincCoefBits  = 14
)

var (
	sinc16 = sincTable(16)
	sinc8  = sincTable(8)
)

// sincTable builds Blackman-windowed sinc kernels, one per fractional phase,
// each normalized to unity DC gain in Q14.
func sincTable(taps int) [][]int32 {
	var (
		table = make([][]int32, sincPhases)
		half  = float64(taps) / 2
	)
	for p := range table {
		var (
			frac    = float64(p) / sincPhases
			weights = make([]float64, taps)
			sum     float64
		)
		for k := range taps {
			x := float64(k-(taps/2-1)) - frac
			w := 0.42 + 0.5*math.Cos(math.Pi*x/half) + 0.08*math.Cos(2*math.Pi*x/half)
			weights[k] = sinc(x) * w
			sum += weights[k]
		}
		coefs := make([]int32, taps)
		for k, w := range weights {
			coefs[k] = int32(math.Round(w / sum * (1 << sincCoefBits)))
		}
		table[p] = coefs
	}
	return table
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// frameReader returns the stereo value of frame n in mix bus units.
type frameReader interface {
	at(n int64) (left, right int32)
}

// interpolate evaluates the kernel for q around frame with the given
// Q32 fractional offset.
func interpolate(src frameReader, q Quality, frame int64, frac uint32) (left, right int32) {
	if frac == 0 {
		return src.at(frame)
	}
	switch q {
	case QualityLinear:
		l0, r0 := src.at(frame)
		l1, r1 := src.at(frame + 1)
		return lerp(l0, l1, frac), lerp(r0, r1, frac)
	case QualityCubic:
		var ls, rs [4]int64
		for k := range ls {
			l, r := src.at(frame - 1 + int64(k))
			ls[k], rs[k] = int64(l), int64(r)
		}
		t := int64(frac >> 16)
		return cubic(ls, t), cubic(rs, t)
	case QualitySinc8:
		return convolve(src, sinc8, frame, frac)
	default:
		return convolve(src, sinc16, frame, frac)
	}
}

func lerp(a, b int32, frac uint32) int32 {
	return a + int32((int64(b)-int64(a))*int64(frac)>>32)
}

// cubic is a Catmull-Rom spline through s[1]..s[2] at Q16 position t.
func cubic(s [4]int64, t int64) int32 {
	var (
		a = 3*(s[1]-s[2]) + s[3] - s[0]
		b = 2*s[0] - 5*s[1] + 4*s[2] - s[3]
		c = s[2] - s[0]
	)
	return int32((((a*t>>16+b)*t>>16+c)*t)>>17 + s[1])
}

func convolve(src frameReader, table [][]int32, frame int64, frac uint32) (left, right int32) {
	var (
		coefs  = table[frac>>(32-sincPhaseBits)]
		first  = frame - int64(len(coefs)/2-1)
		lt, rt int64
	)
	for k, c := range coefs {
		l, r := src.at(first + int64(k))
		lt += int64(l) * int64(c)
		rt += int64(r) * int64(c)
	}
	return int32(lt >> sincCoefBits), int32(rt >> sincCoefBits)
}
