package render

// Q16 unity gain.
const unity = 1 << 16

// master is the fixed processing applied to the summed mix:
// DC removal, then volume, then pan.
type master struct {
	volume   int32
	gainL    int32
	gainR    int32
	dcFilter bool
	dcL, dcR dcBlocker
	duck     duck
}

func newMaster(volume int32, pan int, dcFilter bool, duckRelease int) master {
	m := master{
		volume:   volume,
		dcFilter: dcFilter,
		duck:     duck{gain: unity, release: int32(max(duckRelease, 1))},
	}
	m.gainL, m.gainR = panGains(pan)
	return m
}

// panGains maps pan in [-64, 64] to per-channel Q16 gains.
// Center leaves both channels at unity.
func panGains(pan int) (left, right int32) {
	pan = min(max(pan, -64), 64)
	left, right = unity, unity
	if pan > 0 {
		left = int32(unity * (64 - pan) / 64)
	} else if pan < 0 {
		right = int32(unity * (64 + pan) / 64)
	}
	return left, right
}

func (m *master) process(buf []StereoSample) {
	for i := range buf {
		l, r := buf[i].L, buf[i].R
		if m.dcFilter {
			l, r = m.dcL.next(l), m.dcR.next(r)
		}
		l = Saturate(int64(l) * int64(m.volume) >> 16)
		r = Saturate(int64(r) * int64(m.volume) >> 16)
		buf[i].L = Saturate(int64(l) * int64(m.gainL) >> 16)
		buf[i].R = Saturate(int64(r) * int64(m.gainR) >> 16)
	}
}

// dcBlocker is a one-pole high-pass: y[n] = x[n] - x[n-1] + R·y[n-1].
type dcBlocker struct {
	x1, y1 int32
}

// R ≈ 0.995 in Q15.
const dcPole = 32604

func (d *dcBlocker) next(x int32) int32 {
	y := int64(x) - int64(d.x1) + (int64(d.y1)*dcPole)>>15
	d.x1 = x
	d.y1 = Saturate(y)
	return d.y1
}

// duck is the sidechain gain envelope applied to the reverb return.
// A hit drops the gain by its strength; it recovers linearly.
type duck struct {
	gain    int32 // Q16
	release int32 // frames to recover from silence
}

func (d *duck) hit(strength int32) {
	strength = min(max(strength, 0), unity)
	d.gain = min(d.gain, unity-strength)
}

func (d *duck) next() int32 {
	if d.gain < unity {
		d.gain = min(d.gain+max(unity/d.release, 1), unity)
	}
	return d.gain
}
