package voice

import "testing"

type sliceReader []int32

func (sr sliceReader) at(n int64) (left, right int32) {
	if n < 0 || n >= int64(len(sr)) {
		return 0, 0
	}
	return sr[n], -sr[n]
}

func TestQualityFor(t *testing.T) {
	t.Parallel()
	for direness, want := range []Quality{
		QualitySinc16, QualitySinc16, QualitySinc16, QualitySinc16, QualitySinc16, QualitySinc16,
		QualitySinc8, QualitySinc8, QualitySinc8, QualitySinc8,
		QualityCubic, QualityCubic, QualityCubic,
		QualityLinear, QualityLinear,
	} {
		if got := QualityFor(direness); got != want {
			t.Errorf("quality at direness %d\n\tgot: %v\n\twant: %v", direness, got, want)
		}
	}
}

func TestInterpolate(t *testing.T) {
	t.Parallel()
	const level = 1 << 20
	var (
		flat = make(sliceReader, 64)
		ramp = make(sliceReader, 64)
	)
	for i := range flat {
		flat[i] = level
		ramp[i] = int32(i) * level
	}
	const half = 1 << 31
	for _, q := range []Quality{QualitySinc16, QualitySinc8, QualityCubic, QualityLinear} {
		t.Run(q.String(), func(t *testing.T) {
			if l, r := interpolate(ramp, q, 20, 0); l != ramp[20] || r != -ramp[20] {
				t.Fatalf("integer position\n\tgot: %d %d\n\twant: %d %d", l, r, ramp[20], -ramp[20])
			}
			// DC passes at unity (within the rounding of the coefficients).
			if l, _ := interpolate(flat, q, 32, half); abs32(l-level) > level/256 {
				t.Fatalf("flat signal\n\tgot: %d\n\twant: %d", l, level)
			}
			want := ramp[10] + level/2
			if l, _ := interpolate(ramp, q, 10, half); abs32(l-want) > level/64 {
				t.Fatalf("midpoint of a ramp\n\tgot: %d\n\twant: %d", l, want)
			}
		})
	}
}

func TestEnvelope(t *testing.T) {
	t.Parallel()
	var env envelope
	env.trigger(EnvelopeParams{Attack: 4, Decay: 4, Sustain: unity / 2, Release: 4})
	var stages []Stage
	for range 8 {
		env.next()
		stages = append(stages, env.stage)
	}
	if env.stage != StageSustain || env.level != unity/2 {
		t.Fatalf("after attack and decay\n\tgot: %v at %d\n\twant: %v at %d",
			env.stage, env.level, StageSustain, unity/2)
	}
	env.release()
	for range 4 {
		env.next()
	}
	if env.stage != StageOff {
		t.Fatalf("release did not finish: %v at %d (%v)", env.stage, env.level, stages)
	}
	env.trigger(EnvelopeParams{Sustain: unity})
	env.fastRelease()
	for range FastReleaseFrames {
		env.next()
	}
	if env.stage != StageOff {
		t.Fatalf("fast release did not finish: %v at %d", env.stage, env.level)
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
