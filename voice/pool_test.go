package voice_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/cluster"
	"github.com/djdv/go-streamsynth/render"
	"github.com/djdv/go-streamsynth/sample"
	"github.com/djdv/go-streamsynth/storage"
	"github.com/djdv/go-streamsynth/voice"
)

const (
	testClusterSize = cluster.MinimumClusterSize
	testSong        = cluster.SongID(1)
	// Stereo 16-bit frames per cluster.
	framesPerPiece = testClusterSize / 4
	testPieces     = 4
	testLeft       = 1000
	testRight      = -1000
)

type fixture struct {
	arena  *cluster.Arena
	store  *storage.Memory
	file   storage.File
	smp    *sample.Sample
	state  *render.State
	pool   *voice.Pool
	loader *cluster.Loader
}

var held = voice.EnvelopeParams{Sustain: 1 << 16}

func TestPool(t *testing.T) {
	t.Run("invalid", poolInvalid)
	t.Run("solicit culls", solicitCulls)
	t.Run("cull order", cullOrder)
	t.Run("cull before load", cullBeforeLoad)
	t.Run("fast only", fastOnly)
	t.Run("secondary fallback", secondaryFallback)
	t.Run("unassign inactive", unassignInactive)
	t.Run("sidechain", poolSidechain)
}

func TestVoice(t *testing.T) {
	t.Run("plays loaded data", playsLoadedData)
	t.Run("gap is silence", gapIsSilence)
	t.Run("failed load retried", failedLoadRetried)
	t.Run("retries bounded", retriesBounded)
	t.Run("layers reused", layersReused)
	t.Run("ends with sample", endsWithSample)
	t.Run("note off", noteOff)
	t.Run("loops", voiceLoops)
	t.Run("repitch cache", repitchCache)
	t.Run("reverb send", reverbSend)
}

func poolInvalid(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 8, 2)
	if _, err := voice.NewPool(fx.arena, fx.state, 0, nil); !errors.Is(err, streamsynth.ErrInvalidConfig) {
		t.Errorf("empty pool accepted: %v", err)
	}
	for _, note := range []voice.Note{
		{Key: 60},
		{Key: 60, Layers: []voice.Layer{{}}},
		{Key: 60, Layers: make([]voice.Layer, voice.MaxLayers+1)},
	} {
		if _, err := fx.pool.NoteOn(note); !errors.Is(err, streamsynth.ErrInvalidConfig) {
			t.Errorf("invalid note accepted: %+v (%v)", note, err)
		}
	}
}

func solicitCulls(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 2)
	var (
		first  = fx.noteOn(t, 60, 0)
		second = fx.noteOn(t, 62, 0)
	)
	fx.pool.NoteOff(62)
	third := fx.noteOn(t, 64, 0)
	if third != second {
		t.Fatal("solicit did not reuse the releasing voice")
	}
	if fx.pool.Active() != 2 || first.Key() != 60 || third.Key() != 64 {
		t.Fatalf("unexpected pool after reuse: %d active", fx.pool.Active())
	}
}

func cullOrder(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 32, 4)
	fx.noteOn(t, 60, 200)
	fx.noteOn(t, 61, 100)
	releasing := fx.noteOn(t, 62, 100)
	fx.noteOn(t, 63, 250)
	fx.pool.NoteOff(62)
	fx.pool.CullOne(true)
	if got := releasing.Stage(); got != voice.StageFastRelease {
		t.Fatalf("fast release chose the wrong voice: releasing voice is %v", got)
	}
	// Fading first, then the sounding voices by ascending priority.
	for i, key := range []int{62, 61, 60, 63} {
		var (
			highest uint64
			victim  int
		)
		for _, v := range fx.pool.Voices() {
			if r := v.Rating(); r >= highest {
				highest, victim = r, v.Key()
			}
		}
		if victim != key {
			t.Fatalf("cull %d\n\tgot: key %d\n\twant: key %d", i, victim, key)
		}
		if !fx.pool.CullOne(false) {
			t.Fatalf("cull %d found nothing", i)
		}
	}
	if fx.pool.CullOne(false) {
		t.Fatal("culled from an empty pool")
	}
}

// A voice claims its first pieces, then is culled before the loader
// ever runs. The pending loads are cancelled and storage is never read.
func cullBeforeLoad(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 8, 2)
	fx.noteOn(t, 60, 0)
	if got := fx.arena.LoadQueue().Len(); got != voice.LoadAhead {
		t.Fatalf("enqueued loads\n\tgot: %d\n\twant: %d", got, voice.LoadAhead)
	}
	if !fx.pool.CullOne(false) {
		t.Fatal("nothing culled")
	}
	if got := fx.arena.LoadQueue().Len(); got != 0 {
		t.Fatalf("loads left after cull\n\tgot: %d\n\twant: %d", got, 0)
	}
	fx.load(t)
	if reads := fx.store.Reads(); reads != 0 {
		t.Fatalf("storage was read %d times for a culled voice", reads)
	}
	if stealable := fx.arena.Stats().Stealable; stealable != voice.LoadAhead {
		t.Fatalf("culled voice's clusters\n\tgot: %d stealable\n\twant: %d",
			stealable, voice.LoadAhead)
	}
}

func fastOnly(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 2)
	fx.noteOn(t, 60, 0)
	fx.noteOn(t, 61, 0)
	for i := range 2 {
		if !fx.pool.CullOne(true) {
			t.Fatalf("fast release %d found nothing", i)
		}
	}
	if fx.pool.CullOne(true) {
		t.Fatal("fast released a voice twice")
	}
	if fx.pool.Active() != 2 {
		t.Fatal("fast release stopped a voice")
	}
	fx.render(t, voice.FastReleaseFrames+4)
	if fx.pool.Active() != 0 {
		t.Fatalf("voices still active after fading out: %d", fx.pool.Active())
	}
}

func secondaryFallback(t *testing.T) {
	t.Parallel()
	var (
		fx    = newFixture(t, 16, 1)
		clips = voice.NewClipSet(fx.arena, 2)
	)
	fx.pool.AddSecondary(clips)
	if err := clips.Launch(fx.smp, 1<<16); err != nil {
		t.Fatal(err)
	}
	if got := fx.pool.Sounding(); got != 1 {
		t.Fatalf("sounding\n\tgot: %d\n\twant: %d", got, 1)
	}
	fx.noteOn(t, 60, 0)
	fx.pool.CullOne(false)
	if clips.Sounding() != 1 {
		t.Fatal("clip culled while a voice was available")
	}
	if !fx.pool.CullOne(true) || !fx.pool.CullOne(false) {
		t.Fatal("pool did not fall back to its secondary")
	}
	if clips.Sounding() != 0 {
		t.Fatalf("clips after cull: %d", clips.Sounding())
	}
}

func unassignInactive(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 8, 2)
	v := fx.noteOn(t, 60, 0)
	fx.pool.Unassign(v)
	mustBeFatal(t, "unassign", func() { fx.pool.Unassign(v) })
}

func poolSidechain(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 8, 2)
	if _, err := fx.pool.NoteOn(voice.Note{
		Key:       36,
		Velocity:  127,
		Envelope:  held,
		Layers:    []voice.Layer{{Holder: fx.smp}},
		Sidechain: 1 << 15,
	}); err != nil {
		t.Fatal(err)
	}
	if got := fx.state.SidechainHitPending; got != 1<<15 {
		t.Fatalf("sidechain hit\n\tgot: %d\n\twant: %d", got, 1<<15)
	}
}

func playsLoadedData(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 1)
	fx.noteOn(t, 60, 0)
	fx.load(t)
	buf := fx.render(t, framesPerPiece)
	for i, frame := range buf {
		if frame.L != testLeft<<render.HeadroomBits || frame.R != testRight<<render.HeadroomBits {
			t.Fatalf("frame %d\n\tgot: %+v\n\twant: {%d %d}", i, frame,
				testLeft<<render.HeadroomBits, testRight<<render.HeadroomBits)
		}
	}
}

func gapIsSilence(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 1)
	v := fx.noteOn(t, 60, 0)
	buf := fx.render(t, 16)
	for i, frame := range buf {
		if frame != (render.StereoSample{}) {
			t.Fatalf("unloaded frame %d is not silent: %+v", i, frame)
		}
	}
	if v.Source(0).Gaps() != 16 {
		t.Fatalf("gaps\n\tgot: %d\n\twant: %d", v.Source(0).Gaps(), 16)
	}
	fx.load(t)
	if buf := fx.render(t, 1); buf[0].L == 0 {
		t.Fatal("voice stayed silent after its data loaded")
	}
}

func failedLoadRetried(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 1)
	fx.store.Fail(fx.file, io.ErrUnexpectedEOF)
	fx.noteOn(t, 60, 0)
	_, err := fx.loader.LoadAnyEnqueued(context.Background(), fx.arena.Capacity(), nil)
	if !errors.Is(err, streamsynth.ErrStorageFailure) {
		t.Fatalf("failing load\n\tgot: %v\n\twant: %v", err, streamsynth.ErrStorageFailure)
	}
	fx.store.Fail(fx.file, nil)
	if buf := fx.render(t, 16); buf[0].L != 0 {
		t.Fatalf("frame of a failed load is not silent: %+v", buf[0])
	}
	if got := fx.arena.LoadQueue().Len(); got != voice.LoadAhead {
		t.Fatalf("failed pieces enqueued again\n\tgot: %d\n\twant: %d", got, voice.LoadAhead)
	}
	fx.load(t)
	if buf := fx.render(t, 1); buf[0].L != testLeft<<render.HeadroomBits {
		t.Fatalf("frame after recovery\n\tgot: %d\n\twant: %d",
			buf[0].L, testLeft<<render.HeadroomBits)
	}
}

func retriesBounded(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 1)
	fx.store.Fail(fx.file, io.ErrUnexpectedEOF)
	fx.noteOn(t, 60, 0)
	loads := fx.arena.LoadQueue()
	for range voice.LoadRetries + 1 {
		// Every read fails; only the queue matters here.
		_, _ = fx.loader.LoadAnyEnqueued(context.Background(), fx.arena.Capacity(), nil)
		fx.render(t, 1)
	}
	if got := loads.Len(); got != 0 {
		t.Fatalf("pieces still enqueued after the retry budget\n\tgot: %d\n\twant: %d", got, 0)
	}
	reads := fx.store.Reads()
	if want := voice.LoadAhead + voice.LoadRetries; reads != want {
		t.Fatalf("storage reads\n\tgot: %d\n\twant: %d", reads, want)
	}
}

func layersReused(t *testing.T) {
	t.Parallel()
	var (
		fx     = newFixture(t, 16, 2)
		layers = []voice.Layer{{Holder: fx.smp}}
		note   = voice.Note{Key: 60, Velocity: 127, Envelope: held, Layers: layers}
	)
	if _, err := fx.pool.NoteOn(note); err != nil {
		t.Fatal(err)
	}
	// The caller's slice is free for the next note.
	layers[0] = voice.Layer{Holder: fx.smp, Increment: 2 * voice.UnityIncrement}
	note.Key = 62
	if _, err := fx.pool.NoteOn(note); err != nil {
		t.Fatal(err)
	}
	fx.load(t)
	buf := fx.render(t, 8)
	// Both voices play the constant sample at full level.
	if want := int32(2 * testLeft << render.HeadroomBits); buf[0].L != want {
		t.Fatalf("mixed frame\n\tgot: %d\n\twant: %d", buf[0].L, want)
	}
	for _, v := range fx.pool.Voices() {
		if v.Stage() == voice.StageOff {
			t.Fatalf("voice for key %d stopped", v.Key())
		}
	}
}

func endsWithSample(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 1)
	fx.noteOn(t, 60, 0)
	for range testPieces + 1 {
		fx.load(t)
		fx.render(t, framesPerPiece)
	}
	if fx.pool.Active() != 0 {
		t.Fatal("voice outlived its sample")
	}
	if stats := fx.arena.Stats(); stats.Stealable != testPieces {
		t.Fatalf("finished voice left reasons behind: %+v", stats)
	}
}

func noteOff(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 1)
	note := voice.Note{
		Key:      60,
		Velocity: 100,
		Envelope: voice.EnvelopeParams{Sustain: 1 << 16, Release: 8},
		Layers:   []voice.Layer{{Holder: fx.smp}},
	}
	v, err := fx.pool.NoteOn(note)
	if err != nil {
		t.Fatal(err)
	}
	if released := fx.pool.NoteOff(61); released != 0 {
		t.Fatal("note off released the wrong key")
	}
	if released := fx.pool.NoteOff(60); released != 1 || v.Stage() != voice.StageRelease {
		t.Fatalf("note off\n\tgot: %d released, stage %v", released, v.Stage())
	}
	fx.render(t, 16)
	if fx.pool.Active() != 0 {
		t.Fatal("released voice still active")
	}
}

func voiceLoops(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 1)
	if err := fx.smp.SetLoop(0, fx.smp.Info().Frames()); err != nil {
		t.Fatal(err)
	}
	fx.noteOn(t, 60, 0)
	for range 3 * testPieces {
		fx.load(t)
		fx.render(t, framesPerPiece)
	}
	if fx.pool.Active() != 1 {
		t.Fatal("looping voice stopped")
	}
}

func repitchCache(t *testing.T) {
	t.Parallel()
	const halfSpeed = voice.UnityIncrement / 2
	var (
		fx   = newFixture(t, 32, 2)
		note = voice.Note{
			Key:      48,
			Velocity: 127,
			Envelope: held,
			Layers:   []voice.Layer{{Holder: fx.smp, Increment: halfSpeed}},
		}
	)
	if _, err := fx.pool.NoteOn(note); err != nil {
		t.Fatal(err)
	}
	fx.load(t)
	first := fx.render(t, framesPerPiece)
	cache := fx.smp.Cache(halfSpeed)
	if got := cache.Valid(); got != framesPerPiece {
		t.Fatalf("cached frames\n\tgot: %d\n\twant: %d", got, framesPerPiece)
	}
	fx.pool.CullOne(false)
	if _, err := fx.pool.NoteOn(note); err != nil {
		t.Fatal(err)
	}
	second := fx.render(t, framesPerPiece)
	for i := range first {
		if diff := first[i].L - second[i].L; diff < -1<<render.HeadroomBits || diff > 1<<render.HeadroomBits {
			t.Fatalf("cached frame %d differs\n\tgot: %d\n\twant: %d",
				i, second[i].L, first[i].L)
		}
	}
}

func reverbSend(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 16, 1)
	if _, err := fx.pool.NoteOn(voice.Note{
		Key:        60,
		Velocity:   127,
		Envelope:   held,
		Layers:     []voice.Layer{{Holder: fx.smp}},
		ReverbSend: 1 << 15,
	}); err != nil {
		t.Fatal(err)
	}
	fx.load(t)
	var (
		buf  = make([]render.StereoSample, 8)
		send = make([]int32, 8)
	)
	fx.pool.Render(buf, send, 0)
	// Left and right cancel out.
	for i, s := range send {
		if s != 0 {
			t.Fatalf("send %d\n\tgot: %d\n\twant: 0", i, s)
		}
	}
}

func newFixture(tb testing.TB, clusters, voices int) *fixture {
	tb.Helper()
	arena, err := cluster.New(cluster.Config{
		Clusters:    clusters,
		ClusterSize: testClusterSize,
	})
	if err != nil {
		tb.Fatal(err)
	}
	arena.SetCurrentSong(testSong)
	var (
		data        = make([]byte, testPieces*testClusterSize)
		left, right = int16(testLeft), int16(testRight)
	)
	for i := 0; i < len(data); i += 4 {
		binary.LittleEndian.PutUint16(data[i:], uint16(left))
		binary.LittleEndian.PutUint16(data[i+2:], uint16(right))
	}
	var (
		store              = storage.NewMemory()
		file, info, addErr = store.AddPCM(data, storage.Format{
			Channels: 2, BitDepth: 16, SampleRate: 44100,
		})
	)
	if addErr != nil {
		tb.Fatal(addErr)
	}
	smp, err := sample.New(arena, "constant", file, info, testSong)
	if err != nil {
		tb.Fatal(err)
	}
	state := render.NewState()
	pool, err := voice.NewPool(arena, state, voices, nil)
	if err != nil {
		tb.Fatal(err)
	}
	return &fixture{
		arena:  arena,
		store:  store,
		file:   file,
		smp:    smp,
		state:  state,
		pool:   pool,
		loader: cluster.NewLoader(arena, store, nil),
	}
}

func (fx *fixture) noteOn(tb testing.TB, key int, priority uint8) *voice.Voice {
	tb.Helper()
	v, err := fx.pool.NoteOn(voice.Note{
		Key:      key,
		Velocity: 127,
		Priority: priority,
		Envelope: held,
		Layers:   []voice.Layer{{Holder: fx.smp}},
	})
	if err != nil {
		tb.Fatal(err)
	}
	return v
}

func (fx *fixture) load(tb testing.TB) {
	tb.Helper()
	if _, err := fx.loader.LoadAnyEnqueued(context.Background(), fx.arena.Capacity(), nil); err != nil {
		tb.Fatal(err)
	}
}

func (fx *fixture) render(tb testing.TB, frames int) []render.StereoSample {
	tb.Helper()
	var (
		buf  = make([]render.StereoSample, frames)
		send = make([]int32, frames)
	)
	fx.pool.Render(buf, send, 0)
	return buf
}

func mustBeFatal(tb testing.TB, tag string, fn func()) {
	tb.Helper()
	defer func() {
		tb.Helper()
		var ce *streamsynth.ConsistencyError
		recovered := recover()
		err, _ := recovered.(error)
		if !errors.As(err, &ce) || ce.Tag != tag {
			tb.Fatalf("expected a consistency error tagged %q, got: %v", tag, recovered)
		}
	}()
	fn()
}
