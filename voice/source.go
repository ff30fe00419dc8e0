package voice

import (
	"encoding/binary"
	"math"

	"github.com/djdv/go-streamsynth/cluster"
	"github.com/djdv/go-streamsynth/render"
	"github.com/djdv/go-streamsynth/sample"
)

// LoadRetries bounds how many times a source re-enqueues
// pieces whose loads failed before it settles for silence.
const LoadRetries = 16

// LoadAhead is the number of pieces a source keeps claimed,
// starting with the one under its earliest interpolation tap.
const LoadAhead = 3

// UnityIncrement plays a sample at its recorded pitch.
const UnityIncrement = 1 << 32

// kernelReach is the furthest any kernel reads behind the play-head.
const kernelReach = 8

const noPiece = -1

// Source streams one sample through the arena.
// It holds a reason on every piece in its window, so the pieces
// it is about to read are loaded ahead and cannot be stolen.
// Missing data (a load that hasn't completed or failed) plays as silence.
type Source struct {
	arena     *cluster.Arena
	holder    sample.Holder
	shift     uint
	mask      int64
	frameSize int64
	stereo    bool
	frames    int64
	loopStart int64
	loopEnd   int64
	looping   bool

	pos uint64 // Q32.32 frames
	inc uint64

	pieces  [LoadAhead]int
	handles [LoadAhead]cluster.Handle
	views   [LoadAhead][]byte

	cache   *sample.Cache
	writer  sample.WriterToken
	writing bool
	out     int64 // output frames produced

	gaps    uint64
	retries int
	done    bool
}

func (s *Source) start(arena *cluster.Arena, holder sample.Holder, increment uint64) {
	info := holder.Info()
	*s = Source{
		arena:     arena,
		holder:    holder,
		shift:     arena.ClusterShift(),
		mask:      int64(arena.ClusterSize() - 1),
		frameSize: int64(info.FrameSize()),
		stereo:    info.Channels == 2,
		frames:    info.Frames(),
		inc:       increment,
	}
	s.loopStart, s.loopEnd, s.looping = holder.Loop()
	for i := range s.pieces {
		s.pieces[i] = noPiece
	}
	if increment != UnityIncrement && !s.looping {
		s.cache = holder.Cache(increment)
	}
	s.follow()
}

// stop drops every reason the source holds.
func (s *Source) stop() {
	for i := range s.pieces {
		s.drop(i)
	}
	if s.writing {
		s.cache.ReleaseWriter(s.writer)
		s.writing = false
	}
	s.done = true
}

func (s *Source) drop(slot int) {
	if !s.handles[slot].IsZero() {
		s.holder.Release(s.handles[slot], "voice source")
	}
	s.pieces[slot] = noPiece
	s.handles[slot] = cluster.Handle{}
	s.views[slot] = nil
}

// Done reports whether the source has played to its end.
func (s *Source) Done() bool { return s.done }

// Gaps returns the number of frames that played as silence
// because their data was not resident.
func (s *Source) Gaps() uint64 { return s.gaps }

func (s *Source) pieceOf(frame int64) int {
	return int(frame * s.frameSize >> s.shift)
}

// nextPiece follows play order, wrapping at the loop end.
func (s *Source) nextPiece(piece int) int {
	if s.looping && piece == s.pieceOf(s.loopEnd-1) {
		return s.pieceOf(s.loopStart)
	}
	if piece+1 >= s.holder.Clusters() {
		return noPiece
	}
	return piece + 1
}

// follow moves the window to start at the piece under the earliest tap.
func (s *Source) follow() {
	var (
		frame = int64(s.pos >> 32)
		want  [LoadAhead]int
	)
	want[0] = s.pieceOf(max(frame-kernelReach, 0))
	for i := 1; i < LoadAhead; i++ {
		if want[i-1] == noPiece {
			want[i] = noPiece
			continue
		}
		want[i] = s.nextPiece(want[i-1])
	}
	var (
		handles [LoadAhead]cluster.Handle
		views   [LoadAhead][]byte
	)
	for i, piece := range want {
		for j, held := range s.pieces {
			if held == piece && piece != noPiece {
				handles[i], views[i] = s.handles[j], s.views[j]
				s.pieces[j], s.handles[j], s.views[j] = noPiece, cluster.Handle{}, nil
				break
			}
		}
	}
	for i := range s.pieces {
		s.drop(i)
	}
	s.pieces, s.handles, s.views = want, handles, views
	s.refill()
}

// refill claims any piece in the window that isn't held yet,
// picks up views of pieces loaded since the last look,
// and re-enqueues held pieces whose loads failed.
func (s *Source) refill() {
	frame := int64(s.pos >> 32)
	for i, piece := range s.pieces {
		if piece == noPiece {
			continue
		}
		if s.handles[i].IsZero() {
			h, err := s.holder.Claim(piece, s.urgency(piece, frame))
			if err != nil {
				continue // Out of memory; try again next time.
			}
			s.handles[i] = h
		}
		if s.views[i] == nil {
			s.views[i], _ = s.arena.Bytes(s.handles[i])
		}
		if s.views[i] == nil {
			s.retry(i, piece, frame)
		}
	}
}

// retry puts a failed piece back on the load queue.
func (s *Source) retry(slot, piece int, frame int64) {
	h := s.handles[slot]
	if s.retries >= LoadRetries || s.arena.State(h) != cluster.LoadEmpty {
		return
	}
	if s.arena.LoadQueue().Enqueue(h, s.urgency(piece, frame)) {
		s.retries++
	}
}

// urgency estimates how many output frames remain until piece is needed.
func (s *Source) urgency(piece int, frame int64) uint32 {
	first := (int64(piece) << s.shift) / s.frameSize
	if first <= frame {
		return 0
	}
	distance := (uint64(first-frame) << 32) / max(s.inc, 1)
	return uint32(min(distance, math.MaxUint32-1))
}

// at implements frameReader over the resident window.
func (s *Source) at(n int64) (left, right int32) {
	if s.looping && n >= s.loopEnd {
		n = s.loopStart + (n-s.loopStart)%(s.loopEnd-s.loopStart)
	}
	if n < 0 || n >= s.frames {
		return 0, 0
	}
	var (
		offset = n * s.frameSize
		piece  = int(offset >> s.shift)
		view   []byte
	)
	for i, held := range s.pieces {
		if held == piece {
			view = s.views[i]
			break
		}
	}
	at := offset & s.mask
	if int64(len(view)) < at+s.frameSize {
		return 0, 0
	}
	left = int32(int16(binary.LittleEndian.Uint16(view[at:]))) << render.HeadroomBits
	if !s.stereo {
		return left, left
	}
	right = int32(int16(binary.LittleEndian.Uint16(view[at+2:]))) << render.HeadroomBits
	return left, right
}

// resident reports whether frame n's data is in the window.
func (s *Source) resident(n int64) bool {
	piece := s.pieceOf(n)
	for i, held := range s.pieces {
		if held == piece {
			return s.views[i] != nil
		}
	}
	return false
}

// next produces one output frame at quality q and advances the play-head.
func (s *Source) next(q Quality) (left, right int32) {
	if s.done {
		return 0, 0
	}
	var (
		frame = int64(s.pos >> 32)
		frac  = uint32(s.pos)
	)
	if !s.looping && frame >= s.frames {
		s.stop()
		return 0, 0
	}
	if !s.resident(frame) {
		s.gaps++
	}
	if l, r, ok := s.readCache(); ok {
		left, right = l, r
	} else {
		left, right = interpolate(s, q, frame, frac)
		s.writeCache(q, frame, left, right)
	}
	s.advance()
	return left, right
}

func (s *Source) advance() {
	before := s.pos >> 32
	s.pos += s.inc
	s.out++
	if s.looping {
		var (
			end  = uint64(s.loopEnd) << 32
			span = uint64(s.loopEnd-s.loopStart) << 32
		)
		for s.pos >= end {
			s.pos -= span
		}
	}
	after := s.pos >> 32
	if before == after {
		return
	}
	if s.pieceOf(max(int64(after)-kernelReach, 0)) != s.pieces[0] {
		s.follow()
	}
}

func (s *Source) readCache() (left, right int32, ok bool) {
	if s.cache == nil || s.writing {
		return 0, 0, false
	}
	l, r, ok := s.cache.Read(s.out)
	if !ok {
		return 0, 0, false
	}
	return int32(l) << render.HeadroomBits, int32(r) << render.HeadroomBits, true
}

// writeCache extends the cache with a full quality frame.
// Anything less (degraded quality, missing data, a lost race)
// ends this source's turn as writer.
func (s *Source) writeCache(q Quality, frame int64, left, right int32) {
	if s.cache == nil {
		return
	}
	if !s.writing {
		if q != QualitySinc16 || s.out != s.cache.Valid() {
			return
		}
		token, ok := s.cache.AcquireWriter()
		if !ok {
			return
		}
		s.writer, s.writing = token, true
	}
	before, after := q.taps()
	complete := q == QualitySinc16 &&
		s.resident(max(frame-before, 0)) &&
		s.resident(min(frame+after, s.frames-1))
	if !complete || !s.cache.Write(s.writer, s.out, toFrame(left), toFrame(right)) {
		s.cache.ReleaseWriter(s.writer)
		s.writing = false
	}
}

func toFrame(v int32) int16 {
	v >>= render.HeadroomBits
	return int16(min(max(v, math.MinInt16), math.MaxInt16))
}
