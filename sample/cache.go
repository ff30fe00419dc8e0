package sample

import (
	"encoding/binary"

	"github.com/djdv/go-streamsynth/cluster"
)

// cacheFrameSize is one stereo 16-bit frame.
const cacheFrameSize = 4

// WriterToken identifies one turn as a [Cache] writer.
// The zero token is never issued.
type WriterToken uint64

// Cache holds the output of a sample played at one fixed pitch.
// Frames are written strictly in order by a single writer and
// may be read by any number of voices.
// Stolen clusters truncate the cache at the first gap.
type Cache struct {
	arena     *cluster.Arena
	owner     cluster.SongID
	increment uint64
	perPiece  int64
	limit     int64
	pieces    []cluster.Handle
	valid     int64
	writing   bool
	turn      WriterToken
	frontier  cluster.Handle // reasoned while writing
}

func newCache(arena *cluster.Arena, owner cluster.SongID, increment uint64, sourceFrames int64) *Cache {
	var limit int64
	if increment != 0 {
		limit = int64((uint64(sourceFrames)<<32 + increment - 1) / increment)
	}
	return &Cache{
		arena:     arena,
		owner:     owner,
		increment: increment,
		perPiece:  int64(arena.ClusterSize() / cacheFrameSize),
		limit:     limit,
	}
}

// Increment returns the Q32.32 playback increment this cache renders.
func (c *Cache) Increment() uint64 { return c.increment }

// Limit returns the number of output frames the full rendition spans.
func (c *Cache) Limit() int64 { return c.limit }

// Valid returns the number of leading frames available to readers.
// Earlier frames may have been stolen since; Read detects that.
func (c *Cache) Valid() int64 { return c.valid }

// Read returns output frame n if it is cached.
func (c *Cache) Read(n int64) (left, right int16, ok bool) {
	if n < 0 || n >= c.valid {
		return 0, 0, false
	}
	piece := n / c.perPiece
	data, ok := c.arena.Bytes(c.pieces[piece])
	if !ok {
		c.truncate(piece)
		return 0, 0, false
	}
	at := (n % c.perPiece) * cacheFrameSize
	if at == 0 {
		c.arena.Touch(c.pieces[piece])
	}
	return int16(binary.LittleEndian.Uint16(data[at:])),
		int16(binary.LittleEndian.Uint16(data[at+2:])), true
}

// AcquireWriter claims the right to extend the cache.
// Only one voice may write at a time; the returned token
// names this turn to [Cache.Write] and [Cache.ReleaseWriter].
// A turn also ends when a stolen cluster truncates the cache.
func (c *Cache) AcquireWriter() (WriterToken, bool) {
	if c.writing || c.valid >= c.limit {
		return 0, false
	}
	c.writing = true
	c.turn++
	return c.turn, true
}

// ReleaseWriter gives up the writer role and the frontier cluster's reason.
// Tokens from earlier turns are ignored.
func (c *Cache) ReleaseWriter(token WriterToken) {
	if !c.owns(token) {
		return
	}
	c.writing = false
	if c.arena.Valid(c.frontier) {
		c.arena.RemoveReason(c.frontier, "cache writer")
	}
	c.frontier = cluster.Handle{}
}

func (c *Cache) owns(token WriterToken) bool {
	return c.writing && token != 0 && token == c.turn
}

// Write appends frame n. It only succeeds for the current writer,
// and only when n is the next frame in sequence.
func (c *Cache) Write(token WriterToken, n int64, left, right int16) bool {
	if !c.owns(token) || n != c.valid || n >= c.limit {
		return false
	}
	var (
		piece = n / c.perPiece
		at    = (n % c.perPiece) * cacheFrameSize
	)
	if at == 0 {
		if !c.advance(piece) {
			return false
		}
	}
	data, ok := c.arena.Writable(c.frontier)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint16(data[at:], uint16(left))
	binary.LittleEndian.PutUint16(data[at+2:], uint16(right))
	c.valid++
	return true
}

// advance moves the writer's reason onto a fresh cluster for piece.
func (c *Cache) advance(piece int64) bool {
	if c.arena.Valid(c.frontier) {
		c.arena.RemoveReason(c.frontier, "cache writer")
	}
	c.frontier = cluster.Handle{}
	h, err := c.arena.Allocate(cluster.KindSampleCache, c.owner, true)
	if err != nil {
		return false
	}
	if int64(len(c.pieces)) == piece {
		c.pieces = append(c.pieces, h)
	} else {
		c.pieces[piece] = h
	}
	c.frontier = h
	return true
}

// truncate discards everything from piece onward.
func (c *Cache) truncate(piece int64) {
	for _, h := range c.pieces[piece:] {
		if c.arena.Valid(h) && c.arena.Reasons(h) == 0 {
			c.arena.Deallocate(h)
		}
	}
	if c.writing && c.arena.Valid(c.frontier) {
		c.arena.RemoveReason(c.frontier, "cache writer")
		c.arena.Deallocate(c.frontier)
	}
	c.frontier = cluster.Handle{}
	c.writing = false
	c.pieces = c.pieces[:piece]
	c.valid = min(c.valid, piece*c.perPiece)
}

func (c *Cache) unload() (inUse int) {
	if c.writing {
		return 1
	}
	for _, h := range c.pieces {
		if c.arena.Valid(h) {
			if c.arena.Reasons(h) > 0 {
				inUse++
				continue
			}
			c.arena.Deallocate(h)
		}
	}
	if inUse == 0 {
		c.pieces = nil
		c.valid = 0
	}
	return inUse
}
