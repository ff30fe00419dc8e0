package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/djdv/go-streamsynth"
	"github.com/go-audio/wav"
	"github.com/hashicorp/golang-lru/arc/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Disk serves 16-bit PCM WAV files from a filesystem.
// Parsed headers are remembered in an adaptive cache,
// and the number of simultaneously open descriptors is bounded;
// the least recently read file is closed when the bound is hit.
type Disk struct {
	mu      sync.Mutex
	paths   []string
	byPath  map[string]File
	headers *arc.ARCCache[string, Info]
	handles *lru.Cache[File, *os.File]
}

// Disk bounds supported by [NewDisk].
const (
	MinimumOpenFiles   = 1
	MinimumHeaderCache = 2
)

// NewDisk keeps at most maxOpen descriptors open
// and remembers up to headerCache parsed headers.
func NewDisk(maxOpen, headerCache int) (*Disk, error) {
	if maxOpen < MinimumOpenFiles {
		return nil, fmt.Errorf("%w: open file limit must be >=%d but %d was requested",
			streamsynth.ErrInvalidConfig, MinimumOpenFiles, maxOpen)
	}
	if headerCache < MinimumHeaderCache {
		return nil, fmt.Errorf("%w: header cache must be >=%d but %d was requested",
			streamsynth.ErrInvalidConfig, MinimumHeaderCache, headerCache)
	}
	headers, err := arc.NewARC[string, Info](headerCache)
	if err != nil {
		return nil, err
	}
	handles, err := lru.NewWithEvict(maxOpen, func(_ File, f *os.File) {
		f.Close()
	})
	if err != nil {
		return nil, err
	}
	return &Disk{
		byPath:  make(map[string]File),
		headers: headers,
		handles: handles,
	}, nil
}

// Open registers the WAV file at path and returns its handle
// together with the location of its PCM data.
// Opening the same path twice returns the same handle.
func (d *Disk) Open(path string) (File, Info, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return 0, Info{}, classify(err)
	}
	info, err := d.info(path)
	if err != nil {
		return 0, Info{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if file, ok := d.byPath[path]; ok {
		return file, info, nil
	}
	d.paths = append(d.paths, path)
	file := File(len(d.paths))
	d.byPath[path] = file
	return file, info, nil
}

func (d *Disk) info(path string) (Info, error) {
	if info, ok := d.headers.Get(path); ok {
		return info, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Info{}, openError(path, err)
	}
	defer f.Close()
	info, err := parseWAV(f)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", path, err)
	}
	d.headers.Add(path, info)
	return info, nil
}

func parseWAV(f io.ReadSeeker) (Info, error) {
	decoder := wav.NewDecoder(f)
	if err := decoder.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%w: %w", streamsynth.ErrCorrupted, err)
	}
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf("%w: not a PCM WAV file", streamsynth.ErrCorrupted)
	}
	const pcmFormat = 1
	if decoder.WavAudioFormat != pcmFormat {
		return Info{}, fmt.Errorf("%w: WAV format tag %d",
			streamsynth.ErrCorrupted, decoder.WavAudioFormat)
	}
	format := Format{
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		SampleRate: int(decoder.SampleRate),
	}
	if err := format.validate(); err != nil {
		return Info{}, err
	}
	// The decoder stops right after the data chunk header.
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return Info{}, classify(err)
	}
	return Info{
		Format:     format,
		DataOffset: offset,
		DataLength: decoder.PCMLen(),
	}, nil
}

// ReadBlock implements [Reader], reopening file if its descriptor was evicted.
func (d *Disk) ReadBlock(ctx context.Context, file File, offset int64, buf []byte) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	f, err := d.handle(file)
	if err != nil {
		return err
	}
	n, err := f.ReadAt(buf, offset)
	switch {
	case n == len(buf):
		return nil
	case err == nil, errors.Is(err, io.EOF):
		return fmt.Errorf("%w: short read of file %d at %d (%d of %d bytes)",
			streamsynth.ErrCorrupted, file, offset, n, len(buf))
	default:
		d.handles.Remove(file)
		return classify(err)
	}
}

func (d *Disk) handle(file File) (*os.File, error) {
	if f, ok := d.handles.Get(file); ok {
		return f, nil
	}
	d.mu.Lock()
	if file == 0 || int(file) > len(d.paths) {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: file %d", streamsynth.ErrNotFound, file)
	}
	path := d.paths[file-1]
	d.mu.Unlock()
	f, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	d.handles.Add(file, f)
	return f, nil
}

// Close releases every open descriptor.
// Handles remain valid; they are reopened on demand.
func (d *Disk) Close() error {
	d.handles.Purge()
	return nil
}

func openError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", streamsynth.ErrNotFound, path)
	}
	return classify(err)
}
