package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/djdv/go-streamsynth"
)

// Memory is a [Reader] over in-memory files.
// Individual files can be made to fail, which makes it
// suitable for exercising the loader's fault handling.
type Memory struct {
	mu       sync.Mutex
	files    [][]byte
	failures map[File]error
	reads    int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{failures: make(map[File]error)}
}

// Add registers raw bytes as a file.
func (m *Memory) Add(data []byte) File {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, data)
	return File(len(m.files))
}

// AddPCM registers headerless PCM data in the given format.
func (m *Memory) AddPCM(data []byte, format Format) (File, Info, error) {
	if err := format.validate(); err != nil {
		return 0, Info{}, err
	}
	file := m.Add(data)
	return file, Info{
		Format:     format,
		DataLength: int64(len(data)),
	}, nil
}

// Fail makes every subsequent read of file return err.
// A nil err clears the failure.
func (m *Memory) Fail(file File, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, file)
		return
	}
	m.failures[file] = err
}

// Reads returns how many blocks have been requested so far.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// ReadBlock implements [Reader].
func (m *Memory) ReadBlock(ctx context.Context, file File, offset int64, buf []byte) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if err := m.failures[file]; err != nil {
		return classify(err)
	}
	if file == 0 || int(file) > len(m.files) {
		return fmt.Errorf("%w: file %d", streamsynth.ErrNotFound, file)
	}
	data := m.files[file-1]
	end := offset + int64(len(buf))
	if offset < 0 || end > int64(len(data)) {
		return fmt.Errorf("%w: read [%d,%d) beyond %d bytes",
			streamsynth.ErrCorrupted, offset, end, len(data))
	}
	copy(buf, data[offset:end])
	return nil
}
