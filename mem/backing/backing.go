// Package backing provides files that can back file-mapped pages.
package backing

import (
	"io"
	"os"
	"sync"
)

// A MemFile is a file held in memory. Writes past the end grow it.
type MemFile struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemFile creates a file with a copy of data as content.
func NewMemFile(data []byte) *MemFile {
	return &MemFile{data: append([]byte(nil), data...)}
}

// ReadAt implements io.ReaderAt.
func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if off < 0 {
		return 0, os.ErrInvalid
	}

	if off >= int64(len(f.data)) {
		if len(p) == 0 {
			return 0, nil
		}

		return 0, io.EOF
	}

	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// WriteAt implements io.WriterAt.
func (f *MemFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if off < 0 {
		return 0, os.ErrInvalid
	}

	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}

	return copy(f.data[off:], p), nil
}

// Size returns the length of the file.
func (f *MemFile) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return int64(len(f.data))
}

// Bytes returns a copy of the content.
func (f *MemFile) Bytes() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return append([]byte(nil), f.data...)
}

// An OSFile is a file of the host file system.
type OSFile struct {
	*os.File
}

// Open opens the file at path for reading and writing.
func Open(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	return &OSFile{File: f}, nil
}

// Size returns the length of the file, or -1 if it cannot be determined.
func (f *OSFile) Size() int64 {
	info, err := f.Stat()
	if err != nil {
		return -1
	}

	return info.Size()
}
