// Package mmapfile provides a read-only memory-mapped view of a file, with a
// plain-buffer fallback on platforms without a usable mmap syscall. The
// chunk splitter and the sequential decode path both read a file through
// this package so that large BIN logs don't need to be copied into the Go
// heap up front.
package mmapfile

import (
	"fmt"
	"os"
)

// File is a read-only view over a file's bytes. Bytes() returns the same
// backing array on every call; callers must not write through it.
type File struct {
	data   []byte
	closer func() error
}

// Open maps path into memory (or reads it into a buffer, on platforms
// without mmap support) and returns a File exposing its contents.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: open %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmapfile: stat %q: %w", path, err)
	}
	if info.Size() == 0 {
		return &File{data: nil, closer: func() error { return nil }}, nil
	}

	return openPlatform(f, int(info.Size()))
}

// Bytes returns the file's full contents as a read-only byte slice.
func (mf *File) Bytes() []byte { return mf.data }

// Len returns the length of the mapped view in bytes.
func (mf *File) Len() int { return len(mf.data) }

// Close releases the underlying mapping (or, on the fallback path, is a
// no-op beyond dropping the reference).
func (mf *File) Close() error {
	if mf.closer == nil {
		return nil
	}
	return mf.closer()
}
