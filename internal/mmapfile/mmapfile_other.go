//go:build !linux && !darwin

package mmapfile

import (
	"fmt"
	"io"
	"os"
)

// openPlatform is the fallback implementation for platforms without a
// syscall.Mmap binding: it reads the whole file into a heap buffer instead.
func openPlatform(f *os.File, size int) (*File, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("mmapfile: read %q: %w", f.Name(), err)
	}
	return &File{data: buf, closer: func() error { return nil }}, nil
}
