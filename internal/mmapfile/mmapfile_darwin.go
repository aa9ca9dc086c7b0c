//go:build darwin

package mmapfile

import (
	"fmt"
	"os"
	"syscall"
)

// openPlatform maps f's first size bytes read-only using mmap(2).
func openPlatform(f *os.File, size int) (*File, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: mmap %q: %w", f.Name(), err)
	}
	return &File{
		data: data,
		closer: func() error {
			return syscall.Munmap(data)
		},
	}, nil
}
