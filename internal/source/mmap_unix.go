//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package source

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps size bytes of f read-only. The descriptor may be closed once
// the mapping exists.
func mapFile(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	_ = unix.Madvise(data, unix.MADV_WILLNEED) //nolint:errcheck // advisory only
	return data, unix.Munmap, nil
}
