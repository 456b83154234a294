//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package source

import (
	"io"
	"os"
)

// mapFile reads the whole file into memory on platforms without mmap support.
func mapFile(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}
