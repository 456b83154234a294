package file

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

// HashingReader wraps a reader and feeds everything read into a CRC-32.
type HashingReader struct {
	r io.Reader
	h hash.Hash32
}

// NewHashingReader returns a reader that computes the IEEE CRC-32 of the
// bytes read from r.
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: crc32.NewIEEE()}
}

// Read implements io.Reader.
func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		_, _ = hr.h.Write(p[:n]) //nolint:errcheck // hash writes never fail
	}
	return n, err
}

// Sum32 returns the checksum of the bytes read so far.
func (hr *HashingReader) Sum32() uint32 {
	return hr.h.Sum32()
}

// EnsureNoExtra verifies that r has no bytes left.
func EnsureNoExtra(r io.Reader) error {
	var buf [1]byte
	n, err := r.Read(buf[:])
	if n > 0 {
		return fmt.Errorf("%w: content exceeds declared size", jartype.ErrDecompressionFailed)
	}
	if err == nil || err == io.EOF {
		return nil
	}
	return err
}
