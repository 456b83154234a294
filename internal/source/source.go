// Package source exposes an archive file as an immutable, randomly
// addressable byte region.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/sizing"
)

// ByteSource provides random access to archive bytes.
//
// Slice returns a view that must be treated as read-only and is only valid
// until the source is closed. Implementations must allow concurrent calls.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	Slice(offset, length int64) ([]byte, error)
	SourceID() string
}

// Mapped is a ByteSource over a memory-mapped (or fully buffered) file.
type Mapped struct {
	data      []byte
	id        string
	release   func([]byte) error
	closeOnce sync.Once
	closeErr  error
}

var _ ByteSource = (*Mapped)(nil)

// Open maps the regular file at path read-only.
//
// The mapping length equals the file size at open time. Zero-length files,
// non-regular files, and mapping failures are reported as jartype.ErrIO.
func Open(path string) (*Mapped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", jartype.ErrIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", jartype.ErrIO, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", jartype.ErrIO, path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", jartype.ErrIO, path)
	}
	size, err := sizing.ToInt(uint64(info.Size()), jartype.ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", jartype.ErrIO, path, err)
	}

	data, release, err := mapFile(f, size)
	if err != nil {
		return nil, fmt.Errorf("%w: map %s: %w", jartype.ErrIO, path, err)
	}
	return &Mapped{data: data, id: "file:" + path, release: release}, nil
}

// FromBytes wraps an in-memory buffer. The caller must not modify data
// while the source is in use.
func FromBytes(data []byte) *Mapped {
	sum := sha256.Sum256(data)
	return &Mapped{data: data, id: "mem:" + hex.EncodeToString(sum[:8])}
}

// Size returns the length of the mapped region.
func (m *Mapped) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the underlying content.
func (m *Mapped) SourceID() string {
	return m.id
}

// Slice returns the bytes in [offset, offset+length) without copying.
func (m *Mapped) Slice(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || !sizing.Within(uint64(offset), uint64(length), m.Size()) {
		return nil, fmt.Errorf("%w: [%d, +%d) of %d bytes", jartype.ErrRange, offset, length, len(m.data))
	}
	return m.data[offset : offset+length : offset+length], nil
}

// ReadAt implements io.ReaderAt.
func (m *Mapped) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", jartype.ErrRange, off)
	}
	if off >= m.Size() {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close releases the mapping. Views returned by Slice must not be used
// afterwards. Close is idempotent.
func (m *Mapped) Close() error {
	m.closeOnce.Do(func() {
		if m.release != nil {
			m.closeErr = m.release(m.data)
		}
		m.data = nil
	})
	return m.closeErr
}
