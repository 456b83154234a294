// Package file decodes the payload of a single archive entry and verifies it
// against the entry's recorded checksum.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/sizing"
	"github.com/aramperes/spring-boot-layertools/internal/source"
	"github.com/aramperes/spring-boot-layertools/internal/zipdir"
)

const (
	// DefaultMaxFileSize is the default maximum entry size (1GB).
	DefaultMaxFileSize = 1 << 30

	// DefaultMaxDecoderMemory is the default maximum zstd decoder memory (256MB).
	DefaultMaxDecoderMemory = 256 << 20

	copyBufferSize = 32 << 10
)

// Decoder reads and verifies entry content from a ByteSource.
// A Decoder is safe for concurrent use.
type Decoder struct {
	src              source.ByteSource
	maxFileSize      uint64
	maxDecoderMemory uint64
	pool             *DecompressPool
	buffers          sync.Pool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxFileSize sets the maximum entry size limit.
// Set to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(d *Decoder) {
		d.maxFileSize = limit
	}
}

// WithMaxDecoderMemory sets the maximum zstd decoder memory limit.
// Set to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(d *Decoder) {
		d.maxDecoderMemory = limit
	}
}

// NewDecoder creates a Decoder for entries stored in src.
func NewDecoder(src source.ByteSource, opts ...Option) *Decoder {
	d := &Decoder{
		src:              src,
		maxFileSize:      DefaultMaxFileSize,
		maxDecoderMemory: DefaultMaxDecoderMemory,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = NewDecompressPool(d.maxDecoderMemory)
	d.buffers.New = func() any {
		buf := make([]byte, copyBufferSize)
		return &buf
	}
	return d
}

// Payload validates rec and its local header and returns the raw,
// still-compressed payload as a read-only view of the source.
func (d *Decoder) Payload(rec *jartype.Record) ([]byte, error) {
	if err := Validate(rec, d.maxFileSize); err != nil {
		return nil, err
	}
	offset, err := sizing.ToInt64(rec.LocalHeaderOffset, jartype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	h, err := zipdir.ReadLocalHeader(d.src, offset)
	if err != nil {
		return nil, err
	}
	if err := ValidateLocalHeader(rec, h); err != nil {
		return nil, err
	}

	start := offset + h.HeaderLen
	if !sizing.Within(uint64(start), rec.CompressedSize, d.src.Size()) { //nolint:gosec // start is non-negative
		return nil, fmt.Errorf("%w: payload of %d bytes at %d exceeds source", jartype.ErrInconsistentEntry, rec.CompressedSize, start)
	}
	return d.src.Slice(start, int64(rec.CompressedSize)) //nolint:gosec // checked by Within
}

// Decode returns the decoded content of rec after verifying its checksum.
// Stored content is returned as a view of the source and must not be modified.
func (d *Decoder) Decode(rec *jartype.Record) ([]byte, error) {
	raw, err := d.Payload(rec)
	if err != nil {
		return nil, err
	}
	if rec.Method == jartype.MethodStore {
		if err := verifyChecksum(rec, crc32.ChecksumIEEE(raw)); err != nil {
			return nil, err
		}
		return raw, nil
	}

	size, err := sizing.ToInt(rec.UncompressedSize, jartype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	r, release, err := d.reader(rec, raw)
	if err != nil {
		return nil, err
	}
	defer release()

	content := make([]byte, size)
	hr := NewHashingReader(r)
	if n, err := io.ReadFull(hr, content); err != nil {
		return nil, mapReadError(n, size, err)
	}
	if err := EnsureNoExtra(r); err != nil {
		return nil, mapReadError(size, size, err)
	}
	if err := verifyChecksum(rec, hr.Sum32()); err != nil {
		return nil, err
	}
	return content, nil
}

// DecodeResource decodes a small metadata entry, such as the manifest or an
// index, refusing entries that declare more than limit bytes. The decoded
// stream is read with the same bound, so an entry whose payload inflates
// past its declared size fails instead of growing the buffer.
func (d *Decoder) DecodeResource(rec *jartype.Record, limit uint64) ([]byte, error) {
	if rec.UncompressedSize > limit {
		return nil, fmt.Errorf("%w: %s declares %d bytes, limit is %d", jartype.ErrSizeOverflow, rec.Name, rec.UncompressedSize, limit)
	}
	raw, err := d.Payload(rec)
	if err != nil {
		return nil, err
	}
	r, release, err := d.reader(rec, raw)
	if err != nil {
		return nil, err
	}
	defer release()

	hr := NewHashingReader(r)
	tooLong := fmt.Errorf("%w: content exceeds declared size", jartype.ErrDecompressionFailed)
	data, err := sizing.ReadAllWithLimit(hr, rec.UncompressedSize, tooLong)
	if err != nil {
		return nil, mapReadError(len(data), int(rec.UncompressedSize), err) //nolint:gosec // bounded by limit
	}
	if uint64(len(data)) != rec.UncompressedSize {
		return nil, mapReadError(len(data), int(rec.UncompressedSize), io.ErrUnexpectedEOF) //nolint:gosec // bounded by limit
	}
	if err := verifyChecksum(rec, hr.Sum32()); err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeTo streams the decoded content of rec into w and returns the number
// of bytes written. Cancellation is checked between reads.
//
// The checksum is verified after the last byte is written, so on
// jartype.ErrChecksumMismatch w has received the complete content.
func (d *Decoder) DecodeTo(ctx context.Context, rec *jartype.Record, w io.Writer) (uint64, error) {
	raw, err := d.Payload(rec)
	if err != nil {
		return 0, err
	}
	limit, err := sizing.ToInt64(rec.UncompressedSize, jartype.ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	r, release, err := d.reader(rec, raw)
	if err != nil {
		return 0, err
	}
	defer release()

	bufp, _ := d.buffers.Get().(*[]byte) //nolint:errcheck // pool only holds *[]byte
	defer d.buffers.Put(bufp)

	sum := crc32.NewIEEE()
	n, err := pump(ctx, w, r, sum, limit, *bufp)
	if err != nil {
		return n, err
	}
	if n != rec.UncompressedSize {
		return n, fmt.Errorf("%w: stream ended after %d of %d bytes", jartype.ErrDecompressionFailed, n, rec.UncompressedSize)
	}
	if err := EnsureNoExtra(r); err != nil {
		return n, mapReadError(int(limit), int(limit), err)
	}
	return n, verifyChecksum(rec, sum.Sum32())
}

// reader returns a decoding reader over the raw payload.
func (d *Decoder) reader(rec *jartype.Record, raw []byte) (io.Reader, func(), error) {
	switch rec.Method {
	case jartype.MethodStore:
		return bytes.NewReader(raw), func() {}, nil
	case jartype.MethodDeflate:
		r, release := d.pool.Flate(bytes.NewReader(raw))
		return r, release, nil
	case jartype.MethodZstd:
		r, release, err := d.pool.Zstd(bytes.NewReader(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", jartype.ErrDecompressionFailed, err)
		}
		return r, release, nil
	default:
		return nil, nil, fmt.Errorf("%w: %d", jartype.ErrUnsupportedMethod, uint16(rec.Method))
	}
}

func verifyChecksum(rec *jartype.Record, got uint32) error {
	if got != rec.CRC32 {
		return fmt.Errorf("%w: got %08x, want %08x", jartype.ErrChecksumMismatch, got, rec.CRC32)
	}
	return nil
}

// mapReadError converts read errors to decompression failures.
func mapReadError(n, expected int, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: stream ended after %d of %d bytes", jartype.ErrDecompressionFailed, n, expected)
	}
	if errors.Is(err, jartype.ErrDecompressionFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", jartype.ErrDecompressionFailed, err)
}
