package file

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// DecompressPool manages reusable deflate and zstd decoders.
type DecompressPool struct {
	flate            sync.Pool
	zstd             sync.Pool
	maxDecoderMemory uint64
}

// NewDecompressPool creates a new pool. If maxMemory is 0, no memory limit
// is applied to zstd decoders.
func NewDecompressPool(maxMemory uint64) *DecompressPool {
	return &DecompressPool{maxDecoderMemory: maxMemory}
}

// Flate returns a raw deflate reader over r.
// The caller must call the returned release function when done.
func (p *DecompressPool) Flate(r io.Reader) (io.Reader, func()) {
	if p == nil {
		fr := flate.NewReader(r)
		return fr, func() { _ = fr.Close() }
	}
	if fr, ok := p.flate.Get().(io.ReadCloser); ok {
		if rs, ok := fr.(flate.Resetter); ok && rs.Reset(r, nil) == nil {
			return fr, func() { p.flate.Put(fr) }
		}
	}
	fr := flate.NewReader(r)
	return fr, func() { p.flate.Put(fr) }
}

// Zstd returns a zstd decoder reading from r.
// The caller must call the returned release function when done.
// If an error is returned, no release function needs to be called.
func (p *DecompressPool) Zstd(r io.Reader) (io.Reader, func(), error) {
	if p == nil {
		dec, err := p.newZstd(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}

	if dec, ok := p.zstd.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(r); err == nil {
			return dec, p.releaseZstd(dec), nil
		}
		// Reset failed, close this one and create new
		dec.Close()
	}
	dec, err := p.newZstd(r)
	if err != nil {
		return nil, nil, err
	}
	return dec, p.releaseZstd(dec), nil
}

func (p *DecompressPool) releaseZstd(dec *zstd.Decoder) func() {
	return func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.zstd.Put(dec)
	}
}

// newZstd creates a new zstd decoder with the configured memory limit.
func (p *DecompressPool) newZstd(r io.Reader) (*zstd.Decoder, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if p != nil && p.maxDecoderMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
	}
	return zstd.NewReader(r, opts...)
}
