package file

import (
	"context"
	"fmt"
	"hash"
	"io"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

// pump moves decoded bytes from src into dst, feeding each chunk to sum
// before it is written. At most limit bytes are read from src.
//
// Errors from src are wrapped with jartype.ErrDecompressionFailed. Errors
// from dst are returned unchanged, so a full disk is never reported as a
// corrupt entry.
func pump(ctx context.Context, dst io.Writer, src io.Reader, sum hash.Hash32, limit int64, buf []byte) (uint64, error) {
	var n uint64
	remaining := limit
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		chunk := buf
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		nr, rerr := src.Read(chunk)
		if nr > 0 {
			_, _ = sum.Write(chunk[:nr]) //nolint:errcheck // hash writes never fail
			nw, werr := dst.Write(chunk[:nr])
			n += uint64(max(nw, 0)) //nolint:gosec // clamped above
			remaining -= int64(nr)
			if werr != nil {
				return n, werr
			}
			if nw != nr {
				return n, io.ErrShortWrite
			}
		}
		switch {
		case rerr == io.EOF:
			return n, nil
		case rerr != nil:
			return n, fmt.Errorf("%w: %w", jartype.ErrDecompressionFailed, rerr)
		}
	}
	return n, nil
}
