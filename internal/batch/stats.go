package batch

import (
	"fmt"
	"io"
	"slices"

	"github.com/opencontainers/go-digest"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

// LayerStats contains statistics for one extracted layer.
type LayerStats struct {
	// Files is the number of entries written, links included.
	Files int

	// Bytes is the number of decoded bytes written.
	Bytes uint64

	lines []string
}

func (s *LayerStats) add(rec *jartype.Record, n uint64) {
	s.Files++
	s.Bytes += n
	s.lines = append(s.lines, fmt.Sprintf("%s\x00%08x\x00%d", rec.Name, rec.CRC32, rec.UncompressedSize))
}

// Digest identifies the layer's content: the sha256 of the sorted
// name, checksum, and size of every written entry. It does not depend on
// extraction order, so equal layers from different runs share a digest.
func (s *LayerStats) Digest() digest.Digest {
	lines := slices.Clone(s.lines)
	slices.Sort(lines)

	d := digest.Canonical.Digester()
	h := d.Hash()
	for _, l := range lines {
		_, _ = io.WriteString(h, l)    //nolint:errcheck // hash writes never fail
		_, _ = io.WriteString(h, "\n") //nolint:errcheck // hash writes never fail
	}
	return d.Digest()
}
