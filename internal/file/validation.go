package file

import (
	"fmt"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/pathutil"
	"github.com/aramperes/spring-boot-layertools/internal/zipdir"
)

// Validate checks that a record can be decoded at all.
// It rejects encrypted entries, unknown compression methods, stored
// entries whose sizes differ, and sizes beyond maxFileSize (if non-zero).
func Validate(rec *jartype.Record, maxFileSize uint64) error {
	if rec.Encrypted() {
		return jartype.ErrEncrypted
	}
	if !rec.Method.Supported() {
		return fmt.Errorf("%w: %d", jartype.ErrUnsupportedMethod, uint16(rec.Method))
	}
	if maxFileSize > 0 && (rec.UncompressedSize > maxFileSize || rec.CompressedSize > maxFileSize) {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", jartype.ErrSizeOverflow, rec.UncompressedSize, maxFileSize)
	}
	if rec.Method == jartype.MethodStore && rec.CompressedSize != rec.UncompressedSize {
		return fmt.Errorf("%w: stored sizes differ (%d != %d)", jartype.ErrInconsistentEntry, rec.CompressedSize, rec.UncompressedSize)
	}
	return nil
}

// ValidateLocalHeader checks the local header against its directory record.
// Sizes and checksum are compared only when the local header carries them,
// which it does not when a data descriptor trails the payload.
func ValidateLocalHeader(rec *jartype.Record, h zipdir.LocalHeader) error {
	if name, ok := pathutil.Normalize(h.Name); !ok || name != rec.Name {
		return fmt.Errorf("%w: local name %q does not match %q", jartype.ErrInconsistentEntry, h.Name, rec.Name)
	}
	if h.Method != rec.Method {
		return fmt.Errorf("%w: local method %s does not match %s", jartype.ErrInconsistentEntry, h.Method, rec.Method)
	}
	if h.Flags&jartype.FlagDataDescriptor != 0 {
		return nil
	}
	switch {
	case h.CompressedSize != rec.CompressedSize:
		return fmt.Errorf("%w: local compressed size %d does not match %d", jartype.ErrInconsistentEntry, h.CompressedSize, rec.CompressedSize)
	case h.UncompressedSize != rec.UncompressedSize:
		return fmt.Errorf("%w: local size %d does not match %d", jartype.ErrInconsistentEntry, h.UncompressedSize, rec.UncompressedSize)
	case h.CRC32 != rec.CRC32:
		return fmt.Errorf("%w: local checksum %08x does not match %08x", jartype.ErrInconsistentEntry, h.CRC32, rec.CRC32)
	}
	return nil
}
