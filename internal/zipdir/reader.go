// Package zipdir locates and decodes the central directory of a zip
// container into an immutable catalog of entry records.
package zipdir

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/pathutil"
	"github.com/aramperes/spring-boot-layertools/internal/sizing"
	"github.com/aramperes/spring-boot-layertools/internal/source"
)

// maxPrealloc caps the record slice capacity derived from the untrusted
// entry count in the end record.
const maxPrealloc = 1 << 16

// Option configures Parse.
type Option func(*parser)

// WithLogger sets the logger for directory parsing.
func WithLogger(logger *slog.Logger) Option {
	return func(p *parser) {
		p.logger = logger
	}
}

type parser struct {
	src    source.ByteSource
	logger *slog.Logger
}

func (p *parser) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Parse reads the central directory of src.
//
// It returns jartype.ErrNotAnArchive when no end record can be found,
// jartype.ErrCorruptDirectory for malformed records, jartype.ErrUnsafePath
// for names that would escape the destination, and jartype.ErrDuplicateEntry
// when two records normalize to the same name.
func Parse(ctx context.Context, src source.ByteSource, opts ...Option) (*Catalog, error) {
	p := &parser{src: src}
	for _, opt := range opts {
		opt(p)
	}

	end, err := p.findDirectoryEnd()
	if err != nil {
		return nil, err
	}
	if end.needsZip64() {
		if err := p.readZip64End(&end); err != nil {
			return nil, err
		}
	}

	base, err := p.baseOffset(end)
	if err != nil {
		return nil, err
	}
	if base > 0 {
		p.log().Debug("archive has prefix", "bytes", base)
	}

	cat, err := p.readCentralDirectory(ctx, end, base)
	if err != nil {
		return nil, err
	}
	cat.comment = end.comment
	p.log().Debug("central directory read", "entries", cat.Len(), "source", src.SourceID())
	return cat, nil
}

// findDirectoryEnd scans backwards from the end of the source for the end of
// central directory record. Candidates whose comment length does not fit the
// remaining bytes are skipped.
func (p *parser) findDirectoryEnd() (directoryEnd, error) {
	size := p.src.Size()
	if size < directoryEndLen {
		return directoryEnd{}, fmt.Errorf("%w: %d bytes is too small", jartype.ErrNotAnArchive, size)
	}
	window := min(size, int64(directoryEndLen+maxCommentLen))
	start := size - window
	buf, err := p.src.Slice(start, window)
	if err != nil {
		return directoryEnd{}, fmt.Errorf("%w: %w", jartype.ErrNotAnArchive, err)
	}

	for i := len(buf) - directoryEndLen; i >= 0; i-- {
		if le.Uint32(buf[i:i+4]) != EndOfCentralDirSignature {
			continue
		}
		commentLen := int(le.Uint16(buf[i+20 : i+22]))
		if i+directoryEndLen+commentLen > len(buf) {
			continue
		}
		return decodeDirectoryEnd(buf[i:], start+int64(i)), nil
	}
	return directoryEnd{}, jartype.ErrNotAnArchive
}

// readZip64End replaces saturated fields of end with values from the Zip64
// end record, when a locator is present. Archives with exactly 65535 entries
// and no locator keep their 32-bit values.
func (p *parser) readZip64End(end *directoryEnd) error {
	locPos := end.pos - zip64LocatorLen
	if locPos < 0 {
		return nil
	}
	loc, err := p.src.Slice(locPos, zip64LocatorLen)
	if err != nil || le.Uint32(loc[0:4]) != Zip64EndOfCentralDirLocatorSignature {
		return nil
	}

	// The locator's offset is relative to the archive start; a prefixed
	// archive places the record immediately before the locator instead.
	candidates := []int64{locPos - zip64EndLen}
	if off, err := sizing.ToInt64(le.Uint64(loc[8:16]), jartype.ErrCorruptDirectory); err == nil {
		candidates = append([]int64{off}, candidates...)
	}
	for _, pos := range candidates {
		if pos < 0 {
			continue
		}
		rec, err := p.src.Slice(pos, zip64EndLen)
		if err != nil || le.Uint32(rec[0:4]) != Zip64EndOfCentralDirSignature {
			continue
		}
		end.entries = le.Uint64(rec[32:40])
		end.size = le.Uint64(rec[40:48])
		end.offset = le.Uint64(rec[48:56])
		end.pos = pos
		return nil
	}
	return fmt.Errorf("%w: zip64 end record not found", jartype.ErrCorruptDirectory)
}

// baseOffset computes how far the archive is shifted within the source.
func (p *parser) baseOffset(end directoryEnd) (int64, error) {
	size, err1 := sizing.ToInt64(end.size, jartype.ErrCorruptDirectory)
	offset, err2 := sizing.ToInt64(end.offset, jartype.ErrCorruptDirectory)
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("%w: directory size or offset overflows", jartype.ErrCorruptDirectory)
	}
	base := end.pos - size - offset
	if base < 0 {
		return 0, fmt.Errorf("%w: directory extends before start of source", jartype.ErrCorruptDirectory)
	}
	if base > 0 && p.hasSignatureAt(offset, CentralDirectorySignature) {
		// Some writers record the offset from the start of the file even
		// after a prefix was prepended.
		return 0, nil
	}
	return base, nil
}

func (p *parser) hasSignatureAt(offset int64, sig uint32) bool {
	b, err := p.src.Slice(offset, 4)
	return err == nil && le.Uint32(b) == sig
}

func (p *parser) readCentralDirectory(ctx context.Context, end directoryEnd, base int64) (*Catalog, error) {
	start := base + int64(end.offset) //nolint:gosec // bounded by baseOffset
	if !sizing.Within(uint64(start), end.size, p.src.Size()) {
		return nil, fmt.Errorf("%w: directory range [%d,+%d) exceeds source", jartype.ErrCorruptDirectory, start, end.size)
	}
	dir, err := p.src.Slice(start, int64(end.size)) //nolint:gosec // checked by Within
	if err != nil {
		return nil, fmt.Errorf("%w: %w", jartype.ErrCorruptDirectory, err)
	}

	capacity := min(end.entries, uint64(len(dir)/centralHeaderLen), maxPrealloc)
	cat := &Catalog{
		records: make([]*jartype.Record, 0, capacity),
		byName:  make(map[string]*jartype.Record, capacity),
		base:    base,
	}

	for i := uint64(0); i < end.entries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, n, err := p.readRecord(dir, base)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		dir = dir[n:]

		if _, dup := cat.byName[rec.Name]; dup {
			return nil, fmt.Errorf("%w: %q", jartype.ErrDuplicateEntry, rec.Name)
		}
		cat.byName[rec.Name] = rec
		cat.records = append(cat.records, rec)
	}
	return cat, nil
}

// readRecord decodes one central directory header from the front of b and
// returns the record along with the number of bytes consumed.
func (p *parser) readRecord(b []byte, base int64) (*jartype.Record, int, error) {
	if len(b) < centralHeaderLen {
		return nil, 0, fmt.Errorf("%w: truncated header", jartype.ErrCorruptDirectory)
	}
	if le.Uint32(b[0:4]) != CentralDirectorySignature {
		return nil, 0, fmt.Errorf("%w: bad header signature", jartype.ErrCorruptDirectory)
	}

	versionMadeBy := le.Uint16(b[4:6])
	nameLen := int(le.Uint16(b[28:30]))
	extraLen := int(le.Uint16(b[30:32]))
	commentLen := int(le.Uint16(b[32:34]))
	total := centralHeaderLen + nameLen + extraLen + commentLen
	if total > len(b) {
		return nil, 0, fmt.Errorf("%w: header fields exceed directory", jartype.ErrCorruptDirectory)
	}

	rawName := string(b[centralHeaderLen : centralHeaderLen+nameLen])
	extra := b[centralHeaderLen+nameLen : centralHeaderLen+nameLen+extraLen]

	name, ok := pathutil.Normalize(rawName)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", jartype.ErrUnsafePath, rawName)
	}

	rec := &jartype.Record{
		Name:             name,
		Flags:            le.Uint16(b[8:10]),
		Method:           jartype.Method(le.Uint16(b[10:12])),
		ModTime:          msDosToTime(le.Uint16(b[14:16]), le.Uint16(b[12:14])),
		CRC32:            le.Uint32(b[16:20]),
		CompressedSize:   uint64(le.Uint32(b[20:24])),
		UncompressedSize: uint64(le.Uint32(b[24:28])),
	}
	localOffset := uint64(le.Uint32(b[42:46]))

	if err := applyZip64Extra(rec, &localOffset, extra); err != nil {
		return nil, 0, err
	}
	applyUnixMetadata(rec, versionMadeBy, le.Uint32(b[38:42]), extra)
	if mtime, ok := extendedModTime(extra); ok {
		rec.ModTime = mtime
	}

	abs, ok := sizing.AddUint64(uint64(base), localOffset) //nolint:gosec // base is non-negative
	if !ok || !sizing.Within(abs, LocalHeaderLen, p.src.Size()) {
		return nil, 0, fmt.Errorf("%w: local header offset %d out of range for %q", jartype.ErrCorruptDirectory, localOffset, name)
	}
	rec.LocalHeaderOffset = abs
	return rec, total, nil
}

// applyZip64Extra replaces saturated 32-bit fields with their Zip64 values.
// Fields appear in the extra block only when saturated, in a fixed order.
func applyZip64Extra(rec *jartype.Record, localOffset *uint64, extra []byte) error {
	needUncompressed := rec.UncompressedSize == uint64(saturated32)
	needCompressed := rec.CompressedSize == uint64(saturated32)
	needOffset := *localOffset == uint64(saturated32)
	if !needUncompressed && !needCompressed && !needOffset {
		return nil
	}

	z, ok := findExtra(extra, zip64ExtraTag)
	if !ok {
		// Genuine 0xFFFFFFFF values without a Zip64 block are left as-is.
		return nil
	}
	take := func(dst *uint64) error {
		if len(z) < 8 {
			return fmt.Errorf("%w: short zip64 extra field for %q", jartype.ErrCorruptDirectory, rec.Name)
		}
		*dst = le.Uint64(z[0:8])
		z = z[8:]
		return nil
	}
	if needUncompressed {
		if err := take(&rec.UncompressedSize); err != nil {
			return err
		}
	}
	if needCompressed {
		if err := take(&rec.CompressedSize); err != nil {
			return err
		}
	}
	if needOffset {
		if err := take(localOffset); err != nil {
			return err
		}
	}
	return nil
}

// applyUnixMetadata sets rec.Mode from the external attributes when the
// creator is a Unix-like host, falling back to the ASi Unix extra field.
func applyUnixMetadata(rec *jartype.Record, versionMadeBy uint16, external uint32, extra []byte) {
	switch uint8(versionMadeBy >> 8) {
	case creatorUnix, creatorMacOSX:
		if mode := external >> 16; mode != 0 {
			rec.Mode = unixModeToFileMode(mode)
			rec.HasMode = true
			return
		}
	}

	if asi, ok := findExtra(extra, unixASiExtraTag); ok && len(asi) >= 6 {
		if mode := uint32(le.Uint16(asi[4:6])); mode != 0 {
			rec.Mode = unixModeToFileMode(mode)
			rec.HasMode = true
		}
	}
}

// extendedModTime reads the modification time from an extended timestamp
// extra field.
func extendedModTime(extra []byte) (time.Time, bool) {
	ts, ok := findExtra(extra, extTimeExtraTag)
	if !ok || len(ts) < 5 || ts[0]&0x1 == 0 {
		return time.Time{}, false
	}
	secs := int64(int32(le.Uint32(ts[1:5]))) //nolint:gosec // signed by definition
	return time.Unix(secs, 0).UTC(), true
}

// Unix file type bits.
const (
	sIFMT  = 0o170000
	sIFDIR = 0o040000
	sIFLNK = 0o120000
	sISUID = 0o4000
	sISGID = 0o2000
	sISVTX = 0o1000
)

func unixModeToFileMode(m uint32) fs.FileMode {
	mode := fs.FileMode(m & 0o777)
	switch m & sIFMT {
	case sIFDIR:
		mode |= fs.ModeDir
	case sIFLNK:
		mode |= fs.ModeSymlink
	}
	if m&sISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if m&sISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if m&sISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}
