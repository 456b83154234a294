package zipdir

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/source"
)

// Record signatures. Each begins with the two byte marker "PK".
const (
	CentralDirectorySignature            uint32 = 0x02014b50
	LocalFileHeaderSignature             uint32 = 0x04034b50
	EndOfCentralDirSignature             uint32 = 0x06054b50
	Zip64EndOfCentralDirSignature        uint32 = 0x06064b50
	Zip64EndOfCentralDirLocatorSignature uint32 = 0x07064b50
)

// Fixed record lengths, excluding variable-length trailers.
const (
	centralHeaderLen = 46
	LocalHeaderLen   = 30
	directoryEndLen  = 22
	zip64EndLen      = 56
	zip64LocatorLen  = 20
	maxCommentLen    = 0xFFFF
)

// Extra field tags.
const (
	zip64ExtraTag   uint16 = 0x0001
	extTimeExtraTag uint16 = 0x5455
	unixASiExtraTag uint16 = 0x756e
	saturated32     uint32 = 0xFFFFFFFF
	saturated16     uint16 = 0xFFFF
	creatorUnix     uint8  = 3
	creatorMacOSX   uint8  = 19
)

var le = binary.LittleEndian

// directoryEnd is the decoded end of central directory record, promoted to
// 64-bit fields when a Zip64 record is present.
type directoryEnd struct {
	entries    uint64
	size       uint64
	offset     uint64
	commentLen uint16
	comment    string
	pos        int64 // offset of the record that supplied the fields
}

func decodeDirectoryEnd(b []byte, pos int64) directoryEnd {
	d := directoryEnd{
		entries:    uint64(le.Uint16(b[10:12])),
		size:       uint64(le.Uint32(b[12:16])),
		offset:     uint64(le.Uint32(b[16:20])),
		commentLen: le.Uint16(b[20:22]),
		pos:        pos,
	}
	d.comment = string(b[directoryEndLen : directoryEndLen+int(d.commentLen)])
	return d
}

func (d directoryEnd) needsZip64() bool {
	return d.entries == uint64(saturated16) || d.size == uint64(saturated32) || d.offset == uint64(saturated32)
}

// LocalHeader is the decoded local file header preceding an entry's payload.
type LocalHeader struct {
	Flags            uint16
	Method           jartype.Method
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	Name             string

	// HeaderLen is the total header length including name and extra field.
	HeaderLen int64
}

// ReadLocalHeader decodes the local file header at offset.
func ReadLocalHeader(src source.ByteSource, offset int64) (LocalHeader, error) {
	fixed, err := src.Slice(offset, LocalHeaderLen)
	if err != nil {
		return LocalHeader{}, fmt.Errorf("%w: local header: %w", jartype.ErrInconsistentEntry, err)
	}
	if le.Uint32(fixed[0:4]) != LocalFileHeaderSignature {
		return LocalHeader{}, fmt.Errorf("%w: bad local header signature at %d", jartype.ErrInconsistentEntry, offset)
	}

	nameLen := int64(le.Uint16(fixed[26:28]))
	extraLen := int64(le.Uint16(fixed[28:30]))
	h := LocalHeader{
		Flags:            le.Uint16(fixed[6:8]),
		Method:           jartype.Method(le.Uint16(fixed[8:10])),
		CRC32:            le.Uint32(fixed[14:18]),
		CompressedSize:   uint64(le.Uint32(fixed[18:22])),
		UncompressedSize: uint64(le.Uint32(fixed[22:26])),
		HeaderLen:        LocalHeaderLen + nameLen + extraLen,
	}

	variable, err := src.Slice(offset+LocalHeaderLen, nameLen+extraLen)
	if err != nil {
		return LocalHeader{}, fmt.Errorf("%w: local header name: %w", jartype.ErrInconsistentEntry, err)
	}
	h.Name = string(variable[:nameLen])

	needUncompressed := h.UncompressedSize == uint64(saturated32)
	needCompressed := h.CompressedSize == uint64(saturated32)
	if needUncompressed || needCompressed {
		z, ok := findExtra(variable[nameLen:], zip64ExtraTag)
		if !ok {
			return LocalHeader{}, fmt.Errorf("%w: local header missing zip64 sizes", jartype.ErrInconsistentEntry)
		}
		// A local header's zip64 field always carries both sizes,
		// uncompressed first, whichever of them is saturated.
		if len(z) < 16 {
			return LocalHeader{}, fmt.Errorf("%w: local zip64 field is %d bytes", jartype.ErrInconsistentEntry, len(z))
		}
		if needUncompressed {
			h.UncompressedSize = le.Uint64(z[0:8])
		}
		if needCompressed {
			h.CompressedSize = le.Uint64(z[8:16])
		}
	}
	return h, nil
}

// findExtra returns the payload of the first extra field with the given tag.
func findExtra(extra []byte, tag uint16) ([]byte, bool) {
	for len(extra) >= 4 {
		id := le.Uint16(extra[0:2])
		size := int(le.Uint16(extra[2:4]))
		if 4+size > len(extra) {
			return nil, false
		}
		if id == tag {
			return extra[4 : 4+size], true
		}
		extra = extra[4+size:]
	}
	return nil, false
}

// msDosToTime converts an MS-DOS date and time into a time.Time in UTC.
func msDosToTime(dosDate, dosTime uint16) time.Time {
	if dosDate == 0 && dosTime == 0 {
		return time.Time{}
	}
	return time.Date(
		int(dosDate>>9)+1980,
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,
		time.UTC,
	)
}
