package jartype

import (
	"io/fs"
	"strings"
	"time"
)

// Default permission bits applied when an entry carries no Unix metadata.
const (
	DefaultFileMode fs.FileMode = 0o644
	DefaultDirMode  fs.FileMode = 0o755
)

// General purpose flag bits.
const (
	FlagEncrypted      uint16 = 0x0001
	FlagDataDescriptor uint16 = 0x0008
	FlagUTF8           uint16 = 0x0800
)

// Record describes one entry of the archive's central directory.
type Record struct {
	// Name is the normalized forward-slash path of the entry.
	// Directory entries keep their trailing slash.
	Name string

	// LocalHeaderOffset is the absolute offset of the local file header in
	// the byte source, with any executable prefix already accounted for.
	LocalHeaderOffset uint64

	// CompressedSize is the size of the stored payload.
	CompressedSize uint64

	// UncompressedSize is the size of the decoded content.
	UncompressedSize uint64

	// Method is the compression method of the payload.
	Method Method

	// CRC32 is the IEEE checksum of the decoded content.
	CRC32 uint32

	// Flags holds the general purpose bit flags.
	Flags uint16

	// Mode holds permission and type bits. It is only meaningful when
	// HasMode is set.
	Mode fs.FileMode

	// HasMode reports whether Mode was read from Unix metadata.
	HasMode bool

	// ModTime is the entry's modification time.
	ModTime time.Time
}

// IsDir reports whether the record names a directory.
func (r *Record) IsDir() bool {
	return strings.HasSuffix(r.Name, "/") || (r.HasMode && r.Mode.IsDir())
}

// IsSymlink reports whether the record's Unix metadata marks a symbolic link.
func (r *Record) IsSymlink() bool {
	return r.HasMode && r.Mode&fs.ModeSymlink != 0
}

// Encrypted reports whether the payload is encrypted.
func (r *Record) Encrypted() bool {
	return r.Flags&FlagEncrypted != 0
}

// HasDataDescriptor reports whether sizes and checksum trail the payload.
func (r *Record) HasDataDescriptor() bool {
	return r.Flags&FlagDataDescriptor != 0
}

// Perm returns the permission bits to apply when materializing the record.
func (r *Record) Perm() fs.FileMode {
	if r.IsDir() {
		if r.HasMode && r.Mode.Perm() != 0 {
			return r.Mode.Perm()
		}
		return DefaultDirMode
	}
	if r.HasMode && r.Mode.Perm() != 0 {
		return r.Mode.Perm()
	}
	return DefaultFileMode
}
