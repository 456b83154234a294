package jartype

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for archive operations.
var (
	// ErrIO is returned when the archive cannot be opened or mapped.
	ErrIO = errors.New("layertools: i/o error")

	// ErrRange is returned when a requested byte range exceeds the source.
	ErrRange = errors.New("layertools: range out of bounds")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("layertools: size overflow")

	// ErrNotAnArchive is returned when no end of central directory record is found.
	ErrNotAnArchive = errors.New("layertools: not an archive")

	// ErrCorruptDirectory is returned when a central directory record is malformed.
	ErrCorruptDirectory = errors.New("layertools: corrupt central directory")

	// ErrUnsafePath is returned for entry names or link targets that escape the destination.
	ErrUnsafePath = errors.New("layertools: unsafe path")

	// ErrDuplicateEntry is returned when an entry name occurs more than once.
	ErrDuplicateEntry = errors.New("layertools: duplicate entry")

	// ErrInconsistentEntry is returned when a local header disagrees with its directory record.
	ErrInconsistentEntry = errors.New("layertools: inconsistent entry")

	// ErrDecompressionFailed is returned when a payload cannot be decoded to its declared size.
	ErrDecompressionFailed = errors.New("layertools: decompression failed")

	// ErrChecksumMismatch is returned when decoded content does not match its CRC-32.
	ErrChecksumMismatch = errors.New("layertools: checksum mismatch")

	// ErrUnsupportedMethod is returned for compression methods the decoder does not know.
	ErrUnsupportedMethod = errors.New("layertools: unsupported compression method")

	// ErrEncrypted is returned for encrypted entries.
	ErrEncrypted = errors.New("layertools: encrypted entry")

	// ErrMissingLayerIndex is returned when the archive has no layer index.
	ErrMissingLayerIndex = errors.New("layertools: missing layer index")

	// ErrMalformedLayerIndex is returned when the layer index cannot be interpreted.
	ErrMalformedLayerIndex = errors.New("layertools: malformed layer index")

	// ErrMalformedClasspathIndex is returned when the classpath index cannot be interpreted.
	ErrMalformedClasspathIndex = errors.New("layertools: malformed classpath index")

	// ErrMalformedManifest is returned when the jar manifest cannot be interpreted.
	ErrMalformedManifest = errors.New("layertools: malformed manifest")

	// ErrUnmapped is returned when an entry matches no layer rule.
	ErrUnmapped = errors.New("layertools: entry not mapped to a layer")

	// ErrUnknownLayer is returned when a layer filter names a layer the index does not declare.
	ErrUnknownLayer = errors.New("layertools: unknown layer")

	// ErrExtractionIncomplete is returned when one or more entries failed to extract.
	ErrExtractionIncomplete = errors.New("layertools: extraction incomplete")
)

// ErrorKind classifies a per-entry extraction failure.
type ErrorKind uint8

const (
	// KindDecode covers local header, size, and decompression failures.
	KindDecode ErrorKind = iota

	// KindChecksum covers CRC-32 mismatches.
	KindChecksum

	// KindWrite covers filesystem failures at the destination.
	KindWrite

	// KindUnsafePath covers link targets that would escape the layer.
	KindUnsafePath

	// KindCanceled marks entries abandoned after cancellation.
	KindCanceled
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindChecksum:
		return "checksum"
	case KindWrite:
		return "write"
	case KindUnsafePath:
		return "unsafe-path"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// KindOf maps an error from the decode or write path onto an ErrorKind.
// Errors that match no decoder sentinel are treated as write failures.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		return KindChecksum
	case errors.Is(err, ErrUnsafePath):
		return KindUnsafePath
	case errors.Is(err, ErrInconsistentEntry),
		errors.Is(err, ErrDecompressionFailed),
		errors.Is(err, ErrUnsupportedMethod),
		errors.Is(err, ErrEncrypted),
		errors.Is(err, ErrSizeOverflow),
		errors.Is(err, ErrRange):
		return KindDecode
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindWrite
	}
}

// EntryError records why a single entry could not be extracted.
type EntryError struct {
	Name  string
	Layer string
	Kind  ErrorKind
	Err   error
}

// Error implements error.
func (e *EntryError) Error() string {
	return fmt.Sprintf("%s (%s): %s: %v", e.Name, e.Layer, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *EntryError) Unwrap() error {
	return e.Err
}

// ClassificationError reports an entry that matched no layer rule.
type ClassificationError struct {
	Name string
}

// Error implements error.
func (e *ClassificationError) Error() string {
	return fmt.Sprintf("layertools: no layer defined in index for %q", e.Name)
}

// Is reports whether target is ErrUnmapped.
func (e *ClassificationError) Is(target error) bool {
	return target == ErrUnmapped
}
