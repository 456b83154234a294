package layertools

import "github.com/aramperes/spring-boot-layertools/internal/jartype"

// Errors returned while opening an archive.
var (
	// ErrIO is returned when the archive cannot be opened or mapped.
	ErrIO = jartype.ErrIO

	// ErrNotAnArchive is returned when the file has no end of central directory record.
	ErrNotAnArchive = jartype.ErrNotAnArchive

	// ErrCorruptDirectory is returned when the central directory is malformed.
	ErrCorruptDirectory = jartype.ErrCorruptDirectory

	// ErrUnsafePath is returned for entry names or link targets that escape the destination.
	ErrUnsafePath = jartype.ErrUnsafePath

	// ErrDuplicateEntry is returned when an entry name occurs more than once.
	ErrDuplicateEntry = jartype.ErrDuplicateEntry

	// ErrMalformedManifest is returned when META-INF/MANIFEST.MF cannot be interpreted.
	ErrMalformedManifest = jartype.ErrMalformedManifest

	// ErrMissingLayerIndex is returned by [Archive.LayerIndex] when the jar has no layer index.
	ErrMissingLayerIndex = jartype.ErrMissingLayerIndex

	// ErrMalformedLayerIndex is returned when the layer index cannot be interpreted.
	ErrMalformedLayerIndex = jartype.ErrMalformedLayerIndex

	// ErrMalformedClasspathIndex is returned when the classpath index cannot be interpreted.
	ErrMalformedClasspathIndex = jartype.ErrMalformedClasspathIndex
)

// Errors returned while decoding entries.
var (
	// ErrInconsistentEntry is returned when a local header disagrees with its directory record.
	ErrInconsistentEntry = jartype.ErrInconsistentEntry

	// ErrDecompressionFailed is returned when a payload cannot be decoded to its declared size.
	ErrDecompressionFailed = jartype.ErrDecompressionFailed

	// ErrChecksumMismatch is returned when decoded content does not match its CRC-32.
	ErrChecksumMismatch = jartype.ErrChecksumMismatch

	// ErrUnsupportedMethod is returned for compression methods other than store, deflate, and zstd.
	ErrUnsupportedMethod = jartype.ErrUnsupportedMethod

	// ErrEncrypted is returned for encrypted entries.
	ErrEncrypted = jartype.ErrEncrypted

	// ErrSizeOverflow is returned when an entry exceeds the configured size limit.
	ErrSizeOverflow = jartype.ErrSizeOverflow
)

// Errors returned by Extract.
var (
	// ErrUnmapped is matched by classification errors for entries no layer rule covers.
	ErrUnmapped = jartype.ErrUnmapped

	// ErrUnknownLayer is returned when a layer filter names a layer the index does not declare.
	ErrUnknownLayer = jartype.ErrUnknownLayer

	// ErrExtractionIncomplete is returned together with the report when one or
	// more entries failed.
	ErrExtractionIncomplete = jartype.ErrExtractionIncomplete
)
