package jartype

// Method identifies the compression method recorded for an entry.
type Method uint16

// Compression methods understood by the decoder.
const (
	MethodStore   Method = 0
	MethodDeflate Method = 8
	MethodZstd    Method = 93
)

// String returns the human-readable name of the compression method.
func (m Method) String() string {
	switch m {
	case MethodStore:
		return "store"
	case MethodDeflate:
		return "deflate"
	case MethodZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Supported reports whether entries using m can be decoded.
func (m Method) Supported() bool {
	switch m {
	case MethodStore, MethodDeflate, MethodZstd:
		return true
	default:
		return false
	}
}
