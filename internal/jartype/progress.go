package jartype

// ProgressEvent represents a progress update while reading or extracting an archive.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// Layer is the layer of the entry being processed, if applicable.
	Layer string

	// BytesDone is the number of decoded bytes written so far.
	BytesDone uint64

	// FilesDone is the number of entries completed.
	FilesDone int

	// FilesTotal is the total number of entries in this stage.
	// Zero indicates the total is unknown.
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

const (
	// StageReadingDirectory indicates the central directory is being parsed.
	StageReadingDirectory ProgressStage = iota

	// StageClassifying indicates entries are being routed to layers.
	StageClassifying

	// StageExtracting indicates entries are being decoded and written.
	StageExtracting
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageReadingDirectory:
		return "reading directory"
	case StageClassifying:
		return "classifying"
	case StageExtracting:
		return "extracting"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
