package layertools

import "github.com/aramperes/spring-boot-layertools/internal/jartype"

// Re-export progress types.
type (
	// ProgressEvent represents a progress update while reading or extracting an archive.
	ProgressEvent = jartype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = jartype.ProgressStage

	// ProgressFunc receives progress updates during operations.
	// Implementations must be safe for concurrent calls.
	ProgressFunc = jartype.ProgressFunc
)

// Re-export progress stage constants.
const (
	// StageReadingDirectory indicates the central directory is being parsed.
	StageReadingDirectory = jartype.StageReadingDirectory

	// StageClassifying indicates entries are being routed to layers.
	StageClassifying = jartype.StageClassifying

	// StageExtracting indicates entries are being decoded and written.
	StageExtracting = jartype.StageExtracting
)
