package layertools

import "log/slog"

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger for debug output.
// By default, nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithMaxFileSize limits the maximum per-entry size (compressed and uncompressed).
// Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(a *Archive) {
		a.maxFileSize = limit
	}
}

// WithMaxDecoderMemory limits the maximum memory used by the zstd decoder.
// Set limit to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(a *Archive) {
		a.maxDecoderMemory = limit
	}
}

// WithProgress sets a callback that receives progress updates while the
// archive is opened. Extractions use it unless ExtractWithProgress is given.
func WithProgress(fn ProgressFunc) Option {
	return func(a *Archive) {
		a.progress = fn
	}
}
