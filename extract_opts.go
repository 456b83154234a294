package layertools

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	failFast      bool
	layers        []string
	workers       int
	lenient       bool
	preserveTimes bool
	directWrites  bool
	progress      ProgressFunc
}

// ExtractWithFailFast stops at the first entry that cannot be extracted.
// Files already written are left in place.
// By default, failed entries are recorded in the report and skipped.
func ExtractWithFailFast(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.failFast = enabled
	}
}

// ExtractWithLayers restricts extraction to the named layers.
// Names the layer index does not declare make Extract fail with ErrUnknownLayer.
// By default, every layer is extracted.
func ExtractWithLayers(names ...string) ExtractOption {
	return func(c *extractConfig) {
		c.layers = append(c.layers, names...)
	}
}

// ExtractWithWorkers sets the number of workers for parallel processing.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
// Values > 0 force a specific worker count.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithLenientChecksums keeps files whose content does not match the
// recorded CRC-32 and reports them in Report.Warnings instead of Report.Errors.
func ExtractWithLenientChecksums(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.lenient = enabled
	}
}

// ExtractWithPreserveTimes applies entry modification times to written files.
// By default, files get the current time.
func ExtractWithPreserveTimes(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = preserve
	}
}

// ExtractWithDirectWrites writes files in place instead of through a
// temporary file and rename. A failed entry may leave a partial file.
func ExtractWithDirectWrites(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.directWrites = enabled
	}
}

// ExtractWithProgress sets a callback that receives progress updates.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}
