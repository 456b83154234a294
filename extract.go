package layertools

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aramperes/spring-boot-layertools/internal/batch"
	"github.com/aramperes/spring-boot-layertools/internal/layers"
)

// Extract writes the archive's layers below destDir, one directory per
// layer: destDir/<layer>/<entry name>.
//
// Every entry is classified before anything is written, so an entry that
// matches no layer rule fails the whole extraction with an error matching
// ErrUnmapped. Directories are created as needed, including one for every
// selected layer that has no entries. Existing files are overwritten, which
// makes repeated extraction into the same directory idempotent.
//
// Entries that fail to decode or write are recorded in the report and the
// remaining entries are still extracted; the returned error then wraps
// ErrExtractionIncomplete. With ExtractWithFailFast, or when ctx is
// canceled, extraction stops early and files already written are kept. The
// report is returned whenever extraction started.
func (a *Archive) Extract(ctx context.Context, destDir string, opts ...ExtractOption) (*Report, error) {
	cfg := extractConfig{progress: a.progress}
	for _, opt := range opts {
		opt(&cfg)
	}
	start := time.Now()

	selected, err := a.selectLayers(cfg.layers)
	if err != nil {
		return nil, err
	}

	if cfg.progress != nil {
		cfg.progress(ProgressEvent{Stage: StageClassifying, FilesTotal: a.catalog.Len()})
	}
	assignment, err := layers.Classify(a.catalog.All(), a.index)
	if err != nil {
		return nil, fmt.Errorf("classify entries: %w", err)
	}

	sink, err := batch.NewFileSink(destDir,
		batch.WithPreserveTimes(cfg.preserveTimes),
		batch.WithDirectWrites(cfg.directWrites),
	)
	if err != nil {
		return nil, err
	}
	defer sink.Close()

	var tasks []batch.Task //nolint:prealloc // size known only after filtering
	for _, layer := range selected {
		if err := sink.PrepareLayer(layer); err != nil {
			return nil, err
		}
		for _, rec := range assignment.Records(layer) {
			tasks = append(tasks, batch.Task{Record: rec, Layer: layer})
		}
	}

	procOpts := []batch.ProcessorOption{
		batch.WithWorkers(cfg.workers),
		batch.WithFailFast(cfg.failFast),
		batch.WithLenientChecksums(cfg.lenient),
		batch.WithProcessorLogger(a.logger),
		batch.WithProgress(cfg.progress),
	}
	res, procErr := batch.NewProcessor(a.decoder, procOpts...).Process(ctx, tasks, sink)

	report := newReport(selected, res)
	report.Skipped = assignment.Len() - len(tasks)
	report.Duration = time.Since(start)

	a.log().Debug("extraction finished",
		"dest", destDir,
		"layers", len(selected),
		"files", report.Files(),
		"bytes", report.Bytes(),
		"errors", len(report.Errors),
		"skipped", report.Skipped,
		"duration", report.Duration,
	)

	switch {
	case procErr != nil:
		return report, fmt.Errorf("%w: %w", ErrExtractionIncomplete, procErr)
	case len(report.Errors) > 0:
		return report, fmt.Errorf("%w: %d of %d entries failed", ErrExtractionIncomplete, len(report.Errors), len(tasks))
	}
	return report, nil
}

// selectLayers returns the layers to extract in index order.
func (a *Archive) selectLayers(filter []string) ([]string, error) {
	names := a.index.Names()
	if len(filter) == 0 {
		return names, nil
	}
	for _, name := range filter {
		if !a.index.Has(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
		}
	}
	return slices.DeleteFunc(names, func(name string) bool {
		return !slices.Contains(filter, name)
	}), nil
}
