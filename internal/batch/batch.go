// Package batch decodes archive entries concurrently and writes them to a
// sink, one destination tree per layer.
package batch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aramperes/spring-boot-layertools/internal/file"
	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/pathutil"
)

// Processor decodes entries with a fixed-size worker pool.
//
// Entries are independent: a failure on one is recorded and the rest are
// still processed, unless fail-fast is enabled.
type Processor struct {
	decoder  *file.Decoder
	workers  int // 0 = GOMAXPROCS, <0 = serial, >0 = fixed count
	failFast bool
	lenient  bool
	logger   *slog.Logger
	progress jartype.ProgressFunc
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of workers.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithFailFast stops processing at the first failed entry.
// Files already written are left in place.
func WithFailFast(enabled bool) ProcessorOption {
	return func(p *Processor) {
		p.failFast = enabled
	}
}

// WithLenientChecksums keeps files whose content does not match the
// recorded checksum. The mismatch is reported as a warning.
func WithLenientChecksums(enabled bool) ProcessorOption {
	return func(p *Processor) {
		p.lenient = enabled
	}
}

// WithProcessorLogger sets the logger for batch processing operations.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithProgress sets a callback invoked after every completed entry.
// The callback may be called from multiple goroutines.
func WithProgress(fn jartype.ProgressFunc) ProcessorOption {
	return func(p *Processor) {
		p.progress = fn
	}
}

// NewProcessor creates a processor that decodes entries with decoder.
func NewProcessor(decoder *file.Decoder, opts ...ProcessorOption) *Processor {
	p := &Processor{decoder: decoder}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the outcome of Process.
type Result struct {
	// Layers holds statistics for every layer that had at least one task.
	Layers map[string]*LayerStats

	// Errors lists failed entries ordered by name.
	Errors []*jartype.EntryError

	// Warnings lists entries that were written despite a problem, such as a
	// checksum mismatch in lenient mode, ordered by name.
	Warnings []*jartype.EntryError

	mu sync.Mutex
}

func (r *Result) record(t Task, n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.Layers[t.Layer]
	if !ok {
		stats = &LayerStats{}
		r.Layers[t.Layer] = stats
	}
	stats.add(t.Record, n)
}

func (r *Result) fail(e *jartype.EntryError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, e)
}

func (r *Result) warn(e *jartype.EntryError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, e)
}

func sortEntryErrors(errs []*jartype.EntryError) {
	slices.SortFunc(errs, func(a, b *jartype.EntryError) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Layer, b.Layer))
	})
}

// Process decodes every task and writes it to sink.
//
// Tasks are queued in archive offset order through a bounded channel and
// consumed by the worker pool. Per-entry failures are collected in the
// result. The returned error is non-nil only when processing stopped early:
// the first entry error in fail-fast mode, or the context's error when ctx
// is canceled. The result is valid in both cases.
func (p *Processor) Process(ctx context.Context, tasks []Task, sink Sink) (*Result, error) {
	res := &Result{Layers: make(map[string]*LayerStats)}
	if len(tasks) == 0 {
		return res, nil
	}

	ordered := slices.Clone(tasks)
	slices.SortFunc(ordered, func(a, b Task) int {
		return cmp.Compare(a.Record.LocalHeaderOffset, b.Record.LocalHeaderOffset)
	})

	blocked := p.linkConflicts(ordered)
	workers := p.workerCount(len(ordered))
	p.log().Debug("extracting entries", "entries", len(ordered), "workers", workers, "fail_fast", p.failFast)

	var (
		filesDone atomic.Int64
		bytesDone atomic.Uint64
	)
	jobs := make(chan Task, workers)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, t := range ordered {
			select {
			case jobs <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range workers {
		g.Go(func() error {
			for t := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				var (
					n       uint64
					warning error
				)
				err := blocked[t.Record]
				if err == nil {
					n, warning, err = p.processTask(gctx, t, sink)
				}
				if err != nil {
					ee := newEntryError(t, err)
					res.fail(ee)
					p.log().Warn("entry failed", "entry", t.Record.Name, "layer", t.Layer, "kind", ee.Kind, "error", err)
					if p.failFast {
						return ee
					}
					continue
				}
				res.record(t, n)
				if warning != nil {
					res.warn(newEntryError(t, warning))
					p.log().Warn("entry kept with warning", "entry", t.Record.Name, "layer", t.Layer, "error", warning)
				}
				if p.progress != nil {
					p.progress(jartype.ProgressEvent{
						Stage:      jartype.StageExtracting,
						Path:       t.Record.Name,
						Layer:      t.Layer,
						BytesDone:  bytesDone.Add(n),
						FilesDone:  int(filesDone.Add(1)),
						FilesTotal: len(ordered),
					})
				}
			}
			return nil
		})
	}

	err := g.Wait()
	sortEntryErrors(res.Errors)
	sortEntryErrors(res.Warnings)
	return res, err
}

// processTask decodes one entry into the sink and returns the number of
// bytes written. A checksum mismatch tolerated in lenient mode is returned
// as a warning; the file is kept.
func (p *Processor) processTask(ctx context.Context, t Task, sink Sink) (n uint64, warning, err error) {
	rec := t.Record
	if rec.IsSymlink() {
		target, err := p.decoder.Decode(rec)
		if err != nil {
			return 0, nil, err
		}
		return 0, nil, sink.Symlink(t, string(target))
	}

	w, err := sink.Writer(t)
	if err != nil {
		return 0, nil, err
	}
	n, err = p.decoder.DecodeTo(ctx, rec, w)
	if err != nil && p.lenient && errors.Is(err, jartype.ErrChecksumMismatch) {
		warning, err = err, nil
	}
	if err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return n, nil, err
	}
	if err := w.Commit(); err != nil {
		return n, nil, err
	}
	return n, warning, nil
}

type layerPath struct {
	layer string
	name  string
}

// linkConflicts returns an error for every task that would be written
// through a link created by another task of the same layer: entries below
// a link, and links whose target resolves through another link. Both are
// decided before anything is written so the outcome does not depend on
// worker scheduling.
func (p *Processor) linkConflicts(tasks []Task) map[*jartype.Record]error {
	links := make(map[layerPath]struct{})
	for _, t := range tasks {
		if t.Record.IsSymlink() {
			links[layerPath{t.Layer, strings.TrimSuffix(t.Record.Name, "/")}] = struct{}{}
		}
	}
	if len(links) == 0 {
		return nil
	}

	blocked := make(map[*jartype.Record]error)
	for _, t := range tasks {
		isLink := func(name string) bool {
			_, ok := links[layerPath{t.Layer, name}]
			return ok
		}
		if dir, ok := firstLinkAncestor(t.Record.Name, isLink); ok {
			blocked[t.Record] = fmt.Errorf("%w: %s is below link %s", jartype.ErrUnsafePath, t.Record.Name, dir)
			continue
		}
		if !t.Record.IsSymlink() {
			continue
		}
		target, err := p.decoder.Decode(t.Record)
		if err != nil {
			continue // reported when the task runs
		}
		if pathutil.LinkThroughLink(t.Record.Name, string(target), isLink) {
			blocked[t.Record] = fmt.Errorf("%w: link %s -> %s resolves through another link", jartype.ErrUnsafePath, t.Record.Name, target)
		}
	}
	return blocked
}

func firstLinkAncestor(name string, isLink func(string) bool) (string, bool) {
	for dir := range pathutil.Ancestors(name) {
		if isLink(dir) {
			return dir, true
		}
	}
	return "", false
}

func newEntryError(t Task, err error) *jartype.EntryError {
	return &jartype.EntryError{
		Name:  t.Record.Name,
		Layer: t.Layer,
		Kind:  jartype.KindOf(err),
		Err:   err,
	}
}

// workerCount determines the number of workers to use for n tasks.
func (p *Processor) workerCount(n int) int {
	if p.workers < 0 {
		return 1
	}
	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(1, min(workers, n))
}
