package layertools

import (
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/aramperes/spring-boot-layertools/internal/batch"
)

// LayerReport summarizes one extracted layer.
type LayerReport struct {
	// Files is the number of entries written, links included.
	Files int

	// Bytes is the number of decoded bytes written.
	Bytes uint64

	// Digest is the sha256 of the sorted name, CRC-32, and size of every
	// entry written to the layer. Extracting the same layer content always
	// yields the same digest.
	Digest digest.Digest
}

// Report describes the outcome of an extraction.
type Report struct {
	// Layers lists the extracted layers in index order.
	Layers []string

	// PerLayer holds a summary for every extracted layer, empty ones included.
	PerLayer map[string]LayerReport

	// Errors lists entries that could not be extracted, ordered by name.
	Errors []*EntryError

	// Warnings lists entries that were written despite a problem, ordered by name.
	Warnings []*EntryError

	// Skipped is the number of entries that belong to layers excluded by
	// ExtractWithLayers.
	Skipped int

	// Duration is the time spent classifying and extracting.
	Duration time.Duration
}

// Files returns the number of entries written across all layers.
func (r *Report) Files() int {
	var n int
	for _, l := range r.PerLayer {
		n += l.Files
	}
	return n
}

// Bytes returns the number of bytes written across all layers.
func (r *Report) Bytes() uint64 {
	var n uint64
	for _, l := range r.PerLayer {
		n += l.Bytes
	}
	return n
}

func newReport(layerNames []string, res *batch.Result) *Report {
	r := &Report{
		Layers:   layerNames,
		PerLayer: make(map[string]LayerReport, len(layerNames)),
		Errors:   res.Errors,
		Warnings: res.Warnings,
	}
	for _, name := range layerNames {
		stats, ok := res.Layers[name]
		if !ok {
			stats = &batch.LayerStats{}
		}
		r.PerLayer[name] = LayerReport{Files: stats.Files, Bytes: stats.Bytes, Digest: stats.Digest()}
	}
	return r
}
