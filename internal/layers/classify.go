package layers

import (
	"errors"
	"iter"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

// Assignment maps non-directory entries to layers.
type Assignment struct {
	byLayer map[string][]*jartype.Record
	total   int
}

// Classify routes every non-directory record to the layer of its first
// matching rule. Directory records are skipped; their paths are recreated
// from the files they contain.
//
// Every record that matches no rule is reported as a
// *jartype.ClassificationError, joined into the returned error.
func Classify(records iter.Seq[*jartype.Record], idx *Index) (*Assignment, error) {
	a := &Assignment{byLayer: make(map[string][]*jartype.Record, len(idx.names))}

	var errs []error
	for rec := range records {
		if rec.IsDir() {
			continue
		}
		layer, ok := idx.Match(rec.Name)
		if !ok {
			errs = append(errs, &jartype.ClassificationError{Name: rec.Name})
			continue
		}
		a.byLayer[layer] = append(a.byLayer[layer], rec)
		a.total++
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return a, nil
}

// Records returns the records assigned to layer in catalog order.
func (a *Assignment) Records(layer string) []*jartype.Record {
	return a.byLayer[layer]
}

// Len returns the number of assigned records.
func (a *Assignment) Len() int {
	return a.total
}
