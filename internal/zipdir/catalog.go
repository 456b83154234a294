package zipdir

import (
	"iter"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

// Catalog is the ordered, de-duplicated list of entry records of an archive.
//
// A Catalog is immutable once built and safe for concurrent readers.
type Catalog struct {
	records []*jartype.Record
	byName  map[string]*jartype.Record
	base    int64
	comment string
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	return len(c.records)
}

// All iterates over the records in central directory order.
func (c *Catalog) All() iter.Seq[*jartype.Record] {
	return func(yield func(*jartype.Record) bool) {
		for _, rec := range c.records {
			if !yield(rec) {
				return
			}
		}
	}
}

// Lookup returns the record with the given normalized name.
func (c *Catalog) Lookup(name string) (*jartype.Record, bool) {
	rec, ok := c.byName[name]
	return rec, ok
}

// BaseOffset returns the number of bytes preceding the archive proper,
// such as a launch script prepended to an executable jar.
func (c *Catalog) BaseOffset() int64 {
	return c.base
}

// Comment returns the archive comment.
func (c *Catalog) Comment() string {
	return c.comment
}
