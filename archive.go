package layertools

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"slices"

	"github.com/aramperes/spring-boot-layertools/internal/classpath"
	"github.com/aramperes/spring-boot-layertools/internal/file"
	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/layers"
	"github.com/aramperes/spring-boot-layertools/internal/manifest"
	"github.com/aramperes/spring-boot-layertools/internal/source"
	"github.com/aramperes/spring-boot-layertools/internal/zipdir"
)

// Archive is an open jar.
//
// The jar is mapped into memory for the lifetime of the Archive. Its central
// directory, manifest, layer index, and classpath index are read by Open;
// later calls only decode entries. An Archive is safe for concurrent use.
type Archive struct {
	path    string
	src     *source.Mapped
	catalog *zipdir.Catalog
	decoder *file.Decoder

	manifest      *manifest.Manifest
	index         *layers.Index
	indexPath     string
	classpath     []string
	classpathPath string

	maxFileSize      uint64
	maxDecoderMemory uint64
	progress         ProgressFunc
	logger           *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

func (a *Archive) emit(ev ProgressEvent) {
	if a.progress != nil {
		a.progress(ev)
	}
}

// Open maps the jar at path and reads its directory and indexes.
//
// Every parse failure is returned before the Archive is usable: a corrupt
// central directory, a malformed manifest, layer index, or classpath index.
// A jar without a layer index gets a single layer named "application". A
// jar without a classpath index has an empty classpath.
func Open(ctx context.Context, path string, opts ...Option) (*Archive, error) {
	a := &Archive{
		path:             path,
		maxFileSize:      file.DefaultMaxFileSize,
		maxDecoderMemory: file.DefaultMaxDecoderMemory,
	}
	for _, opt := range opts {
		opt(a)
	}

	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	a.src = src

	a.emit(ProgressEvent{Stage: StageReadingDirectory, Path: path})
	cat, err := zipdir.Parse(ctx, src, zipdir.WithLogger(a.logger))
	if err != nil {
		_ = src.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	a.catalog = cat
	a.decoder = file.NewDecoder(src,
		file.WithMaxFileSize(a.maxFileSize),
		file.WithMaxDecoderMemory(a.maxDecoderMemory),
	)
	a.emit(ProgressEvent{Stage: StageReadingDirectory, Path: path, FilesDone: cat.Len(), FilesTotal: cat.Len()})

	if err := a.loadIndexes(); err != nil {
		_ = src.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	a.log().Debug("opened archive",
		"path", path,
		"entries", cat.Len(),
		"base_offset", cat.BaseOffset(),
		"layer_index", a.indexPath,
		"layers", len(a.index.Names()),
		"classpath_index", a.classpathPath,
	)
	return a, nil
}

// maxResourceSize bounds the manifest and index entries read by Open.
const maxResourceSize = 16 << 20

// loadIndexes reads the manifest and the two Spring Boot indexes.
func (a *Archive) loadIndexes() error {
	if rec, ok := a.catalog.Lookup(manifest.Path); ok && !rec.IsDir() {
		data, err := a.decoder.DecodeResource(rec, maxResourceSize)
		if err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return err
		}
		a.manifest = m
	}

	if rec, ok := a.resolveIndex(manifest.LayersIndexAttribute, layers.DefaultPaths); ok {
		data, err := a.decoder.DecodeResource(rec, maxResourceSize)
		if err != nil {
			return fmt.Errorf("layer index %s: %w", rec.Name, err)
		}
		idx, err := layers.Parse(data)
		if err != nil {
			return fmt.Errorf("layer index %s: %w", rec.Name, err)
		}
		a.index, a.indexPath = idx, rec.Name
	} else {
		a.log().Debug("no layer index, using default layer", "layer", layers.DefaultLayer)
		a.index = layers.Default()
	}

	a.classpath = []string{}
	if rec, ok := a.resolveIndex(manifest.ClasspathIndexAttribute, classpath.DefaultPaths); ok {
		data, err := a.decoder.DecodeResource(rec, maxResourceSize)
		if err != nil {
			return fmt.Errorf("classpath index %s: %w", rec.Name, err)
		}
		paths, err := classpath.Parse(data)
		if err != nil {
			return fmt.Errorf("classpath index %s: %w", rec.Name, err)
		}
		a.classpath, a.classpathPath = paths, rec.Name
	}
	return nil
}

// resolveIndex finds an index resource: the entry named by the manifest
// attribute if it exists, else the first well-known location present.
func (a *Archive) resolveIndex(attribute string, defaults []string) (*jartype.Record, bool) {
	candidates := defaults
	if v, ok := a.manifest.Get(attribute); ok && v != "" {
		candidates = append([]string{v}, defaults...)
	}
	for _, name := range candidates {
		if rec, ok := a.catalog.Lookup(name); ok && !rec.IsDir() {
			return rec, true
		}
	}
	return nil, false
}

// Close releases the mapping. Records and byte slices obtained from the
// archive must not be used afterwards.
func (a *Archive) Close() error {
	return a.src.Close()
}

// Path returns the path the archive was opened from.
func (a *Archive) Path() string {
	return a.path
}

// Layers returns the layer names in index order.
func (a *Archive) Layers() []string {
	return a.index.Names()
}

// LayerIndex returns the name of the layer index entry, or
// ErrMissingLayerIndex if the jar has none and the default layer is used.
func (a *Archive) LayerIndex() (string, error) {
	if a.index.Implicit() {
		return "", ErrMissingLayerIndex
	}
	return a.indexPath, nil
}

// LayerOf returns the layer the named entry is extracted to.
func (a *Archive) LayerOf(name string) (string, bool) {
	rec, ok := a.catalog.Lookup(name)
	if !ok || rec.IsDir() {
		return "", false
	}
	return a.index.Match(rec.Name)
}

// Classpath returns the classpath index entries in index order. The result
// is empty, not nil, when the jar has no classpath index.
func (a *Archive) Classpath() []string {
	return slices.Clone(a.classpath)
}

// ManifestAttribute returns a main attribute of META-INF/MANIFEST.MF.
func (a *Archive) ManifestAttribute(name string) (string, bool) {
	return a.manifest.Get(name)
}

// Len returns the number of entries, directories included.
func (a *Archive) Len() int {
	return a.catalog.Len()
}

// Entries iterates over every entry in central directory order.
func (a *Archive) Entries() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for rec := range a.catalog.All() {
			if !yield(*rec) {
				return
			}
		}
	}
}

// Lookup returns the entry with the given normalized name.
func (a *Archive) Lookup(name string) (Record, bool) {
	rec, ok := a.catalog.Lookup(name)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ReadFile decodes the named entry and verifies its checksum.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	rec, ok := a.catalog.Lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	if rec.IsDir() {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	data, err := a.decoder.Decode(rec)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	if rec.Method == jartype.MethodStore {
		// Stored content is a view of the mapping.
		data = slices.Clone(data)
	}
	return data, nil
}
