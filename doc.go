// Package layertools extracts layered Spring Boot jars.
//
// A layered jar carries a layer index (usually BOOT-INF/layers.idx) that
// assigns every entry to one of an ordered list of layers. Extraction writes
// each layer to its own directory so an image build can copy every layer
// into a separate filesystem layer and reuse the ones that did not change.
//
// The archive is memory-mapped and its central directory parsed once.
// Entries are decoded in parallel straight from the mapping.
//
// # Quick Start
//
// List the layers of a jar:
//
//	names, err := layertools.ListLayers(ctx, "app.jar")
//
// Extract every layer below a destination directory:
//
//	report, err := layertools.Extract(ctx, "app.jar", "build/layers",
//	    layertools.ExtractWithWorkers(8),
//	)
//	if errors.Is(err, layertools.ErrExtractionIncomplete) {
//	    for _, e := range report.Errors {
//	        log.Printf("%s: %s", e.Name, e.Kind)
//	    }
//	}
//
// For repeated operations on the same jar, use [Open] and the methods of
// [Archive]; the archive must be closed when done.
//
// # Layer index
//
// Layers are listed in index order. The first rule that matches an entry
// decides its layer. A pattern ending in "/" matches everything below that
// directory, a pattern with glob characters is matched as a glob, and any
// other pattern names a single entry. Jars without a layer index extract
// into a single layer named "application".
package layertools
