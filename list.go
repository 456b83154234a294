package layertools

import "context"

// ListLayers returns the layer names of the jar at path in index order.
func ListLayers(ctx context.Context, path string, opts ...Option) ([]string, error) {
	a, err := Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Layers(), nil
}

// ListClasspath returns the classpath index entries of the jar at path in
// index order. A jar without a classpath index yields an empty list.
func ListClasspath(ctx context.Context, path string, opts ...Option) ([]string, error) {
	a, err := Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Classpath(), nil
}

// Extract opens the jar at path and extracts its layers below destDir.
// See [Archive.Extract].
func Extract(ctx context.Context, path, destDir string, opts ...ExtractOption) (*Report, error) {
	a, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Extract(ctx, destDir, opts...)
}
