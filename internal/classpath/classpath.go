// Package classpath reads the classpath index of a Spring Boot jar.
package classpath

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

// Default locations of the classpath index, probed in order when the
// manifest does not name one.
var DefaultPaths = []string{"BOOT-INF/classpath.idx", "WEB-INF/classpath.idx"}

// Parse reads a classpath index: a YAML sequence of library paths.
// Order is preserved. An empty or null document yields an empty list.
func Parse(data []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", jartype.ErrMalformedClasspathIndex, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return []string{}, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return []string{}, nil
	}
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: line %d: expected a sequence", jartype.ErrMalformedClasspathIndex, root.Line)
	}

	paths := make([]string, 0, len(root.Content))
	for _, item := range root.Content {
		if item.Kind != yaml.ScalarNode || item.Tag == "!!null" {
			return nil, fmt.Errorf("%w: line %d: expected a path", jartype.ErrMalformedClasspathIndex, item.Line)
		}
		paths = append(paths, item.Value)
	}
	return paths, nil
}
