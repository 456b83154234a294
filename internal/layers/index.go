// Package layers interprets a Spring Boot layer index and routes archive
// entries to layers.
package layers

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/moby/patternmatcher"
	"gopkg.in/yaml.v3"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/pathutil"
)

// DefaultLayer is the single layer used when an archive has no layer index.
const DefaultLayer = "application"

// Default locations of the layer index, probed in order when the manifest
// does not name one.
var DefaultPaths = []string{"BOOT-INF/layers.idx", "WEB-INF/layers.idx"}

type patternKind uint8

const (
	kindExact patternKind = iota
	kindPrefix
	kindGlob
	kindAll
)

// Rule routes entries whose names match Pattern to Layer.
type Rule struct {
	Layer   string
	Pattern string

	kind patternKind
	pm   *patternmatcher.PatternMatcher
}

func newRule(layer, pattern string) (Rule, error) {
	r := Rule{Layer: layer, Pattern: pattern}
	switch {
	case strings.HasSuffix(pattern, "/"):
		r.kind = kindPrefix
	case !strings.HasPrefix(pattern, "!") && strings.ContainsAny(pattern, "*?["):
		pm, err := patternmatcher.New([]string{pattern})
		if err != nil {
			return Rule{}, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		r.kind = kindGlob
		r.pm = pm
	default:
		r.kind = kindExact
	}
	return r, nil
}

// Matches reports whether the entry name is routed by this rule.
//
// Patterns ending in "/" match every entry below that directory. Patterns
// with glob metacharacters match the entry or any of its parent directories.
// Anything else must equal the entry name.
func (r Rule) Matches(name string) bool {
	switch r.kind {
	case kindAll:
		return true
	case kindPrefix:
		return strings.HasPrefix(name, r.Pattern)
	case kindGlob:
		ok, err := r.pm.MatchesOrParentMatches(filepath.FromSlash(name))
		return err == nil && ok
	default:
		return name == r.Pattern
	}
}

// Index is the ordered list of layers and their rules.
type Index struct {
	names    []string
	rules    []Rule
	implicit bool
}

// Default returns the index used for archives without a layer index: a
// single layer that receives every entry.
func Default() *Index {
	return &Index{
		names:    []string{DefaultLayer},
		rules:    []Rule{{Layer: DefaultLayer, kind: kindAll}},
		implicit: true,
	}
}

// Parse reads a layer index: a YAML sequence of single-key mappings from
// layer name to a list of patterns. Layer order and rule order are
// preserved. A layer may have no patterns.
func Parse(data []byte) (*Index, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", jartype.ErrMalformedLayerIndex, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: no layers", jartype.ErrMalformedLayerIndex)
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return nil, malformed(root, "expected a sequence of layers")
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: no layers", jartype.ErrMalformedLayerIndex)
	}

	idx := &Index{names: make([]string, 0, len(root.Content))}
	for _, item := range root.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, malformed(item, "expected a single layer mapping")
		}
		key, value := item.Content[0], item.Content[1]
		if key.Kind != yaml.ScalarNode {
			return nil, malformed(key, "expected a layer name")
		}
		name := key.Value
		if !pathutil.ValidLayerName(name) {
			return nil, malformed(key, fmt.Sprintf("invalid layer name %q", name))
		}
		if slices.Contains(idx.names, name) {
			return nil, malformed(key, fmt.Sprintf("duplicate layer %q", name))
		}
		idx.names = append(idx.names, name)

		patterns, err := layerPatterns(value)
		if err != nil {
			return nil, err
		}
		for _, p := range patterns {
			rule, err := newRule(name, p)
			if err != nil {
				return nil, malformed(value, err.Error())
			}
			idx.rules = append(idx.rules, rule)
		}
	}
	return idx, nil
}

func layerPatterns(n *yaml.Node) ([]string, error) {
	if n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || n.Value == "") {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, malformed(n, "expected a list of patterns")
	}
	patterns := make([]string, 0, len(n.Content))
	for _, p := range n.Content {
		if p.Kind != yaml.ScalarNode || p.Tag == "!!null" || p.Value == "" {
			return nil, malformed(p, "expected a pattern")
		}
		patterns = append(patterns, p.Value)
	}
	return patterns, nil
}

func malformed(n *yaml.Node, msg string) error {
	return fmt.Errorf("%w: line %d: %s", jartype.ErrMalformedLayerIndex, n.Line, msg)
}

// Names returns the layer names in declared order.
func (i *Index) Names() []string {
	return slices.Clone(i.names)
}

// Has reports whether the index declares the named layer.
func (i *Index) Has(name string) bool {
	return slices.Contains(i.names, name)
}

// Implicit reports whether the index was synthesized because the archive
// has no layer index.
func (i *Index) Implicit() bool {
	return i.implicit
}

// Match returns the layer of the first rule matching name.
func (i *Index) Match(name string) (string, bool) {
	for _, r := range i.rules {
		if r.Matches(name) {
			return r.Layer, true
		}
	}
	return "", false
}
