// Package manifest reads the main section of a jar manifest.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

// Path is the location of the manifest within a jar.
const Path = "META-INF/MANIFEST.MF"

// Attributes written by the Spring Boot build plugins.
const (
	LayersIndexAttribute    = "Spring-Boot-Layers-Index"
	ClasspathIndexAttribute = "Spring-Boot-Classpath-Index"
)

// Manifest holds the main attributes of a jar manifest.
type Manifest struct {
	attrs map[string]string
	names []string
}

// Parse reads the main section of a manifest.
//
// Attribute names are matched case-insensitively. A line starting with a
// single space continues the previous value. Parsing stops at the first
// blank line, which ends the main section.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{attrs: make(map[string]string)}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	last := ""
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			if len(m.names) == 0 {
				// Leading blank lines are tolerated.
				continue
			}
			break
		}
		if strings.HasPrefix(line, " ") {
			if last == "" {
				return nil, fmt.Errorf("%w: line %d: continuation without attribute", jartype.ErrMalformedManifest, lineNo)
			}
			m.attrs[last] += line[1:]
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: line %d: expected \"Name: value\"", jartype.ErrMalformedManifest, lineNo)
		}
		key := strings.ToLower(name)
		if _, seen := m.attrs[key]; !seen {
			m.names = append(m.names, name)
		}
		m.attrs[key] = strings.TrimLeft(value, " ")
		last = key
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", jartype.ErrMalformedManifest, err)
	}
	return m, nil
}

// Get returns the value of the named main attribute.
func (m *Manifest) Get(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.attrs[strings.ToLower(name)]
	return v, ok
}

// Names returns attribute names in the order they first appear.
func (m *Manifest) Names() []string {
	if m == nil {
		return nil
	}
	return m.names
}
