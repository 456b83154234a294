package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
)

const layeredManifest = `
Spring-Boot-Version: 2.7.1
Spring-Boot-Classes: BOOT-INF/classes/
Spring-Boot-Lib: BOOT-INF/lib/
Spring-Boot-Classpath-Index: BOOT-INF/classpath.idx
Spring-Boot-Layers-Index: BOOT-INF/layers.idx
`

func TestParseLayeredManifest(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(layeredManifest))
	require.NoError(t, err)

	layers, ok := m.Get(LayersIndexAttribute)
	require.True(t, ok)
	assert.Equal(t, "BOOT-INF/layers.idx", layers)

	classpath, ok := m.Get(ClasspathIndexAttribute)
	require.True(t, ok)
	assert.Equal(t, "BOOT-INF/classpath.idx", classpath)

	assert.Equal(t, []string{
		"Spring-Boot-Version",
		"Spring-Boot-Classes",
		"Spring-Boot-Lib",
		"Spring-Boot-Classpath-Index",
		"Spring-Boot-Layers-Index",
	}, m.Names())
}

func TestParseMissingAttributes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		data          string
		wantLayers    bool
		wantClasspath bool
	}{
		{
			name:          "not layered",
			data:          "Manifest-Version: 1.0\nCreated-By: Maven JAR Plugin 3.2.2\n",
			wantLayers:    false,
			wantClasspath: false,
		},
		{
			name:          "no layers index",
			data:          "Spring-Boot-Version: 2.7.1\nSpring-Boot-Classpath-Index: BOOT-INF/classpath.idx\n",
			wantLayers:    false,
			wantClasspath: true,
		},
		{
			name:          "no classpath index",
			data:          "Spring-Boot-Version: 2.7.1\nSpring-Boot-Layers-Index: BOOT-INF/layers.idx\n",
			wantLayers:    true,
			wantClasspath: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := Parse([]byte(tt.data))
			require.NoError(t, err)

			_, ok := m.Get(LayersIndexAttribute)
			assert.Equal(t, tt.wantLayers, ok)
			_, ok = m.Get(ClasspathIndexAttribute)
			assert.Equal(t, tt.wantClasspath, ok)
		})
	}
}

func TestParseContinuationAndCase(t *testing.T) {
	t.Parallel()

	data := "Manifest-Version: 1.0\r\n" +
		"spring-boot-layers-index: BOOT-INF/lay\r\n" +
		" ers.idx\r\n" +
		"\r\n" +
		"Name: BOOT-INF/classes/\r\n" +
		"Spring-Boot-Classpath-Index: ignored\r\n"

	m, err := Parse([]byte(data))
	require.NoError(t, err)

	v, ok := m.Get(LayersIndexAttribute)
	require.True(t, ok)
	assert.Equal(t, "BOOT-INF/layers.idx", v)

	_, ok = m.Get(ClasspathIndexAttribute)
	assert.False(t, ok, "attributes after the main section are ignored")
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	for _, data := range []string{
		" leading continuation\n",
		"Manifest-Version: 1.0\nno separator here\n",
		": value without name\n",
	} {
		_, err := Parse([]byte(data))
		assert.ErrorIs(t, err, jartype.ErrMalformedManifest, "input %q", data)
	}
}

func TestNilManifest(t *testing.T) {
	t.Parallel()

	var m *Manifest
	_, ok := m.Get(LayersIndexAttribute)
	assert.False(t, ok)
	assert.Empty(t, m.Names())
}
