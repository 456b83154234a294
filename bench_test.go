package layertools

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/aramperes/spring-boot-layertools/internal/testutil"
)

var (
	benchSinkBytes []byte
	benchSinkInt   int
)

type benchPattern string

const (
	benchPatternCompressible benchPattern = "compressible"
	benchPatternRandom       benchPattern = "random"

	benchDirCount = 16
)

func init() {
	if os.Getenv("LAYERTOOLS_PROFILE_BLOCK") == "1" {
		runtime.SetBlockProfileRate(1)
	}
	if os.Getenv("LAYERTOOLS_PROFILE_MUTEX") == "1" {
		runtime.SetMutexProfileFraction(1)
	}
}

func benchContent(i, size int, pattern benchPattern, rng *rand.Rand) []byte {
	content := make([]byte, size)
	if pattern == benchPatternRandom {
		_, _ = rng.Read(content)
		return content
	}
	for j := range content {
		content[j] = byte('a' + (i % 26))
	}
	if size > 0 {
		content[0] = byte(i)
	}
	return content
}

func benchJar(b *testing.B, fileCount, fileSize int, method uint16, pattern benchPattern) (string, int64) {
	b.Helper()
	rng := rand.New(rand.NewSource(1)) //nolint:gosec // reproducible benchmark data
	jb := testutil.NewJarBuilder(b).Stored("BOOT-INF/layers.idx", testutil.DefaultLayersIndex)
	var total int64
	for i := range fileCount {
		root := "BOOT-INF/classes"
		if i%2 == 0 {
			root = "BOOT-INF/lib"
		}
		name := fmt.Sprintf("%s/dir%02d/file%05d.dat", root, i%benchDirCount, i)
		jb.Add(testutil.JarEntry{Name: name, Body: benchContent(i, fileSize, pattern, rng), Method: method})
		total += int64(fileSize)
	}
	return jb.WriteFile(), total
}

func BenchmarkExtract(b *testing.B) {
	cases := []struct {
		name      string
		fileCount int
		fileSize  int
		method    uint16
		pattern   benchPattern
		workers   int
	}{
		{"files=512/size=16k/store/serial", 512, 16 << 10, testutil.Store, benchPatternRandom, -1},
		{"files=512/size=16k/store/parallel", 512, 16 << 10, testutil.Store, benchPatternRandom, 0},
		{"files=512/size=16k/deflate/serial", 512, 16 << 10, testutil.Deflate, benchPatternCompressible, -1},
		{"files=512/size=16k/deflate/parallel", 512, 16 << 10, testutil.Deflate, benchPatternCompressible, 0},
		{"files=64/size=1m/deflate/parallel", 64, 1 << 20, testutil.Deflate, benchPatternCompressible, 0},
		{"files=512/size=16k/zstd/parallel", 512, 16 << 10, testutil.Zstd, benchPatternCompressible, 0},
	}

	for _, bc := range cases {
		b.Run(bc.name, func(b *testing.B) {
			path, total := benchJar(b, bc.fileCount, bc.fileSize, bc.method, bc.pattern)
			a, err := Open(context.Background(), path)
			if err != nil {
				b.Fatal(err)
			}
			defer a.Close()
			dest := b.TempDir()

			b.SetBytes(total)
			b.ReportAllocs()
			for i := 0; b.Loop(); i++ {
				report, err := a.Extract(context.Background(), filepath.Join(dest, fmt.Sprintf("iter-%d", i)), ExtractWithWorkers(bc.workers))
				if err != nil {
					b.Fatal(err)
				}
				benchSinkInt = report.Files()
			}
		})
	}
}

func BenchmarkReadFile(b *testing.B) {
	path, _ := benchJar(b, 256, 16<<10, testutil.Deflate, benchPatternCompressible)
	a, err := Open(context.Background(), path)
	if err != nil {
		b.Fatal(err)
	}
	defer a.Close()

	var names []string
	for rec := range a.Entries() {
		if !rec.IsDir() {
			names = append(names, rec.Name)
		}
	}

	b.SetBytes(16 << 10)
	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		data, err := a.ReadFile(names[i%len(names)])
		if err != nil {
			b.Fatal(err)
		}
		benchSinkBytes = data
	}
}

func BenchmarkOpen(b *testing.B) {
	path, _ := benchJar(b, 4096, 64, testutil.Store, benchPatternCompressible)

	b.ReportAllocs()
	for b.Loop() {
		a, err := Open(context.Background(), path)
		if err != nil {
			b.Fatal(err)
		}
		benchSinkInt = a.Len()
		_ = a.Close()
	}
}
