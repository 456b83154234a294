package layertools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aramperes/spring-boot-layertools/internal/testutil"
)

// snapshot returns every file and link below dir keyed by slash path, with
// content (or link target) and permission bits.
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		require.NoError(t, err)
		info, err := d.Info()
		require.NoError(t, err)

		var content string
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			require.NoError(t, err)
			content = "-> " + target
		} else {
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			content = string(data)
		}
		files[filepath.ToSlash(rel)] = info.Mode().Perm().String() + " " + content
		return nil
	})
	require.NoError(t, err)
	return files
}

func fileNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	return names
}

func TestExtractScenario(t *testing.T) {
	t.Parallel()

	path := testutil.NewJarBuilder(t).
		File("a.txt", "alpha").
		File("b.txt", "bravo").
		Dir("dir/").
		Stored("dir/c.txt", "charlie").
		Stored("BOOT-INF/layers.idx", "- \"base\":\n  - \"a.txt\"\n- \"app\":\n  - \"b.txt\"\n  - \"dir/\"\n  - \"BOOT-INF/\"\n").
		WriteFile()
	dest := t.TempDir()

	names, err := ListLayers(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "app"}, names)

	report, err := Extract(context.Background(), path, dest)
	require.NoError(t, err)

	files := snapshot(t, dest)
	assert.ElementsMatch(t, []string{"base/a.txt", "app/b.txt", "app/dir/c.txt", "app/BOOT-INF/layers.idx"}, fileNames(files))
	assert.Equal(t, "-rw-r--r-- alpha", files["base/a.txt"])
	assert.Equal(t, "-rw-r--r-- charlie", files["app/dir/c.txt"])

	assert.Equal(t, []string{"base", "app"}, report.Layers)
	assert.Equal(t, 1, report.PerLayer["base"].Files)
	assert.Equal(t, uint64(len("alpha")), report.PerLayer["base"].Bytes)
	assert.Equal(t, 3, report.PerLayer["app"].Files)
	assert.Equal(t, 4, report.Files())
	assert.Empty(t, report.Errors)
	assert.Zero(t, report.Skipped)
}

func TestExtractEveryEntryOnce(t *testing.T) {
	t.Parallel()

	b := springBootJar(t)
	path := b.WriteFile()
	a := openJar(t, path)
	dest := t.TempDir()

	_, err := a.Extract(context.Background(), dest)
	require.NoError(t, err)

	var want []string
	for rec := range a.Entries() {
		if !rec.IsDir() {
			want = append(want, rec.Name)
		}
	}

	var got []string
	seen := make(map[string]string)
	for name := range snapshot(t, dest) {
		layer, entry, ok := strings.Cut(name, "/")
		require.True(t, ok)
		if prev, dup := seen[entry]; dup {
			t.Fatalf("%s extracted to both %s and %s", entry, prev, layer)
		}
		seen[entry] = layer
		got = append(got, entry)
	}
	assert.ElementsMatch(t, want, got)
	assert.Equal(t, "dependencies", seen["BOOT-INF/lib/spring-core-6.1.0.jar"])
	assert.Equal(t, "spring-boot-loader", seen["org/springframework/boot/loader/launch/JarLauncher.class"])
	assert.Equal(t, "application", seen["BOOT-INF/classes/com/example/App.class"])

	// Layers without entries still get a directory.
	info, err := os.Stat(filepath.Join(dest, "snapshot-dependencies"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()

	path := springBootJar(t).
		Add(testutil.JarEntry{Name: "BOOT-INF/classes/run.sh", Body: []byte("#!/bin/sh\n"), Method: testutil.Deflate, Mode: 0o755}).
		Symlink("BOOT-INF/classes/current.yml", "application.yml").
		WriteFile()
	a := openJar(t, path)
	dest := t.TempDir()

	first, err := a.Extract(context.Background(), dest)
	require.NoError(t, err)
	before := snapshot(t, dest)

	// Tamper with a file; the next run must restore it.
	target := filepath.Join(dest, "application", "BOOT-INF", "classes", "application.yml")
	require.NoError(t, os.WriteFile(target, []byte("tampered"), 0o600))

	second, err := a.Extract(context.Background(), dest, ExtractWithWorkers(-1))
	require.NoError(t, err)

	assert.Equal(t, before, snapshot(t, dest))
	assert.Equal(t, "-rwxr-xr-x #!/bin/sh\n", before["application/BOOT-INF/classes/run.sh"])
	assert.Equal(t, "-rwxrwxrwx -> application.yml", before["application/BOOT-INF/classes/current.yml"])
	for _, layer := range first.Layers {
		assert.Equal(t, first.PerLayer[layer].Digest, second.PerLayer[layer].Digest, layer)
	}
}

func TestExtractWithoutLayerIndex(t *testing.T) {
	t.Parallel()

	path := testutil.NewJarBuilder(t).
		File("com/example/App.class", "app").
		Dir("lib/").
		Stored("lib/util.jar", "util").
		WriteFile()
	dest := t.TempDir()

	report, err := Extract(context.Background(), path, dest)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"application/com/example/App.class", "application/lib/util.jar"}, fileNames(snapshot(t, dest)))
	assert.Equal(t, []string{DefaultLayer}, report.Layers)
	assert.Equal(t, 2, report.PerLayer[DefaultLayer].Files)
}

func TestExtractUnmappedEntry(t *testing.T) {
	t.Parallel()

	path := testutil.NewJarBuilder(t).
		File("mapped.txt", "x").
		File("stray.txt", "y").
		Stored("BOOT-INF/layers.idx", "- \"app\":\n  - \"mapped.txt\"\n  - \"BOOT-INF/\"\n").
		WriteFile()
	dest := filepath.Join(t.TempDir(), "out")

	report, err := Extract(context.Background(), path, dest)
	require.ErrorIs(t, err, ErrUnmapped)
	assert.Nil(t, report)

	var ce *ClassificationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "stray.txt", ce.Name)

	_, err = os.Stat(dest)
	assert.ErrorIs(t, err, fs.ErrNotExist, "nothing is written when classification fails")
}

func TestExtractLayerFilter(t *testing.T) {
	t.Parallel()

	a := openJar(t, springBootJar(t).WriteFile())

	t.Run("selected", func(t *testing.T) {
		t.Parallel()
		dest := t.TempDir()
		report, err := a.Extract(context.Background(), dest, ExtractWithLayers("application", "dependencies"))
		require.NoError(t, err)

		assert.Equal(t, []string{"dependencies", "application"}, report.Layers, "index order is kept")
		assert.Equal(t, 1, report.Skipped)
		assert.NotContains(t, report.PerLayer, "spring-boot-loader")

		entries, err := os.ReadDir(dest)
		require.NoError(t, err)
		var dirs []string
		for _, e := range entries {
			dirs = append(dirs, e.Name())
		}
		assert.ElementsMatch(t, []string{"dependencies", "application"}, dirs)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		dest := filepath.Join(t.TempDir(), "out")
		_, err := a.Extract(context.Background(), dest, ExtractWithLayers("application", "nope"))
		require.ErrorIs(t, err, ErrUnknownLayer)

		_, err = os.Stat(dest)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})
}

func corruptJar(t *testing.T) string {
	t.Helper()
	data := testutil.NewJarBuilder(t).
		Stored("a.txt", "alpha").
		Stored("b.txt", "bravo").
		Stored("c.txt", "charlie").
		Bytes()
	data[testutil.DataOffset(t, data, "b.txt")] ^= 0xff
	return writeJar(t, data)
}

func TestExtractRecordsFailures(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	report, err := Extract(context.Background(), corruptJar(t), dest)
	require.ErrorIs(t, err, ErrExtractionIncomplete)
	require.NotNil(t, report)

	require.Len(t, report.Errors, 1)
	assert.Equal(t, "b.txt", report.Errors[0].Name)
	assert.Equal(t, KindChecksum, report.Errors[0].Kind)
	require.ErrorIs(t, report.Errors[0], ErrChecksumMismatch)

	assert.ElementsMatch(t, []string{"application/a.txt", "application/c.txt"}, fileNames(snapshot(t, dest)))
	assert.Equal(t, 2, report.Files())
}

func TestExtractLenientChecksums(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	report, err := Extract(context.Background(), corruptJar(t), dest, ExtractWithLenientChecksums(true))
	require.NoError(t, err)

	assert.Empty(t, report.Errors)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "b.txt", report.Warnings[0].Name)
	assert.Len(t, snapshot(t, dest), 3)
}

func TestExtractFailFast(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	report, err := Extract(context.Background(), corruptJar(t), dest, ExtractWithFailFast(true), ExtractWithWorkers(-1))
	require.ErrorIs(t, err, ErrExtractionIncomplete)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	var ee *EntryError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "b.txt", ee.Name)
	require.NotNil(t, report)
	assert.Len(t, report.Errors, 1)

	files := snapshot(t, dest)
	assert.Contains(t, files, "application/a.txt", "files written before the failure are kept")
	assert.NotContains(t, files, "application/c.txt")
}

func TestExtractUnsafeSymlink(t *testing.T) {
	t.Parallel()

	path := testutil.NewJarBuilder(t).
		File("a.txt", "alpha").
		Symlink("link", "../../../etc/passwd").
		WriteFile()
	parent := t.TempDir()
	dest := filepath.Join(parent, "out")

	report, err := Extract(context.Background(), path, dest)
	require.ErrorIs(t, err, ErrExtractionIncomplete)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, KindUnsafePath, report.Errors[0].Kind)

	assert.Equal(t, []string{"application/a.txt"}, fileNames(snapshot(t, dest)))
	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing is written outside the destination")
}

func TestExtractChainedSymlinks(t *testing.T) {
	t.Parallel()

	path := testutil.NewJarBuilder(t).
		Symlink("sub/up", "..").
		Symlink("out", "sub/up/..").
		File("out/app/evil.txt", "evil").
		File("a.txt", "alpha").
		WriteFile()

	for _, workers := range []int{-1, 0} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()
			dest := t.TempDir()

			report, err := Extract(context.Background(), path, dest, ExtractWithWorkers(workers))
			require.ErrorIs(t, err, ErrExtractionIncomplete)

			var failed []string
			for _, e := range report.Errors {
				failed = append(failed, e.Name)
				assert.Equal(t, KindUnsafePath, e.Kind)
			}
			assert.Equal(t, []string{"out", "out/app/evil.txt"}, failed)
			assert.Equal(t, map[string]string{
				"application/a.txt":  "-rw-r--r-- alpha",
				"application/sub/up": "-rwxrwxrwx -> ..",
			}, snapshot(t, dest))
		})
	}
}

func TestExtractExecutableJar(t *testing.T) {
	t.Parallel()

	path := springBootJar(t).Prefix([]byte("#!/bin/sh\nexec java -jar \"$0\" \"$@\"\n")).WriteFile()
	dest := t.TempDir()

	_, err := Extract(context.Background(), path, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "dependencies", "BOOT-INF", "lib", "jackson-databind-2.16.0.jar"))
	require.NoError(t, err)
	assert.Equal(t, "jackson", string(data))
}

func TestExtractCanceled(t *testing.T) {
	t.Parallel()

	a := openJar(t, springBootJar(t).WriteFile())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Extract(ctx, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrExtractionIncomplete)
}

func TestExtractProgress(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		extracted int
		stages    = make(map[ProgressStage]bool)
	)
	progress := func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		stages[ev.Stage] = true
		if ev.Stage == StageExtracting {
			extracted++
		}
	}

	a := openJar(t, springBootJar(t).WriteFile())
	report, err := a.Extract(context.Background(), t.TempDir(), ExtractWithProgress(progress))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, stages[StageClassifying])
	assert.Equal(t, report.Files(), extracted)
}

func TestExtractPreserveTimes(t *testing.T) {
	t.Parallel()

	path := testutil.NewJarBuilder(t).File("a.txt", "alpha").WriteFile()
	a := openJar(t, path)
	rec, ok := a.Lookup("a.txt")
	require.True(t, ok)

	dest := t.TempDir()
	_, err := a.Extract(context.Background(), dest, ExtractWithPreserveTimes(true), ExtractWithDirectWrites(true))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dest, "application", "a.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(rec.ModTime), "got %v, want %v", info.ModTime(), rec.ModTime)
}
