package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aramperes/spring-boot-layertools/internal/file"
	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/source"
	"github.com/aramperes/spring-boot-layertools/internal/testutil"
	"github.com/aramperes/spring-boot-layertools/internal/zipdir"
)

// openJar parses data and returns a decoder and one task per non-directory
// entry, routed with layerOf.
func openJar(t *testing.T, data []byte, layerOf func(string) string) (*file.Decoder, []Task) {
	t.Helper()
	src := source.FromBytes(data)
	cat, err := zipdir.Parse(context.Background(), src)
	require.NoError(t, err)

	var tasks []Task
	for rec := range cat.All() {
		if rec.IsDir() {
			continue
		}
		tasks = append(tasks, Task{Record: rec, Layer: layerOf(rec.Name)})
	}
	return file.NewDecoder(src), tasks
}

func byPrefix(name string) string {
	if strings.HasPrefix(name, "lib/") {
		return "dependencies"
	}
	return "application"
}

func newSink(t *testing.T, opts ...FileSinkOption) (*FileSink, string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := NewFileSink(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestProcessWritesLayers(t *testing.T) {
	t.Parallel()

	data := testutil.NewJarBuilder(t).
		Dir("lib/").
		Stored("lib/dep.jar", "dependency").
		File("app/Main.class", "main class").
		Add(testutil.JarEntry{Name: "bin/run.sh", Body: []byte("#!/bin/sh\n"), Method: testutil.Deflate, Mode: 0o755}).
		Add(testutil.JarEntry{Name: "app/config.yml", Body: []byte("a: 1\n"), Method: testutil.Zstd}).
		Bytes()
	dec, tasks := openJar(t, data, byPrefix)
	sink, dir := newSink(t)

	res, err := NewProcessor(dec).Process(context.Background(), tasks, sink)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	assert.Equal(t, "dependency", readFile(t, filepath.Join(dir, "dependencies", "lib", "dep.jar")))
	assert.Equal(t, "main class", readFile(t, filepath.Join(dir, "application", "app", "Main.class")))
	assert.Equal(t, "a: 1\n", readFile(t, filepath.Join(dir, "application", "app", "config.yml")))

	info, err := os.Stat(filepath.Join(dir, "application", "bin", "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dir, "application", "app", "Main.class"))
	require.NoError(t, err)
	assert.Equal(t, jartype.DefaultFileMode, info.Mode().Perm())

	require.Contains(t, res.Layers, "dependencies")
	assert.Equal(t, 1, res.Layers["dependencies"].Files)
	assert.Equal(t, uint64(len("dependency")), res.Layers["dependencies"].Bytes)
	assert.Equal(t, 3, res.Layers["application"].Files)
}

func TestProcessIsIdempotent(t *testing.T) {
	t.Parallel()

	data := testutil.NewJarBuilder(t).
		File("a.txt", "alpha").
		File("dir/b.txt", "beta").
		Symlink("dir/link", "b.txt").
		Bytes()
	dec, tasks := openJar(t, data, func(string) string { return "app" })
	sink, dir := newSink(t)

	first, err := NewProcessor(dec).Process(context.Background(), tasks, sink)
	require.NoError(t, err)
	second, err := NewProcessor(dec, WithWorkers(-1)).Process(context.Background(), tasks, sink)
	require.NoError(t, err)

	assert.Equal(t, first.Layers["app"].Digest(), second.Layers["app"].Digest())
	assert.Equal(t, "alpha", readFile(t, filepath.Join(dir, "app", "a.txt")))
	assert.Equal(t, "beta", readFile(t, filepath.Join(dir, "app", "dir", "link")))

	var names []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		rel, _ := filepath.Rel(dir, path)
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".", "app", "app/a.txt", "app/dir", "app/dir/b.txt", "app/dir/link"}, names)
}

func TestProcessSymlinks(t *testing.T) {
	t.Parallel()

	data := testutil.NewJarBuilder(t).
		File("bin/tool-1.0", "tool").
		Symlink("bin/tool", "tool-1.0").
		Symlink("bin/escape", "../../../etc/passwd").
		Symlink("bin/absolute", "/etc/passwd").
		Bytes()
	dec, tasks := openJar(t, data, func(string) string { return "app" })
	sink, dir := newSink(t)

	res, err := NewProcessor(dec).Process(context.Background(), tasks, sink)
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(dir, "app", "bin", "tool"))
	require.NoError(t, err)
	assert.Equal(t, "tool-1.0", target)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, "bin/absolute", res.Errors[0].Name)
	assert.Equal(t, "bin/escape", res.Errors[1].Name)
	for _, e := range res.Errors {
		assert.Equal(t, jartype.KindUnsafePath, e.Kind)
		assert.ErrorIs(t, e, jartype.ErrUnsafePath)
	}
	_, err = os.Lstat(filepath.Join(dir, "app", "bin", "escape"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestProcessChecksumMismatch(t *testing.T) {
	t.Parallel()

	data := testutil.NewJarBuilder(t).Stored("bad.txt", "corrupted").Stored("good.txt", "fine").Bytes()
	data[testutil.DataOffset(t, data, "bad.txt")] ^= 0xff

	t.Run("strict", func(t *testing.T) {
		t.Parallel()
		dec, tasks := openJar(t, data, func(string) string { return "app" })
		sink, dir := newSink(t)

		res, err := NewProcessor(dec).Process(context.Background(), tasks, sink)
		require.NoError(t, err)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "bad.txt", res.Errors[0].Name)
		assert.Equal(t, jartype.KindChecksum, res.Errors[0].Kind)
		assert.Empty(t, res.Warnings)

		_, err = os.Stat(filepath.Join(dir, "app", "bad.txt"))
		assert.ErrorIs(t, err, fs.ErrNotExist)
		assert.Equal(t, "fine", readFile(t, filepath.Join(dir, "app", "good.txt")))
	})

	t.Run("lenient", func(t *testing.T) {
		t.Parallel()
		dec, tasks := openJar(t, data, func(string) string { return "app" })
		sink, dir := newSink(t)

		res, err := NewProcessor(dec, WithLenientChecksums(true)).Process(context.Background(), tasks, sink)
		require.NoError(t, err)
		assert.Empty(t, res.Errors)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, jartype.KindChecksum, res.Warnings[0].Kind)

		_, err = os.Stat(filepath.Join(dir, "app", "bad.txt"))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Layers["app"].Files)
	})
}

// memSink keeps committed content in memory and fails selected paths.
type memSink struct {
	mu      sync.Mutex
	written map[string]string
	fail    map[string]error
}

func newMemSink() *memSink {
	return &memSink{written: make(map[string]string), fail: make(map[string]error)}
}

func (s *memSink) Writer(task Task) (Committer, error) {
	if err, ok := s.fail[task.Path()]; ok {
		return nil, err
	}
	return &memCommitter{sink: s, path: task.Path()}, nil
}

func (s *memSink) Symlink(task Task, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written[task.Path()] = "-> " + target
	return nil
}

func (s *memSink) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.written[path]
	return ok
}

type memCommitter struct {
	sink *memSink
	path string
	data []byte
}

func (c *memCommitter) Write(p []byte) (int, error) {
	c.data = append(c.data, p...)
	return len(p), nil
}

func (c *memCommitter) Commit() error {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.written[c.path] = string(c.data)
	return nil
}

func (c *memCommitter) Discard() error { return nil }

func TestProcessContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	data := testutil.NewJarBuilder(t).File("a.txt", "a").File("b.txt", "b").File("c.txt", "c").Bytes()
	dec, tasks := openJar(t, data, func(string) string { return "app" })

	sink := newMemSink()
	sink.fail["app/c.txt"] = errors.New("disk full")
	sink.fail["app/a.txt"] = errors.New("disk full")

	res, err := NewProcessor(dec, WithWorkers(4)).Process(context.Background(), tasks, sink)
	require.NoError(t, err)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "a.txt", res.Errors[0].Name)
	assert.Equal(t, "c.txt", res.Errors[1].Name)
	assert.Equal(t, jartype.KindWrite, res.Errors[0].Kind)
	assert.True(t, sink.has("app/b.txt"))
}

func TestProcessFailFast(t *testing.T) {
	t.Parallel()

	b := testutil.NewJarBuilder(t)
	for i := range 20 {
		b.File(fmt.Sprintf("f%02d.txt", i), "content")
	}
	dec, tasks := openJar(t, b.Bytes(), func(string) string { return "app" })

	sink := newMemSink()
	sink.fail["app/f00.txt"] = errors.New("permission denied")

	res, err := NewProcessor(dec, WithWorkers(-1), WithFailFast(true)).Process(context.Background(), tasks, sink)
	require.Error(t, err)

	var ee *jartype.EntryError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "f00.txt", ee.Name)
	require.Len(t, res.Errors, 1)
	assert.False(t, sink.has("app/f19.txt"), "serial fail-fast stops before later entries")
}

func TestProcessCanceled(t *testing.T) {
	t.Parallel()

	data := testutil.NewJarBuilder(t).File("a.txt", "a").File("b.txt", "b").Bytes()
	dec, tasks := openJar(t, data, func(string) string { return "app" })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := newMemSink()
	_, err := NewProcessor(dec).Process(ctx, tasks, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, sink.has("app/a.txt"))
}

func TestProcessProgress(t *testing.T) {
	t.Parallel()

	b := testutil.NewJarBuilder(t)
	for i := range 10 {
		b.File(fmt.Sprintf("f%d.txt", i), strings.Repeat("x", i+1))
	}
	dec, tasks := openJar(t, b.Bytes(), func(string) string { return "app" })

	var (
		events   atomic.Int32
		maxBytes atomic.Uint64
	)
	progress := func(ev jartype.ProgressEvent) {
		assert.Equal(t, jartype.StageExtracting, ev.Stage)
		assert.Equal(t, 10, ev.FilesTotal)
		events.Add(1)
		for {
			cur := maxBytes.Load()
			if ev.BytesDone <= cur || maxBytes.CompareAndSwap(cur, ev.BytesDone) {
				break
			}
		}
	}

	_, err := NewProcessor(dec, WithProgress(progress)).Process(context.Background(), tasks, newMemSink())
	require.NoError(t, err)
	assert.Equal(t, int32(10), events.Load())
	assert.Equal(t, uint64(55), maxBytes.Load())
}

func TestProcessEmpty(t *testing.T) {
	t.Parallel()

	res, err := NewProcessor(nil).Process(context.Background(), nil, newMemSink())
	require.NoError(t, err)
	assert.Empty(t, res.Layers)
}

func TestWorkerCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		workers int
		tasks   int
		want    int
	}{
		{workers: -1, tasks: 100, want: 1},
		{workers: 4, tasks: 100, want: 4},
		{workers: 4, tasks: 2, want: 2},
		{workers: 8, tasks: 0, want: 1},
	}
	for _, tt := range tests {
		p := NewProcessor(nil, WithWorkers(tt.workers))
		assert.Equal(t, tt.want, p.workerCount(tt.tasks), "workers=%d tasks=%d", tt.workers, tt.tasks)
	}
	assert.GreaterOrEqual(t, NewProcessor(nil).workerCount(1000), 1)
}

func TestLayerDigest(t *testing.T) {
	t.Parallel()

	recA := &jartype.Record{Name: "a.txt", CRC32: 1, UncompressedSize: 10}
	recB := &jartype.Record{Name: "b.txt", CRC32: 2, UncompressedSize: 20}

	var s1, s2, s3 LayerStats
	s1.add(recA, 10)
	s1.add(recB, 20)
	s2.add(recB, 20)
	s2.add(recA, 10)
	s3.add(recA, 10)

	assert.Equal(t, s1.Digest(), s2.Digest(), "digest ignores write order")
	assert.NotEqual(t, s1.Digest(), s3.Digest())
	require.NoError(t, s1.Digest().Validate())
}

func TestProcessLinkChains(t *testing.T) {
	t.Parallel()

	data := testutil.NewJarBuilder(t).
		Symlink("sub/up", "..").
		Symlink("out", "sub/up/..").
		File("out/app/evil.txt", "evil").
		File("sub/up/also.txt", "evil").
		File("keep.txt", "kept").
		Bytes()

	for _, workers := range []int{-1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()
			dec, tasks := openJar(t, data, func(string) string { return "application" })
			sink, dir := newSink(t)

			res, err := NewProcessor(dec, WithWorkers(workers)).Process(context.Background(), tasks, sink)
			require.NoError(t, err)

			var failed []string
			for _, e := range res.Errors {
				failed = append(failed, e.Name)
				assert.Equal(t, jartype.KindUnsafePath, e.Kind)
			}
			assert.Equal(t, []string{"out", "out/app/evil.txt", "sub/up/also.txt"}, failed)

			assert.Equal(t, []string{"application"}, listDir(t, dir))
			assert.Equal(t, "kept", readFile(t, filepath.Join(dir, "application", "keep.txt")))
			_, err = os.Lstat(filepath.Join(dir, "application", "out"))
			assert.ErrorIs(t, err, fs.ErrNotExist)
			target, err := os.Readlink(filepath.Join(dir, "application", "sub", "up"))
			require.NoError(t, err)
			assert.Equal(t, "..", target)
		})
	}
}
