package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/pathutil"
)

const tempPrefix = ".layertools-"

// FileSink writes entries below a destination root, one directory per layer.
//
// All filesystem access goes through an os.Root, so no entry can be written
// outside the destination even if the tree already contains symbolic links.
//
// By default, files are written to a temporary file in the same directory
// and renamed to the final path on Commit. This replaces any existing file
// or link in one step and ensures partially written files are never visible
// at the final path.
type FileSink struct {
	root          *os.Root
	preserveTimes bool
	directWrite   bool

	dirs  sync.Map // rel path -> struct{}
	mkdir singleflight.Group
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithPreserveTimes applies entry modification times to written files.
// By default, files get the current time.
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// WithDirectWrites disables temp files and writes directly to the final path.
func WithDirectWrites(enabled bool) FileSinkOption {
	return func(s *FileSink) {
		s.directWrite = enabled
	}
}

// NewFileSink creates destDir if needed and returns a sink rooted at it.
// The caller must Close the sink.
func NewFileSink(destDir string, opts ...FileSinkOption) (*FileSink, error) {
	if err := os.MkdirAll(destDir, jartype.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", destDir, err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", destDir, err)
	}
	s := &FileSink{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PrepareLayer creates the directory for a layer.
func (s *FileSink) PrepareLayer(layer string) error {
	if !pathutil.ValidLayerName(layer) {
		return fmt.Errorf("%w: layer %q", jartype.ErrUnsafePath, layer)
	}
	return s.ensureDir(layer)
}

// Close releases the destination root.
func (s *FileSink) Close() error {
	return s.root.Close()
}

// ensureDir creates rel and its parents once per sink. Concurrent callers
// asking for the same directory share a single MkdirAll.
func (s *FileSink) ensureDir(rel string) error {
	if rel == "" || rel == "." {
		return nil
	}
	if _, ok := s.dirs.Load(rel); ok {
		return nil
	}
	_, err, _ := s.mkdir.Do(rel, func() (any, error) {
		if err := s.rejectLinks(rel); err != nil {
			return nil, err
		}
		if err := s.root.MkdirAll(rel, jartype.DefaultDirMode); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", rel, err)
		}
		s.dirs.Store(rel, struct{}{})
		return nil, nil
	})
	return err
}

// rejectLinks fails with jartype.ErrUnsafePath when an existing component of
// rel is a symbolic link. MkdirAll and file creation would follow it and
// place the entry outside its layer directory.
func (s *FileSink) rejectLinks(rel string) error {
	slashed := filepath.ToSlash(rel)
	for dir := range pathutil.Ancestors(slashed) {
		if err := s.rejectLink(dir); err != nil {
			return err
		}
	}
	return s.rejectLink(slashed)
}

func (s *FileSink) rejectLink(dir string) error {
	info, err := s.root.Lstat(filepath.FromSlash(dir))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("inspect %s: %w", dir, err)
	case info.Mode()&os.ModeSymlink != 0:
		return fmt.Errorf("%w: %s is a symbolic link", jartype.ErrUnsafePath, dir)
	}
	return nil
}

func (s *FileSink) destRel(task Task) (string, error) {
	if !pathutil.ValidLayerName(task.Layer) {
		return "", fmt.Errorf("%w: layer %q", jartype.ErrUnsafePath, task.Layer)
	}
	name, ok := pathutil.Normalize(task.Record.Name)
	if !ok {
		return "", fmt.Errorf("%w: %q", jartype.ErrUnsafePath, task.Record.Name)
	}
	rel := filepath.Join(task.Layer, filepath.FromSlash(name))
	if err := s.ensureDir(filepath.Dir(rel)); err != nil {
		return "", err
	}
	return rel, nil
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(task Task) (Committer, error) {
	destRel, err := s.destRel(task)
	if err != nil {
		return nil, err
	}

	if s.directWrite {
		if err := s.clearLink(destRel); err != nil {
			return nil, err
		}
		f, err := s.root.OpenFile(destRel, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create file %s: %w", destRel, err)
		}
		return &directCommitter{rec: task.Record, destRel: destRel, file: f, sink: s}, nil
	}

	tempFile, tempRel, err := s.createTempFile(filepath.Dir(destRel))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{rec: task.Record, destRel: destRel, tempFile: tempFile, tempRel: tempRel, sink: s}, nil
}

// Symlink creates a link at the task's path, replacing whatever was there.
// Targets that are absolute or resolve outside the layer are rejected with
// jartype.ErrUnsafePath.
func (s *FileSink) Symlink(task Task, target string) error {
	if !pathutil.SafeLinkTarget(task.Record.Name, target) {
		return fmt.Errorf("%w: link %s -> %s", jartype.ErrUnsafePath, task.Record.Name, target)
	}
	destRel, err := s.destRel(task)
	if err != nil {
		return err
	}

	suffix, err := randomSuffix()
	if err != nil {
		return err
	}
	tempRel := filepath.Join(filepath.Dir(destRel), tempPrefix+suffix)
	if err := s.root.Symlink(filepath.FromSlash(target), tempRel); err != nil {
		return fmt.Errorf("symlink %s: %w", destRel, err)
	}
	if err := s.root.Rename(tempRel, destRel); err != nil {
		_ = s.root.Remove(tempRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", destRel, err)
	}
	return nil
}

// clearLink removes an existing symbolic link at rel so that a direct write
// replaces the link instead of following it.
func (s *FileSink) clearLink(rel string) error {
	info, err := s.root.Lstat(rel)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	if err := s.root.Remove(rel); err != nil {
		return fmt.Errorf("remove link %s: %w", rel, err)
	}
	return nil
}

// finish applies entry metadata to a closed file.
func (s *FileSink) finish(rec *jartype.Record, rel string) error {
	if err := s.root.Chmod(rel, rec.Perm()); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if s.preserveTimes && !rec.ModTime.IsZero() {
		if err := s.root.Chtimes(rel, rec.ModTime, rec.ModTime); err != nil {
			return fmt.Errorf("chtimes: %w", err)
		}
	}
	return nil
}

func (s *FileSink) createTempFile(dir string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, tempPrefix+name)
		f, err := s.root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	rec      *jartype.Record
	destRel  string
	tempFile *os.File
	tempRel  string
	sink     *FileSink
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies metadata, and renames to final path.
func (c *fileCommitter) Commit() error {
	if err := c.tempFile.Close(); err != nil {
		_ = c.sink.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := c.sink.finish(c.rec, c.tempRel); err != nil {
		_ = c.sink.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := c.sink.root.Rename(c.tempRel, c.destRel); err != nil {
		_ = c.sink.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.destRel, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return c.sink.root.Remove(c.tempRel)
}

// directCommitter writes directly to the final path.
type directCommitter struct {
	rec     *jartype.Record
	destRel string
	file    *os.File
	sink    *FileSink
}

// Write implements io.Writer.
func (c *directCommitter) Write(p []byte) (int, error) {
	return c.file.Write(p)
}

// Commit closes the file and applies metadata.
func (c *directCommitter) Commit() error {
	if err := c.file.Close(); err != nil {
		_ = c.sink.root.Remove(c.destRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close file: %w", err)
	}
	if err := c.sink.finish(c.rec, c.destRel); err != nil {
		_ = c.sink.root.Remove(c.destRel) //nolint:errcheck // best-effort cleanup
		return err
	}
	return nil
}

// Discard closes and removes the file.
func (c *directCommitter) Discard() error {
	_ = c.file.Close() //nolint:errcheck // best-effort cleanup
	return c.sink.root.Remove(c.destRel)
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
